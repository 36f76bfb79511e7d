// Package daemon hosts the resident search server: a JSON-RPC 2.0
// endpoint on a Unix socket, a per-project registry with watch
// lifecycles, and the maintenance loop that keeps project databases
// compact.
package daemon

import (
	"fmt"

	"github.com/quarrysearch/quarry/internal/async"
	"github.com/quarrysearch/quarry/internal/search"
)

// JSON-RPC 2.0 method names.
const (
	MethodIndex  = "index"
	MethodSearch = "search"
	MethodStatus = "status"
	MethodStop   = "stop"
	MethodPing   = "ping"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Daemon-specific error codes.
const (
	CodeNotIndexed    = -32001
	CodeSearchFailed  = -32002
	CodeModelMismatch = -32003
	CodeIndexBusy     = -32004
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// okResponse builds a success response.
func okResponse(id string, result any) Response {
	return Response{JSONRPC: "2.0", Result: result, ID: id}
}

// errResponse builds an error response.
func errResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// IndexParams starts or refreshes a project index.
type IndexParams struct {
	// Root is the project root directory (required).
	Root string `json:"root"`

	// Force reindexes every file even when its content hash matches
	// the stored one.
	Force bool `json:"force,omitempty"`

	// Watch keeps the project watched for incremental updates after
	// the run.
	Watch bool `json:"watch,omitempty"`
}

// Validate checks required fields.
func (p *IndexParams) Validate() error {
	if p.Root == "" {
		return fmt.Errorf("root is required")
	}
	return nil
}

// IndexResult is the handle of a background index job.
type IndexResult struct {
	Job async.Snapshot `json:"job"`
}

// SearchParams are the parameters for the search method.
type SearchParams struct {
	// Query is the search query (required).
	Query string `json:"query"`

	// Root is the project root directory (required).
	Root string `json:"root"`

	// Limit caps the result count. Zero means the engine default.
	Limit int `json:"limit,omitempty"`

	// Filter restricts by content type: "all", "code", "docs".
	Filter string `json:"filter,omitempty"`

	// Language restricts by programming language.
	Language string `json:"language,omitempty"`

	// Scopes restricts to path prefixes.
	Scopes []string `json:"scopes,omitempty"`

	// LexicalOnly skips the semantic leg.
	LexicalOnly bool `json:"lexical_only,omitempty"`
}

// Validate checks required fields.
func (p *SearchParams) Validate() error {
	if p.Query == "" {
		return fmt.Errorf("query is required")
	}
	if p.Root == "" {
		return fmt.Errorf("root is required")
	}
	if p.Limit < 0 {
		p.Limit = 0
	}
	return nil
}

// Options converts wire params to engine options.
func (p *SearchParams) Options() search.Options {
	return search.Options{
		Limit:       p.Limit,
		Filter:      p.Filter,
		Language:    p.Language,
		Scopes:      p.Scopes,
		LexicalOnly: p.LexicalOnly,
	}
}

// SearchResults is the search method's result payload.
type SearchResults struct {
	Results []*search.Result `json:"results"`
}

// ProjectStatus describes one registry entry.
type ProjectStatus struct {
	ID         string `json:"id"`
	Root       string `json:"root"`
	State      string `json:"state"`
	Watching   bool   `json:"watching"`
	Chunks     int    `json:"chunks"`
	Documents  int    `json:"documents"`
	ModelTag   string `json:"model_tag,omitempty"`
	LastAccess string `json:"last_access"`
	Error      string `json:"error,omitempty"`
}

// StatusResult is the status method's result payload.
type StatusResult struct {
	Running  bool             `json:"running"`
	PID      int              `json:"pid"`
	Uptime   string           `json:"uptime"`
	Socket   string           `json:"socket"`
	Projects []ProjectStatus  `json:"projects"`
	Jobs     []async.Snapshot `json:"jobs,omitempty"`
}

// StopResult acknowledges a stop request.
type StopResult struct {
	Stopping bool `json:"stopping"`
}

// PingResult answers a liveness probe.
type PingResult struct {
	Pong bool `json:"pong"`
}
