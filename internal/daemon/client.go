package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	qerrors "github.com/quarrysearch/quarry/internal/errors"
)

// DefaultDialTimeout bounds connecting to the daemon socket.
const DefaultDialTimeout = 2 * time.Second

// requestSeq numbers outgoing requests across all clients in the
// process.
var requestSeq atomic.Uint64

// Client talks JSON-RPC to a running daemon. Each call opens one
// connection, mirroring the server's one-request-per-connection
// contract.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a client for the given socket. An empty path
// resolves to the default.
func NewClient(socketPath string) (*Client, error) {
	resolved, err := SocketPath(socketPath)
	if err != nil {
		return nil, err
	}
	return &Client{socketPath: resolved, timeout: connDeadline}, nil
}

// IsRunning reports whether a daemon answers on the socket.
func (c *Client) IsRunning(ctx context.Context) bool {
	var res PingResult
	if err := c.call(ctx, MethodPing, nil, &res); err != nil {
		return false
	}
	return res.Pong
}

// Index asks the daemon to (re)index a project in the background.
func (c *Client) Index(ctx context.Context, params IndexParams) (*IndexResult, error) {
	var res IndexResult
	if err := c.call(ctx, MethodIndex, params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Search runs a query through the daemon.
func (c *Client) Search(ctx context.Context, params SearchParams) (*SearchResults, error) {
	var res SearchResults
	if err := c.call(ctx, MethodSearch, params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Status fetches the daemon's project and job report.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var res StatusResult
	if err := c.call(ctx, MethodStatus, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Stop asks the daemon to shut down gracefully.
func (c *Client) Stop(ctx context.Context) error {
	var res StopResult
	return c.call(ctx, MethodStop, nil, &res)
}

// call performs one request/response exchange and decodes the result
// into out.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	conn, err := net.DialTimeout("unix", c.socketPath, DefaultDialTimeout)
	if err != nil {
		return qerrors.New(qerrors.ErrCodeDaemonDown,
			fmt.Sprintf("daemon not reachable at %s", c.socketPath), err).
			WithSuggestion("start it with 'quarry daemon start'")
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	id := fmt.Sprintf("req-%d", requestSeq.Add(1))
	req := Request{JSONRPC: "2.0", Method: method, Params: params, ID: id}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send %s request: %w", method, err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if resp.ID != id {
		return fmt.Errorf("response id mismatch: sent %s, got %s", id, resp.ID)
	}
	if out == nil || resp.Result == nil {
		return nil
	}

	// Result decoded as untyped JSON; re-marshal into the caller's
	// struct.
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
