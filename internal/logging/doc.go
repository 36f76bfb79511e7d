// Package logging provides structured JSON logging with size-based file
// rotation. The daemon and MCP server log to ~/.quarry/logs/ so that
// stdout stays free for protocol traffic; interactive commands mirror
// logs to stderr.
package logging
