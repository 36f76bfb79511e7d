package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"sync"
	"time"

	"github.com/quarrysearch/quarry/internal/async"
	"github.com/quarrysearch/quarry/internal/config"
	qerrors "github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/index"
	"github.com/quarrysearch/quarry/pkg/version"
)

// connDeadline bounds one request/response exchange.
const connDeadline = 30 * time.Second

// Server is the resident daemon: one Unix socket, one project
// registry, one maintenance loop.
type Server struct {
	cfg      *config.Config
	registry *Registry
	tracker  *async.Tracker
	log      *slog.Logger

	socketPath string
	pidPath    string
	started    time.Time

	ln       net.Listener
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	mu           sync.Mutex
	shuttingDown bool
}

// NewServer creates a daemon server from the global config.
func NewServer(cfg *config.Config, log *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, qerrors.New(qerrors.ErrCodeInternal, "config is required", nil)
	}
	if log == nil {
		log = slog.Default()
	}
	socketPath, err := SocketPath(cfg.Daemon.SocketPath)
	if err != nil {
		return nil, err
	}
	pidPath, err := PIDFilePath()
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg: cfg,
		registry: NewRegistry(RegistryConfig{
			MaxProjects: cfg.Daemon.MaxProjects,
			IdleTimeout: cfg.IdleTimeout(),
			Logger:      log,
		}),
		tracker:    async.NewTracker(),
		log:        log,
		socketPath: socketPath,
		pidPath:    pidPath,
		stopCh:     make(chan struct{}),
	}, nil
}

// SocketPath returns the socket the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

// ListenAndServe binds the socket and serves until Stop or ctx
// cancellation. It owns the PID file for its lifetime.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.claimSocket(); err != nil {
		return err
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return qerrors.StorageError("bind daemon socket", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		return qerrors.StorageError("restrict socket permissions", err)
	}
	if err := WritePIDFile(s.pidPath); err != nil {
		ln.Close()
		os.Remove(s.socketPath)
		return err
	}
	s.ln = ln
	s.started = time.Now()
	s.log.Info("daemon listening",
		slog.String("socket", s.socketPath),
		slog.Int("pid", os.Getpid()),
		slog.String("version", version.Version))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopCh:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isShuttingDown() {
				break
			}
			s.log.Warn("accept failed", slog.String("error", err.Error()))
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}

	s.wg.Wait()
	s.tracker.CancelAll()
	s.registry.Close()
	os.Remove(s.socketPath)
	if err := RemovePIDFile(s.pidPath); err != nil {
		s.log.Warn("remove pid file failed", slog.String("error", err.Error()))
	}
	s.log.Info("daemon stopped")
	return nil
}

// Stop begins a graceful shutdown: no new connections, in-flight
// requests drained, projects flushed. Idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.shuttingDown = true
		s.mu.Unlock()
		close(s.stopCh)
		if s.ln != nil {
			s.ln.Close()
		}
	})
}

func (s *Server) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}

// claimSocket removes a stale socket left by a dead daemon, or fails
// when a live one still answers.
func (s *Server) claimSocket() error {
	if _, err := os.Stat(s.socketPath); err != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", s.socketPath, time.Second)
	if err == nil {
		conn.Close()
		return qerrors.New(qerrors.ErrCodeIndexBusy,
			"another daemon is already running", nil).
			WithDetail("socket", s.socketPath).
			WithSuggestion("stop it with 'quarry daemon stop' first")
	}
	s.log.Warn("removing stale daemon socket", slog.String("socket", s.socketPath))
	if err := os.Remove(s.socketPath); err != nil {
		return qerrors.StorageError("remove stale socket", err)
	}
	return nil
}

// maintenanceLoop purges tombstones, flushes stores and reaps idle
// projects on a jittered period.
func (s *Server) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.cfg.MaintenanceInterval()
	if interval < time.Second {
		interval = time.Second
	}
	for {
		jitter := time.Duration(rand.Int63n(int64(interval / 10)))
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(interval + jitter):
		}
		s.registry.ReapIdle()
		s.registry.Maintain(ctx)
	}
}

// handleConnection serves exactly one request on conn.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connDeadline))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.reply(conn, errResponse("", CodeParseError, "malformed request: "+err.Error()))
		return
	}
	if req.JSONRPC != "2.0" {
		s.reply(conn, errResponse(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\""))
		return
	}
	s.reply(conn, s.dispatch(ctx, &req))
}

func (s *Server) reply(conn net.Conn, resp Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Warn("write response failed", slog.String("error", err.Error()))
	}
}

func (s *Server) dispatch(ctx context.Context, req *Request) Response {
	start := time.Now()
	resp := s.route(ctx, req)
	s.log.Debug("request handled",
		slog.String("method", req.Method),
		slog.String("id", req.ID),
		slog.Duration("elapsed", time.Since(start)),
		slog.Bool("ok", resp.Error == nil))
	return resp
}

func (s *Server) route(ctx context.Context, req *Request) Response {
	switch req.Method {
	case MethodPing:
		return okResponse(req.ID, PingResult{Pong: true})
	case MethodIndex:
		return s.handleIndex(ctx, req)
	case MethodSearch:
		return s.handleSearch(ctx, req)
	case MethodStatus:
		return s.handleStatus(ctx, req)
	case MethodStop:
		go s.Stop()
		return okResponse(req.ID, StopResult{Stopping: true})
	default:
		return errResponse(req.ID, CodeMethodNotFound,
			fmt.Sprintf("unknown method %q", req.Method))
	}
}

// decodeParams re-marshals the untyped params into the method's
// parameter struct.
func decodeParams(params any, into any) error {
	if params == nil {
		return fmt.Errorf("params are required")
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, into)
}

func (s *Server) handleIndex(ctx context.Context, req *Request) Response {
	var params IndexParams
	if err := decodeParams(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := params.Validate(); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}

	// Fail fast on unopenable projects before going async.
	if _, err := s.registry.get(ctx, params.Root); err != nil {
		return s.errorFrom(req.ID, err)
	}

	// Establish the watch before the scan starts: anything written
	// while the job runs is then caught by either the scan or the
	// watcher, with no unobserved gap between them.
	if params.Watch {
		if err := s.registry.Watch(ctx, params.Root, s.cfg); err != nil {
			s.log.Warn("start watch failed",
				slog.String("root", params.Root),
				slog.String("error", err.Error()))
		}
	}
	job := s.tracker.Start(ctx, params.Root, func(jctx context.Context) (*index.Result, error) {
		return s.registry.Sync(jctx, params.Root, params.Force)
	})
	return okResponse(req.ID, IndexResult{Job: job.Snapshot()})
}

func (s *Server) handleSearch(ctx context.Context, req *Request) Response {
	var params SearchParams
	if err := decodeParams(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := params.Validate(); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}

	mp, err := s.registry.get(ctx, params.Root)
	if err != nil {
		return s.errorFrom(req.ID, err)
	}
	results, err := mp.proj.Search(ctx, params.Query, params.Options())
	if err != nil {
		return s.errorFrom(req.ID, err)
	}
	return okResponse(req.ID, SearchResults{Results: results})
}

func (s *Server) handleStatus(ctx context.Context, req *Request) Response {
	return okResponse(req.ID, StatusResult{
		Running:  true,
		PID:      os.Getpid(),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Socket:   s.socketPath,
		Projects: s.registry.Statuses(ctx),
		Jobs:     s.tracker.Snapshots(),
	})
}

// errorFrom maps the error taxonomy onto JSON-RPC codes.
func (s *Server) errorFrom(id string, err error) Response {
	code := CodeInternalError
	switch qerrors.GetCode(err) {
	case qerrors.ErrCodeNotIndexed:
		code = CodeNotIndexed
	case qerrors.ErrCodeSearchFailed:
		code = CodeSearchFailed
	case qerrors.ErrCodeModelMismatch:
		code = CodeModelMismatch
	case qerrors.ErrCodeIndexBusy:
		code = CodeIndexBusy
	case qerrors.ErrCodeQueryEmpty, qerrors.ErrCodeInvalidInput, qerrors.ErrCodeInvalidPath:
		code = CodeInvalidParams
	}
	var qe *qerrors.QuarryError
	if errors.As(err, &qe) {
		resp := errResponse(id, code, qe.Message)
		resp.Error.Data = qe.Details
		return resp
	}
	return errResponse(id, code, err.Error())
}
