package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Iron-Ham/gansauditor/internal/audit"
	"github.com/Iron-Ham/gansauditor/internal/logging"
)

// sweepInterval is how often the server asks its context manager to drop
// stale handles.
const sweepInterval = 5 * time.Minute

// Engine is the subset of audit.Engine the server drives. Declared locally
// so tests can substitute a stub instead of wiring a real one.
type Engine interface {
	ProcessThought(ctx context.Context, t audit.Thought) audit.Response
}

// Sweeper periodically reclaims stale context handles. *contextmgr.Manager
// satisfies this.
type Sweeper interface {
	Sweep(ctx context.Context)
}

// SessionSweeper deletes sessions idle for at least maxAge.
// *session.FileSessionStore satisfies this.
type SessionSweeper interface {
	Sweep(ctx context.Context, maxAge time.Duration) ([]string, error)
}

// Terminator shuts down in-flight work. *supervisor.ProcessSupervisor
// satisfies this for processes; ContextManager.TerminateAll for contexts.
type Terminator interface {
	TerminateAll()
}

// ContextTerminator shuts down context handles on server exit.
type ContextTerminator interface {
	TerminateAll(ctx context.Context, reason string) error
}

// Server reads line-delimited JSON-RPC 2.0 requests from an input stream
// and writes one response line per request to an output stream. It owns no
// process lifetime beyond the loop itself: construction and shutdown of
// its collaborators is the caller's responsibility.
type Server struct {
	engine     Engine
	sweeper    Sweeper
	supervisor Terminator
	contexts   ContextTerminator
	logger     *logging.Logger

	sessionSweeper SessionSweeper
	maxSessionAge  time.Duration

	out   io.Writer
	outMu sync.Mutex
}

// New constructs a Server. sweeper, supervisor, and contexts may be nil; a
// nil collaborator's corresponding background behavior is skipped.
func New(engine Engine, sweeper Sweeper, supervisor Terminator, contexts ContextTerminator, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Server{engine: engine, sweeper: sweeper, supervisor: supervisor, contexts: contexts, logger: logger}
}

// WithSessionSweeper arms the periodic sweep loop to also age out sessions
// idle for at least maxAge, alongside the stale-context sweep. Returns s for
// chaining at construction time.
func (s *Server) WithSessionSweeper(sweeper SessionSweeper, maxAge time.Duration) *Server {
	s.sessionSweeper = sweeper
	s.maxSessionAge = maxAge
	return s
}

// Run reads requests from r and writes responses to w until ctx is
// canceled or r is exhausted. It returns nil on a clean EOF shutdown.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	s.out = w

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if s.sweeper != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runSweeper(ctx)
		}()
	}
	if s.sessionSweeper != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runSessionSweeper(ctx)
		}()
	}

	readErr := s.readLoop(ctx, r)

	cancel()
	wg.Wait()
	s.shutdown()

	return readErr
}

func (s *Server) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweeper.Sweep(ctx)
		}
	}
}

func (s *Server) runSessionSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.sessionSweeper.Sweep(ctx, s.maxSessionAge)
			if err != nil {
				s.logger.Warn("session sweep failed", "error", err)
				continue
			}
			if len(swept) > 0 {
				s.logger.Info("swept idle sessions", "count", len(swept))
			}
		}
	}
}

func (s *Server) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.contexts != nil {
		if err := s.contexts.TerminateAll(shutdownCtx, "shutdown"); err != nil {
			s.logger.Warn("context terminate-all failed during shutdown", "error", err)
		}
	}
	if s.supervisor != nil {
		s.supervisor.TerminateAll()
	}
}

func (s *Server) readLoop(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.handleLine(ctx, append([]byte(nil), line...))
	}
	return scanner.Err()
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.write(errorResponse(nil, errCodeParse, "invalid JSON: "+err.Error()))
		return
	}
	if req.JSONRPC != jsonRPCVersion {
		s.write(errorResponse(req.ID, errCodeInvalidRequest, "unsupported jsonrpc version"))
		return
	}

	switch req.Method {
	case "tools/list":
		s.write(resultResponse(req.ID, map[string]any{"tools": []any{toolDescriptor}}))
	case "tools/call":
		s.handleToolCall(ctx, req)
	default:
		s.write(errorResponse(req.ID, errCodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method)))
	}
}

func (s *Server) handleToolCall(ctx context.Context, req request) {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.write(errorResponse(req.ID, errCodeInvalidParams, "invalid params: "+err.Error()))
		return
	}
	if params.Name != toolName {
		s.write(errorResponse(req.ID, errCodeInvalidParams, fmt.Sprintf("unknown tool %q", params.Name)))
		return
	}

	var t audit.Thought
	if err := json.Unmarshal(params.Arguments, &t); err != nil {
		s.write(errorResponse(req.ID, errCodeInvalidParams, "invalid arguments: "+err.Error()))
		return
	}

	resp := s.engine.ProcessThought(ctx, t)
	text, err := json.Marshal(resp)
	if err != nil {
		s.write(errorResponse(req.ID, errCodeInternal, "failed to marshal response: "+err.Error()))
		return
	}

	result := toolCallResult{
		Content: []contentItem{{Type: "text", Text: string(text)}},
		IsError: resp.Error != "",
	}
	s.write(resultResponse(req.ID, result))
}

func (s *Server) write(resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal response envelope", "error", err)
		return
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}
