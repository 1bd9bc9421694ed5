// Package contextmgr owns the lifecycle of reviewer-side context handles
// keyed by a caller-supplied loopId, invoking the reviewer CLI's context
// sub-commands (start, maintain, terminate, status) through a
// ProcessSupervisor.
package contextmgr

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/gansauditor/internal/supervisor"
)

// Config configures how context sub-commands are invoked.
type Config struct {
	Command string
	Args    []string
	Cwd     string
	Env     []string
	Timeout time.Duration
}

// Manager maps loopId to the reviewer-side context handle and drives its
// lifecycle. It is safe for concurrent use.
type Manager struct {
	sup    *supervisor.ProcessSupervisor
	config Config

	mu      sync.Mutex
	handles map[string]string
}

// New creates a Manager that runs context sub-commands through sup.
func New(sup *supervisor.ProcessSupervisor, config Config) *Manager {
	return &Manager{
		sup:     sup,
		config:  config,
		handles: make(map[string]string),
	}
}

// Start starts a fresh reviewer context for loopId and remembers its
// handle. An empty handle in the child's stdout is a hard failure.
func (m *Manager) Start(ctx context.Context, loopID string) (string, error) {
	result := m.run(ctx, "start", loopID, "")

	if result.ErrorKind != supervisor.ErrorKindNone {
		return "", fmt.Errorf("context start failed: %s", result.ErrorText)
	}

	handle := strings.TrimSpace(string(result.Stdout))
	if handle == "" {
		return "", fmt.Errorf("context start for loopId %q returned an empty handle", loopID)
	}

	m.mu.Lock()
	m.handles[loopID] = handle
	m.mu.Unlock()

	return handle, nil
}

// Maintain keeps an already-active context alive. Failures are non-fatal
// except when the child reports the context is gone, in which case the
// local mapping is cleared so the next ProcessThought call restarts it.
func (m *Manager) Maintain(ctx context.Context, loopID, handle string) error {
	result := m.run(ctx, "maintain", loopID, handle)

	if strings.Contains(string(result.Stderr), "context not found") {
		m.mu.Lock()
		delete(m.handles, loopID)
		m.mu.Unlock()
		return fmt.Errorf("context not found for loopId %q", loopID)
	}

	if result.ErrorKind != supervisor.ErrorKindNone {
		return fmt.Errorf("context maintain failed: %s", result.ErrorText)
	}

	return nil
}

// Terminate ends loopId's context, always clearing the local mapping even
// if the child's terminate call itself fails.
func (m *Manager) Terminate(ctx context.Context, loopID, reason string) error {
	m.mu.Lock()
	handle := m.handles[loopID]
	delete(m.handles, loopID)
	m.mu.Unlock()

	if handle == "" {
		return nil
	}

	result := m.run(ctx, "terminate", loopID, handle, "--reason", reason)
	if result.ErrorKind != supervisor.ErrorKindNone {
		return fmt.Errorf("context terminate failed: %s", result.ErrorText)
	}
	return nil
}

// TerminateAll terminates every tracked context in parallel, used on server
// shutdown. Individual failures are collected but do not stop the sweep.
func (m *Manager) TerminateAll(ctx context.Context, reason string) error {
	m.mu.Lock()
	loopIDs := make([]string, 0, len(m.handles))
	for loopID := range m.handles {
		loopIDs = append(loopIDs, loopID)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, loopID := range loopIDs {
		loopID := loopID
		g.Go(func() error {
			return m.Terminate(gctx, loopID, reason)
		})
	}
	return g.Wait()
}

// Sweep checks every active handle's status and drops mappings the child no
// longer recognizes. Intended to run on a periodic timer (spec default: 5
// minutes).
func (m *Manager) Sweep(ctx context.Context) {
	m.mu.Lock()
	snapshot := make(map[string]string, len(m.handles))
	for loopID, handle := range m.handles {
		snapshot[loopID] = handle
	}
	m.mu.Unlock()

	for loopID, handle := range snapshot {
		result := m.run(ctx, "status", loopID, handle)
		if result.ErrorKind != supervisor.ErrorKindNone || strings.Contains(string(result.Stderr), "context not found") {
			m.mu.Lock()
			delete(m.handles, loopID)
			m.mu.Unlock()
		}
	}
}

// Active reports whether loopId currently has a tracked context handle, and
// returns it.
func (m *Manager) Active(loopID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle, ok := m.handles[loopID]
	return handle, ok
}

func (m *Manager) run(ctx context.Context, subcommand, loopID, handle string, extra ...string) supervisor.Result {
	args := append([]string{}, m.config.Args...)
	args = append(args, "context", subcommand, "--loop-id", loopID)
	if handle != "" {
		args = append(args, "--handle", handle)
	}
	args = append(args, extra...)

	return m.sup.Execute(ctx, supervisor.Request{
		Command: m.config.Command,
		Args:    args,
		Env:     m.config.Env,
		Cwd:     m.config.Cwd,
		Timeout: m.config.Timeout,
	})
}
