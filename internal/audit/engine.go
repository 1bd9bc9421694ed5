package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/gansauditor/internal/cache"
	"github.com/Iron-Ham/gansauditor/internal/completion"
	"github.com/Iron-Ham/gansauditor/internal/config"
	gerrors "github.com/Iron-Ham/gansauditor/internal/errors"
	"github.com/Iron-Ham/gansauditor/internal/logging"
	"github.com/Iron-Ham/gansauditor/internal/reviewer"
	"github.com/Iron-Ham/gansauditor/internal/session"
	"github.com/Iron-Ham/gansauditor/internal/stagnation"
)

// ContextPacker packs repository context (diff, paths, or whole workspace)
// into the string a reviewer prompt embeds. It is an external collaborator;
// the engine never inspects the filesystem itself.
type ContextPacker interface {
	PackContext(ctx context.Context, scope session.Scope, paths []string) (string, error)
}

// ReviewerClient is satisfied by *reviewer.Client. Declared here so tests
// can substitute a stub without touching the supervisor/process layer.
type ReviewerClient interface {
	Review(ctx context.Context, req reviewer.PromptRequest, cwd string, env []string, timeout time.Duration) (reviewer.Review, error)
}

// ContextLifecycle is satisfied by *contextmgr.Manager.
type ContextLifecycle interface {
	Start(ctx context.Context, loopID string) (string, error)
	Maintain(ctx context.Context, loopID, handle string) error
	Terminate(ctx context.Context, loopID, reason string) error
}

// thoughtHistory is the in-memory, non-durable bookkeeping the engine keeps
// for one branch so Response.branches / thoughtHistoryLength can be
// reported without a session ever existing (step 2 of §4.1's algorithm
// applies even when shouldAudit is false).
type thoughtHistory struct {
	totalThoughts int
	branches      map[string]struct{}
}

func (h *thoughtHistory) branchNames() []string {
	names := make([]string, 0, len(h.branches))
	for name := range h.branches {
		names = append(names, name)
	}
	return names
}

// Engine is the AuditEngine: the sole entry point that turns one inbound
// Thought into one outbound Response.
type Engine struct {
	sessions   session.SessionStore
	cache      *cache.AuditCache
	reviewer   ReviewerClient
	context    ContextLifecycle
	stagnation *stagnation.Detector
	completion *completion.Evaluator
	packer     ContextPacker
	audit      config.AuditConfig
	logger     *logging.Logger

	mu      sync.Mutex
	history map[string]*thoughtHistory
}

// New wires an Engine from its collaborators. packer may be nil; a nil
// packer yields an empty context section in reviewer prompts.
func New(
	sessions session.SessionStore,
	auditCache *cache.AuditCache,
	reviewerClient ReviewerClient,
	contextLifecycle ContextLifecycle,
	detector *stagnation.Detector,
	evaluator *completion.Evaluator,
	packer ContextPacker,
	auditCfg config.AuditConfig,
	logger *logging.Logger,
) *Engine {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Engine{
		sessions:   sessions,
		cache:      auditCache,
		reviewer:   reviewerClient,
		context:    contextLifecycle,
		stagnation: detector,
		completion: evaluator,
		packer:     packer,
		audit:      auditCfg,
		logger:     logger,
		history:    make(map[string]*thoughtHistory),
	}
}

// ProcessThought is the AuditEngine's total entry point (§4.1). It never
// panics and never returns an error: every path produces exactly one
// Response.
func (e *Engine) ProcessThought(ctx context.Context, t Thought) Response {
	if err := validateThought(t); err != nil {
		return Response{Error: err.Error()}
	}

	if t.ThoughtNumber > t.TotalThoughts {
		t.TotalThoughts = t.ThoughtNumber
	}

	branchKey := t.BranchID
	if branchKey == "" {
		branchKey = "default"
	}
	hist := e.recordHistory(branchKey, t)

	if !e.audit.EnableGanAuditing || !e.audit.EnableSynchronousAudit || !shouldAudit(t.Thought) {
		return buildBaselineResponse(t, hist)
	}

	sessionID := t.BranchID
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}

	lock := e.sessions.Lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	logger := e.logger.WithSession(sessionID)

	state, err := e.sessions.LoadOrCreate(ctx, sessionID, t.LoopID)
	if err != nil {
		logger.Error("failed to load or create session", "error", err)
		return buildBaselineResponse(t, hist)
	}

	if state.IsComplete {
		return e.completedResponse(t, hist, sessionID, state)
	}

	e.maintainContext(ctx, logger, state, t.LoopID)

	review, err := e.review(ctx, logger, state, t)
	if err != nil {
		logger.Warn("reviewer call did not produce a usable review, falling back", "error", err)
	}

	iteration := session.Iteration{
		ThoughtNumber:   t.ThoughtNumber,
		CodeFingerprint: cache.Fingerprint(t.Thought),
		NormalizedCode:  cache.NormalizeCode(cache.ExtractCode(t.Thought)),
		Review:          review,
		TimestampMs:     time.Now().UnixMilli(),
	}
	state.AppendIteration(iteration)

	completionResult := e.completion.Evaluate(review.Overall, state.CurrentLoop())

	wasStagnant := state.StagnationInfo != nil && state.StagnationInfo.IsStagnant
	if info := e.stagnation.Analyze(state.Iterations, state.CurrentLoop()); info != nil {
		state.StagnationInfo = info
		if info.IsStagnant && !wasStagnant {
			completionResult = completion.Result{
				IsComplete:        true,
				Reason:            completion.ReasonStagnationDetected,
				NextThoughtNeeded: false,
				Message:           info.Recommendation,
			}
		}
	}

	terminationResult := e.completion.ShouldTerminate(state)
	if terminationResult.ShouldTerminate && !completionResult.IsComplete {
		completionResult.IsComplete = true
		completionResult.NextThoughtNeeded = false
		completionResult.Message = terminationResult.Reason
		if state.StagnationInfo != nil && state.StagnationInfo.IsStagnant {
			completionResult.Reason = completion.ReasonStagnationDetected
		} else {
			completionResult.Reason = completion.ReasonMaxLoopsReached
		}
	}

	if completionResult.IsComplete {
		state.IsComplete = true
		state.CompletionReason = string(completionResult.Reason)
		if err := e.context.Terminate(ctx, t.LoopID, string(completionResult.Reason)); err != nil {
			logger.Warn("context terminate failed", "error", err)
		}
	}

	if err := e.sessions.Save(ctx, state); err != nil {
		logger.Error("failed to persist session", "error", err)
		if hfErr := e.sessions.HandleFailure(ctx, sessionID, err); hfErr != nil {
			logger.Error("HandleFailure also failed", "error", hfErr)
		}
		return degradedResponse(t, hist, review)
	}

	resp, buildErr := buildAuditResponse(t, hist, sessionID, state, review, completionResult, &terminationResult)
	if buildErr != nil {
		logger.Warn("response assembly failed, emitting degraded response", "error", buildErr)
		return degradedResponse(t, hist, review)
	}
	return resp
}

// completedResponse is returned when a session already reached its
// terminal state: no further iteration is appended (§3 invariant 2 / §8
// property 2).
func (e *Engine) completedResponse(t Thought, hist *thoughtHistory, sessionID string, state *session.State) Response {
	var last reviewer.Review
	if n := len(state.Iterations); n > 0 {
		last = state.Iterations[n-1].Review
	}
	result := completion.Result{
		IsComplete:        true,
		Reason:            completion.Reason(state.CompletionReason),
		NextThoughtNeeded: false,
		Message:           "session already complete",
	}
	resp, err := buildAuditResponse(t, hist, sessionID, state, last, result, nil)
	if err != nil {
		return degradedResponse(t, hist, last)
	}
	return resp
}

// maintainContext implements step 6 of §4.1: start a context on first
// sight of a loopId, or maintain an already-active one. Failures are
// logged and never fatal to the audit.
func (e *Engine) maintainContext(ctx context.Context, logger *logging.Logger, state *session.State, loopID string) {
	if loopID == "" || e.context == nil {
		return
	}

	if !state.CodexContextActive {
		handle, err := e.context.Start(ctx, loopID)
		if err != nil {
			logger.Warn("context start failed", "loopId", loopID, "error", err)
			return
		}
		state.CodexContextID = handle
		state.CodexContextActive = true
		return
	}

	if err := e.context.Maintain(ctx, loopID, state.CodexContextID); err != nil {
		if strings.Contains(err.Error(), "context not found") {
			state.CodexContextID = ""
			state.CodexContextActive = false
		}
		logger.Warn("context maintain failed", "loopId", loopID, "error", err)
	}
}

// review implements steps 7-9 of §4.1: cache lookup, reviewer invocation
// with timeout, and cache population on a genuine (non-fallback) result.
// It always returns a usable Review; the returned error, when non-nil,
// only explains why a fallback was substituted.
func (e *Engine) review(ctx context.Context, logger *logging.Logger, state *session.State, t Thought) (reviewer.Review, error) {
	if cached, ok := e.cache.Get(t.Thought, t.ThoughtNumber); ok {
		return cached, nil
	}

	task := state.Config.Task
	if task == "" {
		task = "Review the candidate code for correctness, security, and maintainability."
	}

	var packed string
	if e.packer != nil {
		scope := state.Config.Scope
		if scope == "" {
			scope = session.ScopeDiff
		}
		if p, err := e.packer.PackContext(ctx, scope, state.Config.Paths); err != nil {
			logger.Warn("context packing failed", "error", err)
		} else {
			packed = p
		}
	}

	req := reviewer.PromptRequest{
		Task:    task,
		Context: packed,
		Code:    cache.ExtractCode(t.Thought),
	}

	timeout := e.audit.Timeout()
	review, err := e.reviewer.Review(ctx, req, "", nil, timeout)
	if err != nil {
		return review, err
	}

	e.cache.Put(t.Thought, t.ThoughtNumber, review)
	return review, nil
}

// recordHistory updates the in-memory, non-durable branch bookkeeping and
// returns the snapshot the response builder needs.
func (e *Engine) recordHistory(branchKey string, t Thought) *thoughtHistory {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.history[branchKey]
	if !ok {
		h = &thoughtHistory{branches: make(map[string]struct{})}
		e.history[branchKey] = h
	}
	if t.ThoughtNumber > h.totalThoughts {
		h.totalThoughts = t.ThoughtNumber
	}
	if t.BranchFromThought > 0 && t.BranchID != "" {
		h.branches[t.BranchID] = struct{}{}
	}

	snapshot := &thoughtHistory{totalThoughts: h.totalThoughts, branches: make(map[string]struct{}, len(h.branches))}
	for k := range h.branches {
		snapshot.branches[k] = struct{}{}
	}
	return snapshot
}

// validateThought enforces the Thought shape required by §3 before any
// state is touched.
func validateThought(t Thought) error {
	if strings.TrimSpace(t.Thought) == "" {
		return gerrors.NewValidationError("thought must not be empty").WithField("thought")
	}
	if t.ThoughtNumber < 1 {
		return gerrors.NewValidationError("thoughtNumber must be >= 1").WithField("thoughtNumber").WithValue(t.ThoughtNumber)
	}
	if t.TotalThoughts < 1 {
		return gerrors.NewValidationError("totalThoughts must be >= 1").WithField("totalThoughts").WithValue(t.TotalThoughts)
	}
	return nil
}
