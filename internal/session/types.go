package session

import (
	"time"

	"github.com/Iron-Ham/gansauditor/internal/reviewer"
)

// Scope controls how much of the repository the reviewer prompt packs.
type Scope string

const (
	ScopeDiff      Scope = "diff"
	ScopePaths     Scope = "paths"
	ScopeWorkspace Scope = "workspace"
)

// Overrides holds per-session configuration, keyed like the inline
// `gan-config` block's JSON. Nothing in this server parses a thought's
// `gan-config` block into it: the classifier only detects the block, so a
// session's Overrides stay at their zero values unless a stored document
// already carries them.
type Overrides struct {
	Task       string   `json:"task,omitempty"`
	Scope      Scope    `json:"scope,omitempty"`
	Paths      []string `json:"paths,omitempty"`
	Threshold  int      `json:"threshold,omitempty"`
	Judges     []string `json:"judges,omitempty"`
	MaxCycles  int      `json:"maxCycles,omitempty"`
	Candidates int      `json:"candidates,omitempty"`
	ApplyFixes bool     `json:"applyFixes,omitempty"`
}

// Iteration is one append-only entry in a session's audit history.
type Iteration struct {
	ThoughtNumber   int             `json:"thoughtNumber"`
	CodeFingerprint string          `json:"codeFingerprint"`
	NormalizedCode  string          `json:"normalizedCode,omitempty"`
	Review          reviewer.Review `json:"review"`
	TimestampMs     int64           `json:"timestampMs"`
}

// StagnationInfo records the outcome of the most recent stagnation
// analysis. Once set with IsStagnant true it is never cleared except by
// session termination or an explicit reset.
type StagnationInfo struct {
	IsStagnant      bool    `json:"isStagnant"`
	DetectedAtLoop  int     `json:"detectedAtLoop"`
	SimilarityScore float64 `json:"similarityScore"`
	Recommendation  string  `json:"recommendation"`
}

// State is the full persistent record for one audit session, keyed by the
// caller-supplied (or synthesized) branch id.
type State struct {
	ID         string      `json:"id"`
	LoopID     string      `json:"loopId,omitempty"`
	Config     Overrides   `json:"config"`
	Iterations []Iteration `json:"iterations"`

	// CodexContextID is the reviewer-side context handle for the current
	// loopId, if one has been started and not yet terminated.
	CodexContextID     string `json:"codexContextId,omitempty"`
	CodexContextActive bool   `json:"codexContextActive"`

	StagnationInfo *StagnationInfo `json:"stagnationInfo,omitempty"`

	IsComplete       bool   `json:"isComplete"`
	CompletionReason string `json:"completionReason,omitempty"`

	CreatedAtMs int64 `json:"createdAtMs"`
	UpdatedAtMs int64 `json:"updatedAtMs"`
}

// CurrentLoop returns len(Iterations), the invariant the spec requires
// every reader to observe.
func (s *State) CurrentLoop() int {
	return len(s.Iterations)
}

// Created returns CreatedAtMs as a time.Time.
func (s *State) Created() time.Time {
	return time.UnixMilli(s.CreatedAtMs)
}

// Updated returns UpdatedAtMs as a time.Time.
func (s *State) Updated() time.Time {
	return time.UnixMilli(s.UpdatedAtMs)
}

// AppendIteration appends an iteration and bumps UpdatedAtMs. It is the
// caller's responsibility to hold the session's lock and to check
// IsComplete first: per the spec's invariants, nothing is appended once a
// session is complete.
func (s *State) AppendIteration(it Iteration) {
	s.Iterations = append(s.Iterations, it)
	s.UpdatedAtMs = it.TimestampMs
}

// NewState creates a freshly initialized session for id, stamping creation
// and update times to nowMs.
func NewState(id string, nowMs int64) *State {
	return &State{
		ID:          id,
		CreatedAtMs: nowMs,
		UpdatedAtMs: nowMs,
	}
}
