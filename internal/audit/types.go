// Package audit implements the orchestration engine that turns one inbound
// thought into one outbound audit verdict: classification, session
// continuity, context lifecycle, cache lookup, reviewer invocation,
// stagnation and completion evaluation, and response assembly.
package audit

import (
	"encoding/json"

	"github.com/Iron-Ham/gansauditor/internal/reviewer"
)

// Thought is one inbound submission from the caller.
type Thought struct {
	Thought           string `json:"thought"`
	ThoughtNumber     int    `json:"thoughtNumber"`
	TotalThoughts     int    `json:"totalThoughts"`
	NextThoughtNeeded bool   `json:"nextThoughtNeeded"`

	IsRevision        bool   `json:"isRevision,omitempty"`
	RevisesThought    int    `json:"revisesThought,omitempty"`
	BranchFromThought int    `json:"branchFromThought,omitempty"`
	BranchID          string `json:"branchId,omitempty"`
	LoopID            string `json:"loopId,omitempty"`
	NeedsMoreThoughts bool   `json:"needsMoreThoughts,omitempty"`
}

// CompletionStatus is the envelope's summary of the completion decision.
type CompletionStatus struct {
	IsComplete  bool   `json:"isComplete"`
	Reason      string `json:"reason"`
	CurrentLoop int    `json:"currentLoop"`
	Score       int    `json:"score"`
	Message     string `json:"message"`
}

// LoopInfo is the envelope's summary of loop progress and stagnation.
type LoopInfo struct {
	CurrentLoop        int      `json:"currentLoop"`
	StagnationDetected bool     `json:"stagnationDetected"`
	SimilarityScore    *float64 `json:"similarityScore,omitempty"`
	Recommendation     *string  `json:"recommendation,omitempty"`
}

// Feedback carries the improvements list plus whatever other structured
// fields a reviewer reply contributed. Extra is merged alongside
// Improvements when the envelope is marshaled.
type Feedback struct {
	Improvements []string
	Extra        map[string]any
}

// MarshalJSON flattens Improvements and Extra into one object so Extra
// fields ride alongside "improvements" at the same level, matching the
// envelope's documented shape.
func (f Feedback) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(f.Extra)+1)
	for k, v := range f.Extra {
		m[k] = v
	}
	improvements := f.Improvements
	if improvements == nil {
		improvements = []string{}
	}
	m["improvements"] = improvements
	return json.Marshal(m)
}

// TerminationInfo is present only when the session was force-terminated by
// stagnation or the max-loops kill switch.
type TerminationInfo struct {
	Reason          string   `json:"reason"`
	FailureRate     float64  `json:"failureRate"`
	CriticalIssues  []string `json:"criticalIssues"`
	FinalAssessment string   `json:"finalAssessment,omitempty"`
}

// Response is the outbound envelope for one ProcessThought call.
type Response struct {
	ThoughtNumber        int      `json:"thoughtNumber"`
	TotalThoughts        int      `json:"totalThoughts"`
	NextThoughtNeeded    bool     `json:"nextThoughtNeeded"`
	Branches             []string `json:"branches"`
	ThoughtHistoryLength int      `json:"thoughtHistoryLength"`

	SessionID        string            `json:"sessionId,omitempty"`
	Gan              *reviewer.Review  `json:"gan,omitempty"`
	CompletionStatus *CompletionStatus `json:"completionStatus,omitempty"`
	LoopInfo         *LoopInfo         `json:"loopInfo,omitempty"`
	Feedback         *Feedback         `json:"feedback,omitempty"`
	TerminationInfo  *TerminationInfo  `json:"terminationInfo,omitempty"`

	// Error is set only on the validation-failure path (§7): a rejected
	// thought never touches session state and carries no audit fields.
	Error string `json:"error,omitempty"`
}
