package audit

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/gansauditor/internal/completion"
	"github.com/Iron-Ham/gansauditor/internal/reviewer"
	"github.com/Iron-Ham/gansauditor/internal/session"
)

// buildBaselineResponse produces the non-audit envelope: thought-echo
// fields only, no gan/completion/loop/feedback extension.
func buildBaselineResponse(t Thought, hist *thoughtHistory) Response {
	return Response{
		ThoughtNumber:        t.ThoughtNumber,
		TotalThoughts:        t.TotalThoughts,
		NextThoughtNeeded:    t.NextThoughtNeeded,
		Branches:             hist.branchNames(),
		ThoughtHistoryLength: hist.totalThoughts,
	}
}

// buildAuditResponse merges the baseline echo with the audit extension. It
// never panics; any assembly problem, including a recovered panic, is
// reported through err so the caller can fall back to a degraded response
// instead of letting a bad Feedback field take down the whole envelope.
func buildAuditResponse(
	t Thought,
	hist *thoughtHistory,
	sessionID string,
	state *session.State,
	review reviewer.Review,
	completionResult completion.Result,
	termination *completion.TerminationResult,
) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = Response{}, fmt.Errorf("response builder panicked: %v", r)
		}
	}()

	if state == nil {
		return Response{}, fmt.Errorf("response builder: nil session state")
	}

	resp = buildBaselineResponse(t, hist)
	resp.NextThoughtNeeded = completionResult.NextThoughtNeeded
	resp.SessionID = sessionID
	ganCopy := review
	resp.Gan = &ganCopy

	resp.CompletionStatus = &CompletionStatus{
		IsComplete:  completionResult.IsComplete,
		Reason:      string(completionResult.Reason),
		CurrentLoop: state.CurrentLoop(),
		Score:       review.Overall,
		Message:     completionResult.Message,
	}

	loopInfo := &LoopInfo{CurrentLoop: state.CurrentLoop()}
	if state.StagnationInfo != nil {
		loopInfo.StagnationDetected = state.StagnationInfo.IsStagnant
		if state.StagnationInfo.IsStagnant {
			score := state.StagnationInfo.SimilarityScore
			rec := state.StagnationInfo.Recommendation
			loopInfo.SimilarityScore = &score
			loopInfo.Recommendation = &rec
		}
	}
	resp.LoopInfo = loopInfo

	resp.Feedback = &Feedback{
		Improvements: extractImprovements(review),
		Extra:        extractFeedbackExtra(review),
	}

	if termination != nil && termination.ShouldTerminate {
		resp.TerminationInfo = &TerminationInfo{
			Reason:          termination.Reason,
			FailureRate:     termination.FailureRate,
			CriticalIssues:  termination.CriticalIssues,
			FinalAssessment: termination.FinalAssessment,
		}
	}

	return resp, nil
}

// degradedResponse is emitted when response assembly fails: baseline echo
// plus gan only, per §4.11.
func degradedResponse(t Thought, hist *thoughtHistory, review reviewer.Review) Response {
	resp := buildBaselineResponse(t, hist)
	ganCopy := review
	resp.Gan = &ganCopy
	return resp
}

// extractImprovements turns the reviewer's inline comments and citations
// into the feedback envelope's improvements list. Every inline comment is
// included, in the reviewer's order; citations are appended after them as
// supporting references.
func extractImprovements(review reviewer.Review) []string {
	var improvements []string
	for _, c := range review.Review.Inline {
		if c.Path != "" {
			improvements = append(improvements, fmt.Sprintf("%s:%d: %s", c.Path, c.Line, c.Comment))
		} else {
			improvements = append(improvements, c.Comment)
		}
	}
	for _, cite := range review.Review.Citations {
		improvements = append(improvements, fmt.Sprintf("see: %s", strings.TrimSpace(cite)))
	}
	return improvements
}

// extractFeedbackExtra rides alongside "improvements" at the envelope's top
// level: a per-dimension score breakdown whenever the reviewer returned
// dimension scores, and a critical-findings
// list carrying the reviewer's inline comments when the verdict rejects
// the candidate outright.
func extractFeedbackExtra(review reviewer.Review) map[string]any {
	extra := make(map[string]any, 2)

	if len(review.Dimensions) > 0 {
		breakdown := make(map[string]int, len(review.Dimensions))
		for _, d := range review.Dimensions {
			breakdown[d.Name] = d.Score
		}
		extra["dimensionBreakdown"] = breakdown
	}

	if review.Verdict == reviewer.VerdictReject && len(review.Review.Inline) > 0 {
		var critical []string
		for _, c := range review.Review.Inline {
			if c.Path != "" {
				critical = append(critical, fmt.Sprintf("%s:%d: %s", c.Path, c.Line, c.Comment))
			} else {
				critical = append(critical, c.Comment)
			}
		}
		extra["criticalFindings"] = critical
	}

	return extra
}
