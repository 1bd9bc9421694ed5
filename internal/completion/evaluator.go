// Package completion evaluates whether an audit session has satisfied one
// of its tiered completion criteria, or must be cut off for stagnation or
// exceeding the maximum loop count.
package completion

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/gansauditor/internal/config"
	"github.com/Iron-Ham/gansauditor/internal/session"
)

// Reason is one of the fixed completion/termination reason codes.
type Reason string

const (
	ReasonStagnationDetected Reason = "stagnation_detected"
	ReasonMaxLoopsReached    Reason = "max_loops_reached"
	ReasonInProgress         Reason = "in_progress"
)

// Result is the outcome of evaluating a session's current score and loop
// against the configured completion tiers.
type Result struct {
	IsComplete        bool   `json:"isComplete"`
	Reason            Reason `json:"reason"`
	NextThoughtNeeded bool   `json:"nextThoughtNeeded"`
	Message           string `json:"message"`
}

// TerminationResult is the outcome of ShouldTerminate.
type TerminationResult struct {
	ShouldTerminate bool     `json:"shouldTerminate"`
	Reason          string   `json:"reason"`
	FailureRate     float64  `json:"failureRate"`
	CriticalIssues  []string `json:"criticalIssues"`
	FinalAssessment string   `json:"finalAssessment,omitempty"`
}

// Evaluator evaluates completion tiers and the hard loop cutoff from a
// config.CompletionConfig.
type Evaluator struct {
	maxLoops int
	tiers    []config.CompletionTier
}

// New creates an Evaluator from cfg. Tiers are evaluated in the order
// given, first match wins.
func New(cfg config.CompletionConfig) *Evaluator {
	return &Evaluator{maxLoops: cfg.MaxLoops, tiers: cfg.Tiers}
}

// Evaluate checks score/loop against the configured tiers in order, falling
// back to the hard max-loops cutoff, and finally in_progress.
func (e *Evaluator) Evaluate(score, loop int) Result {
	for _, tier := range e.tiers {
		if score >= tier.Score && loop >= tier.MinLoop {
			return Result{
				IsComplete:        true,
				Reason:            Reason(tier.Reason),
				NextThoughtNeeded: false,
				Message:           fmt.Sprintf("completion tier %q satisfied: score %d >= %d at loop %d >= %d", tier.Reason, score, tier.Score, loop, tier.MinLoop),
			}
		}
	}

	if loop >= e.maxLoops {
		return Result{
			IsComplete:        true,
			Reason:            ReasonMaxLoopsReached,
			NextThoughtNeeded: false,
			Message:           fmt.Sprintf("maximum loops (%d) reached without achieving completion criteria", e.maxLoops),
		}
	}

	return Result{
		IsComplete:        false,
		Reason:            ReasonInProgress,
		NextThoughtNeeded: true,
		Message:           e.progressMessage(score, loop),
	}
}

// progressMessage reports what is still missing for the tier with the
// lowest MinLoop: the score gap, the loop gap, or both when neither target
// is met yet.
func (e *Evaluator) progressMessage(score, loop int) string {
	var best *config.CompletionTier
	for i := range e.tiers {
		tier := &e.tiers[i]
		if best == nil || tier.MinLoop < best.MinLoop {
			best = tier
		}
	}
	if best == nil {
		return "in progress"
	}

	scoreGap := best.Score - score
	loopGap := best.MinLoop - loop
	switch {
	case scoreGap > 0 && loopGap > 0:
		return fmt.Sprintf("need score >= %d (currently %d) and loop >= %d (currently %d) for tier %q", best.Score, score, best.MinLoop, loop, best.Reason)
	case scoreGap > 0:
		return fmt.Sprintf("loop requirement met; need score >= %d (currently %d) for tier %q", best.Score, score, best.Reason)
	case loopGap > 0:
		return fmt.Sprintf("score requirement met; need loop >= %d (currently %d) for tier %q", best.MinLoop, loop, best.Reason)
	default:
		return "in progress"
	}
}

// ShouldTerminate decides whether a session must be cut off regardless of
// its completion tier status: stagnation takes precedence over the max-loop
// cutoff in the reason text when both conditions hold.
func (e *Evaluator) ShouldTerminate(state *session.State) TerminationResult {
	loop := state.CurrentLoop()

	stagnant := state.StagnationInfo != nil && state.StagnationInfo.IsStagnant
	maxedOut := loop >= e.maxLoops

	if !stagnant && !maxedOut {
		return TerminationResult{ShouldTerminate: false}
	}

	failureRate := computeFailureRate(state.Iterations)
	critical := criticalIssues(state.Iterations)

	if stagnant {
		return TerminationResult{
			ShouldTerminate: true,
			Reason:          fmt.Sprintf("Stagnation detected: %s", state.StagnationInfo.Recommendation),
			FailureRate:     failureRate,
			CriticalIssues:  critical,
		}
	}

	return TerminationResult{
		ShouldTerminate: true,
		Reason:          fmt.Sprintf("Maximum loops (%d) reached without achieving completion criteria", e.maxLoops),
		FailureRate:     failureRate,
		CriticalIssues:  critical,
	}
}

func computeFailureRate(iterations []session.Iteration) float64 {
	if len(iterations) == 0 {
		return 0
	}
	rejects := 0
	for _, it := range iterations {
		if strings.EqualFold(string(it.Review.Verdict), "reject") {
			rejects++
		}
	}
	return float64(rejects) / float64(len(iterations))
}

// criticalIssues extracts inline comment text flagged "CRITICAL" from the
// most recent iterations, most recent first.
func criticalIssues(iterations []session.Iteration) []string {
	var issues []string
	for i := len(iterations) - 1; i >= 0; i-- {
		for _, comment := range iterations[i].Review.Review.Inline {
			if strings.Contains(strings.ToUpper(comment.Comment), "CRITICAL") {
				issues = append(issues, comment.Comment)
			}
		}
	}
	return issues
}
