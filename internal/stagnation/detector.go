// Package stagnation detects when successive audit iterations have stopped
// producing materially different code, so the engine can stop looping
// instead of waiting out the full loop budget.
package stagnation

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/gansauditor/internal/session"
)

// Detector analyzes the tail of a session's iteration history for
// stagnation: the caller resubmitting the same or near-identical code
// without meaningfully changing it.
type Detector struct {
	startLoop          int
	threshold          float64
	identicalThreshold float64
	windowSize         int
}

// New creates a Detector. startLoop is the loop number analysis begins at;
// threshold is the mean pairwise similarity that declares stagnation;
// identicalThreshold is the single-pair similarity that declares it outright;
// windowSize bounds how many of the most recent iterations are compared.
func New(startLoop int, threshold, identicalThreshold float64, windowSize int) *Detector {
	return &Detector{
		startLoop:          startLoop,
		threshold:          threshold,
		identicalThreshold: identicalThreshold,
		windowSize:         windowSize,
	}
}

// Analyze examines the most recent window of iterations and returns a
// StagnationInfo if stagnation is newly detected at currentLoop. It returns
// nil when analysis hasn't started yet (currentLoop < startLoop), when the
// window has too few iterations to compare, or when no stagnation pattern
// is present. Callers are responsible for the "sticky" invariant: once a
// session's StagnationInfo.IsStagnant is true, it is never overwritten with
// a nil result.
func (d *Detector) Analyze(iterations []session.Iteration, currentLoop int) *session.StagnationInfo {
	if currentLoop < d.startLoop {
		return nil
	}

	window := lastN(iterations, d.windowSize)
	if len(window) < 2 {
		return nil
	}

	sets := make([]map[string]struct{}, len(window))
	for i, it := range window {
		sets[i] = tokenSet(it.NormalizedCode)
	}

	var sum float64
	var pairs int
	maxSim := 0.0
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			sim := jaccard(sets[i], sets[j])
			sum += sim
			pairs++
			if sim > maxSim {
				maxSim = sim
			}
		}
	}
	mean := 0.0
	if pairs > 0 {
		mean = sum / float64(pairs)
	}

	if mean < d.threshold && maxSim < d.identicalThreshold {
		return nil
	}

	score := mean
	if maxSim > score {
		score = maxSim
	}

	return &session.StagnationInfo{
		IsStagnant:      true,
		DetectedAtLoop:  currentLoop,
		SimilarityScore: score,
		Recommendation:  recommend(window, maxSim, d.identicalThreshold),
	}
}

// recommend picks a catalogued recommendation string based on the observed
// pattern in window: identical code, near-identical code, oscillating
// scores, declining scores, or a plateau.
func recommend(window []session.Iteration, maxSim, identicalThreshold float64) string {
	if maxSim >= identicalThreshold {
		return "The last submissions contain identical code. Stop resubmitting and either accept the current review or make a substantive change."
	}

	scores := make([]int, len(window))
	for i, it := range window {
		scores[i] = it.Review.Overall
	}

	switch scorePattern(scores) {
	case patternOscillating:
		return fmt.Sprintf("Review scores are oscillating (%v) without the code changing meaningfully. Re-read the latest review's findings before resubmitting.", scores)
	case patternDeclining:
		return fmt.Sprintf("Review scores are declining (%v) across near-identical submissions. The last change may have introduced a regression.", scores)
	default:
		return "The submitted code is nearly identical across recent iterations without improving the score. Make a substantive change or stop iterating."
	}
}

type pattern int

const (
	patternPlateau pattern = iota
	patternOscillating
	patternDeclining
)

// scorePattern classifies a short run of scores as a monotonic decline, an
// up-down oscillation, or a plateau (the default).
func scorePattern(scores []int) pattern {
	if len(scores) < 2 {
		return patternPlateau
	}

	declining := true
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[i-1] {
			declining = false
			break
		}
	}
	if declining && scores[len(scores)-1] < scores[0] {
		return patternDeclining
	}

	signChanges := 0
	for i := 2; i < len(scores); i++ {
		prevDelta := scores[i-1] - scores[i-2]
		delta := scores[i] - scores[i-1]
		if (prevDelta > 0 && delta < 0) || (prevDelta < 0 && delta > 0) {
			signChanges++
		}
	}
	if signChanges >= 2 {
		return patternOscillating
	}

	return patternPlateau
}

func lastN(iterations []session.Iteration, n int) []session.Iteration {
	if n <= 0 || len(iterations) <= n {
		return iterations
	}
	return iterations[len(iterations)-n:]
}

func tokenSet(normalizedCode string) map[string]struct{} {
	fields := strings.Fields(normalizedCode)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// jaccard computes |a ∩ b| / |a ∪ b|, bounded to [0, 1]. Two empty sets are
// considered identical (similarity 1) since there is no code to differ on.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}

	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}
