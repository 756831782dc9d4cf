// Package shuffle produces per-participant option orders that are stable across
// reloads and differ between participants.
package shuffle

import "exam-session-engine/internal/domain"

const (
	lcgMul = 9301
	lcgInc = 49297
	lcgMod = 233280
)

// Seed derives the shuffle seed for one participant and question.
func Seed(participantID, questionID string) string {
	return participantID + ":" + questionID
}

type lcg struct {
	state int64
}

func newLCG(seed string) *lcg {
	var h int32
	for _, r := range seed {
		h = (h << 5) - h + int32(r)
	}
	s := int64(h)
	if s < 0 {
		s = -s
	}
	return &lcg{state: s % lcgMod}
}

// next returns a value in [0, 1).
func (g *lcg) next() float64 {
	g.state = (g.state*lcgMul + lcgInc) % lcgMod
	return float64(g.state) / lcgMod
}

// Permutation returns a deterministic permutation of [0, n) keyed by seed.
func Permutation(n int, seed string) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	g := newLCG(seed)
	for i := n - 1; i > 0; i-- {
		j := int(g.next() * float64(i+1))
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// Result is a shuffled option list. Order[i] is the original index of Options[i].
type Result struct {
	Options []string
	Order   []int
}

// Options shuffles options deterministically. The input is not modified.
func Options(options []string, seed string) Result {
	order := Permutation(len(options), seed)
	out := make([]string, len(options))
	for i, orig := range order {
		out[i] = options[orig]
	}
	return Result{Options: out, Order: order}
}

// CorrectIndex maps the original correct index into the shuffled ordering.
// It returns -1 when original does not point at an option.
func (r Result) CorrectIndex(original int) int {
	for i, orig := range r.Order {
		if orig == original {
			return i
		}
	}
	return -1
}

// Locate returns the position of correctText in shuffled, or -1.
func Locate(shuffled []string, correctText string) int {
	for i, opt := range shuffled {
		if opt == correctText {
			return i
		}
	}
	return -1
}

// Question returns a copy of q with its options shuffled for participantID and
// CorrectIndex remapped. A malformed CorrectIndex stays malformed (-1).
func Question(q domain.Question, participantID string) domain.Question {
	res := Options(q.Options, Seed(participantID, q.ID))
	out := q
	out.Options = res.Options
	out.CorrectIndex = res.CorrectIndex(q.CorrectIndex)
	return out
}
