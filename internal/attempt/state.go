// Package attempt holds the running tally of one exam attempt as a pure reducer.
// Every transition returns a new State; inputs are never mutated.
package attempt

import (
	"exam-session-engine/internal/answer"
	"exam-session-engine/internal/domain"
)

// State is the in-memory record of an attempt.
type State struct {
	Status     domain.Status
	Answers    map[string]answer.Label
	Order      []string
	Correct    int
	Wrong      int
	Skipped    int
	Answered   int
	Streak     int
	BestStreak int
	Total      int
	Score      float64
	Penalty    float64
}

// AnswerSubmitted is dispatched when the student picks an option.
type AnswerSubmitted struct {
	QuestionID string
	Selected   string
	Correct    string
}

// New returns a fresh in-progress state for total questions. penalty is
// deducted per wrong answer; zero means simple scoring.
func New(total int, penalty float64) State {
	return State{
		Status:  domain.StatusInProgress,
		Answers: make(map[string]answer.Label),
		Skipped: total,
		Total:   total,
		Penalty: penalty,
	}
}

// Apply records an answer. Duplicate questions, terminal states and answers
// beyond Total are a no-op: the input state is returned with false.
func Apply(s State, e AnswerSubmitted) (State, bool) {
	if s.Status.Terminal() || e.QuestionID == "" {
		return s, false
	}
	if _, ok := s.Answers[e.QuestionID]; ok {
		return s, false
	}
	if s.Answered >= s.Total {
		return s, false
	}

	next := s.clone()
	next.Answers[e.QuestionID] = answer.Normalize(e.Selected)
	next.Order = append(next.Order, e.QuestionID)
	next.Answered = len(next.Answers)

	// An empty correct reference marks a malformed question; it never matches.
	if e.Correct != "" && answer.Equal(e.Selected, e.Correct) {
		next.Correct++
		next.Streak++
	} else {
		next.Wrong++
		next.Streak = 0
	}
	if next.Streak > next.BestStreak {
		next.BestStreak = next.Streak
	}
	next.recount()
	return next, true
}

// Hydrate rebuilds the state wholesale from a backend snapshot. Answers are
// replayed in the reported order against key (question id to correct label) so
// counters and streaks come from the same rules as live answers. Answers for
// questions missing from key are dropped.
func Hydrate(snap domain.AttemptSnapshot, key map[string]answer.Label, total int, penalty float64) State {
	s := New(total, penalty)
	for _, entry := range snap.Answers {
		correct, ok := key[entry.QuestionID]
		if !ok {
			continue
		}
		s, _ = Apply(s, AnswerSubmitted{
			QuestionID: entry.QuestionID,
			Selected:   entry.Selected,
			Correct:    string(correct),
		})
	}
	if snap.Status.Terminal() {
		s.Status = snap.Status
	}
	return s
}

// MarkTerminal freezes the state with status. It is a no-op when the state is
// already terminal or status is not terminal.
func MarkTerminal(s State, status domain.Status) (State, bool) {
	if s.Status.Terminal() || !status.Terminal() {
		return s, false
	}
	next := s.clone()
	next.Status = status
	return next, true
}

// Stats projects the derived counters.
func (s State) Stats() domain.Stats {
	return domain.Stats{
		Correct:    s.Correct,
		Wrong:      s.Wrong,
		Skipped:    s.Skipped,
		Streak:     s.Streak,
		BestStreak: s.BestStreak,
		Score:      s.Score,
		Answered:   s.Answered,
		Total:      s.Total,
	}
}

// Answer returns the recorded label for questionID.
func (s State) Answer(questionID string) (answer.Label, bool) {
	l, ok := s.Answers[questionID]
	return l, ok
}

// MatchesSnapshot reports whether the backend's counters agree with s.
func (s State) MatchesSnapshot(snap domain.AttemptSnapshot) bool {
	return s.Correct == snap.CorrectCount && s.Wrong == snap.WrongCount && s.Answered == snap.AnsweredCount
}

func (s *State) recount() {
	s.Skipped = s.Total - s.Answered
	if s.Skipped < 0 {
		s.Skipped = 0
	}
	s.Score = Score(s.Correct, s.Wrong, s.Penalty)
}

func (s State) clone() State {
	next := s
	next.Answers = make(map[string]answer.Label, len(s.Answers)+1)
	for k, v := range s.Answers {
		next.Answers[k] = v
	}
	next.Order = append(make([]string, 0, len(s.Order)+1), s.Order...)
	return next
}

// Score applies the scoring rule: one point per correct answer minus penalty per
// wrong answer.
func Score(correct, wrong int, penalty float64) float64 {
	return float64(correct) - float64(wrong)*penalty
}
