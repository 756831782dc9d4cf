package domain

import "time"

// Question models an MCQ question. CorrectIndex is the zero-based position of the
// correct option in Options; it is the only encoding of the answer the engine accepts.
type Question struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Statements   []string `json:"statements,omitempty"`
	Context      string   `json:"context,omitempty"`
	Explanation  string   `json:"explanation,omitempty"`
}

// Validate checks the structural requirements of a question.
func (q Question) Validate() error {
	if q.ID == "" || len(q.Options) < 2 {
		return ErrInvalidQuestion
	}
	return nil
}

// HasValidAnswer reports whether CorrectIndex points at an option.
func (q Question) HasValidAnswer() bool {
	return q.CorrectIndex >= 0 && q.CorrectIndex < len(q.Options)
}

// Exam is the metadata of an exam instance.
type Exam struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	DurationMinutes int     `json:"duration"`
	ShuffleEnabled  bool    `json:"shuffleEnabled"`
	PenaltyPerWrong float64 `json:"penaltyPerWrong,omitempty"`
}

// Duration returns the allotted time.
func (e Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// ExamPayload is what a session needs to run: the exam and its question set.
type ExamPayload struct {
	Exam      Exam       `json:"exam"`
	Questions []Question `json:"questions"`
}

// Mode selects the exam variant.
type Mode string

const (
	ModePractice   Mode = "practice"
	ModePublic     Mode = "public"
	ModeSupervised Mode = "supervised"
)

// Capabilities switches the behaviour that differs between exam modes.
type Capabilities struct {
	AllowsResume         bool `json:"allowsResume"`
	HasShuffle           bool `json:"hasShuffle"`
	HasNegativeMarking   bool `json:"hasNegativeMarking"`
	RequiresIdentityGate bool `json:"requiresIdentityGate"`
}

// Capabilities returns the capability record of the mode. Unknown modes get none.
func (m Mode) Capabilities() Capabilities {
	switch m {
	case ModePractice, ModeSupervised:
		return Capabilities{AllowsResume: true, HasNegativeMarking: true}
	case ModePublic:
		return Capabilities{HasShuffle: true, RequiresIdentityGate: true}
	default:
		return Capabilities{}
	}
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	return m == ModePractice || m == ModePublic || m == ModeSupervised
}

// Penalty returns the per-wrong deduction that applies to exam in this mode.
func (m Mode) Penalty(exam Exam) float64 {
	if !m.Capabilities().HasNegativeMarking || exam.PenaltyPerWrong < 0 {
		return 0
	}
	return exam.PenaltyPerWrong
}

// Shuffles reports whether options are shuffled for exam in this mode.
func (m Mode) Shuffles(exam Exam) bool {
	return m.Capabilities().HasShuffle && exam.ShuffleEnabled
}

// Status is the lifecycle state of an attempt.
type Status string

const (
	StatusNotStarted    Status = "not_started"
	StatusInProgress    Status = "in_progress"
	StatusSubmitted     Status = "submitted"
	StatusAutoSubmitted Status = "auto_submitted"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusSubmitted || s == StatusAutoSubmitted
}

// Reason is why an attempt was submitted.
type Reason string

const (
	ReasonManual    Reason = "manual"
	ReasonTimeUp    Reason = "time_up"
	ReasonTabSwitch Reason = "tab_switch"
)

// Status maps a submission reason to the terminal status it produces.
func (r Reason) Status() Status {
	if r == ReasonManual {
		return StatusSubmitted
	}
	return StatusAutoSubmitted
}

// Valid reports whether r is one of the known reasons.
func (r Reason) Valid() bool {
	return r == ReasonManual || r == ReasonTimeUp || r == ReasonTabSwitch
}

// AnswerSubmission is the per-answer record sent to the backend.
type AnswerSubmission struct {
	AttemptID        string `json:"attemptId" validate:"required"`
	QuestionID       string `json:"questionId" validate:"required"`
	Selected         string `json:"selectedOption" validate:"required"`
	Correct          string `json:"correctOption"`
	QuestionNumber   int    `json:"questionNumber,omitempty"`
	TimeSpentSeconds int    `json:"timeSpent" validate:"min=0"`
}

// AnswerEntry is one answered question as reported by the backend.
type AnswerEntry struct {
	QuestionID string `json:"questionId"`
	Selected   string `json:"selectedOption"`
}

// AttemptSnapshot is the backend's view of an attempt, used to resume a session.
type AttemptSnapshot struct {
	AttemptID     string        `json:"attemptId"`
	Answers       []AnswerEntry `json:"answers"`
	CorrectCount  int           `json:"correctCount"`
	WrongCount    int           `json:"wrongCount"`
	SkippedCount  int           `json:"skippedCount"`
	Score         float64       `json:"score"`
	AnsweredCount int           `json:"answeredCount"`
	Status        Status        `json:"status"`
	StartedAt     time.Time     `json:"startedAt"`
}

// Stats are the derived counters a view renders.
type Stats struct {
	Correct    int     `json:"correct"`
	Wrong      int     `json:"wrong"`
	Skipped    int     `json:"skipped"`
	Streak     int     `json:"streak"`
	BestStreak int     `json:"bestStreak"`
	Score      float64 `json:"score"`
	Answered   int     `json:"answered"`
	Total      int     `json:"total"`
}

// Anomaly is a client-observed suspicious event such as a tab switch.
type Anomaly struct {
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// AnomalyTabSwitch is reported when the exam view loses focus or visibility.
const AnomalyTabSwitch = "tab_switch"
