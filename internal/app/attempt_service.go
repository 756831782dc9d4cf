package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"exam-session-engine/internal/answer"
	"exam-session-engine/internal/attempt"
	"exam-session-engine/internal/domain"
	"exam-session-engine/internal/shuffle"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AttemptRecord is the ledger entry of one attempt.
type AttemptRecord struct {
	ID            string
	ExamID        string
	ParticipantID string
	Mode          domain.Mode
	Status        domain.Status
	Reason        domain.Reason
	Verified      bool
	StartedAt     time.Time
	EndedAt       time.Time
}

// StoredAnswer is one answer as kept by the ledger.
type StoredAnswer struct {
	QuestionID       string
	Selected         string
	QuestionNumber   int
	TimeSpentSeconds int
	AnsweredAt       time.Time
}

// LedgerRepository abstracts where attempts are recorded (in-memory, Redis, etc).
type LedgerRepository interface {
	CreateAttempt(ctx context.Context, rec AttemptRecord) error
	GetAttempt(ctx context.Context, attemptID string) (AttemptRecord, error)
	// RecordAnswer stores the first answer per question; it reports false when
	// one was already present.
	RecordAnswer(ctx context.Context, attemptID string, a StoredAnswer) (bool, error)
	// Answers returns the stored answers in the order they were first recorded.
	Answers(ctx context.Context, attemptID string) ([]StoredAnswer, error)
	// CloseAttempt moves an open attempt to a terminal status. It reports false
	// and the unchanged record when the attempt was already closed.
	CloseAttempt(ctx context.Context, attemptID string, status domain.Status, reason domain.Reason, at time.Time) (AttemptRecord, bool, error)
	AddAnomaly(ctx context.Context, attemptID string, anomaly domain.Anomaly) error
	Anomalies(ctx context.Context, attemptID string) ([]domain.Anomaly, error)
	SetIdentityCode(ctx context.Context, attemptID, code string, ttl time.Duration) error
	// ConsumeIdentityCode checks code and, on a match, marks the attempt verified.
	ConsumeIdentityCode(ctx context.Context, attemptID, code string) (bool, error)
}

// ExamRepository loads exam content (from cache/backing store).
type ExamRepository interface {
	GetExam(ctx context.Context, examID string) (domain.ExamPayload, error)
}

// CodeSender delivers one-time identity codes to participants.
type CodeSender interface {
	SendCode(ctx context.Context, attemptID, participantID, code string) error
}

// LogCodeSender writes codes to the log; used when no delivery channel is configured.
type LogCodeSender struct {
	Log zerolog.Logger
}

func (s LogCodeSender) SendCode(_ context.Context, attemptID, participantID, code string) error {
	s.Log.Info().
		Str("attempt_id", attemptID).
		Str("participant_id", participantID).
		Str("code", code).
		Msg("identity code issued")
	return nil
}

// Settings tunes server-side enforcement.
type Settings struct {
	// Grace is added to the exam duration before late answers are refused.
	Grace time.Duration
	// CodeTTL is how long a one-time identity code stays valid.
	CodeTTL time.Duration
}

// DefaultSettings returns the enforcement used when none is configured.
func DefaultSettings() Settings {
	return Settings{Grace: 2 * time.Minute, CodeTTL: 10 * time.Minute}
}

// AnswerReceipt acknowledges a submitted answer.
type AnswerReceipt struct {
	QuestionID string `json:"questionId"`
	Recorded   bool   `json:"recorded"`
}

// AttemptService contains the exam backend use cases.
type AttemptService struct {
	ledger   LedgerRepository
	exams    ExamRepository
	codes    CodeSender
	settings Settings
	log      zerolog.Logger
	now      func() time.Time
}

func NewAttemptService(ledger LedgerRepository, exams ExamRepository, codes CodeSender, settings Settings, log zerolog.Logger) *AttemptService {
	return NewAttemptServiceWithClock(ledger, exams, codes, settings, log, time.Now)
}

// NewAttemptServiceWithClock is test-only for deterministic timestamps.
func NewAttemptServiceWithClock(ledger LedgerRepository, exams ExamRepository, codes CodeSender, settings Settings, log zerolog.Logger, now func() time.Time) *AttemptService {
	log = log.With().Str("component", "attempt_service").Logger()
	if codes == nil {
		codes = LogCodeSender{Log: log}
	}
	return &AttemptService{
		ledger:   ledger,
		exams:    exams,
		codes:    codes,
		settings: settings,
		log:      log,
		now:      now,
	}
}

// StartAttempt opens a new attempt for participantID. Modes behind the identity
// gate get a one-time code delivered through the CodeSender.
func (s *AttemptService) StartAttempt(ctx context.Context, examID, participantID string, mode domain.Mode) (string, error) {
	if !mode.Valid() {
		return "", fmt.Errorf("mode %q: %w", mode, domain.ErrInvalidMode)
	}
	// Attempts cannot be opened for unknown exams.
	if _, err := s.exams.GetExam(ctx, examID); err != nil {
		return "", err
	}

	rec := AttemptRecord{
		ID:            uuid.NewString(),
		ExamID:        examID,
		ParticipantID: participantID,
		Mode:          mode,
		Status:        domain.StatusInProgress,
		StartedAt:     s.now(),
	}
	if err := s.ledger.CreateAttempt(ctx, rec); err != nil {
		return "", fmt.Errorf("create attempt: %w", err)
	}

	if mode.Capabilities().RequiresIdentityGate {
		code, err := newIdentityCode()
		if err != nil {
			return "", fmt.Errorf("identity code: %w", err)
		}
		if err := s.ledger.SetIdentityCode(ctx, rec.ID, code, s.settings.CodeTTL); err != nil {
			return "", fmt.Errorf("store identity code: %w", err)
		}
		if err := s.codes.SendCode(ctx, rec.ID, participantID, code); err != nil {
			return "", fmt.Errorf("send identity code: %w", err)
		}
	}

	s.log.Info().
		Str("attempt_id", rec.ID).
		Str("exam_id", examID).
		Str("mode", string(mode)).
		Msg("attempt started")
	return rec.ID, nil
}

// newIdentityCode returns a uniformly random 6-digit code.
func newIdentityCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// FetchExam returns the exam and its questions.
func (s *AttemptService) FetchExam(ctx context.Context, examID string) (domain.ExamPayload, error) {
	return s.exams.GetExam(ctx, examID)
}

// FetchAttempt reports the attempt's answers and counters. Counters are computed
// from the exam's answer key with the mode's scoring rule.
func (s *AttemptService) FetchAttempt(ctx context.Context, attemptID string) (domain.AttemptSnapshot, error) {
	rec, err := s.ledger.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.AttemptSnapshot{}, err
	}
	payload, err := s.exams.GetExam(ctx, rec.ExamID)
	if err != nil {
		return domain.AttemptSnapshot{}, err
	}
	stored, err := s.ledger.Answers(ctx, attemptID)
	if err != nil {
		return domain.AttemptSnapshot{}, err
	}

	entries := make([]domain.AnswerEntry, 0, len(stored))
	for _, a := range stored {
		entries = append(entries, domain.AnswerEntry{QuestionID: a.QuestionID, Selected: a.Selected})
	}
	state := attempt.Hydrate(
		domain.AttemptSnapshot{Answers: entries},
		answerKey(payload, rec),
		len(payload.Questions),
		rec.Mode.Penalty(payload.Exam),
	)

	return domain.AttemptSnapshot{
		AttemptID:     rec.ID,
		Answers:       entries,
		CorrectCount:  state.Correct,
		WrongCount:    state.Wrong,
		SkippedCount:  state.Skipped,
		Score:         state.Score,
		AnsweredCount: state.Answered,
		Status:        rec.Status,
		StartedAt:     rec.StartedAt,
	}, nil
}

// SubmitAnswer records one answer. Correctness is never taken from the client:
// the label is checked against the question as this participant sees it.
func (s *AttemptService) SubmitAnswer(ctx context.Context, sub domain.AnswerSubmission) (AnswerReceipt, error) {
	rec, err := s.ledger.GetAttempt(ctx, sub.AttemptID)
	if err != nil {
		return AnswerReceipt{}, err
	}
	if rec.Status.Terminal() {
		return AnswerReceipt{}, domain.ErrAttemptClosed
	}
	if rec.Mode.Capabilities().RequiresIdentityGate && !rec.Verified {
		return AnswerReceipt{}, domain.ErrIdentityRequired
	}

	payload, err := s.exams.GetExam(ctx, rec.ExamID)
	if err != nil {
		return AnswerReceipt{}, err
	}
	now := s.now()
	if s.overdue(rec, payload.Exam, now) {
		if _, _, err := s.ledger.CloseAttempt(ctx, rec.ID, domain.ReasonTimeUp.Status(), domain.ReasonTimeUp, now); err != nil {
			return AnswerReceipt{}, fmt.Errorf("close overdue attempt: %w", err)
		}
		s.log.Warn().Str("attempt_id", rec.ID).Msg("answer after deadline, attempt closed")
		return AnswerReceipt{}, domain.ErrAttemptClosed
	}

	q, ok := findQuestion(payload, rec, sub.QuestionID)
	if !ok {
		return AnswerReceipt{}, domain.ErrQuestionNotFound
	}
	if idx, ok := answer.Index(sub.Selected); !ok || idx >= len(q.Options) {
		return AnswerReceipt{}, domain.ErrOptionNotFound
	}
	if key := correctLabel(q); sub.Correct != "" && !answer.Equal(sub.Correct, string(key)) {
		s.log.Warn().
			Str("attempt_id", rec.ID).
			Str("question_id", q.ID).
			Str("client_correct", sub.Correct).
			Msg("client answer key disagrees with server")
	}

	recorded, err := s.ledger.RecordAnswer(ctx, rec.ID, StoredAnswer{
		QuestionID:       q.ID,
		Selected:         string(answer.Normalize(sub.Selected)),
		QuestionNumber:   sub.QuestionNumber,
		TimeSpentSeconds: sub.TimeSpentSeconds,
		AnsweredAt:       now,
	})
	if err != nil {
		return AnswerReceipt{}, fmt.Errorf("record answer: %w", err)
	}
	return AnswerReceipt{QuestionID: q.ID, Recorded: recorded}, nil
}

func (s *AttemptService) overdue(rec AttemptRecord, exam domain.Exam, now time.Time) bool {
	if exam.DurationMinutes <= 0 {
		return false
	}
	return now.After(rec.StartedAt.Add(exam.Duration() + s.settings.Grace))
}

// SubmitExam finalizes the attempt. Finalizing a closed attempt succeeds
// without changes.
func (s *AttemptService) SubmitExam(ctx context.Context, attemptID string, reason domain.Reason) error {
	if !reason.Valid() {
		return fmt.Errorf("reason %q: %w", reason, domain.ErrInvalidReason)
	}
	rec, closed, err := s.ledger.CloseAttempt(ctx, attemptID, reason.Status(), reason, s.now())
	if err != nil {
		return err
	}
	if !closed {
		s.log.Debug().Str("attempt_id", attemptID).Str("status", string(rec.Status)).Msg("attempt already closed")
		return nil
	}
	s.log.Info().Str("attempt_id", attemptID).Str("reason", string(reason)).Msg("attempt submitted")
	return nil
}

// ReportAnomaly records a suspicious client event and ends the attempt as
// AutoSubmitted.
func (s *AttemptService) ReportAnomaly(ctx context.Context, attemptID string, anomaly domain.Anomaly) error {
	if anomaly.Kind == "" {
		anomaly.Kind = domain.AnomalyTabSwitch
	}
	if anomaly.At.IsZero() {
		anomaly.At = s.now()
	}
	if _, err := s.ledger.GetAttempt(ctx, attemptID); err != nil {
		return err
	}
	if err := s.ledger.AddAnomaly(ctx, attemptID, anomaly); err != nil {
		return fmt.Errorf("add anomaly: %w", err)
	}
	if _, _, err := s.ledger.CloseAttempt(ctx, attemptID, domain.StatusAutoSubmitted, domain.ReasonTabSwitch, s.now()); err != nil {
		return err
	}
	s.log.Warn().Str("attempt_id", attemptID).Str("kind", anomaly.Kind).Msg("anomaly reported, attempt auto-submitted")
	return nil
}

// VerifyIdentity checks a one-time code. Attempts outside the gated modes
// always pass.
func (s *AttemptService) VerifyIdentity(ctx context.Context, attemptID, code string) (bool, error) {
	rec, err := s.ledger.GetAttempt(ctx, attemptID)
	if err != nil {
		return false, err
	}
	if !rec.Mode.Capabilities().RequiresIdentityGate || rec.Verified {
		return true, nil
	}
	ok, err := s.ledger.ConsumeIdentityCode(ctx, attemptID, code)
	if err != nil {
		return false, fmt.Errorf("check identity code: %w", err)
	}
	if !ok {
		s.log.Info().Str("attempt_id", attemptID).Msg("identity code rejected")
	}
	return ok, nil
}

// Anomalies lists the anomalies reported for an attempt.
func (s *AttemptService) Anomalies(ctx context.Context, attemptID string) ([]domain.Anomaly, error) {
	if _, err := s.ledger.GetAttempt(ctx, attemptID); err != nil {
		return nil, err
	}
	return s.ledger.Anomalies(ctx, attemptID)
}

// participantView applies the participant's option order to q when the
// attempt's mode shuffles this exam.
func participantView(payload domain.ExamPayload, rec AttemptRecord, q domain.Question) domain.Question {
	if rec.Mode.Shuffles(payload.Exam) {
		return shuffle.Question(q, rec.ParticipantID)
	}
	return q
}

func findQuestion(payload domain.ExamPayload, rec AttemptRecord, questionID string) (domain.Question, bool) {
	for _, q := range payload.Questions {
		if q.ID == questionID {
			return participantView(payload, rec, q), true
		}
	}
	return domain.Question{}, false
}

func answerKey(payload domain.ExamPayload, rec AttemptRecord) map[string]answer.Label {
	key := make(map[string]answer.Label, len(payload.Questions))
	for _, q := range payload.Questions {
		key[q.ID] = correctLabel(participantView(payload, rec, q))
	}
	return key
}

func correctLabel(q domain.Question) answer.Label {
	if !q.HasValidAnswer() {
		return ""
	}
	return answer.Letter(q.CorrectIndex)
}
