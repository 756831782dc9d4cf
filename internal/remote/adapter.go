// Package remote talks to the exam backend on behalf of a session. It owns the
// retry and notification policy; it holds no business state.
package remote

import (
	"context"
	"errors"
	"sync"
	"time"

	"exam-session-engine/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Backend is the exam service contract a session consumes.
type Backend interface {
	StartAttempt(ctx context.Context, examID, participantID string, mode domain.Mode) (string, error)
	FetchExam(ctx context.Context, examID string) (domain.ExamPayload, error)
	FetchAttempt(ctx context.Context, attemptID string) (domain.AttemptSnapshot, error)
	SubmitAnswer(ctx context.Context, sub domain.AnswerSubmission) error
	SubmitExam(ctx context.Context, attemptID string, reason domain.Reason) error
	ReportAnomaly(ctx context.Context, attemptID string, anomaly domain.Anomaly) error
	VerifyIdentity(ctx context.Context, attemptID, code string) (bool, error)
}

// Level grades a user-facing notice.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notice is a transient, non-blocking message for the user.
type Notice struct {
	Level      Level
	Message    string
	QuestionID string
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// NopNotifier drops every notice.
type NopNotifier struct{}

func (NopNotifier) Notify(Notice) {}

// Options tunes the answer retry policy.
type Options struct {
	// AnswerRetries is the number of retries after the first failed attempt.
	AnswerRetries uint64
	// InitialBackoff is the first retry delay; later delays grow exponentially.
	InitialBackoff time.Duration
	// RequestTimeout bounds every single backend call made for an answer. It
	// also bounds Finalize and Report when the caller's context has no deadline.
	RequestTimeout time.Duration
}

// DefaultOptions returns the policy used when none is configured.
func DefaultOptions() Options {
	return Options{
		AnswerRetries:  3,
		InitialBackoff: 200 * time.Millisecond,
		RequestTimeout: 10 * time.Second,
	}
}

// Adapter wraps a Backend with the sync policy of a session.
type Adapter struct {
	backend  Backend
	notifier Notifier
	opts     Options
	log      zerolog.Logger
	inflight sync.WaitGroup
}

// NewAdapter builds an Adapter. A nil notifier drops notices.
func NewAdapter(backend Backend, notifier Notifier, opts Options, log zerolog.Logger) *Adapter {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultOptions().RequestTimeout
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultOptions().InitialBackoff
	}
	return &Adapter{
		backend:  backend,
		notifier: notifier,
		opts:     opts,
		log:      log.With().Str("component", "remote_sync").Logger(),
	}
}

// Backend returns the wrapped backend.
func (a *Adapter) Backend() Backend {
	return a.backend
}

// DispatchAnswer sends sub in the background and returns immediately. Failures
// are retried with backoff and end in a warning notice; local state is never
// rolled back. The request outlives ctx cancellation.
func (a *Adapter) DispatchAnswer(ctx context.Context, sub domain.AnswerSubmission) {
	detached := context.WithoutCancel(ctx)
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		if err := a.sendAnswer(detached, sub); err != nil {
			a.log.Warn().Err(err).
				Str("attempt_id", sub.AttemptID).
				Str("question_id", sub.QuestionID).
				Msg("answer sync failed")
			a.notifier.Notify(Notice{
				Level:      LevelWarn,
				Message:    "Your answer could not be saved to the server. You can keep going.",
				QuestionID: sub.QuestionID,
			})
		}
	}()
}

func (a *Adapter) sendAnswer(ctx context.Context, sub domain.AnswerSubmission) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.opts.InitialBackoff
	policy.MaxElapsedTime = 0

	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
		defer cancel()
		err := a.backend.SubmitAnswer(callCtx, sub)
		if errors.Is(err, domain.ErrAttemptClosed) || errors.Is(err, domain.ErrAttemptNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithMaxRetries(policy, a.opts.AnswerRetries))
}

// Finalize submits the attempt and waits for the backend's answer.
func (a *Adapter) Finalize(ctx context.Context, attemptID string, reason domain.Reason) error {
	ctx, cancel := a.callContext(ctx)
	defer cancel()
	if err := a.backend.SubmitExam(ctx, attemptID, reason); err != nil {
		a.log.Error().Err(err).Str("attempt_id", attemptID).Str("reason", string(reason)).Msg("finalize failed")
		return err
	}
	a.log.Info().Str("attempt_id", attemptID).Str("reason", string(reason)).Msg("attempt finalized")
	return nil
}

// Report sends an anomaly and waits for the backend's answer.
func (a *Adapter) Report(ctx context.Context, attemptID string, anomaly domain.Anomaly) error {
	ctx, cancel := a.callContext(ctx)
	defer cancel()
	if err := a.backend.ReportAnomaly(ctx, attemptID, anomaly); err != nil {
		a.log.Warn().Err(err).Str("attempt_id", attemptID).Str("kind", anomaly.Kind).Msg("anomaly report failed")
		return err
	}
	a.log.Info().Str("attempt_id", attemptID).Str("kind", anomaly.Kind).Msg("anomaly reported")
	return nil
}

// callContext applies RequestTimeout unless ctx already carries a deadline.
func (a *Adapter) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.opts.RequestTimeout)
}

// Notify forwards a notice to the configured notifier.
func (a *Adapter) Notify(n Notice) {
	a.notifier.Notify(n)
}

// Wait blocks until every dispatched answer has completed.
func (a *Adapter) Wait() {
	a.inflight.Wait()
}
