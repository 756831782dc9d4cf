// Package session runs one exam attempt: it binds the attempt store, the option
// shuffler and the remote adapter into the operations an exam view needs.
//
// One Controller serves every exam mode; the differences are switched by the
// mode's capability record. The finalize and anomaly paths share a single
// in-flight latch, so racing triggers (time up, focus lost, manual submit)
// produce at most one terminal call.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"exam-session-engine/internal/answer"
	"exam-session-engine/internal/attempt"
	"exam-session-engine/internal/domain"
	"exam-session-engine/internal/remote"
	"exam-session-engine/internal/shuffle"
	"github.com/rs/zerolog"
)

// Subscribable is an event source such as a countdown or a visibility monitor.
type Subscribable interface {
	Subscribe(cb func()) (unsubscribe func())
}

// Config identifies the attempt and carries its content.
type Config struct {
	AttemptID     string
	ParticipantID string
	Mode          domain.Mode
	Exam          domain.Exam
	Questions     []domain.Question
}

// Outcome describes how an attempt ended.
type Outcome struct {
	Status domain.Status `json:"status"`
	Reason domain.Reason `json:"reason,omitempty"`
	Stats  domain.Stats  `json:"stats"`
}

// Option customises a Controller.
type Option func(*Controller)

// WithCountdown wires the exam clock; its callback ends the attempt as time up.
func WithCountdown(s Subscribable) Option {
	return func(c *Controller) { c.countdown = s }
}

// WithVisibility wires the focus monitor; its callback reports a tab switch.
func WithVisibility(s Subscribable) Option {
	return func(c *Controller) { c.visibility = s }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// Controller is the state machine of one attempt.
type Controller struct {
	cfg        Config
	caps       domain.Capabilities
	adapter    *remote.Adapter
	log        zerolog.Logger
	now        func() time.Time
	countdown  Subscribable
	visibility Subscribable

	questions []domain.Question
	position  map[string]int
	key       map[string]answer.Label

	mu            sync.Mutex
	state         attempt.State
	started       bool
	verified      bool
	submitting    bool
	timeUpFired   bool
	timeUpPending bool
	closed        bool
	finished      bool
	anchor        time.Time
	outcome       Outcome
	done          chan struct{}
	subscribers   map[chan domain.Stats]struct{}
	unsubscribe   []func()
	warned        map[string]bool
}

// New validates cfg and prepares the attempt. Options are shuffled here when the
// mode and exam enable it, so Questions always returns the display order.
func New(cfg Config, adapter *remote.Adapter, opts ...Option) (*Controller, error) {
	if adapter == nil {
		return nil, errors.New("session: remote adapter is required")
	}
	if cfg.AttemptID == "" {
		return nil, fmt.Errorf("session: attempt id: %w", domain.ErrAttemptNotFound)
	}
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("session: mode %q: %w", cfg.Mode, domain.ErrInvalidMode)
	}

	c := &Controller{
		cfg:         cfg,
		caps:        cfg.Mode.Capabilities(),
		adapter:     adapter,
		log:         zerolog.Nop(),
		now:         time.Now,
		position:    make(map[string]int, len(cfg.Questions)),
		key:         make(map[string]answer.Label, len(cfg.Questions)),
		done:        make(chan struct{}),
		subscribers: make(map[chan domain.Stats]struct{}),
		warned:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "session").Str("attempt_id", cfg.AttemptID).Logger()

	shuffled := cfg.Mode.Shuffles(cfg.Exam)
	c.questions = make([]domain.Question, 0, len(cfg.Questions))
	for i, q := range cfg.Questions {
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("session: question %d: %w", i+1, err)
		}
		if len(q.Options) > answer.MaxOptions() {
			return nil, fmt.Errorf("session: question %s has %d options: %w", q.ID, len(q.Options), domain.ErrInvalidQuestion)
		}
		if _, dup := c.position[q.ID]; dup {
			return nil, fmt.Errorf("session: duplicate question %s: %w", q.ID, domain.ErrInvalidQuestion)
		}
		if shuffled {
			q = shuffle.Question(q, cfg.ParticipantID)
		}
		c.position[q.ID] = i
		c.key[q.ID] = correctLabel(q)
		c.questions = append(c.questions, q)
	}

	c.state = attempt.New(len(c.questions), cfg.Mode.Penalty(cfg.Exam))
	c.state.Status = domain.StatusNotStarted

	if c.countdown != nil {
		c.unsubscribe = append(c.unsubscribe, c.countdown.Subscribe(c.OnTimeExpired))
	}
	if c.visibility != nil {
		c.unsubscribe = append(c.unsubscribe, c.visibility.Subscribe(c.OnFocusLost))
	}
	return c, nil
}

// correctLabel is "" for a question whose CorrectIndex points nowhere; such a
// question can be answered but is always scored wrong.
func correctLabel(q domain.Question) answer.Label {
	if !q.HasValidAnswer() {
		return ""
	}
	return answer.Letter(q.CorrectIndex)
}

// Start mounts the session. Resumable modes hydrate from the backend first; a
// failed fetch starts fresh. A terminal snapshot ends the session right away.
// Modes behind the identity gate stay NotStarted until VerifyIdentity passes.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	var (
		snap     domain.AttemptSnapshot
		hydrated bool
	)
	if c.caps.AllowsResume {
		s, err := c.adapter.Backend().FetchAttempt(ctx, c.cfg.AttemptID)
		switch {
		case err == nil:
			snap, hydrated = s, true
		case errors.Is(err, domain.ErrAttemptNotFound):
			c.log.Debug().Msg("no previous attempt, starting fresh")
		default:
			c.log.Warn().Err(err).Msg("resume fetch failed, starting fresh")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if hydrated {
		c.state = attempt.Hydrate(snap, c.key, len(c.questions), c.state.Penalty)
		if !c.state.MatchesSnapshot(snap) {
			c.log.Warn().
				Int("server_correct", snap.CorrectCount).
				Int("local_correct", c.state.Correct).
				Int("server_answered", snap.AnsweredCount).
				Int("local_answered", c.state.Answered).
				Msg("server counters disagree with replayed answers")
		}
		c.log.Info().Int("answered", c.state.Answered).Msg("attempt resumed")
		if c.state.Status.Terminal() {
			c.finishLocked(c.state.Status, reasonFor(c.state.Status))
			return nil
		}
		c.state.Status = domain.StatusNotStarted
	}
	if c.caps.RequiresIdentityGate && !c.verified {
		return nil
	}
	c.beginLocked()
	return nil
}

func reasonFor(status domain.Status) domain.Reason {
	if status == domain.StatusSubmitted {
		return domain.ReasonManual
	}
	return ""
}

func (c *Controller) beginLocked() {
	c.state.Status = domain.StatusInProgress
	c.anchor = c.now()
	c.broadcastLocked()
	c.log.Info().Str("mode", string(c.cfg.Mode)).Int("questions", len(c.questions)).Msg("attempt in progress")
}

// VerifyIdentity submits the one-time code to the gate. A pass unlocks the
// attempt; a rejection leaves it NotStarted and returns ErrIdentityRejected.
func (c *Controller) VerifyIdentity(ctx context.Context, code string) error {
	if !c.caps.RequiresIdentityGate {
		return nil
	}
	c.mu.Lock()
	if c.verified || c.state.Status.Terminal() {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ok, err := c.adapter.Backend().VerifyIdentity(ctx, c.cfg.AttemptID, code)
	if err != nil {
		c.log.Warn().Err(err).Msg("identity verification failed")
		return err
	}
	if !ok {
		return domain.ErrIdentityRejected
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.verified = true
	if c.started && c.state.Status == domain.StatusNotStarted {
		c.beginLocked()
	}
	return nil
}

// SubmitAnswer records selected for questionID and syncs it in the background.
// It returns false without side effects when the question is not part of the
// exam, was already answered, or the attempt is not in progress. questionIndex is the zero-based display
// position, reported to the backend as the question number.
func (c *Controller) SubmitAnswer(questionIndex int, questionID, selected, correct string) (domain.Stats, bool) {
	c.mu.Lock()
	if _, known := c.position[questionID]; !known || c.state.Status != domain.StatusInProgress {
		stats := c.state.Stats()
		c.mu.Unlock()
		return stats, false
	}
	next, ok := attempt.Apply(c.state, attempt.AnswerSubmitted{
		QuestionID: questionID,
		Selected:   selected,
		Correct:    correct,
	})
	if !ok {
		stats := c.state.Stats()
		c.mu.Unlock()
		return stats, false
	}
	if correct == "" && !c.warned[questionID] {
		c.warned[questionID] = true
		c.log.Warn().Str("question_id", questionID).Msg("question has no resolvable correct answer, scored as wrong")
	}

	now := c.now()
	spent := int(now.Sub(c.anchor) / time.Second)
	if spent < 0 {
		spent = 0
	}
	c.anchor = now
	c.state = next
	stats := c.state.Stats()
	c.broadcastLocked()
	c.mu.Unlock()

	c.adapter.DispatchAnswer(context.Background(), domain.AnswerSubmission{
		AttemptID:        c.cfg.AttemptID,
		QuestionID:       questionID,
		Selected:         selected,
		Correct:          correct,
		QuestionNumber:   questionIndex + 1,
		TimeSpentSeconds: spent,
	})
	return stats, true
}

// Answer submits the option at optionIndex (display order) for questionID.
func (c *Controller) Answer(questionID string, optionIndex int) (domain.Stats, bool, error) {
	pos, ok := c.position[questionID]
	if !ok {
		return c.Stats(), false, fmt.Errorf("question %s: %w", questionID, domain.ErrQuestionNotFound)
	}
	q := c.questions[pos]
	if optionIndex < 0 || optionIndex >= len(q.Options) {
		return c.Stats(), false, fmt.Errorf("question %s option %d: %w", questionID, optionIndex, domain.ErrOptionNotFound)
	}
	stats, applied := c.SubmitAnswer(pos, questionID, string(answer.Letter(optionIndex)), string(c.key[questionID]))
	return stats, applied, nil
}

// SubmitExam finalizes the attempt. ErrNotInProgress and ErrSubmissionInFlight
// report a no-op. On a backend failure the latch is released so the caller may
// retry and the attempt stays in progress.
func (c *Controller) SubmitExam(ctx context.Context, reason domain.Reason) error {
	if !reason.Valid() {
		return fmt.Errorf("reason %q: %w", reason, domain.ErrInvalidReason)
	}
	if err := c.acquire(reason == domain.ReasonTimeUp); err != nil {
		return err
	}

	if err := c.adapter.Finalize(ctx, c.cfg.AttemptID, reason); err != nil {
		c.adapter.Notify(remote.Notice{
			Level:   remote.LevelError,
			Message: "Submitting the exam failed. Please try again.",
		})
		c.release()
		return err
	}

	c.mu.Lock()
	c.finishLocked(reason.Status(), reason)
	c.mu.Unlock()
	return nil
}

// OnTimeExpired is the countdown callback. It triggers a time-up submission
// once. When another terminal call holds the latch, time up is deferred and
// replayed if that call fails.
func (c *Controller) OnTimeExpired() {
	c.mu.Lock()
	fired := c.timeUpFired
	c.mu.Unlock()
	if fired {
		return
	}

	err := c.SubmitExam(context.Background(), domain.ReasonTimeUp)
	if err != nil && !isNoop(err) {
		c.log.Error().Err(err).Msg("time-up submission failed")
	}
}

// OnFocusLost is the visibility callback. It reports a tab switch; a successful
// report ends the attempt as AutoSubmitted whatever the completion. A failed
// report is fail-open: the attempt continues as if nothing had been detected.
func (c *Controller) OnFocusLost() {
	if err := c.acquire(false); err != nil {
		return
	}

	anomaly := domain.Anomaly{Kind: domain.AnomalyTabSwitch, At: c.now()}
	if err := c.adapter.Report(context.Background(), c.cfg.AttemptID, anomaly); err != nil {
		c.log.Warn().Err(err).Msg("anomaly report failed, continuing attempt (fail-open)")
		c.release()
		return
	}

	c.mu.Lock()
	c.finishLocked(domain.StatusAutoSubmitted, domain.ReasonTabSwitch)
	c.mu.Unlock()
	c.adapter.Notify(remote.Notice{
		Level:   remote.LevelError,
		Message: "The exam window lost focus. Your attempt was submitted automatically.",
	})
}

func isNoop(err error) bool {
	return errors.Is(err, domain.ErrNotInProgress) || errors.Is(err, domain.ErrSubmissionInFlight)
}

// acquire sets the in-flight latch. It is the only entry to the terminal paths.
// A time-up caller that finds the latch taken leaves a pending time up behind.
func (c *Controller) acquire(timeUp bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != domain.StatusInProgress {
		return domain.ErrNotInProgress
	}
	if c.submitting {
		if timeUp && !c.timeUpFired {
			c.timeUpPending = true
		}
		return domain.ErrSubmissionInFlight
	}
	c.submitting = true
	if timeUp {
		c.timeUpFired = true
		c.timeUpPending = false
	}
	return nil
}

// release drops the latch after a failed terminal call and replays a time up
// that arrived while it was held.
func (c *Controller) release() {
	c.mu.Lock()
	c.submitting = false
	replay := c.timeUpPending && !c.timeUpFired
	c.timeUpPending = false
	c.mu.Unlock()

	if replay {
		c.log.Info().Msg("time ran out during a failed submission, submitting as time up")
		c.OnTimeExpired()
	}
}

func (c *Controller) finishLocked(status domain.Status, reason domain.Reason) {
	if c.finished {
		return
	}
	c.state, _ = attempt.MarkTerminal(c.state, status)
	c.finished = true
	c.outcome = Outcome{Status: c.state.Status, Reason: reason, Stats: c.state.Stats()}
	close(c.done)
	c.broadcastLocked()
	c.log.Info().Str("status", string(c.state.Status)).Str("reason", string(reason)).Msg("attempt ended")
}

// Stats returns the derived counters.
func (c *Controller) Stats() domain.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Stats()
}

// Status returns the lifecycle state.
func (c *Controller) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status
}

func (c *Controller) AttemptID() string {
	return c.cfg.AttemptID
}

// Capabilities returns the mode's capability record.
func (c *Controller) Capabilities() domain.Capabilities {
	return c.caps
}

// Questions returns the questions in display order, options shuffled if enabled.
func (c *Controller) Questions() []domain.Question {
	out := make([]domain.Question, len(c.questions))
	copy(out, c.questions)
	return out
}

// Selected returns the label recorded for questionID.
func (c *Controller) Selected(questionID string) (answer.Label, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Answer(questionID)
}

// TimeOnQuestion is the time since the last answer, or since the start.
func (c *Controller) TimeOnQuestion() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != domain.StatusInProgress {
		return 0
	}
	return c.now().Sub(c.anchor)
}

// Done is closed when the attempt reaches a terminal status.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Outcome returns how the attempt ended; ok is false while it is still open.
func (c *Controller) Outcome() (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome, c.finished
}

// Subscribe returns a feed of derived stats starting with the current value.
// Slow readers only miss intermediate values. The caller must invoke cancel.
func (c *Controller) Subscribe() (<-chan domain.Stats, func()) {
	ch := make(chan domain.Stats, 8)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subscribers[ch] = struct{}{}
	ch <- c.state.Stats()
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Controller) broadcastLocked() {
	stats := c.state.Stats()
	for ch := range c.subscribers {
		select {
		case ch <- stats:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- stats
		}
	}
}

// Close unmounts the session: collaborators are unsubscribed and stats feeds
// closed. Remote calls still in flight complete but no longer publish.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for ch := range c.subscribers {
		delete(c.subscribers, ch)
		close(ch)
	}
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
}
