package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"exam-session-engine/internal/domain"
	"exam-session-engine/internal/focus"
	"exam-session-engine/internal/remote"
	"github.com/rs/zerolog"
)

type fakeBackend struct {
	mu          sync.Mutex
	snapshot    *domain.AttemptSnapshot
	fetchErr    error
	finalizeErr error
	reportErr   error
	otp         string
	gate        chan struct{}
	stall       bool
	failFirst   int
	finalizes   int
	reports     int
	reasons     []domain.Reason
	answers     []domain.AnswerSubmission
}

func (b *fakeBackend) StartAttempt(context.Context, string, string, domain.Mode) (string, error) {
	return "att-1", nil
}

func (b *fakeBackend) FetchExam(context.Context, string) (domain.ExamPayload, error) {
	return domain.ExamPayload{}, nil
}

func (b *fakeBackend) FetchAttempt(_ context.Context, _ string) (domain.AttemptSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return domain.AttemptSnapshot{}, b.fetchErr
	}
	if b.snapshot == nil {
		return domain.AttemptSnapshot{}, domain.ErrAttemptNotFound
	}
	return *b.snapshot, nil
}

func (b *fakeBackend) SubmitAnswer(_ context.Context, sub domain.AnswerSubmission) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answers = append(b.answers, sub)
	return nil
}

func (b *fakeBackend) wait(ctx context.Context) error {
	if b.stall {
		<-ctx.Done()
		return ctx.Err()
	}
	if b.gate != nil {
		<-b.gate
	}
	return nil
}

func (b *fakeBackend) SubmitExam(ctx context.Context, _ string, reason domain.Reason) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finalizes++
	b.reasons = append(b.reasons, reason)
	if b.failFirst > 0 {
		b.failFirst--
		return errors.New("network down")
	}
	return b.finalizeErr
}

func (b *fakeBackend) ReportAnomaly(ctx context.Context, _ string, _ domain.Anomaly) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reports++
	return b.reportErr
}

func (b *fakeBackend) VerifyIdentity(_ context.Context, _ string, code string) (bool, error) {
	return code == b.otp, nil
}

func (b *fakeBackend) counts() (finalizes, reports, answers int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finalizes, b.reports, len(b.answers)
}

type manualSource struct {
	mu  sync.Mutex
	cbs []func()
}

func (m *manualSource) Subscribe(cb func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cbs = append(m.cbs, cb)
	idx := len(m.cbs) - 1
	return func() {
		m.mu.Lock()
		m.cbs[idx] = nil
		m.mu.Unlock()
	}
}

func (m *manualSource) fire() {
	m.mu.Lock()
	cbs := append([]func(){}, m.cbs...)
	m.mu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			cb()
		}
	}
}

func sampleQuestions() []domain.Question {
	correct := []int{0, 1, 0, 2, 3}
	qs := make([]domain.Question, len(correct))
	for i, c := range correct {
		qs[i] = domain.Question{
			ID:           fmt.Sprintf("q%d", i+1),
			Options:      []string{"A", "B", "C", "D"},
			CorrectIndex: c,
		}
	}
	return qs
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func (c *Controller) latched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitting
}

func newController(t *testing.T, backend *fakeBackend, mode domain.Mode, opts ...Option) (*Controller, *remote.Adapter) {
	t.Helper()
	adapter := remote.NewAdapter(backend, nil, remote.Options{AnswerRetries: 0, InitialBackoff: time.Millisecond}, zerolog.Nop())
	c, err := New(Config{
		AttemptID:     "att-1",
		ParticipantID: "user-1",
		Mode:          mode,
		Exam:          domain.Exam{ID: "exam-1", Title: "Sample", DurationMinutes: 10},
		Questions:     sampleQuestions(),
	}, adapter, opts...)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return c, adapter
}

func started(t *testing.T, backend *fakeBackend, mode domain.Mode, opts ...Option) (*Controller, *remote.Adapter) {
	t.Helper()
	c, adapter := newController(t, backend, mode, opts...)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.Status() != domain.StatusInProgress {
		t.Fatalf("expected in progress, got %s", c.Status())
	}
	return c, adapter
}

func TestFiveQuestionScenario(t *testing.T) {
	backend := &fakeBackend{}
	c, adapter := started(t, backend, domain.ModePractice)

	for i, pick := range []int{0, 1, 1, 2, 3} {
		q := c.Questions()[i]
		if _, ok, err := c.Answer(q.ID, pick); err != nil || !ok {
			t.Fatalf("answer %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	adapter.Wait()

	got := c.Stats()
	want := domain.Stats{Correct: 4, Wrong: 1, Skipped: 0, Streak: 2, BestStreak: 2, Score: 4, Answered: 5, Total: 5}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if _, _, answers := backend.counts(); answers != 5 {
		t.Fatalf("expected 5 synced answers, got %d", answers)
	}
}

func TestDuplicateAnswerIsIgnored(t *testing.T) {
	backend := &fakeBackend{}
	c, adapter := started(t, backend, domain.ModePractice)
	qid := c.Questions()[0].ID

	first, ok := c.SubmitAnswer(0, qid, "A", "A")
	if !ok {
		t.Fatalf("expected first answer to apply")
	}
	second, ok := c.SubmitAnswer(0, qid, "B", "A")
	if ok || second != first {
		t.Fatalf("expected duplicate to be a no-op, got %+v", second)
	}
	adapter.Wait()
	if _, _, answers := backend.counts(); answers != 1 {
		t.Fatalf("expected one remote call, got %d", answers)
	}
}

func TestAnswerForUnknownQuestionIsIgnored(t *testing.T) {
	backend := &fakeBackend{}
	c, adapter := started(t, backend, domain.ModePractice)
	for _, q := range c.Questions() {
		if _, ok, err := c.Answer(q.ID, q.CorrectIndex); err != nil || !ok {
			t.Fatalf("answer %s: ok=%v err=%v", q.ID, ok, err)
		}
	}

	stats, ok := c.SubmitAnswer(0, "bogus", "A", "A")
	if ok {
		t.Fatalf("expected an answer for an unknown question to be refused")
	}
	if stats.Answered != 5 || stats.Answered+stats.Skipped != stats.Total {
		t.Fatalf("counters no longer add up: %+v", stats)
	}
	if _, ok, err := c.Answer("bogus", 0); ok || !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got ok=%v err=%v", ok, err)
	}
	adapter.Wait()
	if _, _, answers := backend.counts(); answers != 5 {
		t.Fatalf("expected only the 5 real answers to sync, got %d", answers)
	}
}

func TestTimeOnQuestionResetsPerAnswer(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	backend := &fakeBackend{}
	c, adapter := started(t, backend, domain.ModePractice, WithClock(clock))

	now = now.Add(12*time.Second + 900*time.Millisecond)
	c.Answer(c.Questions()[0].ID, 0)
	now = now.Add(3 * time.Second)
	c.Answer(c.Questions()[1].ID, 1)
	adapter.Wait()

	spent := map[string]int{}
	numbers := map[string]int{}
	for _, sub := range backend.answers {
		spent[sub.QuestionID] = sub.TimeSpentSeconds
		numbers[sub.QuestionID] = sub.QuestionNumber
	}
	if spent[c.Questions()[0].ID] != 12 || spent[c.Questions()[1].ID] != 3 {
		t.Fatalf("unexpected time spent %v", spent)
	}
	if numbers[c.Questions()[1].ID] != 2 {
		t.Fatalf("expected question number 2, got %d", numbers[c.Questions()[1].ID])
	}
	if c.TimeOnQuestion() != 0 {
		t.Fatalf("expected fresh anchor after answer")
	}
}

func TestConcurrentSubmitExamFinalizesOnce(t *testing.T) {
	backend := &fakeBackend{gate: make(chan struct{})}
	c, _ := started(t, backend, domain.ModePractice)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for _, reason := range []domain.Reason{domain.ReasonManual, domain.ReasonTimeUp, domain.ReasonManual} {
		wg.Add(1)
		go func(r domain.Reason) {
			defer wg.Done()
			errs <- c.SubmitExam(context.Background(), r)
		}(reason)
	}
	time.Sleep(20 * time.Millisecond)
	close(backend.gate)
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if !isNoop(err) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	finalizes, _, _ := backend.counts()
	if finalizes != 1 || succeeded != 1 {
		t.Fatalf("expected exactly one finalize, got %d calls and %d successes", finalizes, succeeded)
	}
	if !c.Status().Terminal() {
		t.Fatalf("expected terminal status, got %s", c.Status())
	}
}

func TestFinalizeFailureReleasesLatch(t *testing.T) {
	backend := &fakeBackend{finalizeErr: errors.New("server down")}
	c, _ := started(t, backend, domain.ModePractice)

	if err := c.SubmitExam(context.Background(), domain.ReasonManual); err == nil {
		t.Fatalf("expected finalize error")
	}
	if c.Status() != domain.StatusInProgress {
		t.Fatalf("expected attempt to stay in progress, got %s", c.Status())
	}

	backend.mu.Lock()
	backend.finalizeErr = nil
	backend.mu.Unlock()
	if err := c.SubmitExam(context.Background(), domain.ReasonManual); err != nil {
		t.Fatalf("retry: %v", err)
	}
	out, ok := c.Outcome()
	if !ok || out.Status != domain.StatusSubmitted || out.Reason != domain.ReasonManual {
		t.Fatalf("unexpected outcome %+v", out)
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("expected done to be closed")
	}
	if _, ok := c.SubmitAnswer(0, c.Questions()[0].ID, "A", "A"); ok {
		t.Fatalf("expected answers to be frozen after submit")
	}
	if err := c.SubmitExam(context.Background(), domain.ReasonManual); !errors.Is(err, domain.ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress, got %v", err)
	}
}

func TestFocusLostAutoSubmits(t *testing.T) {
	backend := &fakeBackend{}
	trigger := focus.NewTrigger()
	c, _ := started(t, backend, domain.ModeSupervised, WithVisibility(trigger))
	c.Answer(c.Questions()[0].ID, 0)

	trigger.Lost()

	out, ok := c.Outcome()
	if !ok || out.Status != domain.StatusAutoSubmitted || out.Reason != domain.ReasonTabSwitch {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Stats.Answered != 1 || out.Stats.Skipped != 4 {
		t.Fatalf("expected partial completion scored as-is, got %+v", out.Stats)
	}
	if _, reports, _ := backend.counts(); reports != 1 {
		t.Fatalf("expected one anomaly report, got %d", reports)
	}
}

func TestFailedAnomalyReportIsFailOpen(t *testing.T) {
	backend := &fakeBackend{reportErr: errors.New("unavailable")}
	visibility := &manualSource{}
	c, _ := started(t, backend, domain.ModeSupervised, WithVisibility(visibility))

	visibility.fire()

	if c.Status() != domain.StatusInProgress {
		t.Fatalf("expected in progress after failed report, got %s", c.Status())
	}
	if _, ok, _ := c.Answer(c.Questions()[0].ID, 0); !ok {
		t.Fatalf("expected answers to keep working")
	}
	if err := c.SubmitExam(context.Background(), domain.ReasonManual); err != nil {
		t.Fatalf("expected latch to be released, got %v", err)
	}
}

func TestTimeExpiredSubmitsOnce(t *testing.T) {
	backend := &fakeBackend{finalizeErr: errors.New("flaky")}
	countdown := &manualSource{}
	started(t, backend, domain.ModePractice, WithCountdown(countdown))

	countdown.fire()
	countdown.fire()
	if finalizes, _, _ := backend.counts(); finalizes != 1 {
		t.Fatalf("expected one time-up submission, got %d", finalizes)
	}

	backend.mu.Lock()
	backend.finalizeErr = nil
	backend.mu.Unlock()
	c2, _ := started(t, backend, domain.ModePractice, WithCountdown(countdown))
	countdown.fire()
	out, ok := c2.Outcome()
	if !ok || out.Status != domain.StatusAutoSubmitted || out.Reason != domain.ReasonTimeUp {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestTimeUpDuringFailedSubmitIsReplayed(t *testing.T) {
	backend := &fakeBackend{gate: make(chan struct{}), failFirst: 1}
	countdown := &manualSource{}
	c, _ := started(t, backend, domain.ModePractice, WithCountdown(countdown))

	manual := make(chan error, 1)
	go func() { manual <- c.SubmitExam(context.Background(), domain.ReasonManual) }()
	waitUntil(t, c.latched)

	countdown.fire()
	if c.Status() != domain.StatusInProgress {
		t.Fatalf("expected the manual submission to still own the latch, got %s", c.Status())
	}
	close(backend.gate)

	if err := <-manual; err == nil {
		t.Fatalf("expected the manual submission to fail")
	}
	out, ok := c.Outcome()
	if !ok || out.Status != domain.StatusAutoSubmitted || out.Reason != domain.ReasonTimeUp {
		t.Fatalf("expected time up to end the attempt, got %+v (done=%v)", out, ok)
	}
	backend.mu.Lock()
	reasons := append([]domain.Reason(nil), backend.reasons...)
	backend.mu.Unlock()
	if len(reasons) != 2 || reasons[0] != domain.ReasonManual || reasons[1] != domain.ReasonTimeUp {
		t.Fatalf("unexpected finalize sequence %v", reasons)
	}
	if _, ok := c.SubmitAnswer(0, c.Questions()[0].ID, "A", "A"); ok {
		t.Fatalf("expected answers to be refused after time up")
	}
	countdown.fire()
	if finalizes, _, _ := backend.counts(); finalizes != 2 {
		t.Fatalf("expected no further finalize, got %d", finalizes)
	}
}

func TestTimeUpAndFocusLossRaceEndsOnce(t *testing.T) {
	for i := 0; i < 20; i++ {
		backend := &fakeBackend{gate: make(chan struct{})}
		countdown := &manualSource{}
		visibility := &manualSource{}
		c, _ := started(t, backend, domain.ModeSupervised, WithCountdown(countdown), WithVisibility(visibility))
		feed, cancel := c.Subscribe()
		<-feed

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); countdown.fire() }()
		go func() { defer wg.Done(); visibility.fire() }()
		waitUntil(t, c.latched)
		time.Sleep(5 * time.Millisecond)
		close(backend.gate)
		wg.Wait()

		finalizes, reports, _ := backend.counts()
		if finalizes+reports != 1 {
			t.Fatalf("run %d: expected one terminal call, got %d finalizes and %d reports", i, finalizes, reports)
		}
		out, ok := c.Outcome()
		if !ok || out.Status != domain.StatusAutoSubmitted {
			t.Fatalf("run %d: unexpected outcome %+v (done=%v)", i, out, ok)
		}
		if (reports == 1 && out.Reason != domain.ReasonTabSwitch) || (finalizes == 1 && out.Reason != domain.ReasonTimeUp) {
			t.Fatalf("run %d: outcome %s does not match the call that won", i, out.Reason)
		}
		if len(feed) != 1 {
			t.Fatalf("run %d: expected one terminal broadcast, got %d", i, len(feed))
		}
		cancel()
		c.Close()
	}
}

func TestStalledBackendReleasesLatch(t *testing.T) {
	backend := &fakeBackend{stall: true}
	adapter := remote.NewAdapter(backend, nil, remote.Options{InitialBackoff: time.Millisecond, RequestTimeout: 20 * time.Millisecond}, zerolog.Nop())
	c, err := New(Config{AttemptID: "att-1", Mode: domain.ModeSupervised, Questions: sampleQuestions()}, adapter)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c.Start(context.Background())

	done := make(chan struct{})
	go func() {
		c.OnFocusLost()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("focus loss hung on a stalled backend")
	}
	if c.Status() != domain.StatusInProgress {
		t.Fatalf("expected fail-open after timeout, got %s", c.Status())
	}
	if c.latched() {
		t.Fatalf("expected latch to be released")
	}
}

func TestResumeHydratesBeforeInteraction(t *testing.T) {
	qs := sampleQuestions()
	backend := &fakeBackend{snapshot: &domain.AttemptSnapshot{
		AttemptID:     "att-1",
		Answers:       []domain.AnswerEntry{{QuestionID: qs[0].ID, Selected: "A"}, {QuestionID: qs[1].ID, Selected: "D"}},
		CorrectCount:  1,
		WrongCount:    1,
		SkippedCount:  3,
		AnsweredCount: 2,
		Status:        domain.StatusInProgress,
	}}
	c, _ := started(t, backend, domain.ModePractice)

	stats := c.Stats()
	if stats.Answered != 2 || stats.Skipped != 3 || stats.Correct != 1 || stats.Wrong != 1 {
		t.Fatalf("unexpected hydrated stats %+v", stats)
	}
	if _, ok, _ := c.Answer(qs[0].ID, 1); ok {
		t.Fatalf("expected resumed answer to stay locked")
	}
}

func TestResumeOfSubmittedAttemptEndsSession(t *testing.T) {
	backend := &fakeBackend{snapshot: &domain.AttemptSnapshot{Status: domain.StatusSubmitted}}
	c, _ := newController(t, backend, domain.ModePractice)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("expected session to end immediately")
	}
	if c.Status() != domain.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", c.Status())
	}
}

func TestResumeFetchFailureStartsFresh(t *testing.T) {
	backend := &fakeBackend{fetchErr: errors.New("timeout")}
	c, _ := started(t, backend, domain.ModePractice)
	if c.Stats().Answered != 0 {
		t.Fatalf("expected fresh attempt")
	}
}

func TestIdentityGate(t *testing.T) {
	backend := &fakeBackend{otp: "123456"}
	c, _ := newController(t, backend, domain.ModePublic)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.Status() != domain.StatusNotStarted {
		t.Fatalf("expected gate to hold the attempt, got %s", c.Status())
	}
	if _, ok, _ := c.Answer(c.Questions()[0].ID, 0); ok {
		t.Fatalf("expected answers to be refused before the gate")
	}
	if err := c.VerifyIdentity(context.Background(), "000000"); !errors.Is(err, domain.ErrIdentityRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if err := c.VerifyIdentity(context.Background(), "123456"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if c.Status() != domain.StatusInProgress {
		t.Fatalf("expected in progress after gate, got %s", c.Status())
	}
}

func TestShuffledQuestionsKeepCorrectOption(t *testing.T) {
	backend := &fakeBackend{otp: "1"}
	adapter := remote.NewAdapter(backend, nil, remote.DefaultOptions(), zerolog.Nop())
	original := []domain.Question{{ID: "q1", Options: []string{"red", "green", "blue", "black"}, CorrectIndex: 2}}
	c, err := New(Config{
		AttemptID:     "att-1",
		ParticipantID: "user-7",
		Mode:          domain.ModePublic,
		Exam:          domain.Exam{ID: "e1", ShuffleEnabled: true},
		Questions:     original,
	}, adapter)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	q := c.Questions()[0]
	if q.Options[q.CorrectIndex] != "blue" {
		t.Fatalf("expected correct option to remain blue, got %q", q.Options[q.CorrectIndex])
	}

	c.Start(context.Background())
	if err := c.VerifyIdentity(context.Background(), "1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	stats, ok, err := c.Answer("q1", q.CorrectIndex)
	if err != nil || !ok || stats.Correct != 1 {
		t.Fatalf("expected correct answer in shuffled order, got %+v ok=%v err=%v", stats, ok, err)
	}
	adapter.Wait()
}

func TestMalformedQuestionScoresWrong(t *testing.T) {
	backend := &fakeBackend{}
	adapter := remote.NewAdapter(backend, nil, remote.DefaultOptions(), zerolog.Nop())
	c, err := New(Config{
		AttemptID: "att-1",
		Mode:      domain.ModePractice,
		Questions: []domain.Question{{ID: "q1", Options: []string{"x", "y"}, CorrectIndex: 7}},
	}, adapter)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c.Start(context.Background())
	stats, ok, err := c.Answer("q1", 0)
	if err != nil || !ok || stats.Wrong != 1 {
		t.Fatalf("expected malformed question scored wrong, got %+v ok=%v err=%v", stats, ok, err)
	}
	adapter.Wait()
}

func TestNegativeMarkingAppliesInPracticeMode(t *testing.T) {
	backend := &fakeBackend{}
	adapter := remote.NewAdapter(backend, nil, remote.DefaultOptions(), zerolog.Nop())
	c, err := New(Config{
		AttemptID: "att-1",
		Mode:      domain.ModePractice,
		Exam:      domain.Exam{PenaltyPerWrong: 0.25},
		Questions: sampleQuestions(),
	}, adapter)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c.Start(context.Background())
	for i, pick := range []int{0, 1, 1, 2, 0} {
		c.Answer(c.Questions()[i].ID, pick)
	}
	adapter.Wait()
	if got := c.Stats().Score; got != 2.5 {
		t.Fatalf("expected 3 - 2*0.25 = 2.5, got %v", got)
	}
}

func TestNewRejectsInvalidInput(t *testing.T) {
	adapter := remote.NewAdapter(&fakeBackend{}, nil, remote.DefaultOptions(), zerolog.Nop())
	cases := map[string]Config{
		"mode":      {AttemptID: "a", Mode: "exam"},
		"question":  {AttemptID: "a", Mode: domain.ModePractice, Questions: []domain.Question{{ID: "q", Options: []string{"only"}}}},
		"duplicate": {AttemptID: "a", Mode: domain.ModePractice, Questions: []domain.Question{{ID: "q", Options: []string{"x", "y"}}, {ID: "q", Options: []string{"x", "y"}}}},
	}
	for name, cfg := range cases {
		if _, err := New(cfg, adapter); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSubscribeReceivesUpdatesAndCloses(t *testing.T) {
	backend := &fakeBackend{}
	c, adapter := started(t, backend, domain.ModePractice)
	updates, cancel := c.Subscribe()
	defer cancel()

	initial := <-updates
	if initial.Total != 5 || initial.Answered != 0 {
		t.Fatalf("unexpected initial stats %+v", initial)
	}
	c.Answer(c.Questions()[0].ID, 0)
	next := <-updates
	if next.Answered != 1 || next.Streak != 1 {
		t.Fatalf("unexpected update %+v", next)
	}
	adapter.Wait()

	c.Close()
	if _, ok := <-updates; ok {
		t.Fatalf("expected feed to close on unmount")
	}
}
