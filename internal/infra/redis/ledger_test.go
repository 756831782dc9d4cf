package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"exam-session-engine/internal/app"
	"exam-session-engine/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
)

func newLedger(t *testing.T) (*Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return NewLedger(newClient(mr), time.Hour), mr
}

func TestLedgerStoresAttempt(t *testing.T) {
	ctx := context.Background()
	ledger, mr := newLedger(t)
	started := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)

	if err := ledger.CreateAttempt(ctx, app.AttemptRecord{
		ID:            "a1",
		ExamID:        "exam-1",
		ParticipantID: "u1",
		Mode:          domain.ModeSupervised,
		Status:        domain.StatusInProgress,
		StartedAt:     started,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !mr.Exists("attempt:a1:meta") || mr.TTL("attempt:a1:meta") != time.Hour {
		t.Fatalf("expected meta hash with ttl")
	}

	rec, err := ledger.GetAttempt(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.ExamID != "exam-1" || rec.Mode != domain.ModeSupervised || !rec.StartedAt.Equal(started) || rec.Verified {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, err := ledger.GetAttempt(ctx, "missing"); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
}

func TestLedgerAnswersKeepFirstWriteInOrder(t *testing.T) {
	ctx := context.Background()
	ledger, mr := newLedger(t)
	_ = ledger.CreateAttempt(ctx, app.AttemptRecord{ID: "a1", Status: domain.StatusInProgress})

	for _, a := range []app.StoredAnswer{
		{QuestionID: "q3", Selected: "C", TimeSpentSeconds: 4},
		{QuestionID: "q1", Selected: "A", TimeSpentSeconds: 9},
		{QuestionID: "q3", Selected: "D"},
	} {
		if _, err := ledger.RecordAnswer(ctx, "a1", a); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	answers, err := ledger.Answers(ctx, "a1")
	if err != nil {
		t.Fatalf("answers: %v", err)
	}
	if len(answers) != 2 || answers[0].QuestionID != "q3" || answers[0].Selected != "C" || answers[1].TimeSpentSeconds != 9 {
		t.Fatalf("unexpected answers %+v", answers)
	}
	if mr.TTL("attempt:a1:answers") <= 0 {
		t.Fatalf("expected answers hash to expire with the attempt")
	}
	if _, err := ledger.RecordAnswer(ctx, "missing", app.StoredAnswer{QuestionID: "q1"}); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
}

func TestLedgerCloseOnce(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t)
	_ = ledger.CreateAttempt(ctx, app.AttemptRecord{ID: "a1", Status: domain.StatusInProgress})

	rec, closed, err := ledger.CloseAttempt(ctx, "a1", domain.StatusAutoSubmitted, domain.ReasonTabSwitch, time.Unix(100, 0))
	if err != nil || !closed || rec.Status != domain.StatusAutoSubmitted || rec.Reason != domain.ReasonTabSwitch {
		t.Fatalf("close: rec=%+v closed=%v err=%v", rec, closed, err)
	}
	rec, closed, err = ledger.CloseAttempt(ctx, "a1", domain.StatusSubmitted, domain.ReasonManual, time.Unix(200, 0))
	if err != nil || closed || rec.Status != domain.StatusAutoSubmitted || !rec.EndedAt.Equal(time.Unix(100, 0)) {
		t.Fatalf("expected first close to stick, rec=%+v closed=%v err=%v", rec, closed, err)
	}
	if _, _, err := ledger.CloseAttempt(ctx, "missing", domain.StatusSubmitted, domain.ReasonManual, time.Now()); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
}

func TestLedgerAnomaliesAndIdentity(t *testing.T) {
	ctx := context.Background()
	ledger, mr := newLedger(t)
	_ = ledger.CreateAttempt(ctx, app.AttemptRecord{ID: "a1", Mode: domain.ModePublic, Status: domain.StatusInProgress})

	at := time.Date(2024, 11, 22, 9, 5, 0, 0, time.UTC)
	if err := ledger.AddAnomaly(ctx, "a1", domain.Anomaly{Kind: domain.AnomalyTabSwitch, At: at}); err != nil {
		t.Fatalf("add anomaly: %v", err)
	}
	anomalies, err := ledger.Anomalies(ctx, "a1")
	if err != nil || len(anomalies) != 1 || !anomalies[0].At.Equal(at) {
		t.Fatalf("unexpected anomalies %+v err=%v", anomalies, err)
	}

	if err := ledger.SetIdentityCode(ctx, "a1", "123456", time.Minute); err != nil {
		t.Fatalf("set code: %v", err)
	}
	if ok, _ := ledger.ConsumeIdentityCode(ctx, "a1", "654321"); ok {
		t.Fatalf("expected wrong code to fail")
	}
	ok, err := ledger.ConsumeIdentityCode(ctx, "a1", "123456")
	if err != nil || !ok {
		t.Fatalf("expected code to pass, ok=%v err=%v", ok, err)
	}
	if mr.Exists("attempt:a1:otp") {
		t.Fatalf("expected code to be consumed")
	}
	if rec, _ := ledger.GetAttempt(ctx, "a1"); !rec.Verified {
		t.Fatalf("expected attempt verified")
	}

	_ = ledger.SetIdentityCode(ctx, "a1", "777777", time.Minute)
	mr.FastForward(2 * time.Minute)
	if ok, _ := ledger.ConsumeIdentityCode(ctx, "a1", "777777"); ok {
		t.Fatalf("expected expired code to fail")
	}
}
