package memory

import (
	"context"
	"sync"
	"time"

	"exam-session-engine/internal/app"
	"exam-session-engine/internal/domain"
)

// Ledger is an in-memory implementation of app.LedgerRepository.
type Ledger struct {
	mu       sync.RWMutex
	attempts map[string]*ledgerEntry
	now      func() time.Time
}

type ledgerEntry struct {
	record    app.AttemptRecord
	answers   map[string]app.StoredAnswer
	order     []string
	anomalies []domain.Anomaly
	code      string
	codeUntil time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		attempts: make(map[string]*ledgerEntry),
		now:      time.Now,
	}
}

func (l *Ledger) CreateAttempt(_ context.Context, rec app.AttemptRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[rec.ID] = &ledgerEntry{
		record:  rec,
		answers: make(map[string]app.StoredAnswer),
	}
	return nil
}

func (l *Ledger) GetAttempt(_ context.Context, attemptID string) (app.AttemptRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.attempts[attemptID]
	if !ok {
		return app.AttemptRecord{}, domain.ErrAttemptNotFound
	}
	return entry.record, nil
}

func (l *Ledger) RecordAnswer(_ context.Context, attemptID string, a app.StoredAnswer) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.attempts[attemptID]
	if !ok {
		return false, domain.ErrAttemptNotFound
	}
	if _, dup := entry.answers[a.QuestionID]; dup {
		return false, nil
	}
	entry.answers[a.QuestionID] = a
	entry.order = append(entry.order, a.QuestionID)
	return true, nil
}

func (l *Ledger) Answers(_ context.Context, attemptID string) ([]app.StoredAnswer, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.attempts[attemptID]
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	out := make([]app.StoredAnswer, 0, len(entry.order))
	for _, qid := range entry.order {
		out = append(out, entry.answers[qid])
	}
	return out, nil
}

func (l *Ledger) CloseAttempt(_ context.Context, attemptID string, status domain.Status, reason domain.Reason, at time.Time) (app.AttemptRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.attempts[attemptID]
	if !ok {
		return app.AttemptRecord{}, false, domain.ErrAttemptNotFound
	}
	if entry.record.Status.Terminal() {
		return entry.record, false, nil
	}
	entry.record.Status = status
	entry.record.Reason = reason
	entry.record.EndedAt = at
	return entry.record, true, nil
}

func (l *Ledger) AddAnomaly(_ context.Context, attemptID string, anomaly domain.Anomaly) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	entry.anomalies = append(entry.anomalies, anomaly)
	return nil
}

func (l *Ledger) Anomalies(_ context.Context, attemptID string) ([]domain.Anomaly, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.attempts[attemptID]
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	return append([]domain.Anomaly(nil), entry.anomalies...), nil
}

func (l *Ledger) SetIdentityCode(_ context.Context, attemptID, code string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	entry.code = code
	entry.codeUntil = time.Time{}
	if ttl > 0 {
		entry.codeUntil = l.now().Add(ttl)
	}
	return nil
}

func (l *Ledger) ConsumeIdentityCode(_ context.Context, attemptID, code string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.attempts[attemptID]
	if !ok {
		return false, domain.ErrAttemptNotFound
	}
	if entry.code == "" || entry.code != code {
		return false, nil
	}
	if !entry.codeUntil.IsZero() && !l.now().Before(entry.codeUntil) {
		return false, nil
	}
	entry.code = ""
	entry.record.Verified = true
	return true, nil
}
