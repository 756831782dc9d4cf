package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"exam-session-engine/internal/app"
	"exam-session-engine/internal/domain"
	"github.com/redis/go-redis/v9"
)

// closeScript sets the terminal status once. Returns -1 for a missing attempt,
// 0 when it was already closed, 1 when this call closed it.
var closeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HSETNX', KEYS[1], 'ended_at', ARGV[3]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'reason', ARGV[2])
return 1
`)

// consumeScript checks and deletes the one-time code, marking the attempt verified.
var consumeScript = redis.NewScript(`
local code = redis.call('GET', KEYS[1])
if not code or code ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[2], 'verified', '1')
return 1
`)

// Ledger is a Redis implementation of app.LedgerRepository. Every key of an
// attempt expires ttl after the attempt was created; zero keeps them forever.
type Ledger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLedger(client *redis.Client, ttl time.Duration) *Ledger {
	return &Ledger{client: client, ttl: ttl}
}

func (l *Ledger) CreateAttempt(ctx context.Context, rec app.AttemptRecord) error {
	key := metaKey(rec.ID)
	pipe := l.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"exam_id":        rec.ExamID,
		"participant_id": rec.ParticipantID,
		"mode":           string(rec.Mode),
		"status":         string(rec.Status),
		"reason":         string(rec.Reason),
		"verified":       boolField(rec.Verified),
		"started_at":     rec.StartedAt.UTC().Format(time.RFC3339Nano),
	})
	if l.ttl > 0 {
		pipe.Expire(ctx, key, l.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (l *Ledger) GetAttempt(ctx context.Context, attemptID string) (app.AttemptRecord, error) {
	fields, err := l.client.HGetAll(ctx, metaKey(attemptID)).Result()
	if err != nil {
		return app.AttemptRecord{}, err
	}
	if len(fields) == 0 {
		return app.AttemptRecord{}, domain.ErrAttemptNotFound
	}
	rec := app.AttemptRecord{
		ID:            attemptID,
		ExamID:        fields["exam_id"],
		ParticipantID: fields["participant_id"],
		Mode:          domain.Mode(fields["mode"]),
		Status:        domain.Status(fields["status"]),
		Reason:        domain.Reason(fields["reason"]),
		Verified:      fields["verified"] == "1",
	}
	if rec.StartedAt, err = parseTime(fields["started_at"]); err != nil {
		return app.AttemptRecord{}, fmt.Errorf("attempt %s started_at: %w", attemptID, err)
	}
	if rec.EndedAt, err = parseTime(fields["ended_at"]); err != nil {
		return app.AttemptRecord{}, fmt.Errorf("attempt %s ended_at: %w", attemptID, err)
	}
	return rec, nil
}

func (l *Ledger) RecordAnswer(ctx context.Context, attemptID string, a app.StoredAnswer) (bool, error) {
	if err := l.requireAttempt(ctx, attemptID); err != nil {
		return false, err
	}
	data, err := json.Marshal(storedAnswer(a))
	if err != nil {
		return false, err
	}
	set, err := l.client.HSetNX(ctx, answersKey(attemptID), a.QuestionID, data).Result()
	if err != nil || !set {
		return false, err
	}

	pipe := l.client.Pipeline()
	pipe.RPush(ctx, orderKey(attemptID), a.QuestionID)
	l.expireLike(ctx, pipe, attemptID, answersKey(attemptID), orderKey(attemptID))
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}
	return true, nil
}

func (l *Ledger) Answers(ctx context.Context, attemptID string) ([]app.StoredAnswer, error) {
	if err := l.requireAttempt(ctx, attemptID); err != nil {
		return nil, err
	}
	order, err := l.client.LRange(ctx, orderKey(attemptID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	raw, err := l.client.HGetAll(ctx, answersKey(attemptID)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]app.StoredAnswer, 0, len(order))
	for _, qid := range order {
		data, ok := raw[qid]
		if !ok {
			continue
		}
		var a storedAnswer
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("decode answer %s: %w", qid, err)
		}
		out = append(out, app.StoredAnswer(a))
	}
	return out, nil
}

func (l *Ledger) CloseAttempt(ctx context.Context, attemptID string, status domain.Status, reason domain.Reason, at time.Time) (app.AttemptRecord, bool, error) {
	res, err := closeScript.Run(ctx, l.client, []string{metaKey(attemptID)},
		string(status), string(reason), at.UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return app.AttemptRecord{}, false, err
	}
	if res < 0 {
		return app.AttemptRecord{}, false, domain.ErrAttemptNotFound
	}
	rec, err := l.GetAttempt(ctx, attemptID)
	return rec, res == 1, err
}

func (l *Ledger) AddAnomaly(ctx context.Context, attemptID string, anomaly domain.Anomaly) error {
	if err := l.requireAttempt(ctx, attemptID); err != nil {
		return err
	}
	data, err := json.Marshal(anomaly)
	if err != nil {
		return err
	}
	pipe := l.client.Pipeline()
	pipe.RPush(ctx, anomaliesKey(attemptID), data)
	l.expireLike(ctx, pipe, attemptID, anomaliesKey(attemptID))
	_, err = pipe.Exec(ctx)
	return err
}

func (l *Ledger) Anomalies(ctx context.Context, attemptID string) ([]domain.Anomaly, error) {
	raw, err := l.client.LRange(ctx, anomaliesKey(attemptID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Anomaly, 0, len(raw))
	for _, data := range raw {
		var a domain.Anomaly
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("decode anomaly: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (l *Ledger) SetIdentityCode(ctx context.Context, attemptID, code string, ttl time.Duration) error {
	if err := l.requireAttempt(ctx, attemptID); err != nil {
		return err
	}
	return l.client.Set(ctx, otpKey(attemptID), code, ttl).Err()
}

func (l *Ledger) ConsumeIdentityCode(ctx context.Context, attemptID, code string) (bool, error) {
	if err := l.requireAttempt(ctx, attemptID); err != nil {
		return false, err
	}
	res, err := consumeScript.Run(ctx, l.client, []string{otpKey(attemptID), metaKey(attemptID)}, code).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (l *Ledger) requireAttempt(ctx context.Context, attemptID string) error {
	n, err := l.client.Exists(ctx, metaKey(attemptID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAttemptNotFound
	}
	return nil
}

// expireLike gives keys the remaining lifetime of the attempt's meta hash.
func (l *Ledger) expireLike(ctx context.Context, pipe redis.Pipeliner, attemptID string, keys ...string) {
	if l.ttl <= 0 {
		return
	}
	left, err := l.client.TTL(ctx, metaKey(attemptID)).Result()
	if err != nil || left <= 0 {
		return
	}
	for _, key := range keys {
		pipe.Expire(ctx, key, left)
	}
}

type storedAnswer struct {
	QuestionID       string    `json:"questionId"`
	Selected         string    `json:"selectedOption"`
	QuestionNumber   int       `json:"questionNumber,omitempty"`
	TimeSpentSeconds int       `json:"timeSpent"`
	AnsweredAt       time.Time `json:"answeredAt"`
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}
