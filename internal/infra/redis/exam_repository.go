package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"exam-session-engine/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ExamLoader fetches exam content from a backing store (e.g., Postgres).
type ExamLoader interface {
	LoadExam(ctx context.Context, examID string) (domain.ExamPayload, error)
}

// ExamRepository caches exam payloads in Redis as JSON and falls back to a
// loader on cache miss:
//
//	SET exam:{examID}:payload {json} EX ttl±10%
type ExamRepository struct {
	client *redis.Client
	loader ExamLoader
	ttl    time.Duration
	log    zerolog.Logger
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewExamRepository(client *redis.Client, loader ExamLoader, ttl time.Duration, log zerolog.Logger) *ExamRepository {
	return &ExamRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    log.With().Str("component", "exam_cache").Logger(),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ExamRepository) GetExam(ctx context.Context, examID string) (domain.ExamPayload, error) {
	if payload, ok := r.cached(ctx, examID); ok {
		return payload, nil
	}

	result, err, _ := r.sf.Do(examID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if payload, ok := r.cached(ctx, examID); ok {
			return payload, nil
		}

		payload, err := r.loader.LoadExam(ctx, examID)
		if err != nil {
			return domain.ExamPayload{}, err
		}

		data, err := json.Marshal(payload)
		if err == nil {
			err = r.client.Set(ctx, examKey(examID), data, r.ttlWithJitter()).Err()
		}
		if err != nil {
			// The loaded payload is still good; only the cache fill failed.
			r.log.Warn().Err(err).Str("exam_id", examID).Msg("exam cache fill failed")
		}
		return payload, nil
	})
	if err != nil {
		return domain.ExamPayload{}, err
	}
	return result.(domain.ExamPayload), nil
}

func (r *ExamRepository) cached(ctx context.Context, examID string) (domain.ExamPayload, bool) {
	data, err := r.client.Get(ctx, examKey(examID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn().Err(err).Str("exam_id", examID).Msg("exam cache read failed")
		}
		return domain.ExamPayload{}, false
	}
	var payload domain.ExamPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		r.log.Warn().Err(err).Str("exam_id", examID).Msg("exam cache entry corrupt")
		return domain.ExamPayload{}, false
	}
	return payload, true
}

// Invalidate drops the cached copy of an exam.
func (r *ExamRepository) Invalidate(ctx context.Context, examID string) error {
	return r.client.Del(ctx, examKey(examID)).Err()
}

func (r *ExamRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
