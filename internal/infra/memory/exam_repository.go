package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"exam-session-engine/internal/domain"
	"golang.org/x/sync/singleflight"
)

// ExamLoader fetches exam content from a backing store (e.g., Postgres).
type ExamLoader interface {
	LoadExam(ctx context.Context, examID string) (domain.ExamPayload, error)
}

// ExamRepository caches exams with TTL to avoid repeated DB hits.
type ExamRepository struct {
	loader ExamLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedExam
}

type cachedExam struct {
	payload   domain.ExamPayload
	expiresAt time.Time
}

func NewExamRepository(loader ExamLoader, ttl time.Duration) *ExamRepository {
	return &ExamRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedExam),
	}
}

func (r *ExamRepository) GetExam(ctx context.Context, examID string) (domain.ExamPayload, error) {
	if payload, ok := r.cached(examID); ok {
		return payload, nil
	}

	result, err, _ := r.sf.Do(examID, func() (interface{}, error) {
		if payload, ok := r.cached(examID); ok {
			return payload, nil
		}

		payload, err := r.loader.LoadExam(ctx, examID)
		if err != nil {
			return domain.ExamPayload{}, err
		}

		r.mu.Lock()
		r.cache[examID] = cachedExam{
			payload:   payload,
			expiresAt: r.clock().Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return payload, nil
	})
	if err != nil {
		return domain.ExamPayload{}, err
	}
	return result.(domain.ExamPayload), nil
}

func (r *ExamRepository) cached(examID string) (domain.ExamPayload, bool) {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.cache[examID]; ok && entry.expiresAt.After(now) {
		return entry.payload, true
	}
	return domain.ExamPayload{}, false
}

// Invalidate drops the cached copy of an exam.
func (r *ExamRepository) Invalidate(examID string) {
	r.mu.Lock()
	delete(r.cache, examID)
	r.mu.Unlock()
}

func (r *ExamRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticExamLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticExamLoader struct {
	exams map[string]domain.ExamPayload
}

func NewStaticExamLoader(exams map[string]domain.ExamPayload) *StaticExamLoader {
	return &StaticExamLoader{exams: exams}
}

func (l *StaticExamLoader) LoadExam(_ context.Context, examID string) (domain.ExamPayload, error) {
	if payload, ok := l.exams[examID]; ok {
		return payload, nil
	}
	return domain.ExamPayload{}, domain.ErrExamNotFound
}
