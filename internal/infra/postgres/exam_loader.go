package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"exam-session-engine/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

// ExamLoader loads exam JSONB from Postgres.
type ExamLoader struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewExamLoader(pool *pgxpool.Pool, log zerolog.Logger) *ExamLoader {
	return &ExamLoader{pool: pool, log: log.With().Str("component", "exam_loader").Logger()}
}

func (l *ExamLoader) LoadExam(ctx context.Context, examID string) (domain.ExamPayload, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM exams WHERE id=$1`, examID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ExamPayload{}, domain.ErrExamNotFound
	}
	if err != nil {
		return domain.ExamPayload{}, fmt.Errorf("load exam: %w", err)
	}
	return DecodeExam(examID, raw, l.log)
}

// ExamDocument is the stored form of an exam. Questions carry an explicit
// AnswerKey instead of a resolved index.
type ExamDocument struct {
	Exam      domain.Exam        `json:"exam"`
	Questions []QuestionDocument `json:"questions"`
}

// QuestionDocument is one stored question.
type QuestionDocument struct {
	ID          string           `json:"id"`
	Prompt      string           `json:"prompt"`
	Options     []string         `json:"options"`
	AnswerKey   domain.AnswerKey `json:"answerKey"`
	Statements  []string         `json:"statements,omitempty"`
	Context     string           `json:"context,omitempty"`
	Explanation string           `json:"explanation,omitempty"`
}

// DecodeExam turns a stored document into the payload sessions run on.
func DecodeExam(examID string, raw []byte, log zerolog.Logger) (domain.ExamPayload, error) {
	var doc ExamDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.ExamPayload{}, fmt.Errorf("unmarshal exam: %w", err)
	}
	if doc.Exam.ID == "" {
		doc.Exam.ID = examID
	}
	return doc.Payload(log)
}

// Payload resolves every answer key. A question whose key cannot be resolved
// is kept with CorrectIndex -1 so it is scored wrong rather than failing the
// whole exam.
func (d ExamDocument) Payload(log zerolog.Logger) (domain.ExamPayload, error) {
	payload := domain.ExamPayload{Exam: d.Exam, Questions: make([]domain.Question, 0, len(d.Questions))}
	for _, qd := range d.Questions {
		q := domain.Question{
			ID:          qd.ID,
			Prompt:      qd.Prompt,
			Options:     qd.Options,
			Statements:  qd.Statements,
			Context:     qd.Context,
			Explanation: qd.Explanation,
		}
		if err := q.Validate(); err != nil {
			return domain.ExamPayload{}, fmt.Errorf("exam %s question %q: %w", d.Exam.ID, qd.ID, err)
		}
		idx, err := qd.AnswerKey.Resolve(qd.Options)
		if err != nil {
			log.Warn().Err(err).Str("exam_id", d.Exam.ID).Str("question_id", qd.ID).Msg("unresolved answer key")
			idx = -1
		}
		q.CorrectIndex = idx
		payload.Questions = append(payload.Questions, q)
	}
	return payload, nil
}

// SaveExam inserts or replaces the stored document of an exam.
func (l *ExamLoader) SaveExam(ctx context.Context, examID string, doc ExamDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal exam: %w", err)
	}
	_, err = l.pool.Exec(ctx, `
INSERT INTO exams (id, data) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`, examID, raw)
	if err != nil {
		return fmt.Errorf("save exam: %w", err)
	}
	return nil
}
