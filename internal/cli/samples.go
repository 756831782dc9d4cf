package cli

import (
	"exam-session-engine/internal/domain"
	pgloader "exam-session-engine/internal/infra/postgres"
	"github.com/rs/zerolog"
)

// sampleExams is the content served when no Postgres is configured, and what
// the seed command writes.
func sampleExams() []pgloader.ExamDocument {
	return []pgloader.ExamDocument{
		{
			Exam: domain.Exam{ID: "general-1", Title: "General knowledge", DurationMinutes: 10, ShuffleEnabled: true, PenaltyPerWrong: 0.25},
			Questions: []pgloader.QuestionDocument{
				{
					ID:        "q1",
					Prompt:    "What is 2 + 2?",
					Options:   []string{"3", "4", "5", "22"},
					AnswerKey: domain.AnswerKey{Kind: domain.AnswerKeyIndex, Value: "1"},
				},
				{
					ID:        "q2",
					Prompt:    "Which planet is known as the red planet?",
					Options:   []string{"Venus", "Jupiter", "Mars", "Mercury"},
					AnswerKey: domain.AnswerKey{Kind: domain.AnswerKeyText, Value: "Mars"},
				},
				{
					ID:     "q3",
					Prompt: "Which of the statements are true?",
					Statements: []string{
						"1. Water boils at 100 °C at sea level.",
						"2. The Moon emits its own light.",
					},
					Options:     []string{"1 only", "2 only", "Both", "Neither"},
					AnswerKey:   domain.AnswerKey{Kind: domain.AnswerKeyLetter, Value: "A"},
					Explanation: "The Moon reflects sunlight.",
				},
				{
					ID:        "q4",
					Prompt:    "What is the capital of Japan?",
					Options:   []string{"Seoul", "Kyoto", "Tokyo", "Osaka"},
					AnswerKey: domain.AnswerKey{Kind: domain.AnswerKeyText, Value: "Tokyo"},
				},
			},
		},
	}
}

func samplePayloads(log zerolog.Logger) (map[string]domain.ExamPayload, error) {
	out := make(map[string]domain.ExamPayload)
	for _, doc := range sampleExams() {
		payload, err := doc.Payload(log)
		if err != nil {
			return nil, err
		}
		out[doc.Exam.ID] = payload
	}
	return out, nil
}
