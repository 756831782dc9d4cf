package domain

import (
	"fmt"
	"strconv"
	"strings"

	"exam-session-engine/internal/answer"
)

// AnswerKeyKind declares how an AnswerKey value must be read.
type AnswerKeyKind string

const (
	AnswerKeyIndex  AnswerKeyKind = "index"
	AnswerKeyLetter AnswerKeyKind = "letter"
	AnswerKeyText   AnswerKeyKind = "text"
)

// AnswerKey is the correct answer as stored by content sources. The kind is always
// declared, so an option whose text is a single letter is never mistaken for a label.
type AnswerKey struct {
	Kind  AnswerKeyKind `json:"kind"`
	Value string        `json:"value"`
}

// Resolve returns the zero-based index of the correct option.
func (k AnswerKey) Resolve(options []string) (int, error) {
	idx := -1
	switch k.Kind {
	case AnswerKeyIndex:
		n, err := strconv.Atoi(strings.TrimSpace(k.Value))
		if err == nil {
			idx = n
		}
	case AnswerKeyLetter:
		if n, ok := answer.Index(k.Value); ok {
			idx = n
		}
	case AnswerKeyText:
		want := strings.TrimSpace(k.Value)
		for i, opt := range options {
			if strings.TrimSpace(opt) == want {
				idx = i
				break
			}
		}
	default:
		return -1, fmt.Errorf("answer key kind %q: %w", k.Kind, ErrAnswerKeyUnresolved)
	}
	if idx < 0 || idx >= len(options) {
		return -1, fmt.Errorf("answer key %s=%q: %w", k.Kind, k.Value, ErrAnswerKeyUnresolved)
	}
	return idx, nil
}
