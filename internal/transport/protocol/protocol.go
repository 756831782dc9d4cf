// Package protocol defines the JSON frames exchanged over the exam websocket.
//
// Every request carries a client-chosen id; the response echoes it with type
// "result" or "error". Responses may arrive in any order.
package protocol

import (
	"encoding/json"
	"errors"

	"exam-session-engine/internal/domain"
	"github.com/go-playground/validator/v10"
)

// Request types.
const (
	TypeStartAttempt   = "startAttempt"
	TypeFetchExam      = "fetchExam"
	TypeFetchAttempt   = "fetchAttempt"
	TypeSubmitAnswer   = "submitAnswer"
	TypeSubmitExam     = "submitExam"
	TypeReportAnomaly  = "reportAnomaly"
	TypeVerifyIdentity = "verifyIdentity"
)

// Response types.
const (
	TypeResult = "result"
	TypeError  = "error"
)

// Request is a client frame.
type Request struct {
	ID      string          `json:"id" validate:"required"`
	Type    string          `json:"type" validate:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is a server frame.
type Response struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type StartAttempt struct {
	ExamID        string      `json:"examId" validate:"required"`
	ParticipantID string      `json:"participantId" validate:"required"`
	Mode          domain.Mode `json:"mode" validate:"required,oneof=practice public supervised"`
}

type AttemptStarted struct {
	AttemptID string `json:"attemptId"`
}

type FetchExam struct {
	ExamID string `json:"examId" validate:"required"`
}

type FetchAttempt struct {
	AttemptID string `json:"attemptId" validate:"required"`
}

type AnswerAck struct {
	QuestionID string `json:"questionId"`
	Recorded   bool   `json:"recorded"`
}

type SubmitExam struct {
	AttemptID string        `json:"attemptId" validate:"required"`
	Reason    domain.Reason `json:"reason" validate:"required,oneof=manual time_up tab_switch"`
}

type ReportAnomaly struct {
	AttemptID string         `json:"attemptId" validate:"required"`
	Anomaly   domain.Anomaly `json:"anomaly"`
}

type VerifyIdentity struct {
	AttemptID string `json:"attemptId" validate:"required"`
	Code      string `json:"code" validate:"required,max=32"`
}

type IdentityResult struct {
	Verified bool `json:"verified"`
}

// Ack is the result of calls that return nothing.
type Ack struct {
	OK bool `json:"ok"`
}

// ErrorPayload describes a failed request.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for failures a client can act on.
const (
	CodeInvalidRequest = "invalid_request"
	CodeUnsupported    = "unsupported_type"
	CodeInternal       = "internal"
)

var codes = []struct {
	code string
	err  error
}{
	{"exam_not_found", domain.ErrExamNotFound},
	{"attempt_not_found", domain.ErrAttemptNotFound},
	{"question_not_found", domain.ErrQuestionNotFound},
	{"option_not_found", domain.ErrOptionNotFound},
	{"attempt_closed", domain.ErrAttemptClosed},
	{"identity_required", domain.ErrIdentityRequired},
	{"identity_rejected", domain.ErrIdentityRejected},
	{"invalid_mode", domain.ErrInvalidMode},
	{"invalid_reason", domain.ErrInvalidReason},
}

// ErrInvalidRequest is returned for frames that fail validation.
var ErrInvalidRequest = errors.New("invalid request")

// ErrorFor builds the error payload for err.
func ErrorFor(err error) ErrorPayload {
	if errors.Is(err, ErrInvalidRequest) {
		return ErrorPayload{Code: CodeInvalidRequest, Message: err.Error()}
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return ErrorPayload{Code: c.code, Message: err.Error()}
		}
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return ErrorPayload{Code: remote.Code, Message: remote.Message}
	}
	return ErrorPayload{Code: CodeInternal, Message: "internal error"}
}

// RemoteError is a server failure without a matching sentinel.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return "remote " + e.Code + ": " + e.Message
}

// Err maps p back to the sentinel it was built from, so callers can use errors.Is.
func (p ErrorPayload) Err() error {
	if p.Code == CodeInvalidRequest {
		return ErrInvalidRequest
	}
	for _, c := range codes {
		if c.code == p.Code {
			return c.err
		}
	}
	return &RemoteError{Code: p.Code, Message: p.Message}
}

var validate = validator.New()

// Decode unmarshals raw into v and validates its tags.
func Decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Join(ErrInvalidRequest, err)
	}
	if err := validate.Struct(v); err != nil {
		return errors.Join(ErrInvalidRequest, err)
	}
	return nil
}
