package domain

import "errors"

var (
	// ErrExamNotFound indicates the exam content could not be loaded.
	ErrExamNotFound = errors.New("exam not found")
	// ErrAttemptNotFound is returned for an unknown attempt id.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrQuestionNotFound indicates a submitted question ID is not part of the exam.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrAttemptClosed is returned when an attempt no longer accepts answers.
	ErrAttemptClosed = errors.New("attempt is closed")
	// ErrNotInProgress is returned by submission triggers outside the in-progress state.
	ErrNotInProgress = errors.New("attempt not in progress")
	// ErrSubmissionInFlight is returned when another finalize or anomaly call holds the latch.
	ErrSubmissionInFlight = errors.New("submission already in flight")
	// ErrIdentityRequired is returned when the identity gate has not been passed yet.
	ErrIdentityRequired = errors.New("identity verification required")
	// ErrIdentityRejected is returned for a wrong or expired one-time code.
	ErrIdentityRejected = errors.New("identity verification rejected")
	// ErrAnswerKeyUnresolved indicates an answer key does not match any option.
	ErrAnswerKeyUnresolved = errors.New("answer key does not match any option")
	// ErrInvalidQuestion indicates a question without an id or with fewer than two options.
	ErrInvalidQuestion = errors.New("invalid question")
	// ErrOptionNotFound indicates a selected option is not part of the question.
	ErrOptionNotFound = errors.New("option not found")
	// ErrInvalidMode is returned for an unknown exam mode.
	ErrInvalidMode = errors.New("invalid exam mode")
	// ErrInvalidReason is returned for an unknown submission reason.
	ErrInvalidReason = errors.New("invalid submission reason")
)
