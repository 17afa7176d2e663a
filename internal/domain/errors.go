package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a session operation is not allowed from its current status.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrSessionNotJoinable is returned when a join is attempted outside WAITING.
	ErrSessionNotJoinable = errors.New("session is not accepting participants")
	// ErrAlreadyJoined is returned when the user already has a participant in the session.
	ErrAlreadyJoined = errors.New("user already joined session")
	// ErrCodeNotFound is returned when an access code does not resolve to a session.
	ErrCodeNotFound = errors.New("access code not found")
	// ErrSessionNotActive is returned when an answer is submitted outside IN_PROGRESS.
	ErrSessionNotActive = errors.New("session is not in progress")
	// ErrQuestionMismatch is returned when the submitted question is not the current one.
	ErrQuestionMismatch = errors.New("question is not the current question")
	// ErrDuplicateAnswer is returned when the participant already answered the question.
	ErrDuplicateAnswer = errors.New("question already answered")
	// ErrValidation is returned when a submission has the wrong shape for its question.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is the kind shared by every missing-entity error below.
	ErrNotFound = errors.New("not found")
	// ErrNotHost is returned when a host-only operation is called by someone else.
	ErrNotHost = errors.New("caller is not the session host")
	// ErrAccessCodeTaken signals an access code collision at session creation.
	ErrAccessCodeTaken = errors.New("access code already in use")
)

var (
	ErrSessionNotFound     = fmt.Errorf("quiz session %w", ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("participant %w", ErrNotFound)
	ErrQuizNotFound        = fmt.Errorf("quiz %w", ErrNotFound)
	ErrQuestionNotFound    = fmt.Errorf("question %w", ErrNotFound)
	ErrOptionNotFound      = fmt.Errorf("option %w", ErrNotFound)
)

// Invalid wraps ErrValidation with a reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// KindOf names the error kind of err for metrics and logs. Errors outside the
// enumerated kinds (store failures) report "internal".
func KindOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrSessionNotJoinable):
		return "session_not_joinable"
	case errors.Is(err, ErrAlreadyJoined):
		return "already_joined"
	case errors.Is(err, ErrCodeNotFound):
		return "code_not_found"
	case errors.Is(err, ErrSessionNotActive):
		return "session_not_active"
	case errors.Is(err, ErrQuestionMismatch):
		return "question_mismatch"
	case errors.Is(err, ErrDuplicateAnswer):
		return "duplicate_answer"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotHost):
		return "not_host"
	default:
		return "internal"
	}
}
