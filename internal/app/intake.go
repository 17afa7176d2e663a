package app

import (
	"fmt"
	"strings"
	"time"

	"live-quiz-service/internal/domain"
)

// AnswerLookup reports whether the participant already answered a question.
// Stores call prepare functions with a lookup bound to their unit of work.
type AnswerLookup func(questionID string) (bool, error)

// AnswerPreparer validates a submission against the session state read by the
// store and returns the scored answer to persist.
type AnswerPreparer func(session domain.Session, answered AnswerLookup) (domain.Answer, error)

// answerIntake checks a single submission and scores it.
type answerIntake struct {
	policy ScoringPolicy
	newID  func() string
	now    func() time.Time
}

// prepare returns the AnswerPreparer for one submission. Preconditions are
// checked in a fixed order so each failure maps to one error kind.
func (in answerIntake) prepare(quiz domain.Quiz, participant domain.Participant, sub domain.AnswerSubmission) AnswerPreparer {
	return func(session domain.Session, answered AnswerLookup) (domain.Answer, error) {
		if session.Status != domain.StatusInProgress {
			return domain.Answer{}, domain.ErrSessionNotActive
		}

		question, ok := CurrentQuestion(session, quiz)
		if !ok {
			return domain.Answer{}, fmt.Errorf("%w: no current question", domain.ErrQuestionMismatch)
		}
		if question.ID != sub.QuestionID {
			return domain.Answer{}, fmt.Errorf("%w: current question is %s", domain.ErrQuestionMismatch, question.ID)
		}

		done, err := answered(question.ID)
		if err != nil {
			return domain.Answer{}, err
		}
		if done {
			return domain.Answer{}, domain.ErrDuplicateAnswer
		}

		if err := in.validateShape(question, sub); err != nil {
			return domain.Answer{}, err
		}
		if err := in.validateResponseTime(question, sub.ResponseTimeMs); err != nil {
			return domain.Answer{}, err
		}

		correct := in.policy.IsCorrect(question, sub.SelectedOptionID, sub.TextAnswer)
		answer := domain.Answer{
			ID:             in.newID(),
			SessionID:      session.ID,
			ParticipantID:  participant.ID,
			QuestionID:     question.ID,
			Correct:        correct,
			Points:         in.policy.Points(question, correct, sub.ResponseTimeMs),
			ResponseTimeMs: sub.ResponseTimeMs,
			AnsweredAt:     in.now(),
		}
		if question.Type.UsesOptions() {
			answer.SelectedOptionID = sub.SelectedOptionID
		} else {
			answer.TextAnswer = sub.TextAnswer
		}
		return answer, nil
	}
}

func (in answerIntake) validateShape(q domain.Question, sub domain.AnswerSubmission) error {
	switch q.Type {
	case domain.MultipleChoice, domain.TrueFalse:
		if sub.SelectedOptionID == "" {
			return domain.Invalid("question %s requires a selected option", q.ID)
		}
		if strings.TrimSpace(sub.TextAnswer) != "" {
			return domain.Invalid("question %s does not accept a text answer", q.ID)
		}
		if _, ok := q.Option(sub.SelectedOptionID); !ok {
			return fmt.Errorf("%w: %s on question %s", domain.ErrOptionNotFound, sub.SelectedOptionID, q.ID)
		}
	case domain.ShortAnswer:
		if sub.SelectedOptionID != "" {
			return domain.Invalid("question %s does not accept a selected option", q.ID)
		}
		if strings.TrimSpace(sub.TextAnswer) == "" {
			return domain.Invalid("question %s requires a text answer", q.ID)
		}
	default:
		return domain.Invalid("question %s has unsupported type %q", q.ID, q.Type)
	}
	return nil
}

func (in answerIntake) validateResponseTime(q domain.Question, responseTimeMs int64) error {
	if responseTimeMs < 0 {
		return domain.Invalid("response time must not be negative")
	}
	if max := in.policy.MaxResponseTimeMs(q); responseTimeMs > max {
		return domain.Invalid("response time %dms exceeds limit of %dms", responseTimeMs, max)
	}
	return nil
}
