package app

import (
	"fmt"
	"sort"
	"time"

	"live-quiz-service/internal/domain"
)

// The functions below are the session state machine:
// WAITING -> IN_PROGRESS -> COMPLETED, with WAITING -> COMPLETED allowed by End.
// They mutate the session only when the transition is legal.

// StartSession moves a waiting session to IN_PROGRESS and snapshots the quiz's
// question order.
func StartSession(s *domain.Session, quiz domain.Quiz, now time.Time) error {
	if s.Status != domain.StatusWaiting {
		return fmt.Errorf("%w: cannot start a %s session", domain.ErrInvalidTransition, s.Status)
	}
	ids := orderedQuestionIDs(quiz)
	if len(ids) == 0 {
		return domain.Invalid("quiz %s has no questions", quiz.ID)
	}
	started := now
	s.Status = domain.StatusInProgress
	s.StartedAt = &started
	s.CurrentQuestionIndex = 0
	s.QuestionIDs = ids
	return nil
}

// AdvanceQuestion moves an in-progress session to its next question. Running
// past the last question is allowed; CurrentQuestion then reports none.
func AdvanceQuestion(s *domain.Session) error {
	if s.Status != domain.StatusInProgress {
		return fmt.Errorf("%w: cannot advance a %s session", domain.ErrInvalidTransition, s.Status)
	}
	s.CurrentQuestionIndex++
	return nil
}

// EndSession completes a waiting or in-progress session. Ending twice is
// rejected so the first end time is kept.
func EndSession(s *domain.Session, now time.Time) error {
	if s.Status == domain.StatusCompleted {
		return fmt.Errorf("%w: session already completed", domain.ErrInvalidTransition)
	}
	ended := now
	s.Status = domain.StatusCompleted
	s.EndedAt = &ended
	return nil
}

// CurrentQuestion returns the question the host currently exposes, if any.
func CurrentQuestion(s domain.Session, quiz domain.Quiz) (domain.Question, bool) {
	if s.Status != domain.StatusInProgress {
		return domain.Question{}, false
	}
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.QuestionIDs) {
		return domain.Question{}, false
	}
	return quiz.Question(s.QuestionIDs[s.CurrentQuestionIndex])
}

func orderedQuestionIDs(quiz domain.Quiz) []string {
	questions := make([]domain.Question, len(quiz.Questions))
	copy(questions, quiz.Questions)
	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Ordinal < questions[j].Ordinal
	})
	ids := make([]string, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}
	return ids
}
