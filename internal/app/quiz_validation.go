package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"live-quiz-service/internal/domain"
)

var validate = validator.New()

// ValidateQuiz checks that a quiz can be hosted: at least one question, time
// limits within 5..300 seconds, option-based questions carry options, and
// question ids and ordinals are unique.
func ValidateQuiz(quiz domain.Quiz) error {
	if err := validate.Struct(quiz); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
			}
			return domain.Invalid("quiz %s: %s", quiz.ID, strings.Join(fields, ", "))
		}
		return domain.Invalid("quiz %s: %v", quiz.ID, err)
	}

	ids := make(map[string]struct{}, len(quiz.Questions))
	ordinals := make(map[int]struct{}, len(quiz.Questions))
	for _, q := range quiz.Questions {
		if _, dup := ids[q.ID]; dup {
			return domain.Invalid("quiz %s: duplicate question id %s", quiz.ID, q.ID)
		}
		ids[q.ID] = struct{}{}
		if _, dup := ordinals[q.Ordinal]; dup {
			return domain.Invalid("quiz %s: duplicate ordinal %d", quiz.ID, q.Ordinal)
		}
		ordinals[q.Ordinal] = struct{}{}
		if q.Type.UsesOptions() && len(q.Options) == 0 {
			return domain.Invalid("quiz %s: question %s has no options", quiz.ID, q.ID)
		}
	}
	return nil
}
