package app

import (
	"strings"
	"time"

	"live-quiz-service/internal/domain"
)

const (
	basePoints = 100
	// bonusStepMs is the number of unused milliseconds worth one bonus point.
	bonusStepMs = 100
)

// ScoringPolicy decides correctness and points for an answer that already
// passed shape validation. It holds no state.
type ScoringPolicy struct {
	// LatencyGrace is tolerated on top of a question's time limit before a
	// response time is rejected.
	LatencyGrace time.Duration
}

// IsCorrect reports whether the selected option or text answers the question.
func (p ScoringPolicy) IsCorrect(q domain.Question, selectedOptionID, text string) bool {
	if q.Type.UsesOptions() {
		opt, ok := q.Option(selectedOptionID)
		return ok && opt.Correct
	}

	submitted := normalizeText(text)
	if submitted == "" {
		return false
	}
	for _, opt := range q.Options {
		if opt.Correct && normalizeText(opt.Text) == submitted {
			return true
		}
	}
	return false
}

// Points returns the points earned for an answer; zero when incorrect.
func (p ScoringPolicy) Points(q domain.Question, correct bool, responseTimeMs int64) int {
	if !correct {
		return 0
	}
	remaining := q.TimeLimitMs() - responseTimeMs
	if remaining < 0 {
		remaining = 0
	}
	return basePoints + int(remaining/bonusStepMs)
}

// MaxResponseTimeMs is the largest response time accepted for q.
func (p ScoringPolicy) MaxResponseTimeMs(q domain.Question) int64 {
	return q.TimeLimitMs() + p.LatencyGrace.Milliseconds()
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
