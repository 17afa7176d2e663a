package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"live-quiz-service/internal/domain"
)

// Collector records quiz session activity as Prometheus metrics.
type Collector struct {
	sessionsCreated prometheus.Counter
	transitions     *prometheus.CounterVec
	joins           *prometheus.CounterVec
	answers         *prometheus.CounterVec
	answerPoints    prometheus.Histogram
}

// New registers the quiz metrics with reg.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "quiz_sessions_created_total",
			Help: "Total number of quiz sessions created",
		}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_session_transitions_total",
			Help: "Session transitions by event (session.started, question.advanced, session.ended)",
		}, []string{"event"}),
		joins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_joins_total",
			Help: "Join attempts by outcome",
		}, []string{"outcome"}),
		answers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_answers_total",
			Help: "Answer submissions by outcome (correct, incorrect or error kind)",
		}, []string{"outcome"}),
		answerPoints: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "quiz_answer_points",
			Help:    "Points awarded per recorded answer",
			Buckets: []float64{0, 100, 150, 200, 250, 300, 400, 600, 1000, 3100},
		}),
	}
}

func (c *Collector) SessionCreated() {
	c.sessionsCreated.Inc()
}

func (c *Collector) SessionTransition(event domain.EventType) {
	c.transitions.WithLabelValues(string(event)).Inc()
}

func (c *Collector) JoinAttempt(err error) {
	c.joins.WithLabelValues(domain.KindOf(err)).Inc()
}

// AnswerSubmitted labels recorded answers correct or incorrect and rejected
// ones by error kind.
func (c *Collector) AnswerSubmitted(answer domain.Answer, err error) {
	if err != nil {
		c.answers.WithLabelValues(domain.KindOf(err)).Inc()
		return
	}
	outcome := "incorrect"
	if answer.Correct {
		outcome = "correct"
	}
	c.answers.WithLabelValues(outcome).Inc()
	c.answerPoints.Observe(float64(answer.Points))
}
