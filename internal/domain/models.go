package domain

import "time"

// QuestionType enumerates the supported question shapes.
type QuestionType string

const (
	MultipleChoice QuestionType = "MULTIPLE_CHOICE"
	TrueFalse      QuestionType = "TRUE_FALSE"
	ShortAnswer    QuestionType = "SHORT_ANSWER"
)

// UsesOptions reports whether answers to this type select an option.
func (t QuestionType) UsesOptions() bool {
	return t == MultipleChoice || t == TrueFalse
}

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	StatusWaiting    SessionStatus = "WAITING"
	StatusInProgress SessionStatus = "IN_PROGRESS"
	StatusCompleted  SessionStatus = "COMPLETED"
)

// Option is a possible answer. For short-answer questions the correct options
// hold the accepted answer texts.
type Option struct {
	ID      string `json:"id" validate:"required"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is one step of a quiz.
type Question struct {
	ID               string       `json:"id" validate:"required"`
	Type             QuestionType `json:"type" validate:"oneof=MULTIPLE_CHOICE TRUE_FALSE SHORT_ANSWER"`
	Prompt           string       `json:"prompt"`
	Ordinal          int          `json:"ordinal" validate:"gte=0"`
	TimeLimitSeconds int          `json:"timeLimitSeconds" validate:"min=5,max=300"`
	Options          []Option     `json:"options" validate:"dive"`
}

// Option returns the option with the given id.
func (q Question) Option(id string) (Option, bool) {
	for _, opt := range q.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return Option{}, false
}

// TimeLimitMs returns the question's time limit in milliseconds.
func (q Question) TimeLimitMs() int64 {
	return int64(q.TimeLimitSeconds) * 1000
}

// Quiz is a collection of questions.
type Quiz struct {
	ID        string     `json:"id" validate:"required"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions" validate:"min=1,dive"`
}

// Question returns the question with the given id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// User is the authenticated caller as seen by the core.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
}

// Session is one live run of a quiz.
type Session struct {
	ID                   string        `json:"id"`
	QuizID               string        `json:"quizId"`
	HostID               string        `json:"hostId"`
	AccessCode           string        `json:"accessCode"`
	Status               SessionStatus `json:"status"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	// QuestionIDs is the question order snapshotted at start.
	QuestionIDs []string   `json:"questionIds,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// Participant represents a user's membership and running score in a session.
type Participant struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	FullName  string    `json:"fullName"`
	JoinedAt  time.Time `json:"joinedAt"`
	Score     int       `json:"score"`
}

// Answer is an immutable, scored response to one question.
type Answer struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"sessionId"`
	ParticipantID    string    `json:"participantId"`
	QuestionID       string    `json:"questionId"`
	SelectedOptionID string    `json:"selectedOptionId,omitempty"`
	TextAnswer       string    `json:"textAnswer,omitempty"`
	Correct          bool      `json:"correct"`
	Points           int       `json:"points"`
	ResponseTimeMs   int64     `json:"responseTimeMs"`
	AnsweredAt       time.Time `json:"answeredAt"`
}

// AnswerSubmission is the client-supplied part of an answer.
type AnswerSubmission struct {
	QuestionID       string
	SelectedOptionID string
	TextAnswer       string
	ResponseTimeMs   int64
}

// AnswerResult summarizes the outcome of a submission for a single user.
type AnswerResult struct {
	Answer     Answer `json:"answer"`
	Awarded    int    `json:"awarded"`
	TotalScore int    `json:"totalScore"`
}

// LeaderboardEntry is the derived view of one participant.
type LeaderboardEntry struct {
	Rank         int     `json:"rank"`
	UserID       string  `json:"userId"`
	Username     string  `json:"username"`
	FullName     string  `json:"fullName"`
	Score        int     `json:"score"`
	AnswerCount  int     `json:"answerCount"`
	CorrectCount int     `json:"correctCount"`
	Accuracy     float64 `json:"accuracy"`
	AverageTime  float64 `json:"averageTime"`
}

// Leaderboard captures the ordered scoreboard for a quiz session.
type Leaderboard struct {
	SessionID   string             `json:"sessionId"`
	Entries     []LeaderboardEntry `json:"entries"`
	GeneratedAt time.Time          `json:"generatedAt"`
}
