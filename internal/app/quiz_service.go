package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"live-quiz-service/internal/domain"
)

// SessionStore persists sessions, participants and answers. Every method that
// takes a callback runs it inside one atomic unit of work.
type SessionStore interface {
	// CreateSession inserts a new session; a taken access code yields domain.ErrAccessCodeTaken.
	CreateSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	// FindSessionByCode resolves a normalized access code.
	FindSessionByCode(ctx context.Context, code string) (domain.Session, error)
	// UpdateSession applies mutate to the locked session and persists the result
	// only when mutate succeeds.
	UpdateSession(ctx context.Context, sessionID string, mutate func(*domain.Session) error) (domain.Session, error)
	// AddParticipant creates p unless admit rejects the session or a participant
	// already exists for (session, user), which yields domain.ErrAlreadyJoined.
	AddParticipant(ctx context.Context, p domain.Participant, admit func(domain.Session) error) (domain.Participant, error)
	GetParticipant(ctx context.Context, sessionID, userID string) (domain.Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	// RecordAnswer runs prepare against the current session, stores the answer
	// if none exists for (participant, question) and adds its points to the
	// participant's score, all or nothing.
	RecordAnswer(ctx context.Context, p domain.Participant, prepare AnswerPreparer) (domain.Answer, domain.Participant, error)
	ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// EventPublisher receives domain events after operations commit.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Metrics observes operation outcomes.
type Metrics interface {
	SessionCreated()
	SessionTransition(event domain.EventType)
	JoinAttempt(err error)
	AnswerSubmitted(answer domain.Answer, err error)
}

// QuizService contains the core quiz session use cases.
type QuizService struct {
	store     SessionStore
	quizzes   QuizRepository
	publisher EventPublisher
	metrics   Metrics
	logger    *slog.Logger

	now          func() time.Time
	newID        func() string
	generateCode CodeGenerator
	codeAttempts int
	policy       ScoringPolicy
}

// Option customizes a QuizService.
type Option func(*QuizService)

// WithClock overrides time.Now; used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *QuizService) { s.now = now }
}

// WithIDGenerator overrides uuid-based entity ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *QuizService) { s.newID = newID }
}

// WithCodeGenerator overrides RandomAccessCode.
func WithCodeGenerator(gen CodeGenerator) Option {
	return func(s *QuizService) { s.generateCode = gen }
}

// WithAccessCodeAttempts bounds access code collision retries.
func WithAccessCodeAttempts(n int) Option {
	return func(s *QuizService) {
		if n > 0 {
			s.codeAttempts = n
		}
	}
}

func WithScoringPolicy(p ScoringPolicy) Option {
	return func(s *QuizService) { s.policy = p }
}

func WithPublisher(p EventPublisher) Option {
	return func(s *QuizService) { s.publisher = p }
}

func WithMetrics(m Metrics) Option {
	return func(s *QuizService) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *QuizService) { s.logger = l }
}

func NewQuizService(store SessionStore, quizzes QuizRepository, opts ...Option) *QuizService {
	s := &QuizService{
		store:        store,
		quizzes:      quizzes,
		publisher:    nopPublisher{},
		metrics:      nopMetrics{},
		logger:       slog.Default(),
		now:          time.Now,
		newID:        uuid.NewString,
		generateCode: RandomAccessCode,
		codeAttempts: 10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession opens a WAITING session of quizID hosted by host.
func (s *QuizService) CreateSession(ctx context.Context, host domain.User, quizID string) (domain.Session, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Session{}, err
	}
	if err := ValidateQuiz(quiz); err != nil {
		return domain.Session{}, err
	}

	session := domain.Session{
		ID:        s.newID(),
		QuizID:    quiz.ID,
		HostID:    host.ID,
		Status:    domain.StatusWaiting,
		CreatedAt: s.now(),
	}
	for attempt := 1; ; attempt++ {
		code, err := s.generateCode()
		if err != nil {
			return domain.Session{}, fmt.Errorf("generate access code: %w", err)
		}
		session.AccessCode = code
		err = s.store.CreateSession(ctx, session)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrAccessCodeTaken) {
			return domain.Session{}, err
		}
		if attempt >= s.codeAttempts {
			return domain.Session{}, fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}
		s.logger.Debug("access code collision", "attempt", attempt)
	}

	s.metrics.SessionCreated()
	s.logger.Info("session created", "session_id", session.ID, "quiz_id", quiz.ID, "host_id", host.ID)
	s.publish(ctx, domain.EventSessionCreated, session.ID, session)
	return session, nil
}

// GetSession returns the session by id.
func (s *QuizService) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// LookupByCode resolves an access code, case-insensitively.
func (s *QuizService) LookupByCode(ctx context.Context, code string) (domain.Session, error) {
	normalized := NormalizeAccessCode(code)
	if !ValidAccessCode(normalized) {
		return domain.Session{}, domain.ErrCodeNotFound
	}
	return s.store.FindSessionByCode(ctx, normalized)
}

// Join admits user into the waiting session identified by an access code.
func (s *QuizService) Join(ctx context.Context, accessCode string, user domain.User) (domain.Participant, error) {
	session, err := s.LookupByCode(ctx, accessCode)
	if err != nil {
		s.metrics.JoinAttempt(err)
		return domain.Participant{}, err
	}
	return s.JoinSession(ctx, session.ID, user)
}

// JoinSession admits user into a waiting session. At most one participant
// exists per (session, user).
func (s *QuizService) JoinSession(ctx context.Context, sessionID string, user domain.User) (domain.Participant, error) {
	participant := domain.Participant{
		ID:        s.newID(),
		SessionID: sessionID,
		UserID:    user.ID,
		Username:  user.Username,
		FullName:  user.FullName,
		JoinedAt:  s.now(),
	}
	created, err := s.store.AddParticipant(ctx, participant, func(session domain.Session) error {
		if session.Status != domain.StatusWaiting {
			return domain.ErrSessionNotJoinable
		}
		return nil
	})
	s.metrics.JoinAttempt(err)
	if err != nil {
		s.logFailure(ctx, "join rejected", err, "session_id", sessionID, "user_id", user.ID)
		return domain.Participant{}, err
	}

	s.logger.Info("participant joined", "session_id", sessionID, "user_id", user.ID)
	s.publish(ctx, domain.EventParticipantJoined, sessionID, created)
	return created, nil
}

// Start moves the session from WAITING to IN_PROGRESS.
func (s *QuizService) Start(ctx context.Context, sessionID, callerID string) (domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.Session{}, err
	}
	return s.transition(ctx, sessionID, callerID, domain.EventSessionStarted, func(sess *domain.Session) error {
		return StartSession(sess, quiz, s.now())
	})
}

// AdvanceQuestion exposes the next question of an in-progress session.
func (s *QuizService) AdvanceQuestion(ctx context.Context, sessionID, callerID string) (domain.Session, error) {
	return s.transition(ctx, sessionID, callerID, domain.EventQuestionAdvanced, AdvanceQuestion)
}

// End completes the session.
func (s *QuizService) End(ctx context.Context, sessionID, callerID string) (domain.Session, error) {
	return s.transition(ctx, sessionID, callerID, domain.EventSessionEnded, func(sess *domain.Session) error {
		return EndSession(sess, s.now())
	})
}

func (s *QuizService) transition(ctx context.Context, sessionID, callerID string, event domain.EventType, apply func(*domain.Session) error) (domain.Session, error) {
	updated, err := s.store.UpdateSession(ctx, sessionID, func(sess *domain.Session) error {
		if sess.HostID != callerID {
			return domain.ErrNotHost
		}
		return apply(sess)
	})
	if err != nil {
		s.logFailure(ctx, "transition rejected", err, "session_id", sessionID, "event", event)
		return domain.Session{}, err
	}

	s.metrics.SessionTransition(event)
	s.logger.Info("session transition", "session_id", sessionID, "event", event,
		"status", updated.Status, "question_index", updated.CurrentQuestionIndex)
	s.publish(ctx, event, sessionID, updated)
	return updated, nil
}

// CurrentQuestion returns the question participants should answer now, with
// correctness flags removed.
func (s *QuizService) CurrentQuestion(ctx context.Context, sessionID string) (domain.Question, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Question{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.Question{}, err
	}
	question, ok := CurrentQuestion(session, quiz)
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return redactQuestion(question), nil
}

// SubmitAnswer records user's answer to the current question and applies its
// score in the same unit of work.
func (s *QuizService) SubmitAnswer(ctx context.Context, sessionID string, user domain.User, submission domain.AnswerSubmission) (domain.AnswerResult, error) {
	result, err := s.submitAnswer(ctx, sessionID, user, submission)
	s.metrics.AnswerSubmitted(result.Answer, err)
	if err != nil {
		s.logFailure(ctx, "answer rejected", err, "session_id", sessionID, "user_id", user.ID,
			"question_id", submission.QuestionID)
		return domain.AnswerResult{}, err
	}

	s.logger.Info("answer recorded", "session_id", sessionID, "user_id", user.ID,
		"question_id", result.Answer.QuestionID, "correct", result.Answer.Correct, "points", result.Awarded)
	s.publish(ctx, domain.EventAnswerRecorded, sessionID, result)
	return result, nil
}

func (s *QuizService) submitAnswer(ctx context.Context, sessionID string, user domain.User, submission domain.AnswerSubmission) (domain.AnswerResult, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	participant, err := s.store.GetParticipant(ctx, sessionID, user.ID)
	if err != nil {
		return domain.AnswerResult{}, err
	}

	intake := answerIntake{policy: s.policy, newID: s.newID, now: s.now}
	answer, updated, err := s.store.RecordAnswer(ctx, participant, intake.prepare(quiz, participant, submission))
	if err != nil {
		return domain.AnswerResult{}, err
	}
	return domain.AnswerResult{
		Answer:     answer,
		Awarded:    answer.Points,
		TotalScore: updated.Score,
	}, nil
}

// Leaderboard computes the current ranking of a session.
func (s *QuizService) Leaderboard(ctx context.Context, sessionID string) (domain.Leaderboard, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return domain.Leaderboard{}, err
	}

	var (
		participants []domain.Participant
		answers      []domain.Answer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		participants, err = s.store.ListParticipants(gctx, sessionID)
		return err
	})
	g.Go(func() error {
		var err error
		answers, err = s.store.ListAnswers(gctx, sessionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Leaderboard{}, err
	}
	return BuildLeaderboard(sessionID, participants, answers, s.now()), nil
}

func (s *QuizService) publish(ctx context.Context, typ domain.EventType, sessionID string, payload any) {
	event := domain.Event{
		Type:       typ,
		SessionID:  sessionID,
		OccurredAt: s.now(),
		Payload:    payload,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("publish event", "type", typ, "session_id", sessionID, "error", err)
	}
}

func redactQuestion(q domain.Question) domain.Question {
	options := make([]domain.Option, len(q.Options))
	for i, opt := range q.Options {
		options[i] = domain.Option{ID: opt.ID, Text: opt.Text}
	}
	if q.Type == domain.ShortAnswer {
		// Option texts of short-answer questions are the accepted answers.
		options = nil
	}
	q.Options = options
	return q
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.Event) error { return nil }

type nopMetrics struct{}

func (nopMetrics) SessionCreated()                        {}
func (nopMetrics) SessionTransition(domain.EventType) {}
func (nopMetrics) JoinAttempt(error)                      {}
func (nopMetrics) AnswerSubmitted(domain.Answer, error)   {}

// logFailure logs rule rejections at debug and unexpected failures at error.
func (s *QuizService) logFailure(ctx context.Context, msg string, err error, args ...any) {
	kind := domain.KindOf(err)
	level := slog.LevelDebug
	if kind == "internal" {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, msg, append(args, "kind", kind, "error", err)...)
}
