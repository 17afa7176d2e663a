package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

var testNow = time.Date(2024, 12, 3, 10, 0, 0, 0, time.UTC)

func testQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Mixed",
		// Declared out of order; sessions follow ordinals.
		Questions: []domain.Question{
			{
				ID: "q-sa", Type: domain.ShortAnswer, Prompt: "Capital of France?", Ordinal: 2, TimeLimitSeconds: 20,
				Options: []domain.Option{{ID: "a1", Text: "Paris", Correct: true}},
			},
			{
				ID: "q-mc", Type: domain.MultipleChoice, Prompt: "2 + 2?", Ordinal: 0, TimeLimitSeconds: 30,
				Options: []domain.Option{{ID: "a", Text: "3"}, {ID: "b", Text: "4", Correct: true}},
			},
			{
				ID: "q-tf", Type: domain.TrueFalse, Prompt: "Go has goroutines.", Ordinal: 1, TimeLimitSeconds: 10,
				Options: []domain.Option{{ID: "t", Text: "True", Correct: true}, {ID: "f", Text: "False"}},
			},
		},
	}
}

func newTestService(opts ...app.Option) *app.QuizService {
	sessionStore := memory.NewSessionStore()
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": testQuiz(),
		"empty":  {ID: "empty", Title: "No questions"},
	}), 5*time.Minute)
	opts = append([]app.Option{app.WithClock(func() time.Time { return testNow })}, opts...)
	return app.NewQuizService(sessionStore, quizRepo, opts...)
}

func user(id string) domain.User {
	return domain.User{ID: id, Username: id, FullName: "User " + id}
}

// startedSession creates a session hosted by "host", joins players and starts it.
func startedSession(t *testing.T, service *app.QuizService, players ...string) domain.Session {
	t.Helper()
	ctx := context.Background()
	session, err := service.CreateSession(ctx, user("host"), "quiz-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for _, p := range players {
		if _, err := service.Join(ctx, session.AccessCode, user(p)); err != nil {
			t.Fatalf("join %s: %v", p, err)
		}
	}
	session, err = service.Start(ctx, session.ID, "host")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return session
}

func submit(service *app.QuizService, sessionID, userID, questionID, option, text string, rt int64) (domain.AnswerResult, error) {
	return service.SubmitAnswer(context.Background(), sessionID, user(userID), domain.AnswerSubmission{
		QuestionID:       questionID,
		SelectedOptionID: option,
		TextAnswer:       text,
		ResponseTimeMs:   rt,
	})
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	service := newTestService()

	session, err := service.CreateSession(ctx, user("host"), "quiz-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Status != domain.StatusWaiting || session.CurrentQuestionIndex != 0 || !app.ValidAccessCode(session.AccessCode) {
		t.Fatalf("unexpected new session %+v", session)
	}

	if _, err := service.Join(ctx, session.AccessCode, user("alice")); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := service.Start(ctx, session.ID, "alice"); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}

	session, err = service.Start(ctx, session.ID, "host")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.Status != domain.StatusInProgress || session.StartedAt == nil || !session.StartedAt.Equal(testNow) {
		t.Fatalf("unexpected started session %+v", session)
	}
	if _, err := service.Start(ctx, session.ID, "host"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second start, got %v", err)
	}
	if _, err := service.Join(ctx, session.AccessCode, user("late")); !errors.Is(err, domain.ErrSessionNotJoinable) {
		t.Fatalf("expected ErrSessionNotJoinable, got %v", err)
	}

	q, err := service.CurrentQuestion(ctx, session.ID)
	if err != nil {
		t.Fatalf("current question: %v", err)
	}
	if q.ID != "q-mc" {
		t.Fatalf("first question = %s, want q-mc", q.ID)
	}
	for _, opt := range q.Options {
		if opt.Correct {
			t.Fatalf("current question exposes correct option %s", opt.ID)
		}
	}

	result, err := submit(service, session.ID, "alice", "q-mc", "b", "", 5000)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Answer.Correct || result.Awarded != 350 || result.TotalScore != 350 {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, err := submit(service, session.ID, "alice", "q-mc", "a", "", 100); !errors.Is(err, domain.ErrDuplicateAnswer) {
		t.Fatalf("expected ErrDuplicateAnswer, got %v", err)
	}

	if _, err := service.AdvanceQuestion(ctx, session.ID, "host"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := submit(service, session.ID, "alice", "q-mc", "b", "", 100); !errors.Is(err, domain.ErrQuestionMismatch) {
		t.Fatalf("expected ErrQuestionMismatch for previous question, got %v", err)
	}
	result, err = submit(service, session.ID, "alice", "q-tf", "f", "", 2000)
	if err != nil {
		t.Fatalf("submit tf: %v", err)
	}
	if result.Answer.Correct || result.Awarded != 0 || result.TotalScore != 350 {
		t.Fatalf("wrong answer should score zero, got %+v", result)
	}

	if _, err := service.AdvanceQuestion(ctx, session.ID, "host"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	result, err = submit(service, session.ID, "alice", "q-sa", "", "  paris  ", 20000)
	if err != nil {
		t.Fatalf("submit short answer: %v", err)
	}
	if !result.Answer.Correct || result.Awarded != 100 || result.TotalScore != 450 {
		t.Fatalf("unexpected short answer result %+v", result)
	}

	// Advancing past the last question is allowed; nothing is answerable.
	session, err = service.AdvanceQuestion(ctx, session.ID, "host")
	if err != nil {
		t.Fatalf("advance past end: %v", err)
	}
	if session.CurrentQuestionIndex != 3 {
		t.Fatalf("index = %d, want 3", session.CurrentQuestionIndex)
	}
	if _, err := service.CurrentQuestion(ctx, session.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected no current question, got %v", err)
	}
	if _, err := submit(service, session.ID, "alice", "q-sa", "", "paris", 100); !errors.Is(err, domain.ErrQuestionMismatch) {
		t.Fatalf("expected ErrQuestionMismatch after last question, got %v", err)
	}

	session, err = service.End(ctx, session.ID, "host")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if session.Status != domain.StatusCompleted || session.EndedAt == nil {
		t.Fatalf("unexpected ended session %+v", session)
	}
	if _, err := service.End(ctx, session.ID, "host"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second end, got %v", err)
	}
	if _, err := service.AdvanceQuestion(ctx, session.ID, "host"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on advance after end, got %v", err)
	}
	if _, err := submit(service, session.ID, "alice", "q-sa", "", "paris", 100); !errors.Is(err, domain.ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
}

func TestEndWaitingSession(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	session, err := service.CreateSession(ctx, user("host"), "quiz-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	session, err = service.End(ctx, session.ID, "host")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if session.Status != domain.StatusCompleted || session.StartedAt != nil {
		t.Fatalf("unexpected session %+v", session)
	}
	if _, err := service.Start(ctx, session.ID, "host"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestJoinRules(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	session, err := service.CreateSession(ctx, user("host"), "quiz-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	p, err := service.Join(ctx, " "+strings.ToLower(session.AccessCode)+" ", user("alice"))
	if err != nil {
		t.Fatalf("join with lowercase code: %v", err)
	}
	if p.Score != 0 || p.SessionID != session.ID || p.Username != "alice" {
		t.Fatalf("unexpected participant %+v", p)
	}
	if _, err := service.Join(ctx, session.AccessCode, user("alice")); !errors.Is(err, domain.ErrAlreadyJoined) {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}
	if _, err := service.Join(ctx, "ZZZZZZ", user("bob")); !errors.Is(err, domain.ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound, got %v", err)
	}
	if _, err := service.Join(ctx, "nope", user("bob")); !errors.Is(err, domain.ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound for malformed code, got %v", err)
	}
	if _, err := service.JoinSession(ctx, "missing", user("bob")); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSubmitPreconditions(t *testing.T) {
	ctx := context.Background()
	service := newTestService()

	waiting, err := service.CreateSession(ctx, user("host"), "quiz-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := service.Join(ctx, waiting.AccessCode, user("alice")); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := submit(service, waiting.ID, "alice", "q-mc", "b", "", 100); !errors.Is(err, domain.ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}

	session := startedSession(t, service, "alice")
	cases := []struct {
		name     string
		userID   string
		question string
		option   string
		text     string
		rt       int64
		want     error
	}{
		{"not a participant", "mallory", "q-mc", "b", "", 100, domain.ErrParticipantNotFound},
		{"not the current question", "alice", "q-tf", "t", "", 100, domain.ErrQuestionMismatch},
		{"unknown question", "alice", "q-x", "t", "", 100, domain.ErrQuestionMismatch},
		{"missing option", "alice", "q-mc", "", "", 100, domain.ErrValidation},
		{"text on option question", "alice", "q-mc", "b", "4", 100, domain.ErrValidation},
		{"unknown option", "alice", "q-mc", "zz", "", 100, domain.ErrOptionNotFound},
		{"negative response time", "alice", "q-mc", "b", "", -1, domain.ErrValidation},
		{"response time over limit", "alice", "q-mc", "b", "", 30001, domain.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := submit(service, session.ID, tc.userID, tc.question, tc.option, tc.text, tc.rt); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	// Rejected submissions leave no answer behind.
	result, err := submit(service, session.ID, "alice", "q-mc", "b", "", 30000)
	if err != nil {
		t.Fatalf("submit at the limit: %v", err)
	}
	if result.Awarded != 100 {
		t.Fatalf("awarded = %d, want 100", result.Awarded)
	}
}

func TestShortAnswerShape(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	session := startedSession(t, service, "alice")
	for i := 0; i < 2; i++ {
		if _, err := service.AdvanceQuestion(ctx, session.ID, "host"); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	if _, err := submit(service, session.ID, "alice", "q-sa", "a1", "", 100); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for option on short answer, got %v", err)
	}
	if _, err := submit(service, session.ID, "alice", "q-sa", "", "   ", 100); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for blank text, got %v", err)
	}
	q, err := service.CurrentQuestion(ctx, session.ID)
	if err != nil {
		t.Fatalf("current question: %v", err)
	}
	if len(q.Options) != 0 {
		t.Fatalf("short answer question leaks accepted answers: %+v", q.Options)
	}
}

func TestLatencyGrace(t *testing.T) {
	service := newTestService(app.WithScoringPolicy(app.ScoringPolicy{LatencyGrace: 500 * time.Millisecond}))
	session := startedSession(t, service, "alice")
	result, err := submit(service, session.ID, "alice", "q-mc", "b", "", 30400)
	if err != nil {
		t.Fatalf("submit within grace: %v", err)
	}
	if result.Awarded != 100 {
		t.Fatalf("awarded = %d, want base points only", result.Awarded)
	}
}

func TestConcurrentJoinSameUser(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	session, err := service.CreateSession(ctx, user("host"), "quiz-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		dupes     atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Join(ctx, session.AccessCode, user("alice"))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domain.ErrAlreadyJoined):
				dupes.Add(1)
			default:
				t.Errorf("unexpected join error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes.Load() != 1 || dupes.Load() != 31 {
		t.Fatalf("successes=%d dupes=%d, want 1/31", successes.Load(), dupes.Load())
	}
}

func TestConcurrentSubmitSameAnswer(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	session := startedSession(t, service, "alice", "bob")

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := submit(service, session.ID, "alice", "q-mc", "b", "", 5000)
			if err == nil {
				successes.Add(1)
			} else if !errors.Is(err, domain.ErrDuplicateAnswer) {
				t.Errorf("unexpected submit error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes.Load() != 1 {
		t.Fatalf("successes = %d, want 1", successes.Load())
	}

	board, err := service.Leaderboard(ctx, session.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if board.Entries[0].UserID != "alice" || board.Entries[0].Score != 350 || board.Entries[0].AnswerCount != 1 {
		t.Fatalf("score applied more than once: %+v", board.Entries[0])
	}
}

func TestLeaderboardOrderingAndStats(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	session := startedSession(t, service, "carl", "bob", "alice")

	for _, id := range []string{"bob", "alice"} {
		if _, err := submit(service, session.ID, id, "q-mc", "b", "", 5000); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}

	board, err := service.Leaderboard(ctx, session.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(board.Entries))
	}
	want := []string{"alice", "bob", "carl"}
	for i, e := range board.Entries {
		if e.UserID != want[i] || e.Rank != i+1 {
			t.Fatalf("entry %d = %+v, want %s at rank %d", i, e, want[i], i+1)
		}
	}
	alice := board.Entries[0]
	if alice.Accuracy != 100 || alice.AverageTime != 5 || alice.CorrectCount != 1 {
		t.Fatalf("unexpected stats %+v", alice)
	}
	carl := board.Entries[2]
	if carl.Score != 0 || carl.AnswerCount != 0 || carl.Accuracy != 0 || carl.AverageTime != 0 {
		t.Fatalf("unexpected zero-answer stats %+v", carl)
	}
	if board.SessionID != session.ID || !board.GeneratedAt.Equal(testNow) {
		t.Fatalf("unexpected board header %+v", board)
	}

	if _, err := service.Leaderboard(ctx, "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCreateSessionRetriesCodeCollision(t *testing.T) {
	ctx := context.Background()
	codes := []string{"AAAAAA", "AAAAAA", "AAAAAA", "BBBBBB"}
	var next atomic.Int32
	gen := func() (string, error) {
		return codes[int(next.Add(1))-1], nil
	}
	service := newTestService(app.WithCodeGenerator(gen))

	first, err := service.CreateSession(ctx, user("host"), "quiz-1")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := service.CreateSession(ctx, user("host"), "quiz-1")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first.AccessCode != "AAAAAA" || second.AccessCode != "BBBBBB" {
		t.Fatalf("codes = %s, %s", first.AccessCode, second.AccessCode)
	}

	limited := newTestService(
		app.WithCodeGenerator(func() (string, error) { return "CCCCCC", nil }),
		app.WithAccessCodeAttempts(2),
	)
	if _, err := limited.CreateSession(ctx, user("host"), "quiz-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := limited.CreateSession(ctx, user("host"), "quiz-1"); !errors.Is(err, domain.ErrAccessCodeTaken) {
		t.Fatalf("expected ErrAccessCodeTaken after retries, got %v", err)
	}
}

func TestCreateSessionRejectsBadQuiz(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	if _, err := service.CreateSession(ctx, user("host"), "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
	if _, err := service.CreateSession(ctx, user("host"), "empty"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.EventType
	fail   bool
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e.Type)
	if p.fail {
		return errors.New("broker down")
	}
	return nil
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	pub := &recordingPublisher{fail: true}
	service := newTestService(app.WithPublisher(pub))
	session := startedSession(t, service, "alice")
	if _, err := submit(service, session.ID, "alice", "q-mc", "a", "", 100); err != nil {
		t.Fatalf("submit despite failing publisher: %v", err)
	}
	if _, err := submit(service, session.ID, "alice", "q-mc", "b", "", 100); err == nil {
		t.Fatalf("expected duplicate rejection")
	}

	want := []domain.EventType{
		domain.EventSessionCreated,
		domain.EventParticipantJoined,
		domain.EventSessionStarted,
		domain.EventAnswerRecorded,
	}
	if len(pub.events) != len(want) {
		t.Fatalf("events = %v, want %v", pub.events, want)
	}
	for i := range want {
		if pub.events[i] != want[i] {
			t.Fatalf("events = %v, want %v", pub.events, want)
		}
	}
}
