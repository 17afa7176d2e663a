// Package storetest holds behaviour checks shared by every app.SessionStore
// implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) app.SessionStore

// Run exercises store against the SessionStore contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndLookup", func(t *testing.T) { testCreateAndLookup(t, newStore(t)) })
	t.Run("UpdateSession", func(t *testing.T) { testUpdateSession(t, newStore(t)) })
	t.Run("AddParticipant", func(t *testing.T) { testAddParticipant(t, newStore(t)) })
	t.Run("RecordAnswer", func(t *testing.T) { testRecordAnswer(t, newStore(t)) })
	t.Run("ConcurrentAnswers", func(t *testing.T) { testConcurrentAnswers(t, newStore(t)) })
}

var base = time.Date(2024, 12, 3, 10, 0, 0, 0, time.UTC)

func newSession(id, code string) domain.Session {
	return domain.Session{
		ID:         id,
		QuizID:     "quiz-1",
		HostID:     "host",
		AccessCode: code,
		Status:     domain.StatusWaiting,
		CreatedAt:  base,
	}
}

func newParticipant(sessionID, userID string, joined time.Time) domain.Participant {
	return domain.Participant{
		ID:        sessionID + "-" + userID,
		SessionID: sessionID,
		UserID:    userID,
		Username:  userID,
		FullName:  "User " + userID,
		JoinedAt:  joined,
	}
}

func admitWaiting(s domain.Session) error {
	if s.Status != domain.StatusWaiting {
		return domain.ErrSessionNotJoinable
	}
	return nil
}

func start(t *testing.T, store app.SessionStore, sessionID string) {
	t.Helper()
	_, err := store.UpdateSession(context.Background(), sessionID, func(s *domain.Session) error {
		started := base.Add(time.Minute)
		s.Status = domain.StatusInProgress
		s.StartedAt = &started
		s.QuestionIDs = []string{"q1", "q2"}
		return nil
	})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
}

// answerFor returns a preparer that answers questionID for p with points,
// refusing duplicates through the store's lookup.
func answerFor(p domain.Participant, id, questionID string, points int) app.AnswerPreparer {
	return func(s domain.Session, answered app.AnswerLookup) (domain.Answer, error) {
		if s.Status != domain.StatusInProgress {
			return domain.Answer{}, domain.ErrSessionNotActive
		}
		done, err := answered(questionID)
		if err != nil {
			return domain.Answer{}, err
		}
		if done {
			return domain.Answer{}, domain.ErrDuplicateAnswer
		}
		return domain.Answer{
			ID:               id,
			SessionID:        s.ID,
			ParticipantID:    p.ID,
			QuestionID:       questionID,
			SelectedOptionID: "o1",
			Correct:          points > 0,
			Points:           points,
			ResponseTimeMs:   1500,
			AnsweredAt:       base.Add(2 * time.Minute),
		}, nil
	}
}

func testCreateAndLookup(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	if err := store.CreateSession(ctx, newSession("s1", "ABC123")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateSession(ctx, newSession("s2", "ABC123")); !errors.Is(err, domain.ErrAccessCodeTaken) {
		t.Fatalf("expected ErrAccessCodeTaken, got %v", err)
	}

	got, err := store.FindSessionByCode(ctx, "ABC123")
	if err != nil {
		t.Fatalf("find by code: %v", err)
	}
	if got.ID != "s1" || got.Status != domain.StatusWaiting || got.HostID != "host" || !got.CreatedAt.Equal(base) {
		t.Fatalf("unexpected session %+v", got)
	}
	if _, err := store.FindSessionByCode(ctx, "ZZZ999"); !errors.Is(err, domain.ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound, got %v", err)
	}
	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func testUpdateSession(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	if err := store.CreateSession(ctx, newSession("s1", "UPD001")); err != nil {
		t.Fatalf("create: %v", err)
	}

	rejected := errors.New("rejected")
	_, err := store.UpdateSession(ctx, "s1", func(s *domain.Session) error {
		s.Status = domain.StatusCompleted
		return rejected
	})
	if !errors.Is(err, rejected) {
		t.Fatalf("expected mutate error, got %v", err)
	}
	got, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusWaiting {
		t.Fatalf("failed mutation was persisted: %+v", got)
	}

	start(t, store, "s1")
	updated, err := store.UpdateSession(ctx, "s1", func(s *domain.Session) error {
		s.CurrentQuestionIndex++
		return nil
	})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	got, err = store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentQuestionIndex != 1 || updated.CurrentQuestionIndex != 1 || len(got.QuestionIDs) != 2 || got.StartedAt == nil {
		t.Fatalf("unexpected session after advance %+v", got)
	}

	if _, err := store.UpdateSession(ctx, "missing", func(*domain.Session) error { return nil }); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func testAddParticipant(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	if err := store.CreateSession(ctx, newSession("s1", "JON001")); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i, userID := range []string{"carl", "alice"} {
		if _, err := store.AddParticipant(ctx, newParticipant("s1", userID, base.Add(time.Duration(i)*time.Second)), admitWaiting); err != nil {
			t.Fatalf("add %s: %v", userID, err)
		}
	}
	dup := newParticipant("s1", "alice", base)
	dup.ID = "another-id"
	if _, err := store.AddParticipant(ctx, dup, admitWaiting); !errors.Is(err, domain.ErrAlreadyJoined) {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}

	participants, err := store.ListParticipants(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(participants) != 2 || participants[0].UserID != "carl" || participants[1].UserID != "alice" {
		t.Fatalf("unexpected participants %+v", participants)
	}
	if _, err := store.GetParticipant(ctx, "s1", "bob"); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}

	start(t, store, "s1")
	if _, err := store.AddParticipant(ctx, newParticipant("s1", "late", base), admitWaiting); !errors.Is(err, domain.ErrSessionNotJoinable) {
		t.Fatalf("expected ErrSessionNotJoinable, got %v", err)
	}
	if _, err := store.GetParticipant(ctx, "s1", "late"); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("rejected participant was stored: %v", err)
	}
}

func testRecordAnswer(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	if err := store.CreateSession(ctx, newSession("s1", "ANS001")); err != nil {
		t.Fatalf("create: %v", err)
	}
	p, err := store.AddParticipant(ctx, newParticipant("s1", "alice", base), admitWaiting)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, _, err := store.RecordAnswer(ctx, p, answerFor(p, "a0", "q1", 300)); !errors.Is(err, domain.ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive before start, got %v", err)
	}
	start(t, store, "s1")

	answer, updated, err := store.RecordAnswer(ctx, p, answerFor(p, "a1", "q1", 350))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if answer.Points != 350 || updated.Score != 350 {
		t.Fatalf("answer=%+v participant=%+v", answer, updated)
	}
	if _, _, err := store.RecordAnswer(ctx, p, answerFor(p, "a2", "q1", 350)); !errors.Is(err, domain.ErrDuplicateAnswer) {
		t.Fatalf("expected ErrDuplicateAnswer, got %v", err)
	}
	if _, updated, err = store.RecordAnswer(ctx, p, answerFor(p, "a3", "q2", 0)); err != nil {
		t.Fatalf("record q2: %v", err)
	}
	if updated.Score != 350 {
		t.Fatalf("score = %d, want 350", updated.Score)
	}

	stored, err := store.GetParticipant(ctx, "s1", "alice")
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if stored.Score != 350 {
		t.Fatalf("stored score = %d, want 350", stored.Score)
	}
	answers, err := store.ListAnswers(ctx, "s1")
	if err != nil {
		t.Fatalf("list answers: %v", err)
	}
	if len(answers) != 2 {
		t.Fatalf("answers = %+v, want 2", answers)
	}
	for _, a := range answers {
		if a.ParticipantID != p.ID || a.SessionID != "s1" || a.ResponseTimeMs != 1500 {
			t.Fatalf("unexpected answer %+v", a)
		}
	}
}

func testConcurrentAnswers(t *testing.T, store app.SessionStore) {
	ctx := context.Background()
	if err := store.CreateSession(ctx, newSession("s1", "CON001")); err != nil {
		t.Fatalf("create: %v", err)
	}
	const players = 4
	participants := make([]domain.Participant, players)
	for i := range participants {
		p, err := store.AddParticipant(ctx, newParticipant("s1", fmt.Sprintf("u%d", i), base), admitWaiting)
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		participants[i] = p
	}
	start(t, store, "s1")

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for _, p := range participants {
		for attempt := 0; attempt < 4; attempt++ {
			wg.Add(1)
			go func(p domain.Participant, attempt int) {
				defer wg.Done()
				_, _, err := store.RecordAnswer(ctx, p, answerFor(p, fmt.Sprintf("%s-%d", p.ID, attempt), "q1", 100))
				switch {
				case err == nil:
					successes.Add(1)
				case errors.Is(err, domain.ErrDuplicateAnswer):
				default:
					t.Errorf("record: %v", err)
				}
			}(p, attempt)
		}
	}
	wg.Wait()

	if got := successes.Load(); got != players {
		t.Fatalf("successes = %d, want %d", got, players)
	}
	for _, p := range participants {
		stored, err := store.GetParticipant(ctx, "s1", p.UserID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.Score != 100 {
			t.Fatalf("%s score = %d, want 100", p.UserID, stored.Score)
		}
	}
}
