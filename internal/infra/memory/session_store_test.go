package memory

import (
	"context"
	"testing"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/storetest"
)

func TestSessionStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) app.SessionStore { return NewSessionStore() })
}

func TestSessionStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	session := domain.Session{ID: "s1", AccessCode: "ABC123", Status: domain.StatusInProgress, QuestionIDs: []string{"q1", "q2"}}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}
	session.QuestionIDs[0] = "tampered"

	got, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.QuestionIDs[1] = "tampered"

	again, _ := store.GetSession(ctx, "s1")
	if again.QuestionIDs[0] != "q1" || again.QuestionIDs[1] != "q2" {
		t.Fatalf("store shares question ids with callers: %v", again.QuestionIDs)
	}
}

func TestListAnswersEmptySession(t *testing.T) {
	store := NewSessionStore()
	if err := store.CreateSession(context.Background(), domain.Session{ID: "s1", AccessCode: "ABC123"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	answers, err := store.ListAnswers(context.Background(), "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(answers) != 0 {
		t.Fatalf("answers = %v", answers)
	}
}
