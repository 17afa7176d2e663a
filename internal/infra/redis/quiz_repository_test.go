package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

func TestQuizRepositoryCachesInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := newClient(mr)

	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(client, loader, time.Minute)

	quiz, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected loader called once, got %d", loader.count())
	}
	if len(quiz.Questions) != 1 || quiz.Questions[0].TimeLimitSeconds != 30 {
		t.Fatalf("unexpected quiz %+v", quiz)
	}
	if !mr.Exists("quiz:quiz-1:content") {
		t.Fatalf("expected cached content key")
	}
	if ttl := mr.TTL("quiz:quiz-1:content"); ttl < time.Minute || ttl > time.Minute+6*time.Second {
		t.Fatalf("ttl = %v, want a minute plus jitter", ttl)
	}

	// Second call should hit cache, loader not incremented.
	cached, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get cached quiz: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.count())
	}
	if cached.Questions[0].Options[1].Correct != true {
		t.Fatalf("cached quiz lost correctness flags: %+v", cached.Questions[0].Options)
	}

	if err := repo.Invalidate(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if loader.count() != 2 {
		t.Fatalf("expected reload after invalidate, loader calls=%d", loader.count())
	}
}

func TestQuizRepositoryMissIsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	loader := &countingLoader{QuizLoader: memory.NewStaticQuizLoader(nil)}
	repo := NewQuizRepository(newClient(mr), loader, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := repo.GetQuiz(context.Background(), "nope"); err != domain.ErrQuizNotFound {
			t.Fatalf("expected ErrQuizNotFound, got %v", err)
		}
	}
	if loader.count() != 2 {
		t.Fatalf("missing quiz should not be cached, loader calls=%d", loader.count())
	}
}

func TestQuizRepositoryZeroTTLDisablesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}),
	}
	repo := NewQuizRepository(newClient(mr), loader, 0)

	for i := 0; i < 2; i++ {
		if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
			t.Fatalf("get quiz: %v", err)
		}
	}
	if loader.count() != 2 {
		t.Fatalf("zero ttl should load every time, loader calls=%d", loader.count())
	}
	if mr.Exists("quiz:quiz-1:content") {
		t.Fatalf("zero ttl should not write the cache")
	}
}

func TestQuizRepositoryCorruptEntryReloads(t *testing.T) {
	mr := miniredis.RunT(t)
	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}),
	}
	if err := mr.Set("quiz:quiz-1:content", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	repo := NewQuizRepository(newClient(mr), loader, time.Minute)
	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected reload of corrupt entry, loader calls=%d", loader.count())
	}
}

type countingLoader struct {
	memory.QuizLoader
	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				ID:               "q1",
				Type:             domain.MultipleChoice,
				Prompt:           "What is 2 + 2?",
				TimeLimitSeconds: 30,
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
				},
			},
		},
	}
}
