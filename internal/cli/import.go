package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	pgstore "live-quiz-service/internal/infra/postgres"
	redisstore "live-quiz-service/internal/infra/redis"
)

type quizSaver interface {
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
}

type quizInvalidator interface {
	Invalidate(ctx context.Context, quizID string) error
}

// NewImportCmd loads quizzes from a JSON file into Postgres and drops their
// Redis cache entries when Redis is configured.
func NewImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <quizzes.json>",
		Short: "Validate and upsert quizzes from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			quizzes, err := readQuizzes(args[0])
			if err != nil {
				return err
			}
			if err := runMigrationsWithConfig(cmd.Context(), cfg); err != nil {
				return err
			}

			pool, err := pgxpool.Connect(cmd.Context(), cfg.Postgres.URL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			var cache quizInvalidator
			if cfg.Redis.Addr != "" {
				client := redis.NewClient(&redis.Options{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				})
				defer client.Close()
				cache = redisstore.NewQuizRepository(client, nil, 0)
			}
			return importQuizzes(cmd.Context(), pgstore.NewQuizLoader(pool), cache, quizzes)
		},
	}
}

// importQuizzes saves each quiz and, when cache is set, evicts its cached copy
// so running servers reload it.
func importQuizzes(ctx context.Context, saver quizSaver, cache quizInvalidator, quizzes []domain.Quiz) error {
	for _, quiz := range quizzes {
		if err := saver.SaveQuiz(ctx, quiz); err != nil {
			return err
		}
		if cache != nil {
			if err := cache.Invalidate(ctx, quiz.ID); err != nil {
				return fmt.Errorf("invalidate cached quiz %s: %w", quiz.ID, err)
			}
		}
		slog.Info("quiz imported", "quiz_id", quiz.ID, "questions", len(quiz.Questions))
	}
	return nil
}

// readQuizzes decodes and validates every quiz in path before anything is written.
func readQuizzes(path string) ([]domain.Quiz, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var quizzes []domain.Quiz
	if err := json.Unmarshal(data, &quizzes); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for _, quiz := range quizzes {
		if err := app.ValidateQuiz(quiz); err != nil {
			return nil, err
		}
	}
	return quizzes, nil
}
