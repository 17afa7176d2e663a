package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/events"
	"live-quiz-service/internal/infra/memory"
	pgstore "live-quiz-service/internal/infra/postgres"
	redisstore "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/metrics"
	transport "live-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// backends holds the connections opened for a run; close releases them.
type backends struct {
	redis     *redis.Client
	pool      *pgxpool.Pool
	publisher *events.AMQPPublisher
}

func (b *backends) close() {
	if b.publisher != nil {
		_ = b.publisher.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := slog.Default()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	b, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	store, quizRepo := buildStores(cfg, b)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var publisher app.EventPublisher = events.NewLogPublisher(logger)
	if b.publisher != nil {
		publisher = b.publisher
	}

	service := app.NewQuizService(store, quizRepo,
		app.WithPublisher(publisher),
		app.WithMetrics(metrics.New(reg)),
		app.WithLogger(logger),
		app.WithAccessCodeAttempts(cfg.AccessCode.MaxAttempts),
		app.WithScoringPolicy(app.ScoringPolicy{
			LatencyGrace: config.TTLDuration(cfg.Scoring.LatencyGrace, 0),
		}),
	)
	handler := transport.NewQuizHandler(service, logger)
	router := transport.NewRouter(handler, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting quiz service", "port", finalPort, "store", cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// connect opens the clients the config asks for.
func connect(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}
	if cfg.Redis.Addr != "" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.pool = pool
	}
	if cfg.AMQP.URL != "" {
		pub, err := events.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			b.close()
			return nil, err
		}
		b.publisher = pub
	}
	return b, nil
}

// buildStores picks the session store named by store.driver and layers the
// quiz cache (Redis when available, else in-process) over the quiz loader.
func buildStores(cfg config.Config, b *backends) (app.SessionStore, app.QuizRepository) {
	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if b.pool != nil {
		loader = pgstore.NewQuizLoader(b.pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if b.redis != nil {
		quizRepo = redisstore.NewQuizRepository(b.redis, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var store app.SessionStore
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		store = pgstore.NewSessionStore(b.pool)
	case config.DriverRedis:
		store = redisstore.NewSessionStore(b.redis, config.TTLDuration(cfg.Redis.TTL, 6*time.Hour))
	default:
		store = memory.NewSessionStore()
	}
	return store, quizRepo
}

// sampleQuizzes seeds the static loader when no database is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:               "q1",
					Type:             domain.MultipleChoice,
					Prompt:           "What is 2 + 2?",
					Ordinal:          0,
					TimeLimitSeconds: 30,
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
				},
				{
					ID:               "q2",
					Type:             domain.TrueFalse,
					Prompt:           "Go has generics.",
					Ordinal:          1,
					TimeLimitSeconds: 15,
					Options: []domain.Option{
						{ID: "t", Text: "True", Correct: true},
						{ID: "f", Text: "False"},
					},
				},
				{
					ID:               "q3",
					Type:             domain.ShortAnswer,
					Prompt:           "Capital of France?",
					Ordinal:          2,
					TimeLimitSeconds: 20,
					Options:          []domain.Option{{ID: "a1", Text: "Paris", Correct: true}},
				},
			},
		},
	}
}
