package app

import (
	"context"
	"fmt"

	"github.com/Ayash-Bera/intake/internal/api/handlers"
	"github.com/Ayash-Bera/intake/internal/clarifier"
	"github.com/Ayash-Bera/intake/internal/clarify"
	"github.com/Ayash-Bera/intake/internal/config"
	"github.com/Ayash-Bera/intake/internal/database"
	"github.com/Ayash-Bera/intake/internal/enricher"
	"github.com/Ayash-Bera/intake/internal/fakes"
	"github.com/Ayash-Bera/intake/internal/health"
	"github.com/Ayash-Bera/intake/internal/llm"
	"github.com/Ayash-Bera/intake/internal/middleware"
	"github.com/Ayash-Bera/intake/internal/publish"
	"github.com/Ayash-Bera/intake/internal/repository"
	"github.com/Ayash-Bera/intake/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// App holds the wired components shared by the server and the CLI.
type App struct {
	Config    *config.Config
	Manager   *database.Manager
	Store     repository.Store
	Service   *clarify.Service
	Presenter *stream.Presenter
	Health    *health.HealthChecker
	Publisher publish.Publisher
	logger    *logrus.Logger
}

func Build(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	dbConfig := &database.Config{
		RedisURL: cfg.Redis.URL,
		LogLevel: logger.GetLevel().String(),
	}
	if cfg.Storage.Mode == config.StoragePostgres {
		dbConfig.DatabaseURL = cfg.Database.URL
	}
	manager, err := database.NewManager(ctx, dbConfig, logger)
	if err != nil {
		return nil, err
	}
	a.Manager = manager

	if manager.DB != nil {
		a.Store = repository.NewGormStore(manager.DB)
	} else {
		logger.Warn("Using in-memory store; data is lost on restart")
		a.Store = repository.NewMemoryStore()
	}

	questions, theses, err := generators(ctx, cfg, repository.NewLLMCallRecorder(a.Store), logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Publisher = publish.NopPublisher{}
	if cfg.NATS.URL != "" {
		p, err := publish.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Publisher = p
	}

	a.Service = clarify.NewService(a.Store, questions, theses, a.Publisher, clarify.Config{
		MaxQuestions:      cfg.Clarify.MaxQuestions,
		FinalizeThreshold: cfg.Clarify.FinalizeThreshold,
		MinTimeout:        cfg.Clarify.MinTimeout,
		MaxTimeout:        cfg.Clarify.MaxTimeout,
		DefaultTimeout:    cfg.Clarify.DefaultTimeout,
		FeedbackMinLength: cfg.Clarify.FeedbackMinLength,
	}, logger)

	var tracker stream.Tracker
	if manager.Redis != nil {
		tracker = stream.NewRedisTracker(manager.Redis, a.Store, cfg.Stream.MarkerTTL)
	} else {
		tracker = stream.NewMemoryTracker(a.Store, cfg.Stream.MarkerTTL)
	}
	a.Presenter = stream.NewPresenter(a.Service, tracker, stream.Config{
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		DraftETA:          cfg.Stream.DraftETA,
	}, logger)

	a.Health = health.NewHealthChecker(a.probes(), 0, logger)
	return a, nil
}

func generators(ctx context.Context, cfg *config.Config, recorder llm.CallRecorder, logger *logrus.Logger) (clarify.QuestionGenerator, clarify.ThesisGenerator, error) {
	var completer llm.Completer
	switch cfg.LLM.Provider {
	case config.ProviderFake:
		logger.Warn("Using canned question and thesis generators")
		return &fakes.Questions{}, &fakes.Thesis{}, nil
	case config.ProviderGemini:
		c, err := llm.NewGeminiClient(ctx, cfg.LLM.GeminiKey, cfg.LLM.Model, logger)
		if err != nil {
			return nil, nil, err
		}
		completer = c
	case config.ProviderOpenAI:
		completer = llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.OpenAIKey, cfg.LLM.Model, logger)
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}

	completer = llm.NewRecording(completer, cfg.LLM.Provider, cfg.LLM.Model, recorder, logger)
	if cfg.LLM.MaxRetries > 0 {
		rc := llm.DefaultRetryConfig()
		rc.MaxRetries = cfg.LLM.MaxRetries
		completer = llm.NewRetrying(completer, rc, logger)
	}

	return clarifier.New(completer, cfg.ClarifierModel(), cfg.Policy, logger),
		enricher.New(completer, cfg.EnricherModel(), cfg.Policy, logger),
		nil
}

func (a *App) probes() []health.Probe {
	probes := []health.Probe{{Name: "store", Check: a.Store.Ping}}

	redisProbe := health.Probe{Name: "redis"}
	if a.Manager.Redis != nil {
		redisProbe.Check = a.Manager.PingRedis
	}
	probes = append(probes, redisProbe)

	natsProbe := health.Probe{Name: "nats"}
	if p, ok := a.Publisher.(*publish.NATSPublisher); ok {
		natsProbe.Check = func(ctx context.Context) error {
			if !p.Connected() {
				return fmt.Errorf("not connected")
			}
			return nil
		}
	}
	return append(probes, natsProbe)
}

// Router builds the gin engine with middleware and every route.
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(a.logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	r.Use(middleware.NewRateLimiter(a.Config.Server.RateLimit).RateLimit())

	handlers.RegisterRoutes(r,
		handlers.NewClarifyHandler(a.Service, a.logger),
		handlers.NewStreamHandler(a.Service, a.Presenter, a.logger),
		handlers.NewHealthHandler(a.Health),
	)
	return r
}

func (a *App) Close() {
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.Manager != nil {
		if err := a.Manager.Close(); err != nil {
			a.logger.WithError(err).Error("Failed to close database connections")
		}
	}
}
