package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/da-sie/openai-assistant/internal/assistant"
	"github.com/da-sie/openai-assistant/internal/assistantapi"
	"github.com/da-sie/openai-assistant/internal/knowledge"
	"github.com/da-sie/openai-assistant/internal/notify"
	"github.com/da-sie/openai-assistant/internal/queue"
	"github.com/da-sie/openai-assistant/internal/run"
	"github.com/da-sie/openai-assistant/internal/search"
	"github.com/da-sie/openai-assistant/internal/storage"
	"github.com/da-sie/openai-assistant/pkg/config"
)

const checkRunTimeout = time.Minute

// app holds every component of one process.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store storage.Storage
	api   assistantapi.API
	rdb   *redis.Client
	pub   notify.Publisher
	jobs  queue.Queue

	assistants *assistant.Service
	knowledge  *knowledge.Manager
	dispatcher *run.Dispatcher
	poller     *run.Poller
	streamer   *run.Streamer
	sync       *run.SyncDriver
	search     *search.Searcher
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	cfg, logger := a.cfg, a.logger

	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		a.store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		store, err := storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		a.store = store
	}

	a.api = assistantapi.NewClient(assistantapi.Config{
		APIKey:            cfg.OpenAI.APIKey,
		Organization:      cfg.OpenAI.Organization,
		BaseURL:           cfg.OpenAI.BaseURL,
		RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
		Burst:             cfg.OpenAI.Burst,
	}, logger)

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		a.rdb = redis.NewClient(opts)
	}

	switch cfg.Notify.Driver {
	case "redis":
		a.pub = notify.NewRedisPublisher(a.rdb)
	case "nats":
		pub, err := notify.NewNATSPublisher(cfg.NATS.URL, logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		a.pub = pub
	default:
		a.pub = notify.NewMemoryPublisher()
	}

	switch cfg.Queue.Driver {
	case "redis":
		a.jobs = queue.NewRedisQueue(a.rdb, cfg.Redis.QueueKey)
	default:
		a.jobs = queue.NewMemoryQueue()
	}

	notifier := notify.NewNotifier(a.pub, logger)
	tools := run.PlaceholderExecutor{}

	a.sync = run.NewSyncDriver(a.store, a.api, tools, run.WaitOptions{Interval: cfg.Run.SyncPollInterval}, logger)
	a.dispatcher = run.NewDispatcher(a.store, a.api, a.jobs, notifier, run.Strategy(cfg.Run.Strategy), logger)
	a.poller = run.NewPoller(a.store, a.api, a.jobs, notifier, tools, run.PollerConfig{
		RecheckDelay: cfg.Run.RecheckDelay,
		StepPageSize: cfg.Run.StepPageSize,
	}, logger)
	a.streamer = run.NewStreamer(a.store, a.api, notifier, tools, run.StreamerConfig{Timeout: cfg.Run.StreamTimeout}, logger)

	a.knowledge = knowledge.NewManager(a.store, a.api, knowledge.Config{UploadConcurrency: cfg.Knowledge.UploadConcurrency}, logger)
	a.search = search.NewSearcher(a.store, a.api, a.sync, search.Config{
		MaxAttempts: cfg.Search.MaxAttempts,
		Interval:    cfg.Search.Interval,
	}, logger)
	a.assistants = assistant.NewService(a.store, a.api, a.sync, assistant.Config{
		Engine:          cfg.Assistant.Engine,
		InitialMessage:  cfg.Assistant.InitialMessage,
		MaxAssistantAge: cfg.Maintenance.MaxAssistantAge,
	}, logger)
	return nil
}

// newWorker routes every job kind. Only the handler of the configured strategy
// receives run jobs, since the dispatcher only schedules that kind.
func (a *app) newWorker() *queue.Worker {
	w := queue.NewWorker(a.jobs, queue.WorkerConfig{PollInterval: a.cfg.Redis.PollInterval}, a.logger)
	switch run.Strategy(a.cfg.Run.Strategy) {
	case run.StrategyStreaming:
		w.Handle(queue.KindStreamRun, a.streamer.HandleJob, a.cfg.Run.StreamTimeout)
	default:
		w.Handle(queue.KindCheckRun, a.poller.HandleJob, checkRunTimeout)
	}
	a.assistants.RegisterMaintenance(w, 10*time.Minute)
	return w
}

func (a *app) Close() {
	if a.jobs != nil {
		a.jobs.Close()
	}
	if a.pub != nil {
		if err := a.pub.Close(); err != nil {
			a.logger.Warn("Failed to close publisher", zap.Error(err))
		}
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	a.logger.Sync()
}

// schedule enqueues a maintenance job, or runs it inline when jobs live in memory.
func (a *app) schedule(ctx context.Context, job queue.Job) error {
	if err := a.jobs.Schedule(ctx, job, 0); err != nil {
		return err
	}
	if a.cfg.Queue.Driver != "memory" {
		a.logger.Info("Job scheduled", zap.String("kind", string(job.Kind)))
		return nil
	}
	_, err := a.newWorker().RunOnce(ctx)
	return err
}
