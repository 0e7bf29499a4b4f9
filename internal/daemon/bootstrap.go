package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/academyhq/academy/internal/accrual"
	"github.com/academyhq/academy/internal/config"
	"github.com/academyhq/academy/internal/content"
	"github.com/academyhq/academy/internal/domain"
	"github.com/academyhq/academy/internal/grading"
	"github.com/academyhq/academy/internal/llm"
	"github.com/academyhq/academy/internal/progress"
	"github.com/academyhq/academy/internal/queue"
	"github.com/academyhq/academy/internal/storage/local"
	"github.com/academyhq/academy/internal/storage/postgres"
	"github.com/academyhq/academy/internal/storage/redis"
	"github.com/academyhq/academy/internal/storage/sqlite"
)

const (
	workRecordCollection = "work_records"
	shutdownTimeout      = 30 * time.Second
	pruneInterval        = 24 * time.Hour
)

// Runtime is a fully wired daemon: the HTTP server plus the background
// loops that feed and drain progress events
type Runtime struct {
	Server  *Server
	Tracker *progress.Tracker
	Catalog *content.Registry
	Ticker  *accrual.Ticker

	history   *sqlite.EventLog
	retention time.Duration
	outbox    *queue.Outbox
	consumer  *queue.Consumer
	closers   []func() error
}

// Bootstrap builds a Runtime from configuration. On error every resource
// opened so far is closed.
func Bootstrap(ctx context.Context, cfg *config.LocalConfig) (_ *Runtime, err error) {
	rt := &Runtime{}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	store, err := rt.openRecordStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// without content the tracker records progress unvalidated
	var source progress.AssignmentSource
	rt.Catalog = content.NewRegistry(content.NewLoader(cfg.Content.Path))
	if err := rt.Catalog.Load(); err != nil {
		slog.Warn("failed to load content, exercise and step ids are not validated",
			"path", cfg.Content.Path, "error", err)
	} else {
		source = rt.Catalog
	}

	events := domain.NewEventDispatcher()
	if err := rt.setupEvents(ctx, cfg, events); err != nil {
		return nil, err
	}

	rt.Tracker = progress.NewTracker(store, progress.TrackerConfig{
		LearnerID: cfg.Tracker.LearnerID,
		Source:    source,
		Events:    events,
	})

	grader, providers, err := rt.setupGrader(cfg)
	if err != nil {
		return nil, err
	}

	serverCfg := ServerConfig{
		Config:    cfg,
		Tracker:   rt.Tracker,
		Catalog:   rt.Catalog,
		Grader:    grader,
		Providers: providers,
	}
	if rt.history != nil {
		serverCfg.History = rt.history
	}
	rt.Server = NewServer(serverCfg)

	rt.Ticker = accrual.NewTicker(rt.Tracker, rt.Server.Active(), accrual.Config{
		Period: cfg.Tracker.TickPeriod(),
		MaxGap: cfg.Tracker.MaxGap(),
	})
	return rt, nil
}

// openRecordStore selects the work record backend
func (rt *Runtime) openRecordStore(ctx context.Context, cfg *config.LocalConfig) (progress.RecordStore, error) {
	learner := cfg.Tracker.LearnerID

	switch cfg.Storage.Backend {
	case config.StorageLocal, "":
		st, err := local.NewStore(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open local store: %w", err)
		}
		slog.Info("using local storage", "path", st.Path())
		return st.Collection(workRecordCollection), nil

	case config.StorageSQLite:
		db, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		slog.Info("using sqlite storage", "path", cfg.Storage.Path)
		return sqlite.NewWorkRecordStore(db, learner), nil

	case config.StoragePostgres:
		pool, err := postgres.Connect(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		slog.Info("using postgres storage")
		return postgres.NewWorkRecordStore(pool, learner), nil

	case config.StorageRedis:
		rdb, err := redis.Dial(ctx, redis.Config{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, rdb.Close)
		slog.Info("using redis storage", "addr", cfg.Storage.Redis.Addr)
		return redis.NewWorkRecordStore(rdb, cfg.Storage.Redis.Prefix, learner), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// setupEvents subscribes the event history, the broker outbox and the
// journal consumer, each only when configured
func (rt *Runtime) setupEvents(ctx context.Context, cfg *config.LocalConfig, events *domain.EventDispatcher) error {
	ev := cfg.Events

	if ev.History {
		db, err := sqlite.Open(ev.HistoryPath)
		if err != nil {
			return fmt.Errorf("open event history: %w", err)
		}
		rt.closers = append(rt.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate event history: %w", err)
		}
		rt.history = sqlite.NewEventLog(db)
		rt.retention = time.Duration(ev.RetentionDays) * 24 * time.Hour
		events.SubscribeAll(rt.history.Handle)
	}

	if !ev.Publish && ev.JournalDSN == "" {
		return nil
	}

	conn, err := queue.NewConnection(ev.AMQPURL)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	rt.closers = append(rt.closers, conn.Close)

	if ev.Publish {
		rt.outbox = queue.NewOutbox(queue.NewProducer(conn), queue.OutboxConfig{Size: ev.OutboxSize})
		events.SubscribeAll(rt.outbox.Publish)
	}

	if ev.JournalDSN != "" {
		journal, err := postgres.OpenJournal(ctx, ev.JournalDSN)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, journal.Close)
		rt.consumer = queue.NewConsumer(conn, journal.Append, queue.DefaultConsumerConfig())
	}
	return nil
}

// setupGrader builds the grading backend and reports the LLM providers
// it can use
func (rt *Runtime) setupGrader(cfg *config.LocalConfig) (grading.Grader, []string, error) {
	if cfg.Grading.Backend == config.GradingHTTP {
		client := grading.NewHTTPClient(grading.HTTPConfig{
			BaseURL: cfg.Grading.URL,
			Token:   cfg.Grading.Token,
			Timeout: time.Duration(cfg.Grading.TimeoutSeconds) * time.Second,
		})
		slog.Info("using remote grader", "url", cfg.Grading.URL)
		return client, nil, nil
	}

	registry := llm.NewRegistry()
	rt.closers = append(rt.closers, registry.Close)
	if err := setupLLMProviders(registry, cfg.LLM); err != nil {
		return nil, nil, err
	}

	provider := cfg.Grading.Provider
	if provider == "" {
		provider = cfg.LLM.DefaultProvider
	}
	if provider != "" && provider != "auto" {
		if err := registry.SetDefault(provider); err != nil {
			slog.Warn("default provider not available", "provider", provider, "error", err)
		}
	}
	return grading.NewLLMGrader(registry, ""), registry.List(), nil
}

// setupLLMProviders registers every enabled provider that has credentials
func setupLLMProviders(registry *llm.Registry, cfg config.LLMConfig) error {
	register := func(name, model string, p llm.Provider) {
		if cfg.Resilience.Enabled {
			rc := llm.DefaultResilientConfig()
			if cfg.Resilience.MaxConcurrent > 0 {
				rc.MaxConcurrent = cfg.Resilience.MaxConcurrent
			}
			if cfg.Resilience.RatePerSecond > 0 {
				rc.RatePerSecond = cfg.Resilience.RatePerSecond
			}
			if cfg.Resilience.MaxAttempts > 0 {
				rc.MaxAttempts = cfg.Resilience.MaxAttempts
			}
			if cfg.Resilience.TimeoutSeconds > 0 {
				rc.Timeout = time.Duration(cfg.Resilience.TimeoutSeconds) * time.Second
			}
			p = llm.NewResilientProvider(p, rc)
		}
		registry.Register(name, p)
		slog.Info("registered LLM provider", "name", name, "model", model, "resilient", cfg.Resilience.Enabled)
	}

	for name, providerCfg := range cfg.Providers {
		if providerCfg == nil || !providerCfg.Enabled {
			continue
		}
		switch name {
		case "claude":
			if providerCfg.APIKey == "" {
				slog.Debug("Claude provider enabled but no API key set")
				continue
			}
			register(name, providerCfg.Model, llm.NewClaudeProvider(llm.ClaudeConfig{
				APIKey:  providerCfg.APIKey,
				BaseURL: providerCfg.URL,
				Model:   providerCfg.Model,
			}))
		case "openai":
			if providerCfg.APIKey == "" {
				slog.Debug("OpenAI provider enabled but no API key set")
				continue
			}
			p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
				APIKey:  providerCfg.APIKey,
				BaseURL: providerCfg.URL,
				Model:   providerCfg.Model,
			})
			if err != nil {
				return err
			}
			register(name, providerCfg.Model, p)
		case "ollama":
			p, err := llm.NewOllamaProvider(llm.OllamaConfig{
				BaseURL: providerCfg.URL,
				Model:   providerCfg.Model,
			})
			if err != nil {
				return err
			}
			register(name, providerCfg.Model, p)
		default:
			slog.Warn("unknown LLM provider in config", "name", name)
		}
	}
	return nil
}

// Run serves HTTP and runs the background loops until ctx is cancelled or
// one of them fails
func (rt *Runtime) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := rt.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return rt.Server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := rt.Ticker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if rt.outbox != nil {
		g.Go(func() error { return rt.outbox.Run(ctx) })
	}
	if rt.consumer != nil {
		g.Go(func() error { return rt.consumer.Run(ctx) })
	}
	if rt.history != nil && rt.retention > 0 {
		g.Go(func() error {
			rt.pruneHistory(ctx)
			return nil
		})
	}
	return g.Wait()
}

// pruneHistory drops events past retention now and then once a day
func (rt *Runtime) pruneHistory(ctx context.Context) {
	prune := func() {
		n, err := rt.history.Prune(ctx, rt.retention)
		if err != nil {
			slog.Warn("failed to prune event history", "error", err)
			return
		}
		if n > 0 {
			slog.Info("pruned event history", "removed", n)
		}
	}

	prune()
	tk := time.NewTicker(pruneInterval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			prune()
		}
	}
}

// Close releases backends in reverse order of opening
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
