// Command researchgraphd runs the research workflow service: the REST/SSE
// surface, the resource pools and the background task scheduler, wired from
// one config file plus environment overrides.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/arclabs-io/researchgraph/agent"
	"github.com/arclabs-io/researchgraph/config"
	"github.com/arclabs-io/researchgraph/flow"
	"github.com/arclabs-io/researchgraph/graph/emit"
	"github.com/arclabs-io/researchgraph/model"
	"github.com/arclabs-io/researchgraph/model/anthropic"
	"github.com/arclabs-io/researchgraph/model/google"
	"github.com/arclabs-io/researchgraph/model/openai"
	"github.com/arclabs-io/researchgraph/resource"
	"github.com/arclabs-io/researchgraph/server"
	"github.com/arclabs-io/researchgraph/store"
	"github.com/arclabs-io/researchgraph/tool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "researchgraphd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	// .env is a developer convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg.Log)
	slog.SetDefault(log)

	st, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	chatModel, closeModel, err := newChatModel(cfg.LLM)
	if err != nil {
		return fmt.Errorf("init chat model: %w", err)
	}
	defer closeModel()

	reg := prometheus.DefaultRegisterer
	poolMetrics := resource.NewMetrics(reg)
	agentMetrics := agent.NewMetrics(reg)

	manager := resource.NewManager(resource.ManagerConfig{
		LLMConcurrency: cfg.Pools.LLMConcurrency,
		LLMRate:        cfg.Pools.LLMRate,
		LLMWindow:      cfg.Pools.LLMWindow,
		DB: resource.DBPoolConfig{
			MaxOpen:     cfg.Pools.DBMaxOpen,
			IdleTimeout: cfg.Pools.DBIdleTimeout,
			MaxAge:      cfg.Pools.DBMaxAge,
		},
		Workers: resource.WorkerPoolConfig{
			Workers:     cfg.Pools.Workers,
			QueueSize:   cfg.Pools.WorkerQueue,
			TaskTimeout: cfg.Pools.WorkerTimeout,
		},
	}, nil, poolMetrics)
	defer manager.Close()

	agents := newAgents(chatModel, log, agentMetrics, manager)
	tools := newTools(cfg.Search)

	controller := flow.NewController(flow.ControllerConfig{
		MaxSteps:    cfg.Controller.MaxSteps,
		NodeTimeout: cfg.Controller.NodeTimeout,
		WaitBackoff: cfg.Controller.WaitBackoff,
	}, st, agents, tools, log)

	tp := sdktrace.NewTracerProvider()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()
	history := emit.NewBufferedEmitter()
	controller.UseEmitter(emit.Multi{
		emit.NewOTelEmitter(tp.Tracer("researchgraph")),
		history,
	})

	scheduler := resource.NewScheduler(resource.SchedulerConfig{
		CheckInterval: cfg.Scheduler.CheckInterval,
		MaxSubmits:    cfg.Scheduler.MaxSubmits,
	}, st, controller, manager.Workers(), log)
	if cfg.Scheduler.Enabled {
		scheduler.Start()
		defer scheduler.Stop()
	}

	srv := server.New(st, controller, manager, scheduler, log)
	srv.UseHistory(history)
	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func openStore(cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.OpenSQLite(cfg.DSN)
	case "mysql":
		return store.OpenMySQL(cfg.DSN)
	case "postgres":
		return store.OpenPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// newChatModel builds the configured provider. The returned close func
// releases provider resources; it is a no-op for providers without any.
func newChatModel(cfg config.LLMConfig) (model.ChatModel, func(), error) {
	noop := func() {}
	switch cfg.Provider {
	case "openai":
		return openai.NewChatModel(cfg.APIKey, cfg.Model), noop, nil
	case "anthropic":
		return anthropic.NewChatModel(cfg.APIKey, cfg.Model), noop, nil
	case "google":
		m, err := google.NewChatModel(context.Background(), cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return m, func() { _ = m.Close() }, nil
	case "mock":
		return &model.MockChatModel{}, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func newAgents(chat model.ChatModel, log *slog.Logger, metrics *agent.Metrics, admission agent.Admission) *agent.Registry {
	mw := []agent.Middleware{
		agent.WithLogging(log),
		agent.WithMetrics(metrics),
		agent.WithAdmission(admission, 5, 30*time.Second),
	}
	r := agent.NewRegistry()
	r.Register(agent.NameContextAnalyzer, agent.NewContextAnalyzer(chat), mw...)
	r.Register(agent.NameObjectiveDecomposer, agent.NewObjectiveDecomposer(chat), mw...)
	r.Register(agent.NameTaskAnalyzer, agent.NewTaskAnalyzer(chat), mw...)
	r.Register(agent.NameResearch, agent.NewResearcher(chat), mw...)
	r.Register(agent.NameProcessing, agent.NewProcessor(chat), mw...)
	r.Register(agent.NameQualityEvaluator, agent.NewQualityEvaluator(chat), mw...)
	r.Register(agent.NameSynthesis, agent.NewSynthesizer(chat), mw...)
	return r
}

func newTools(cfg config.SearchConfig) *tool.Registry {
	reg := tool.NewRegistry(tool.NewFetchTool(), tool.NewHTTPTool())
	if cfg.Endpoint != "" {
		reg.Register(tool.NewSearchTool(cfg.Endpoint, cfg.APIKey))
	}
	return reg
}
