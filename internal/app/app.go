// Package app wires finsight's components from configuration.
//
// Both binaries build an App: finsightd serves its HTTP API, and the CLI
// uses it directly for in-process runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/finsight/internal/agents"
	"github.com/fyrsmithlabs/finsight/internal/config"
	"github.com/fyrsmithlabs/finsight/internal/embeddings"
	"github.com/fyrsmithlabs/finsight/internal/gate"
	apihttp "github.com/fyrsmithlabs/finsight/internal/http"
	"github.com/fyrsmithlabs/finsight/internal/logging"
	"github.com/fyrsmithlabs/finsight/internal/memory"
	"github.com/fyrsmithlabs/finsight/internal/orchestrator"
	"github.com/fyrsmithlabs/finsight/internal/runs"
	"github.com/fyrsmithlabs/finsight/internal/telemetry"
	"github.com/fyrsmithlabs/finsight/internal/vectorstore"
)

// App holds the running components.
type App struct {
	Config    *config.Config
	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry
	Memory    *memory.Memory
	Executor  *orchestrator.Executor
	Runs      *runs.Registry
	Server    *apihttp.Server

	version  string
	nats     *nats.Conn
	embedder embeddings.Provider
	stop     context.CancelFunc
}

// Option customizes New.
type Option func(*options)

type options struct {
	version string
}

// WithVersion sets the version reported by /health and telemetry.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// New builds every component described by cfg. On error, whatever was
// already built is released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	bg, stop := context.WithCancel(context.WithoutCancel(ctx))
	a := &App{Config: cfg, version: o.version, stop: stop}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	telCfg := cfg.Telemetry
	if telCfg.ServiceVersion == "" || telCfg.ServiceVersion == "dev" {
		telCfg.ServiceVersion = o.version
	}
	a.Telemetry, err = telemetry.New(ctx, &telCfg, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	a.Logger, err = logging.NewLogger(&cfg.Logging, a.Telemetry.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	zl := a.Logger.Underlying()
	if h := a.Telemetry.Health(); h.Degraded {
		zl.Warn("telemetry is degraded, continuing without export")
	}

	a.embedder, err = embeddings.NewProvider(embeddingsConfig(cfg.Embeddings), zl.Named("embeddings"))
	if err != nil {
		return nil, fmt.Errorf("initializing embeddings: %w", err)
	}

	backend, err := newVectorStore(ctx, cfg.Memory, a.embedder.Dimension(), zl.Named("vectorstore"))
	if err != nil {
		return nil, fmt.Errorf("initializing vector store: %w", err)
	}
	a.Memory, err = memory.New(ctx, backend, a.embedder, zl.Named("memory"))
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("initializing memory: %w", err)
	}

	providers, err := newProviders(bg, cfg, zl)
	if err != nil {
		return nil, err
	}

	a.Executor, err = orchestrator.NewExecutor(orchestrator.Deps{
		Market:    providers.market,
		Research:  agents.NewResearch(providers.news, providers.llm, cfg.News.Limit, zl.Named("research")),
		Analysis:  agents.NewAnalyst(providers.market, zl.Named("analysis")),
		Synthesis: agents.NewSynthesizer(providers.llm, zl.Named("synthesis")),
		Gate:      gate.New(cfg.Gate, a.Memory, zl.Named("gate")),
		Memory:    a.Memory,
	}, orchestratorConfig(cfg.Orchestrator), zl.Named("orchestrator"))
	if err != nil {
		return nil, fmt.Errorf("initializing orchestrator: %w", err)
	}

	var pub runs.Publisher
	if cfg.Events.Enabled {
		a.nats, err = connectNATS(cfg.Events, zl)
		if err != nil {
			return nil, err
		}
		pub = a.nats
	}
	a.Runs = runs.New(a.Executor, pub, runs.Config{
		Retention:       cfg.Runs.Retention.Duration(),
		MaxConcurrent:   cfg.Runs.MaxConcurrent,
		SubjectPrefix:   cfg.Events.SubjectPrefix,
		DefaultDeadline: cfg.Orchestrator.DefaultDeadline.Duration(),
	}, zl.Named("runs"))

	a.Server, err = apihttp.NewServer(a.Runs, a.Memory, a.Telemetry, zl.Named("http"), &apihttp.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		Version:           o.version,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Duration(),
		MaxWait:           cfg.Server.MaxWait.Duration(),
	})
	if err != nil {
		return nil, fmt.Errorf("initializing http server: %w", err)
	}

	zl.Info("finsight initialized",
		zap.String("version", o.version),
		zap.String("memory_backend", cfg.Memory.Backend),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("llm", cfg.LLM.Provider),
		zap.String("market_data", cfg.MarketData.Provider),
		zap.Strings("news", cfg.News.Providers),
		zap.Bool("events", a.nats != nil))
	return a, nil
}

// Serve runs the HTTP server until ctx ends, then shuts the app down.
func (a *App) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Underlying().Warn("http shutdown", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return errors.Join(serveErr, closeErr)
	}
	return closeErr
}

// Close stops runs and releases every component. It is safe to call on a
// partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Runs != nil {
		if err := a.Runs.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.nats != nil {
		if err := a.nats.Drain(); err != nil {
			a.nats.Close()
		}
	}
	if a.stop != nil {
		a.stop()
	}
	if a.Memory != nil {
		if err := a.Memory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing memory: %w", err))
		}
	}
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing embeddings: %w", err))
		}
	}
	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return errors.Join(errs...)
}

func connectNATS(cfg config.EventsConfig, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	logger.Info("connected to NATS", zap.String("url", cfg.URL), zap.String("subject_prefix", cfg.SubjectPrefix))
	return nc, nil
}

func newVectorStore(ctx context.Context, cfg config.MemoryConfig, dim int, logger *zap.Logger) (vectorstore.Store, error) {
	switch cfg.Backend {
	case "qdrant":
		return vectorstore.NewQdrantStore(ctx, vectorstore.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey.Value(),
			Collection: cfg.Collection,
			VectorSize: uint64(dim),
			UseTLS:     cfg.Qdrant.UseTLS,
		}, logger)
	default:
		return vectorstore.NewChromemStore(vectorstore.ChromemConfig{
			Path:       cfg.Path,
			Compress:   cfg.Compress,
			Collection: cfg.Collection,
			VectorSize: dim,
		}, logger)
	}
}

func embeddingsConfig(c config.EmbeddingsConfig) embeddings.Config {
	return embeddings.Config{
		Provider:  c.Provider,
		Model:     c.Model,
		BaseURL:   c.BaseURL,
		APIKey:    c.APIKey.Value(),
		Dimension: c.Dimension,
	}
}

func orchestratorConfig(c config.OrchestratorConfig) orchestrator.Config {
	return orchestrator.Config{
		DefaultDeadline:  c.DefaultDeadline.Duration(),
		ResearchTimeout:  c.ResearchTimeout.Duration(),
		AnalysisTimeout:  c.AnalysisTimeout.Duration(),
		SynthesisTimeout: c.SynthesisTimeout.Duration(),
		MaxRetries:       c.MaxRetries,
		InitialBackoff:   c.InitialBackoff.Duration(),
		MaxBackoff:       c.MaxBackoff.Duration(),
		UpstreamShare:    c.UpstreamShare,
		DegradeTolerance: c.DegradeTolerance,
		SynthesisFloor:   c.SynthesisFloor.Duration(),
	}
}
