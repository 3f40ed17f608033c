// Package shinpan is the public API for embedding the match server.
//
//	app, err := shinpan.New(
//	    shinpan.WithVersion(version),
//	    shinpan.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The App wires the store, the agent registry, the result archive, and the
// observer surfaces (HTTP, SSE, MCP), and it owns the one rule the packages
// below cannot enforce alone: at most one orchestrator runs per match ID
// inside this process.
package shinpan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/kifulabs/shinpan/internal/agent"
	"github.com/kifulabs/shinpan/internal/archive"
	"github.com/kifulabs/shinpan/internal/clock"
	"github.com/kifulabs/shinpan/internal/config"
	"github.com/kifulabs/shinpan/internal/match"
	"github.com/kifulabs/shinpan/internal/mcp"
	"github.com/kifulabs/shinpan/internal/model"
	"github.com/kifulabs/shinpan/internal/rules"
	"github.com/kifulabs/shinpan/internal/server"
	"github.com/kifulabs/shinpan/internal/store"
	"github.com/kifulabs/shinpan/internal/telemetry"
)

// App is the shinpan server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg    config.Config
	st     store.Store
	pg     *store.Postgres // non-nil when a postgres backend is wired
	agents *agent.Registry
	arch   *archive.Archive // nil when no archive path is configured
	broker *server.Broker
	live   *clock.Live
	srv    *server.Server

	otelShutdown func(context.Context) error
	closeStore   func(context.Context)
	logger       *slog.Logger
	version      string

	mu      sync.Mutex
	running map[string]context.CancelFunc
	matches sync.WaitGroup
}

// New initialises the server: configuration, telemetry, store backends,
// agents, and the HTTP surface. It does not start any goroutines or accept
// connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.store != "" {
		cfg.Store = o.store
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger := o.logger
	if logger == nil {
		logger = newLogger(cfg.LogLevel)
	}
	logger.Info("shinpan starting", "version", version, "port", cfg.Port, "store", cfg.Store)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	st, pg, closeStore, err := buildStore(context.Background(), cfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("store: %w", err)
	}

	var arch *archive.Archive
	if cfg.ArchivePath != "" {
		arch, err = archive.Open(cfg.ArchivePath)
		if err != nil {
			closeStore(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("archive: %w", err)
		}
		logger.Info("archive: enabled", "path", cfg.ArchivePath)
	} else {
		logger.Info("archive: disabled (no SHINPAN_ARCHIVE_PATH)")
	}

	registry := newRegistry(cfg, logger)
	broker := server.NewBroker(logger)
	live := &clock.Live{}

	app := &App{
		cfg:          cfg,
		st:           st,
		pg:           pg,
		agents:       registry,
		arch:         arch,
		broker:       broker,
		live:         live,
		otelShutdown: otelShutdown,
		closeStore:   closeStore,
		logger:       logger,
		version:      version,
		running:      make(map[string]context.CancelFunc),
	}

	mcpSrv := mcp.New(st, registry, logger, version)

	app.srv = server.New(server.Config{
		Store:               st,
		Agents:              registry,
		Logger:              logger,
		Launcher:            app,
		Archive:             arch,
		Live:                live,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return app, nil
}

// Run starts the background tasks and the HTTP server, then blocks until ctx
// is cancelled or a fatal server error occurs. On return, Shutdown has been
// performed.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// Cross-process move notifications arrive over LISTEN/NOTIFY only when a
	// postgres backend carries a dedicated notify connection.
	if a.pg != nil {
		g.Go(func() error {
			a.broker.Run(gctx, a.pg)
			return nil
		})
	}

	// The display countdown between commits.
	g.Go(func() error {
		match.RunTicker(gctx, a.live, a.cfg.TickInterval, func(white, black float64) {
			a.publishTime(&white, &black)
		})
		return nil
	})

	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown stops the HTTP server, cancels running matches, waits for their
// final commits, and releases the store and telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shinpan shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	a.mu.Lock()
	for _, cancelMatch := range a.running {
		cancelMatch()
	}
	a.mu.Unlock()
	a.matches.Wait()

	if a.arch != nil {
		_ = a.arch.Close()
	}
	a.closeStore(ctx)
	_ = a.otelShutdown(ctx)

	a.logger.Info("shinpan stopped")
	return nil
}

// Launch implements server.MatchLauncher: it commits a fresh record and
// plays the match in a background goroutine. At most one orchestrator runs
// per match ID in this process.
func (a *App) Launch(ctx context.Context, matchID, whiteID, blackID string) (*model.MatchState, error) {
	white, err := a.agents.Get(whiteID)
	if err != nil {
		return nil, err
	}
	black, err := a.agents.Get(blackID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if _, busy := a.running[matchID]; busy {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", server.ErrMatchRunning, matchID)
	}
	runCtx, cancelMatch := context.WithCancel(context.Background())
	a.running[matchID] = cancelMatch
	a.mu.Unlock()

	orch := a.newOrchestrator(white, black)
	state, err := orch.Start(ctx, matchID)
	if err != nil {
		a.release(matchID)
		return nil, fmt.Errorf("shinpan: start match: %w", err)
	}

	a.matches.Add(1)
	go func() {
		defer a.matches.Done()
		defer a.release(matchID)
		a.playMatch(runCtx, orch, matchID)
	}()

	return state, nil
}

// Reset implements server.MatchLauncher. The cancellation marker stops any
// in-flight orchestrator (here or in another process) at its next boundary;
// the record is replaced with a fresh empty state so readers see the cleared
// match. Markers are per-match and never deleted, so further play happens
// under a new match ID.
func (a *App) Reset(ctx context.Context, matchID string) (*model.MatchState, error) {
	a.mu.Lock()
	if cancelMatch, busy := a.running[matchID]; busy {
		cancelMatch()
	}
	a.mu.Unlock()

	if err := a.st.RequestCancel(ctx, matchID); err != nil {
		return nil, fmt.Errorf("shinpan: request cancel on reset: %w", err)
	}
	a.live.Clear()

	state := model.NewMatchState(matchID)
	state.Touch(time.Now())
	if err := a.st.Write(ctx, state); err != nil {
		return nil, fmt.Errorf("shinpan: commit reset state: %w", err)
	}
	a.publishMatch(state)
	return state.Clone(), nil
}

// PlayTurns resumes matchID from its committed record and plays at most
// maxTurns applied moves (0 means until the match ends), creating the record
// first when none exists. This is the entry point for the stateless
// deployment shape: each invocation commits through the store and exits, and
// the next invocation resumes from the record alone. Movers come from the
// configured SHINPAN_WHITE_AGENT and SHINPAN_BLACK_AGENT.
func (a *App) PlayTurns(ctx context.Context, matchID string, maxTurns int) (*model.MatchState, *model.MatchResult, error) {
	white, err := a.agents.Get(a.cfg.WhiteAgent)
	if err != nil {
		return nil, nil, err
	}
	black, err := a.agents.Get(a.cfg.BlackAgent)
	if err != nil {
		return nil, nil, err
	}

	orch := a.newOrchestrator(white, black)
	state, result, err := orch.PlayTurns(ctx, matchID, maxTurns)
	if errors.Is(err, match.ErrNoMatch) {
		if _, startErr := orch.Start(ctx, matchID); startErr != nil {
			return nil, nil, startErr
		}
		state, result, err = orch.PlayTurns(ctx, matchID, maxTurns)
	}
	if err != nil {
		return nil, nil, err
	}
	if result != nil && a.arch != nil {
		if recErr := a.arch.Record(ctx, state, result); recErr != nil {
			a.logger.Error("archive: record result", "match_id", matchID, "error", recErr)
		}
	}
	return state, result, nil
}

// Close releases the store, archive, and telemetry without touching the HTTP
// server. For callers that never Run().
func (a *App) Close(ctx context.Context) {
	if a.arch != nil {
		_ = a.arch.Close()
	}
	a.closeStore(ctx)
	_ = a.otelShutdown(ctx)
}

func (a *App) newOrchestrator(white, black agent.Mover) *match.Orchestrator {
	return match.New(a.st, rules.NewChessEngine(), white, black, a.logger,
		match.WithMaxRetries(a.cfg.MaxRetries),
		match.WithTimePerPlayer(a.cfg.TimePerPlayer),
		match.WithLiveClock(a.live),
		match.WithHooks(match.Hooks{
			OnMoveApplied: a.publishMatch,
			OnTimeUpdated: a.publishTime,
		}),
	)
}

func (a *App) playMatch(ctx context.Context, orch *match.Orchestrator, matchID string) {
	result, err := orch.Run(ctx, matchID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Info("match interrupted", "match_id", matchID)
		} else {
			a.logger.Error("match run failed", "match_id", matchID, "error", err)
		}
		return
	}

	a.logger.Info("match finished",
		"match_id", matchID,
		"winner", result.Winner,
		"termination", result.Termination,
	)

	if a.arch == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	state, err := a.st.Read(recordCtx, matchID)
	if err != nil {
		a.logger.Error("archive: read final state", "match_id", matchID, "error", err)
		return
	}
	if err := a.arch.Record(recordCtx, state, result); err != nil {
		a.logger.Error("archive: record result", "match_id", matchID, "error", err)
	}
}

func (a *App) release(matchID string) {
	a.mu.Lock()
	if cancelMatch, ok := a.running[matchID]; ok {
		cancelMatch()
		delete(a.running, matchID)
	}
	a.mu.Unlock()
}

func (a *App) publishMatch(state *model.MatchState) {
	data, err := json.Marshal(state)
	if err != nil {
		a.logger.Error("publish match event", "error", err)
		return
	}
	a.broker.Publish(server.EventMove, data)
}

func (a *App) publishTime(white, black *float64) {
	data, err := json.Marshal(map[string]*float64{
		"white_remaining_seconds": white,
		"black_remaining_seconds": black,
	})
	if err != nil {
		return
	}
	a.broker.Publish(server.EventTime, data)
}

// buildStore wires the configured backend, plus the optional synchronous
// mirror. The returned Postgres handle is non-nil when either backend is
// postgres, for LISTEN/NOTIFY relay.
func buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, *store.Postgres, func(context.Context), error) {
	var closers []func(context.Context)
	closeAll := func(ctx context.Context) {
		for _, fn := range closers {
			fn(ctx)
		}
	}

	var pg *store.Postgres
	open := func(backend string) (store.Store, error) {
		switch backend {
		case config.StoreMemory:
			return store.NewMemory(), nil
		case config.StoreFile:
			return store.NewFile(cfg.StateDir)
		case config.StorePostgres:
			p, err := store.NewPostgres(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
			if err != nil {
				return nil, err
			}
			if err := p.EnsureSchema(ctx); err != nil {
				p.Close(ctx)
				return nil, err
			}
			closers = append(closers, p.Close)
			pg = p
			return p, nil
		case config.StoreRedis:
			r, err := store.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
			if err != nil {
				return nil, err
			}
			closers = append(closers, func(context.Context) { _ = r.Close() })
			return r, nil
		}
		return nil, fmt.Errorf("unknown backend %q", backend)
	}

	primary, err := open(cfg.Store)
	if err != nil {
		closeAll(ctx)
		return nil, nil, nil, err
	}
	if cfg.Mirror == "" {
		return primary, pg, closeAll, nil
	}

	mirror, err := open(cfg.Mirror)
	if err != nil {
		closeAll(ctx)
		return nil, nil, nil, err
	}
	logger.Info("store mirror: enabled", "primary", cfg.Store, "mirror", cfg.Mirror)
	return store.Compose(primary, mirror), pg, closeAll, nil
}

// newRegistry builds the mover roster from configuration. Providers without
// credentials are skipped; Ollama needs none and is always available.
func newRegistry(cfg config.Config, logger *slog.Logger) *agent.Registry {
	var movers []agent.Mover
	if cfg.OpenAIAPIKey != "" {
		movers = append(movers, agent.NewOpenAI(
			"ChatGPT", cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, cfg.AgentTimeout))
		logger.Info("agent: openai", "model", cfg.OpenAIModel)
	}
	if cfg.GeminiAPIKey != "" {
		movers = append(movers, agent.NewGemini(
			"Gemini", cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, cfg.AgentTimeout))
		logger.Info("agent: gemini", "model", cfg.GeminiModel)
	}
	movers = append(movers, agent.NewOllama(
		"Ollama ("+cfg.OllamaModel+")", cfg.OllamaModel, cfg.OllamaURL, cfg.AgentTimeout))
	logger.Info("agent: ollama", "model", cfg.OllamaModel, "url", cfg.OllamaURL)
	return agent.NewRegistry(movers...)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
