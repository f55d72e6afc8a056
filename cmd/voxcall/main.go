// Command voxcall serves voice calls with AI characters to browser clients.
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

	"github.com/MrWong99/voxcall/internal/call"
	"github.com/MrWong99/voxcall/internal/config"
	"github.com/MrWong99/voxcall/internal/endpoint"
	"github.com/MrWong99/voxcall/internal/health"
	"github.com/MrWong99/voxcall/internal/host"
	"github.com/MrWong99/voxcall/internal/observe"
	"github.com/MrWong99/voxcall/internal/reply"
	"github.com/MrWong99/voxcall/internal/turn"
	"github.com/MrWong99/voxcall/pkg/audio"
	"github.com/MrWong99/voxcall/pkg/provider/stt"
	"github.com/MrWong99/voxcall/pkg/types"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// characterBoost is the recognition boost given to the called character's name.
const characterBoost = 2

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Load and watch configuration ──────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(level, config.Compare(old, new))
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxcall: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxcall: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.Info("voxcall starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"characters", len(cfg.Characters),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Synthesis)
	ps, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &server{watcher: watcher, providers: ps, metrics: metrics}
	calls := host.NewHandler(srv.lookup, srv.newCall,
		host.WithMaxCalls(cfg.Server.MaxCalls),
		host.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	)
	probes := health.New(
		health.Capacity(calls.Active, calls.MaxCalls()),
		health.Catalog(func() int { return len(watcher.Current().Characters) }),
	)

	mux := http.NewServeMux()
	calls.Register(mux)
	probes.Register(mux)
	mux.Handle("GET /metrics", tel.MetricsHandler)

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server ready", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exit := 0
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErr:
		slog.Error("http server failed", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	probes.SetDraining(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := calls.Shutdown(shutdownCtx); err != nil {
		slog.Warn("calls did not end in time", "err", err, "active", calls.Active())
		exit = 1
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown", "err", err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown", "err", err)
	}
	slog.Info("goodbye")
	return exit
}

// server builds the calls of the host bridge from the live configuration.
type server struct {
	watcher   *config.Watcher
	providers *providers
	metrics   *observe.Metrics
}

func (s *server) lookup(id string) (types.Character, bool) {
	return s.watcher.Current().Character(id)
}

// newCall assembles one call. Settings are read from the configuration in
// force when the call starts; reloads never affect running calls.
func (s *server) newCall(character types.Character, source audio.Source, player audio.Player, cb call.Callbacks) (*call.Session, error) {
	cfg := s.watcher.Current()

	replier := reply.New(s.providers.LLM,
		reply.WithHistory(reply.NewHistory(cfg.Reply.HistoryTurns, cfg.Reply.HistoryMaxAge)),
		reply.WithTemperature(cfg.Reply.Temperature),
		reply.WithMaxTokens(cfg.Reply.MaxTokens),
		reply.WithTimeout(cfg.Reply.Timeout),
	)
	sp := cfg.Synthesis.SecondPart
	pipeline := turn.New(replier, s.providers.TTS,
		turn.WithConfig(turn.Config{
			SynthesisTimeout:    cfg.Synthesis.Timeout,
			SecondPartAttempts:  sp.Attempts,
			SecondPartBaseDelay: sp.BaseDelay,
			SecondPartFactor:    sp.Factor,
			SecondPartMaxDelay:  sp.MaxDelay,
		}),
		turn.WithMetrics(s.metrics),
		turn.WithProviderNames(cfg.Providers.LLM.Name, cfg.Providers.TTS.Name),
	)

	keywords := cfg.Transcription.KeywordBoosts()
	if character.Name != "" {
		keywords = append(keywords, types.KeywordBoost{Keyword: character.Name, Boost: characterBoost})
	}

	e := cfg.Endpointing
	return call.New(call.Config{
		Character:  character,
		Source:     source,
		Player:     player,
		Recognizer: s.providers.STT,
		Stream: stt.StreamConfig{
			Language: cfg.Transcription.Language,
			Keywords: keywords,
		},
		Pipeline: pipeline,
		Endpointing: endpoint.Config{
			SilenceTimeout:      e.SilenceTimeout,
			InterimCooldown:     e.InterimCooldown,
			FinalCooldown:       e.FinalCooldown,
			MinChars:            e.MinChars,
			SimilarityThreshold: e.SimilarityThreshold,
			DuplicateWindow:     e.DuplicateWindow,
		},
		ChunkInterval:     cfg.Capture.ChunkInterval,
		ReconnectAttempts: cfg.Transcription.ReconnectAttempts,
		ReconnectBackoff:  cfg.Transcription.ReconnectBackoff,
		Metrics:           s.metrics,
		Callbacks:         cb,
	}), nil
}

// applyReload applies the parts of a configuration change that take effect
// without a restart.
func applyReload(level *slog.LevelVar, d config.Diff) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.EndpointingChanged {
		slog.Info("endpointing thresholds changed; new calls use them")
	}
	for _, c := range d.Characters {
		switch {
		case c.Added:
			slog.Info("character added", "id", c.ID)
		case c.Removed:
			slog.Info("character removed", "id", c.ID)
		default:
			slog.Info("character updated", "id", c.ID,
				"name", c.NameChanged,
				"context", c.ContextChanged,
				"greeting", c.GreetingChanged,
				"voice", c.VoiceChanged,
			)
		}
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
