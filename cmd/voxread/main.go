// Command voxread is the voxread read-aloud and voice conversation server.
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

	"golang.org/x/sync/errgroup"

	"github.com/voxread/voxread/internal/config"
	"github.com/voxread/voxread/internal/health"
	"github.com/voxread/voxread/internal/observe"
	"github.com/voxread/voxread/internal/resilience"
	"github.com/voxread/voxread/internal/server"
	"github.com/voxread/voxread/internal/session"
	agentplayai "github.com/voxread/voxread/pkg/agent/playai"
	"github.com/voxread/voxread/pkg/synth"
	synthplayai "github.com/voxread/voxread/pkg/synth/playai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxread: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxread: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxread starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxread",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Voice agent provider ──────────────────────────────────────────────────
	var agentOpts []agentplayai.Option
	if cfg.Agent.TurnTimeout > 0 {
		agentOpts = append(agentOpts, agentplayai.WithTurnTimeout(cfg.Agent.TurnTimeout))
	}
	agentProvider := agentplayai.New(cfg.Agent.WSURL, cfg.Agent.AgentID, cfg.Agent.APIKey, agentOpts...)

	// ── Synthesis provider with failover ──────────────────────────────────────
	synthesizer, err := buildSynthesizer(cfg, metrics)
	if err != nil {
		slog.Error("failed to build synthesis provider", "err", err)
		return 1
	}

	// ── Session registry + sweeper ────────────────────────────────────────────
	registry := session.New()
	defer registry.Close()

	sweeper := session.NewSweeper(session.SweeperConfig{
		Registry:      registry,
		Interval:      cfg.Sessions.SweepInterval,
		IdleThreshold: cfg.Sessions.IdleThreshold,
		OnSweep: func(evicted int) {
			if evicted > 0 {
				metrics.SessionsEvicted.Add(context.Background(), int64(evicted))
				metrics.ActiveSessions.Add(context.Background(), -int64(evicted))
			}
		},
	})
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// ── HTTP server ───────────────────────────────────────────────────────────
	readiness := health.New(
		health.Checker{Name: "agent", Check: func(context.Context) error {
			if cfg.Agent.WSURL == "" {
				return errors.New("agent endpoint not configured")
			}
			return nil
		}},
		health.Checker{Name: "tts", Check: func(context.Context) error {
			if cfg.TTS.APIURL == "" {
				return errors.New("tts endpoint not configured")
			}
			return nil
		}},
	)

	api := server.New(server.Config{
		Agent:        agentProvider,
		Sessions:     registry,
		Synth:        synthesizer,
		OutputFormat: cfg.Agent.OutputFormat,
		Voices:       cfg.Voices,
		Metrics:      metrics,
		Health:       readiness,
	})

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	httpSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", listenAddr)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildSynthesizer wires the synthesis pipeline: a primary backend, optional
// fallback backends each behind its own circuit breaker, and the chunking
// pipeline on top.
func buildSynthesizer(cfg *config.Config, metrics *observe.Metrics) (server.Synthesizer, error) {
	var synthOpts []synthplayai.Option
	if cfg.TTS.Model != "" {
		synthOpts = append(synthOpts, synthplayai.WithModel(cfg.TTS.Model))
	}

	primary, err := synthplayai.New(cfg.TTS.APIURL, cfg.TTS.APIKey, cfg.TTS.UserID, synthOpts...)
	if err != nil {
		return nil, fmt.Errorf("primary tts: %w", err)
	}

	var provider synth.Provider = primary
	if len(cfg.TTS.FallbackURLs) > 0 {
		group := resilience.NewSynthFallback(primary, cfg.TTS.APIURL, resilience.FallbackConfig{})
		for _, url := range cfg.TTS.FallbackURLs {
			fb, err := synthplayai.New(url, cfg.TTS.APIKey, cfg.TTS.UserID, synthOpts...)
			if err != nil {
				return nil, fmt.Errorf("fallback tts %q: %w", url, err)
			}
			group.AddFallback(url, fb)
		}
		provider = group
	}
	provider = &instrumentedSynth{next: provider, metrics: metrics}

	pipelineOpts := []synth.PipelineOption{
		synth.WithCache(synth.NewCache()),
		synth.WithCacheLookup(metrics.RecordCacheLookup),
	}
	if cfg.TTS.ChunkTimeout > 0 {
		pipelineOpts = append(pipelineOpts, synth.WithChunkTimeout(cfg.TTS.ChunkTimeout))
	}
	if cfg.TTS.MaxChunkLength > 0 {
		pipelineOpts = append(pipelineOpts, synth.WithMaxChunkLength(cfg.TTS.MaxChunkLength))
	}

	return synth.NewPipeline(provider, pipelineOpts...), nil
}

// instrumentedSynth records per-chunk latency around the wrapped provider.
type instrumentedSynth struct {
	next    synth.Provider
	metrics *observe.Metrics
}

func (p *instrumentedSynth) Synthesize(ctx context.Context, req synth.Request) (synth.Audio, error) {
	start := time.Now()
	audio, err := p.next.Synthesize(ctx, req)
	p.metrics.ChunkDuration.Record(ctx, time.Since(start).Seconds())
	return audio, err
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
