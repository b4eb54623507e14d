package cmd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatclone/internal/clone"
	"github.com/nextlevelbuilder/chatclone/internal/config"
	"github.com/nextlevelbuilder/chatclone/internal/memory"
	"github.com/nextlevelbuilder/chatclone/internal/metrics"
	"github.com/nextlevelbuilder/chatclone/internal/providers"
	"github.com/nextlevelbuilder/chatclone/internal/tracing"
)

// app holds what one command invocation needs.
type app struct {
	cfgPath  string
	cfg      *config.Config
	metrics  *metrics.Metrics
	pipeline *clone.Pipeline

	stopMetrics context.CancelFunc
	shutdown    func(context.Context) error
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	path := opts.configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Headers:     cfg.Telemetry.Headers,
	})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a := &app{
		cfgPath:     path,
		cfg:         cfg,
		metrics:     metrics.New(reg),
		shutdown:    shutdown,
		stopMetrics: func() {},
	}

	addr := opts.metricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.stopMetrics = cancel
		go func() {
			if err := metrics.Serve(mctx, addr, reg); err != nil {
				slog.Error("metrics server failed", "addr", addr, "error", err)
			}
		}()
	}

	a.pipeline = newPipeline(cfg, a.metrics)
	return a, nil
}

// newPipeline builds a pipeline from cfg. A missing chat model leaves chat
// and tone generation disabled; the embedder is created on first use.
func newPipeline(cfg *config.Config, m *metrics.Metrics) *clone.Pipeline {
	llm := cfg.LLM.Config

	var gen providers.Generator
	var model string
	if g, err := providers.NewGenerator(llm); err != nil {
		slog.Debug("chat model unavailable", "error", err)
	} else {
		gen = g
		if resolved, err := llm.Resolve(); err == nil {
			model = resolved.ChatModel
		}
	}

	return clone.New(clone.Options{
		Conn:      cfg.Conn(),
		BaseDir:   cfg.BaseDir,
		Generator: gen,
		Model:     model,
		NewEmbedder: func() (memory.Embedder, error) {
			return providers.NewEmbedder(llm)
		},
		GuardAction:     cfg.Agent.GuardAction,
		ToneTokenBudget: cfg.Tone.TokenBudget,
		Metrics:         m,
	})
}

func (a *app) Close() {
	a.pipeline.Close()
	a.stopMetrics()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("tracing shutdown failed", "error", err)
	}
}

// withApp adapts a command body that needs the loaded app.
func withApp(opts *rootOptions, fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), opts)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}
