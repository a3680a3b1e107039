// Command meshbridge runs the packet-radio AI bridge: it connects to the
// radio gateway, answers !ai traffic through the configured AI backend and
// terminates on a liveness failure so an external supervisor restarts it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/meshbridge/config"
	"github.com/hupe1980/meshbridge/conversation"
	"github.com/hupe1980/meshbridge/core"
	"github.com/hupe1980/meshbridge/delivery"
	"github.com/hupe1980/meshbridge/health"
	"github.com/hupe1980/meshbridge/logging"
	"github.com/hupe1980/meshbridge/provider"
	"github.com/hupe1980/meshbridge/provider/anthropic"
	"github.com/hupe1980/meshbridge/provider/gemini"
	"github.com/hupe1980/meshbridge/provider/ollama"
	"github.com/hupe1980/meshbridge/provider/openai"
	"github.com/hupe1980/meshbridge/responder"
	"github.com/hupe1980/meshbridge/router"
	"github.com/hupe1980/meshbridge/tool"
	"github.com/hupe1980/meshbridge/transport"
)

const (
	livenessInterval = 10 * time.Second
	connectBackoff   = 5 * time.Second
	maxConnectWait   = 60 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn or error")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.NewLogger(&logging.LoggerConfig{Level: parseLevel(logLevel), Format: "json", Output: os.Stdout})

	settings, err := config.LoadSettings(cfg.StateFile, cfg)
	if err != nil {
		return err
	}

	store, err := conversation.NewStore(cfg.History.Dir, cfg.History.MaxMessages, cfg.History.MaxBytes,
		func(o *conversation.StoreOptions) { o.Logger = log })
	if err != nil {
		return err
	}
	archive, err := conversation.NewManager(cfg.Conversations.Dir, cfg.Conversations.MaxSlots,
		func(o *conversation.ManagerOptions) { o.Logger = log })
	if err != nil {
		return err
	}
	sessions := router.NewManager(cfg.Sessions.Timeout, func(o *router.ManagerOptions) { o.Logger = log })

	telemetry := transport.NewTelemetryCache()
	radio := transport.NewGateway(net.JoinHostPort(cfg.Radio.Host, strconv.Itoa(cfg.Radio.Port)), telemetry,
		func(o *transport.GatewayOptions) { o.Logger = log })

	monitor := health.NewMonitor(health.Config{
		QueueStale:       cfg.Health.QueueStale,
		WorkerBudget:     cfg.Health.WorkerBudget,
		TransportSilence: cfg.Health.TransportSilence,
		ProbeGrace:       cfg.Health.ProbeGrace,
	}, func(o *health.MonitorOptions) {
		o.Logger = log
		o.Prober = radio
	})

	queue := delivery.New(delivery.Config{
		Capacity:    cfg.Delivery.QueueCapacity,
		ChunkSize:   cfg.Delivery.ChunkSize,
		AckTimeout:  cfg.Delivery.AckTimeout,
		MaxAttempts: cfg.Delivery.MaxAttempts,
		BackoffBase: cfg.Delivery.BackoffBase,
		ChunkDelay:  cfg.Delivery.ChunkDelay,
	}, radio, func(o *delivery.Options) {
		o.Logger = log
		o.Heartbeat = monitor
	})

	providers, err := buildProviders(ctx, cfg, log)
	if err != nil {
		return err
	}
	if _, ok := providers[settings.Provider()]; !ok {
		log.Warn("selected provider not configured, queries will fail until switched",
			"provider", settings.Provider())
	}

	registry := tool.NewRegistry(func(o *tool.RegistryOptions) { o.Logger = log })
	for _, t := range []tool.Tool{
		&tool.NodeInfo{Transport: radio},
		&tool.NodeList{Transport: radio},
		tool.NewTelemetryRefresh(radio, telemetry),
	} {
		if err := registry.Register(t); err != nil {
			return err
		}
	}

	resp := responder.New(cfg, responder.Dependencies{
		Transport: radio,
		Queue:     queue,
		Sessions:  sessions,
		Store:     store,
		Archive:   archive,
		Providers: providers,
		Registry:  registry,
		Telemetry: telemetry,
		Monitor:   monitor,
		Settings:  settings,
	}, func(o *responder.Options) { o.Logger = log })

	if err := connectWithRetry(ctx, radio, resp, log); err != nil {
		return err
	}
	defer radio.Close()

	queue.Start()
	defer queue.Stop()
	log.Info("meshbridge running", "self", radio.SelfID(), "provider", settings.Provider())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Sessions.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				resp.SweepSessions()
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(livenessInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if v := monitor.Check(); !v.Healthy {
					log.Error("liveness check failed, terminating for restart", "reason", v.Reason)
					return &core.LivenessFailure{Reason: v.Reason}
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("meshbridge shutting down")
	return nil
}

// connectWithRetry dials the radio gateway with capped linear backoff; radio
// hardware frequently comes up later than this process after a power cycle.
func connectWithRetry(ctx context.Context, radio *transport.Gateway, h transport.Handler, log logging.Logger) error {
	wait := connectBackoff
	for attempt := 1; ; attempt++ {
		err := radio.Connect(h)
		if err == nil {
			return nil
		}
		log.Warn("radio connect failed", "attempt", attempt, "retry_in", wait, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("radio connect aborted: %w", errors.Join(ctx.Err(), err))
		case <-time.After(wait):
		}
		if wait += connectBackoff; wait > maxConnectWait {
			wait = maxConnectWait
		}
	}
}

// buildProviders constructs every backend with credentials configured. Ollama
// needs no key and is always available as the local fallback.
func buildProviders(ctx context.Context, cfg *config.Config, log logging.Logger) (map[string]provider.Provider, error) {
	p := cfg.Providers
	providers := map[string]provider.Provider{
		"ollama": ollama.New(func(o *ollama.Options) {
			o.BaseURL = fmt.Sprintf("http://%s:%d", p.OllamaHost, p.OllamaPort)
			if p.OllamaModel != "" {
				o.Model = p.OllamaModel
			}
		}),
	}
	if p.AnthropicAPIKey != "" {
		providers["anthropic"] = anthropic.New(func(o *anthropic.Options) { o.APIKey = p.AnthropicAPIKey })
	}
	if p.OpenAIAPIKey != "" {
		providers["openai"] = openai.New(func(o *openai.Options) { o.APIKey = p.OpenAIAPIKey })
	}
	if p.GeminiAPIKey != "" {
		gp, err := gemini.New(ctx, func(o *gemini.Options) { o.APIKey = p.GeminiAPIKey })
		if err != nil {
			return nil, fmt.Errorf("init gemini provider: %w", err)
		}
		providers["gemini"] = gp
	}
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	log.Info("providers configured", "providers", names)
	return providers, nil
}

func parseLevel(s string) logging.LogLevel {
	switch s {
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}
