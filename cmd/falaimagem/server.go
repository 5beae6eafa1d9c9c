package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/falaimagem/internal/api"
	"github.com/kalambet/falaimagem/internal/bridge"
	"github.com/kalambet/falaimagem/internal/config"
	"github.com/kalambet/falaimagem/internal/describe"
	"github.com/kalambet/falaimagem/internal/pipeline"
	"github.com/kalambet/falaimagem/internal/speech"
	"github.com/kalambet/falaimagem/internal/storage"
	"github.com/kalambet/falaimagem/internal/survey"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, database and chat bridge status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func runServer(parent context.Context) error {
	fmt.Fprintf(os.Stderr, "falaimagem version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})))

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	describer, err := newDescriber(ctx, cfg)
	if err != nil {
		return fmt.Errorf("configuring description backend: %w", err)
	}
	synth, err := newSynthesizer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("configuring speech backend: %w", err)
	}
	slog.Info("backends configured", "description", cfg.Description.Provider, "speech", cfg.Speech.Provider)

	bridgeClient := bridge.NewClient(cfg.Bridge.BaseURL, cfg.Bridge.Timeout())
	coordinator := survey.NewCoordinator(store, bridgeClient)
	ingestor := pipeline.NewIngestor(
		pipeline.NewConfirmationNotifier(bridgeClient),
		pipeline.NewDescriptionSynthesisStage(describer, synth),
		pipeline.NewVoiceDispatcher(bridgeClient),
		pipeline.NewMetricsRecorder(store),
		coordinator,
		pipeline.Options{
			MaxConcurrentConfirmations: int64(cfg.Confirmation.MaxConcurrent),
			ConfirmationTimeout:        cfg.Confirmation.Timeout(),
		},
	)

	handler := api.NewHandler(api.Deps{
		Pipeline: ingestor,
		Survey:   coordinator,
		Store:    store,
		Bridge:   bridgeClient,
		Token:    cfg.API.Token,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	err = serve(ctx, srv, ln, 5*time.Second)
	ingestor.Wait()
	return err
}

// serve runs srv on ln until ctx is done, then shuts down gracefully.
// Request contexts are not derived from ctx, so handlers already running
// finish within the drain window instead of being cancelled.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, drain time.Duration) error {
	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("falaimagem listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newDescriber(ctx context.Context, cfg config.Config) (pipeline.Describer, error) {
	d := cfg.Description
	switch d.Provider {
	case "openai":
		return describe.NewOpenAIClient(describe.OpenAIConfig{
			APIKey:    d.OpenAIAPIKey,
			BaseURL:   d.BaseURL,
			Model:     d.Model,
			MaxTokens: d.MaxTokens,
			Timeout:   d.Timeout(),
		}), nil
	case "gemini":
		c, err := describe.NewGeminiClient(ctx, d.GeminiAPIKey, d.Model, d.MaxTokens, d.Timeout())
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown description provider %q", d.Provider)
	}
}

func newSynthesizer(ctx context.Context, cfg config.Config) (pipeline.Synthesizer, error) {
	s := cfg.Speech
	switch s.Provider {
	case "openai":
		c, err := speech.NewOpenAIClient(speech.OpenAIConfig{
			APIKey:  cfg.Description.OpenAIAPIKey,
			BaseURL: s.BaseURL,
			Model:   s.Model,
			Voice:   s.Voice,
			Timeout: s.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "polly":
		c, err := speech.NewPollyClient(ctx, s.PollyRegion, s.PollyVoice, s.PollyEngine, s.Timeout())
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown speech provider %q", s.Provider)
	}
}

// statusReport collects the results of the concurrent status probes.
type statusReport struct {
	health  map[string]string
	summary *storage.MetricsSummary
	bridge  error
	server  error
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.API.Token,
		httpClient: &http.Client{Timeout: 3 * time.Second},
	}
	report := probeStatus(ctx, client, bridge.NewClient(cfg.Bridge.BaseURL, 3*time.Second))

	if report.server != nil {
		printStatus("Server", "stopped or unreachable (%v)", report.server)
	} else {
		printStatus("Server", "running on port %d (%s)", cfg.Server.Port, report.health["status"])
		printStatus("Database", "%s", report.health["database"])
	}
	if report.bridge != nil {
		printStatus("Chat bridge", "unreachable at %s (%v)", cfg.Bridge.BaseURL, report.bridge)
	} else {
		printStatus("Chat bridge", "reachable at %s", cfg.Bridge.BaseURL)
	}
	if report.summary != nil {
		printStatus("Runs", "%d (%d anomalies)", report.summary.Count, report.summary.Anomalies)
		printStatus("Avg total", "%s", formatMs(report.summary.AvgTotalMs))
	}

	printStatus("Description", "%s", cfg.Description.Provider)
	printStatus("Speech", "%s", cfg.Speech.Provider)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// probeStatus queries the server health, the metrics summary and the chat
// bridge concurrently. Probe failures are recorded, not returned.
func probeStatus(ctx context.Context, client *apiClient, br api.Pinger) statusReport {
	var report statusReport
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		resp, err := client.get(gCtx, "/health")
		if err != nil {
			report.server = err
			return nil
		}
		var health map[string]string
		if err := decodeJSON(resp, &health); err != nil {
			report.server = err
			return nil
		}
		report.health = health
		return nil
	})

	g.Go(func() error {
		resp, err := client.get(gCtx, "/metrics/summary")
		if err != nil {
			return nil
		}
		var sum storage.MetricsSummary
		if decodeJSON(resp, &sum) == nil {
			report.summary = &sum
		}
		return nil
	})

	g.Go(func() error {
		report.bridge = br.Ping(gCtx)
		return nil
	})

	g.Wait()
	return report
}
