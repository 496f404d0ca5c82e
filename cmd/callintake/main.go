package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/callintake/internal/anthropic"
	"github.com/MikeSquared-Agency/callintake/internal/api"
	"github.com/MikeSquared-Agency/callintake/internal/config"
	"github.com/MikeSquared-Agency/callintake/internal/extractor"
	"github.com/MikeSquared-Agency/callintake/internal/gemini"
	"github.com/MikeSquared-Agency/callintake/internal/hermes"
	"github.com/MikeSquared-Agency/callintake/internal/processor"
	"github.com/MikeSquared-Agency/callintake/internal/simulate"
	"github.com/MikeSquared-Agency/callintake/internal/slack"
	"github.com/MikeSquared-Agency/callintake/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "callintake",
	Short:         "callintake - emergency call intake and extraction",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and NATS intake",
	RunE:  runServe,
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one transcript through the pipeline and print the record",
	RunE:  runProcess,
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Push sample calls through the pipeline",
	RunE:  runSimulate,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the call store",
	RunE:  runClear,
}

var (
	envFile        string
	transcriptFlag string
	phoneFlag      string
	simulateCount  int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	processCmd.Flags().StringVarP(&transcriptFlag, "transcript", "t", "", "call transcription")
	processCmd.Flags().StringVarP(&phoneFlag, "phone", "p", "", "caller phone number")
	_ = processCmd.MarkFlagRequired("transcript")
	simulateCmd.Flags().IntVarP(&simulateCount, "count", "n", 10, "number of calls to simulate")
	rootCmd.AddCommand(serveCmd, processCmd, simulateCmd, clearCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("callintake failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads .env and the environment and sets up logging to logOut.
// serve logs to stdout; one-shot commands log to stderr so their stdout
// carries only results.
func loadConfig(logOut io.Writer) (config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg := config.Load()
	setupLogging(cfg.LogLevel, logOut)
	return cfg, nil
}

// pipeline is everything a command needs to process calls.
type pipeline struct {
	proc    *processor.Processor
	hermes  *hermes.Client
	samples *simulate.Generator
	closers []func() error
}

func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			slog.Warn("shutdown step failed", "error", err)
		}
	}
}

func buildPipeline(ctx context.Context, cfg config.Config) (*pipeline, error) {
	p := &pipeline{}

	llm, closeLLM, err := newLLM(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, closeLLM)

	ext := extractor.New(llm, slog.Default())
	ext.SetTimeout(time.Duration(cfg.LLMTimeoutSeconds) * time.Second)

	// NATS is optional: without it calls are only served over HTTP.
	var events processor.Publisher
	if cfg.NatsURL != "" {
		hc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		p.hermes = hc
		events = hc
		p.closers = append(p.closers, func() error { hc.Close(); return nil })
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS_URL not set, call events will not be published")
	}

	var alerts processor.Alerter
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		alerts = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, high-criticality alerts disabled")
	}

	samples, err := simulate.LoadSamples(cfg.SimulationSamples)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.samples = simulate.NewGenerator(samples, uint64(time.Now().UnixNano()))

	st := store.New(cfg.StorePath, slog.Default())
	p.proc = processor.New(st, ext, events, alerts, slog.Default())
	p.proc.SetBatchConcurrency(cfg.BatchConcurrency)
	return p, nil
}

// newLLM picks the generation backend. A missing key for the selected
// provider is a startup error.
func newLLM(ctx context.Context, cfg config.Config) (extractor.LLM, func() error, error) {
	switch cfg.LLMProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, nil, errors.New("GEMINI_API_KEY is required")
		}
		c, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, fmt.Errorf("create gemini client: %w", err)
		}
		slog.Info("gemini client ready", "model", cfg.GeminiModel)
		return c, c.Close, nil
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, nil, errors.New("ANTHROPIC_API_KEY is required")
		}
		slog.Info("anthropic client ready", "model", cfg.AnthropicModel)
		return anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(os.Stdout)
	if err != nil {
		return err
	}
	slog.Info("callintake starting", "port", cfg.Port, "store", cfg.StorePath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	if p.hermes != nil {
		if err := p.hermes.Subscribe(hermes.SubjectIntake, p.proc.HandleIntake); err != nil {
			return fmt.Errorf("subscribe to intake: %w", err)
		}
		if err := p.hermes.Publish("dispatch.agent.callintake.registered", map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	srv := api.NewServer(cfg.Port, p.proc, p.samples, cfg.AllowedOrigins, slog.Default())
	httpSrv := &http.Server{
		Addr:              srv.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("callintake ready", "port", cfg.Port)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}
	slog.Info("callintake stopped")
	return nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	out, err := p.proc.Process(ctx, processor.CallRequest{
		Transcription: transcriptFlag,
		PhoneNumber:   phoneFlag,
	})
	if err != nil {
		return err
	}
	if out.Degraded {
		slog.Warn("extraction degraded", "reason", out.Reason)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out.Record)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simulateCount < 1 {
		return fmt.Errorf("--count must be positive, got %d", simulateCount)
	}
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	calls := p.samples.Batch(simulateCount)
	reqs := make([]processor.CallRequest, len(calls))
	for i, c := range calls {
		reqs[i] = processor.CallRequest{Transcription: c.Transcription, PhoneNumber: c.PhoneNumber}
	}

	items := p.proc.ProcessBatch(ctx, reqs)
	fmt.Fprint(cmd.OutOrStdout(), formatTally(tally(items)))
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	if err := store.New(cfg.StorePath, slog.Default()).Clear(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", cfg.StorePath)
	return nil
}

type simulationTally struct {
	total    int
	failed   int
	degraded int
	levels   map[extractor.Criticality]int
}

func tally(items []processor.BatchItem) simulationTally {
	t := simulationTally{total: len(items), levels: map[extractor.Criticality]int{}}
	for _, item := range items {
		if item.Err != nil {
			t.failed++
			continue
		}
		if item.Degraded {
			t.degraded++
		}
		t.levels[item.Record.Criticality]++
	}
	return t
}

func formatTally(t simulationTally) string {
	return fmt.Sprintf("simulated %d calls: high=%d medium=%d low=%d degraded=%d failed=%d\n",
		t.total,
		t.levels[extractor.CriticalityHigh],
		t.levels[extractor.CriticalityMedium],
		t.levels[extractor.CriticalityLow],
		t.degraded,
		t.failed,
	)
}

func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
