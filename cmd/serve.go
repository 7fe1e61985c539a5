package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/embedbatch/embedbatch/pkg/batch"
	"github.com/embedbatch/embedbatch/pkg/config"
	"github.com/embedbatch/embedbatch/pkg/embedding"
	"github.com/embedbatch/embedbatch/pkg/embedding/local"
	"github.com/embedbatch/embedbatch/pkg/embedding/openai"
	"github.com/embedbatch/embedbatch/pkg/httpapi"
	"github.com/embedbatch/embedbatch/pkg/metrics"
	"github.com/embedbatch/embedbatch/pkg/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const maxChannelSize = 10000

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the embedding batch-proxy HTTP server",
	Long: `Starts an HTTP server that accepts embed requests, coalesces them into
bounded batches, and dispatches each batch to a single Embedder.

Example:
  MAX_WAIT_TIME=50 MAX_BATCH_SIZE=32 embedbatch serve --port 8080

The server exposes:
  POST /embed         - Immediate, unbatched embed (contends with the engine)
  POST /embed_batch    - Coalesced embed, routed through the batch engine
  GET  /healthz        - Liveness check
  GET  /metrics        - Prometheus scrape endpoint`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "HTTP server port")
	serveCmd.Flags().String("host", "0.0.0.0", "HTTP server host")

	// Convenience flags on top of the MAX_WAIT_TIME/MAX_BATCH_SIZE env
	// contract, which is fatal-on-missing regardless of these.
	serveCmd.Flags().Int("max-wait-time", 0, "Max coalescing wait in milliseconds (overrides MAX_WAIT_TIME)")
	serveCmd.Flags().Int("max-batch-size", 0, "Max items per batch (overrides MAX_BATCH_SIZE)")
	serveCmd.Flags().Bool("strict-errors", false, `Surface engine failures as 5xx instead of 200 {"outputs":[]}`)

	serveCmd.Flags().String("embedding-provider", "local", "Embedding provider: openai or local")
	serveCmd.Flags().String("openai-key", "", "OpenAI API key (or use OPENAI_API_KEY)")
	serveCmd.Flags().String("embedding-model", "text-embedding-3-small", "OpenAI embedding model")

	serveCmd.Flags().Bool("telemetry-enabled", false, "Enable OpenTelemetry tracing")
	serveCmd.Flags().String("telemetry-exporter", "otlp", "Trace exporter: otlp, stdout, or none")
	serveCmd.Flags().String("telemetry-endpoint", "localhost:4317", "OTLP collector endpoint")

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("engine.strict_errors", serveCmd.Flags().Lookup("strict-errors"))
	_ = viper.BindPFlag("embedding.provider", serveCmd.Flags().Lookup("embedding-provider"))
	_ = viper.BindPFlag("embedding.model", serveCmd.Flags().Lookup("embedding-model"))
	_ = viper.BindPFlag("telemetry.tracing.enabled", serveCmd.Flags().Lookup("telemetry-enabled"))
	_ = viper.BindPFlag("telemetry.tracing.exporter", serveCmd.Flags().Lookup("telemetry-exporter"))
	_ = viper.BindPFlag("telemetry.tracing.endpoint", serveCmd.Flags().Lookup("telemetry-endpoint"))
}

func runServe(cmd *cobra.Command, args []string) error {
	host := viper.GetString("server.host")
	port := viper.GetInt("server.port")
	strictErrors := viper.GetBool("engine.strict_errors")

	maxWaitTime, maxBatchSize, err := resolveEngineTuning(cmd)
	if err != nil {
		return err
	}

	provider, err := buildProvider(cmd)
	if err != nil {
		return err
	}
	guarded := embedding.NewGuarded(provider)

	ctx := context.Background()

	tpCfg := telemetry.DefaultConfig()
	tpCfg.Enabled = viper.GetBool("telemetry.tracing.enabled")
	tpCfg.Exporter = viper.GetString("telemetry.tracing.exporter")
	tpCfg.Endpoint = viper.GetString("telemetry.tracing.endpoint")
	tp, err := telemetry.Init(ctx, tpCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	m := metrics.New()

	intake := batch.NewIntake(maxChannelSize)
	engine := batch.New(batch.Config{
		MaxWaitTime:  maxWaitTime,
		MaxBatchSize: maxBatchSize,
	}, guarded, m, tp)

	go engine.Run(ctx, intake)

	server := &httpapi.Server{
		Intake:       intake,
		Immediate:    guarded,
		StrictErrors: strictErrors,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/embed", m.Middleware("/embed", server.HandleEmbed))
	mux.HandleFunc("/embed_batch", m.Middleware("/embed_batch", server.HandleEmbedBatch))
	mux.HandleFunc("/healthz", server.HandleHealthz)
	mux.Handle("/metrics", m.Handler())

	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Fprintln(os.Stderr, "\nShutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Server shutdown error: %v\n", err)
		}
		// Closing intake lets the engine dispatch any partially
		// accumulated batch and return from Run; runServe does not wait
		// for that to finish.
		close(intake)
		close(done)
	}()

	fmt.Printf("embedbatch server starting on %s\n", addr)
	fmt.Printf("  embedding provider: %s (%s, dim=%d)\n", viper.GetString("embedding.provider"), provider.ModelName(), provider.Dimension())
	fmt.Printf("  max_wait_time=%v max_batch_size=%d\n", maxWaitTime, maxBatchSize)
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Printf("  POST http://%s/embed\n", addr)
	fmt.Printf("  POST http://%s/embed_batch\n", addr)
	fmt.Printf("  GET  http://%s/healthz\n", addr)
	fmt.Printf("  GET  http://%s/metrics\n", addr)
	fmt.Println()

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	fmt.Println("Server stopped")
	return nil
}

// resolveEngineTuning resolves MAX_WAIT_TIME/MAX_BATCH_SIZE from the
// environment (fatal if missing or unparseable, per the external
// interface), letting --max-wait-time and --max-batch-size override the
// resolved values when the caller explicitly set them.
func resolveEngineTuning(cmd *cobra.Command) (time.Duration, int, error) {
	env, err := config.LoadEngineEnv()
	if err != nil {
		return 0, 0, err
	}

	waitMs := env.MaxWaitTimeMs
	if cmd.Flags().Changed("max-wait-time") {
		waitMs, _ = cmd.Flags().GetInt("max-wait-time")
	}

	size := env.MaxBatchSize
	if cmd.Flags().Changed("max-batch-size") {
		size, _ = cmd.Flags().GetInt("max-batch-size")
	}
	if size < 1 {
		return 0, 0, fmt.Errorf("max batch size must be at least 1, got %d", size)
	}

	return time.Duration(waitMs) * time.Millisecond, size, nil
}

func buildProvider(cmd *cobra.Command) (embedding.Provider, error) {
	providerName := viper.GetString("embedding.provider")
	if cmd.Flags().Changed("embedding-provider") {
		providerName, _ = cmd.Flags().GetString("embedding-provider")
	}
	if providerName == "" {
		providerName = "local"
	}

	switch providerName {
	case "openai":
		apiKey, _ := cmd.Flags().GetString("openai-key")
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when embedding provider is openai")
		}
		model := viper.GetString("embedding.model")
		if cmd.Flags().Changed("embedding-model") {
			model, _ = cmd.Flags().GetString("embedding-model")
		}
		return openai.NewClient(openai.Config{
			APIKey: apiKey,
			Model:  model,
		})

	case "local":
		return local.NewProvider(local.Config{ShowProgress: true})

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q (use 'openai' or 'local')", providerName)
	}
}
