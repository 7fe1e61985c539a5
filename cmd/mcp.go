package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/embedbatch/embedbatch/pkg/batch"
	"github.com/embedbatch/embedbatch/pkg/embedding"
	"github.com/embedbatch/embedbatch/pkg/metrics"
	"github.com/embedbatch/embedbatch/pkg/telemetry"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start embedbatch as an MCP server",
	Long: `Starts embedbatch as a Model Context Protocol (MCP) server. It runs its
own intake queue and batch engine, built the same way as the serve command's.

Transports:
  stdio (default) - For local desktop apps (Claude Desktop, Cursor)
  http            - For remote/cloud deployments

Tools exposed:
  embed_batch - Submit inputs to the batch engine's intake queue

Resources exposed:
  embedbatch://config - Resolved engine tuning (max_wait_time_ms, max_batch_size)

Example:
  MAX_WAIT_TIME=50 MAX_BATCH_SIZE=32 embedbatch mcp
  MAX_WAIT_TIME=50 MAX_BATCH_SIZE=32 embedbatch mcp --transport http --port 8081`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport type: stdio or http")
	mcpCmd.Flags().Int("port", 8081, "HTTP server port (for http transport)")
	mcpCmd.Flags().String("host", "0.0.0.0", "HTTP server host (for http transport)")

	mcpCmd.Flags().Int("max-wait-time", 0, "Max coalescing wait in milliseconds (overrides MAX_WAIT_TIME)")
	mcpCmd.Flags().Int("max-batch-size", 0, "Max items per batch (overrides MAX_BATCH_SIZE)")
	mcpCmd.Flags().String("embedding-provider", "local", "Embedding provider: openai or local")
	mcpCmd.Flags().String("openai-key", "", "OpenAI API key (or use OPENAI_API_KEY)")
	mcpCmd.Flags().String("embedding-model", "text-embedding-3-small", "OpenAI embedding model")
}

// MCPServer wraps the MCP server with a handle onto the engine's intake
// queue. Every embed_batch tool call rides the one queue and engine that
// runMCP starts for this process; the HTTP embed endpoints are not served
// here.
type MCPServer struct {
	intake       chan<- *batch.BatchItem
	maxWaitTime  time.Duration
	maxBatchSize int
}

func runMCP(cmd *cobra.Command, args []string) error {
	transport, _ := cmd.Flags().GetString("transport")
	port, _ := cmd.Flags().GetInt("port")
	host, _ := cmd.Flags().GetString("host")

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
	tp, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	m := metrics.New()
	intake := batch.NewIntake(maxChannelSize)
	engine := batch.New(batch.Config{MaxWaitTime: maxWaitTime, MaxBatchSize: maxBatchSize}, guarded, m, tp)
	go engine.Run(ctx, intake)

	mcpSrv := &MCPServer{
		intake:       intake,
		maxWaitTime:  maxWaitTime,
		maxBatchSize: maxBatchSize,
	}

	s := server.NewMCPServer(
		"embedbatch",
		"0.1.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(false),
	)

	mcpSrv.registerTools(s)
	mcpSrv.registerResources(s)

	switch transport {
	case "stdio":
		if err := server.ServeStdio(s); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}

	case "http":
		addr := fmt.Sprintf("%s:%d", host, port)
		fmt.Printf("embedbatch MCP server starting on http://%s\n", addr)
		fmt.Printf("  Endpoint: http://%s/mcp\n", addr)
		fmt.Printf("  Health:   http://%s/health\n", addr)
		fmt.Println()

		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok","server":"embedbatch-mcp"}`))
		})

		mcpHandler := server.NewStreamableHTTPServer(s, server.WithStateful(true))
		mux.Handle("/mcp", mcpHandler)

		httpServer := &http.Server{Addr: addr, Handler: mux}
		if err := httpServer.ListenAndServe(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}

	default:
		return fmt.Errorf("unsupported transport: %s (use 'stdio' or 'http')", transport)
	}

	close(intake)
	return nil
}

func (m *MCPServer) registerTools(s *server.MCPServer) {
	embedTool := mcp.NewTool("embed_batch",
		mcp.WithDescription(`Submit text inputs to the embedding batch engine.

Inputs from concurrent calls are coalesced into a single batch under the
engine's size and latency bounds before being dispatched to the Embedder.
Returns one output vector per input, in the same order.`),
		mcp.WithArray("inputs",
			mcp.Required(),
			mcp.Description("Array of input strings to embed. An empty array returns an empty outputs array."),
		),
	)

	s.AddTool(embedTool, m.handleEmbedBatch)
}

func (m *MCPServer) handleEmbedBatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	inputsRaw, ok := args["inputs"]
	if !ok {
		return mcp.NewToolResultError("inputs parameter is required"), nil
	}

	inputsJSON, err := json.Marshal(inputsRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid inputs format: %v", err)), nil
	}

	var inputs []string
	if err := json.Unmarshal(inputsJSON, &inputs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse inputs: %v", err)), nil
	}

	item := batch.NewBatchItem(inputs)

	select {
	case m.intake <- item:
	case <-ctx.Done():
		return mcp.NewToolResultError("request cancelled before submission"), nil
	}

	select {
	case res := <-item.Reply:
		if res.Err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("embedding failed: %v", res.Err)), nil
		}
		body, err := json.Marshal(map[string]interface{}{"outputs": res.Vectors})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode outputs: %v", err)), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	case <-ctx.Done():
		return mcp.NewToolResultError("request cancelled while waiting for batch dispatch"), nil
	}
}

func (m *MCPServer) registerResources(s *server.MCPServer) {
	configResource := mcp.NewResource(
		"embedbatch://config",
		"embedbatch Engine Configuration",
		mcp.WithResourceDescription("Resolved batch engine tuning for this process"),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(configResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		body, err := json.Marshal(map[string]interface{}{
			"max_wait_time_ms": m.maxWaitTime.Milliseconds(),
			"max_batch_size":   m.maxBatchSize,
		})
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "embedbatch://config",
				MIMEType: "application/json",
				Text:     string(body),
			},
		}, nil
	})
}
