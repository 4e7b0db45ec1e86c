package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/chronicle/internal/api"
	"github.com/kalambet/chronicle/internal/config"
	"github.com/kalambet/chronicle/internal/corpus"
	"github.com/kalambet/chronicle/internal/critic"
	"github.com/kalambet/chronicle/internal/engine"
	"github.com/kalambet/chronicle/internal/historian"
	"github.com/kalambet/chronicle/internal/ollama"
	"github.com/kalambet/chronicle/internal/pipeline"
	"github.com/kalambet/chronicle/internal/rank"
	"github.com/kalambet/chronicle/internal/refiner"
	"github.com/kalambet/chronicle/internal/synthesis"
)

var startCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"serve"},
	Short:   "Start the chronicle server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running chronicle server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show chronicle system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "chronicle.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "chronicle version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()})))

	// Refuse to double-start: probe the health endpoint before claiming the
	// PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("chronicle is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("chronicle is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check local inference readiness.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	models := []string{cfg.Ollama.FastModel, cfg.Ollama.DeepModel, cfg.Ollama.EmbedModel}
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.FastModel, models, os.Stderr); err != nil {
		return err
	}
	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)

	// Open the corpus store.
	store, err := corpus.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening corpus: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing corpus: %v\n", err)
		}
	}()

	// Retrieval stack: embedder, search index, background indexer.
	embedder := corpus.NewEmbedder(eng, cfg.Ollama.EmbedModel)
	index := corpus.NewIndex(store, embedder)
	indexer := corpus.NewIndexer(store, embedder, 500*time.Millisecond)
	go indexer.Run(ctx)

	// Agent stages.
	reranker := rank.New(eng, cfg.Ollama.FastModel, cfg.Reranking.Enabled,
		config.Duration(cfg.Reranking.Timeout, 10*time.Second))
	ref := refiner.New(eng, cfg.Ollama.FastModel,
		config.Duration(cfg.Pipeline.RefineTimeout, 15*time.Second))
	crit := critic.New(eng, cfg.Ollama.FastModel,
		config.Duration(cfg.Pipeline.CritiqueTimeout, 30*time.Second))
	hist := historian.New(eng, index, reranker, cfg.Ollama.DeepModel,
		config.Duration(cfg.Pipeline.HistoryTimeout, 45*time.Second))
	synth := synthesis.New(eng, cfg.Ollama.DeepModel,
		config.Duration(cfg.Pipeline.SynthesisTimeout, 60*time.Second))

	orchestrator := pipeline.New(ref, crit, hist, synth, store,
		pipeline.WithDomain(cfg.Pipeline.Domain))

	// HTTP API.
	handler := api.NewAppHandler(api.AppDeps{
		Runner:   orchestrator,
		Store:    store,
		Searcher: index,
		Seeder:   store,
		Token:    cfg.API.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server over stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Runner:   orchestrator,
		Store:    store,
		Searcher: index,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "chronicle listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("chronicle is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop chronicle (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to chronicle (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/healthz")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Fast model", "%s", cfg.Ollama.FastModel)
	printStatus("Deep model", "%s", cfg.Ollama.DeepModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Domain", "%s", cfg.Pipeline.Domain)

	if running {
		if c, err := newAPIClient(); err == nil {
			if notesResp, err := c.get(context.Background(), "/notes?limit=100"); err == nil {
				var notes []struct {
					UUID string `json:"uuid"`
				}
				if decodeJSON(notesResp, &notes) == nil {
					printStatus("Notes", "%s", countLabel(len(notes), 100))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
