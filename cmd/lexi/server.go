package main

import (
	"context"
	"encoding/json"
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
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/lexi/internal/api"
	"github.com/kalambet/lexi/internal/collect"
	"github.com/kalambet/lexi/internal/config"
	"github.com/kalambet/lexi/internal/intent"
	"github.com/kalambet/lexi/internal/llm"
	"github.com/kalambet/lexi/internal/profile"
	"github.com/kalambet/lexi/internal/respond"
	"github.com/kalambet/lexi/internal/session"
	"github.com/kalambet/lexi/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the lexi server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running lexi server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lexi system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "lexi.pid")
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

// buildDeps wires the dialogue collaborators from configuration. The same
// stack serves the HTTP server, the MCP server, and the in-process chat.
func buildDeps(cfg config.Config, store *storage.Store) (session.Deps, *profile.Manager, error) {
	chatter, err := llm.New(llm.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
	})
	if err != nil {
		return session.Deps{}, nil, fmt.Errorf("building llm client: %w", err)
	}

	classifyTimeout := parseTimeout(cfg.LLM.ClassifyTimeout, 15*time.Second)
	classifier := intent.NewClassifier(chatter, intent.Config{
		Model:           cfg.LLM.Model,
		Timeout:         classifyTimeout,
		FollowupTimeout: parseTimeout(cfg.LLM.FollowupTimeout, 2*time.Second),
	})
	responder := respond.NewGenerator(chatter, respond.Config{
		Model:   cfg.LLM.Model,
		Timeout: parseTimeout(cfg.LLM.RespondTimeout, 30*time.Second),
	})
	extractor := collect.NewExtractor(chatter, cfg.LLM.Model, classifyTimeout)
	profiles := profile.NewManager(store)

	deps := session.Deps{
		Profiles:   profiles,
		Classifier: classifier,
		Responder:  responder,
		Extractor:  extractor,
		Log:        store,
	}
	return deps, profiles, nil
}

func sessionConfig(cfg config.Config) session.Config {
	return session.Config{
		MaxHistoryPairs: cfg.Conversation.MaxHistoryPairs,
		PreserveInitial: cfg.Conversation.PreserveInitial,
		Policy: collect.Policy{
			InteractionThreshold: cfg.Collect.InteractionThreshold,
			Interval:             cfg.Collect.Interval,
		},
	}
}

func parseTimeout(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "lexi version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Bearer token for the management endpoints, created on first run.
	apiToken, err := config.APIToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if the server is already running via the
	// health endpoint first.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("lexi is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("lexi is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the dialogue engine and the session registry.
	deps, profiles, err := buildDeps(cfg, store)
	if err != nil {
		return err
	}

	ttl, err := time.ParseDuration(cfg.Server.SessionTTL)
	if err != nil {
		slog.Warn("invalid session TTL, using default 30m", "value", cfg.Server.SessionTTL, "error", err)
		ttl = 30 * time.Minute
	}
	registry := session.NewRegistry(sessionConfig(cfg), deps, ttl)

	appHandler := api.NewAppHandler(api.AppDeps{
		Registry: registry,
		Profiles: profiles,
		Store:    store,
		Token:    apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// MCP server over stdio, detached so a blocked stdin read never holds
	// up shutdown.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Registry: registry,
		Profiles: profiles,
		Store:    store,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	g, gctx := errgroup.WithContext(ctx)

	// Expire idle sessions in the background.
	g.Go(func() error {
		registry.Run(gctx, time.Minute)
		return nil
	})

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "lexi listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown with timeout once the context is done.
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
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
		printError("lexi is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop lexi (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to lexi (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
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

	printStatus("Provider", "%s", cfg.LLM.Provider)
	printStatus("Model", "%s", cfg.LLM.Model)

	// Check the local inference engine when it is the provider.
	if cfg.LLM.Provider == "ollama" {
		baseURL := cfg.LLM.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		ollamaResp, err := client.Get(baseURL + "/api/version")
		if err != nil {
			printStatus("Ollama", "not running")
		} else {
			ollamaResp.Body.Close()
			printStatus("Ollama", "running at %s", baseURL)
		}
	}

	// Show the live session count if the server is up.
	if running {
		if c, err := newAPIClient(); err == nil {
			if listResp, err := c.get(ctx, "/sessions"); err == nil {
				var sessions []json.RawMessage
				if decodeJSON(listResp, &sessions) == nil {
					printStatus("Sessions", "%d active", len(sessions))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
