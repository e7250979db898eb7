package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cmdbuf/cmdbuf/internal/api"
	"github.com/cmdbuf/cmdbuf/internal/cmdbuf"
	"github.com/cmdbuf/cmdbuf/internal/config"
	"github.com/cmdbuf/cmdbuf/internal/events"
	"github.com/cmdbuf/cmdbuf/internal/journal"
	"github.com/cmdbuf/cmdbuf/internal/lock"
	"github.com/cmdbuf/cmdbuf/internal/log"
	"github.com/cmdbuf/cmdbuf/internal/storage"
	"github.com/cmdbuf/cmdbuf/internal/transfer"
	"github.com/cmdbuf/cmdbuf/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "config":
		return runConfigNoun(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Println("Usage: cmdbufd <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  start          Run the command buffer daemon")
	fmt.Println("  watch          Live monitor TUI against a running daemon")
	fmt.Println("  config lock    Regenerate the config integrity checksum")
	fmt.Println("  config check   Validate config syntax and integrity")
	fmt.Println("  version        Print version metadata")
}

// --- version ---

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := versionInfo{Version: version, Commit: gitCommit, BuildTime: buildDate}

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("cmdbufd %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

// --- config ---

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: cmdbufd config <lock|check> [flags]")
		return 1
	}
	switch args[0] {
	case "lock":
		return runConfigLock(args[1:])
	case "check":
		return runConfigCheck(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

// runConfigLock authorizes the current config by writing its checksum
// sidecar. start and check refuse a config whose checksum no longer matches.
func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	hash, err := config.WriteChecksum(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write checksum: %v\n", err)
		return 1
	}
	fmt.Printf("locked %s (blake3 %s)\n", *configPath, hash)
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config invalid: %v\n", err)
		return 1
	}

	fmt.Printf("config OK: service=%s api_enabled=%t state=%s\n",
		cfg.Service.Name, cfg.API.Enabled, cfg.State.Path)

	if pid, err := lock.ReadPID(pidLockPath(cfg)); err == nil {
		fmt.Printf("lock file present: pid %d\n", pid)
	}
	return 0
}

// --- watch ---

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8642", "Daemon API URL")
	apiKey := fs.String("api-key", os.Getenv("CMDBUF_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or CMDBUF_API_KEY env var.")
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// --- start ---

func pidLockPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.State.Path), cfg.Service.Name+".lock")
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("cmdbufd starting", "version", version, "config", *configPath)

	pidLock, err := lock.Acquire(pidLockPath(cfg))
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", pidLockPath(cfg), "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	registry := transfer.NewRegistry(transfer.HeapAllocator{}, transfer.Limits{
		MaxBuffers: cfg.Limits.MaxTransferBuffers,
		MaxBytes:   cfg.Limits.MaxTransferBytes,
	})
	svc := cmdbuf.New(registry, log.WithComponent("service"))
	j := journal.New(db)
	hub := events.NewHub(256)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)

	if cfg.API.Enabled {
		apiConfig := api.Config{
			Listen:           cfg.API.Listen,
			APIKey:           cfg.API.Auth.APIKey,
			FlushSyncTimeout: cfg.Service.FlushSyncTimeout,
		}
		apiServer := api.New(apiConfig, svc, j, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	} else {
		logger.Warn("API disabled; daemon serves in-process callers only")
	}

	logger.Info("cmdbufd running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("cmdbufd stopped")
	return 0
}
