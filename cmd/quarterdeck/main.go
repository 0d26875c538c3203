package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/basket/quarterdeck/internal/bus"
	"github.com/basket/quarterdeck/internal/config"
	"github.com/basket/quarterdeck/internal/cron"
	"github.com/basket/quarterdeck/internal/gateway"
	"github.com/basket/quarterdeck/internal/generation"
	otelPkg "github.com/basket/quarterdeck/internal/otel"
	"github.com/basket/quarterdeck/internal/period"
	"github.com/basket/quarterdeck/internal/persistence"
	"github.com/basket/quarterdeck/internal/planning"
	"github.com/basket/quarterdeck/internal/telemetry"
	"github.com/basket/quarterdeck/internal/tui"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.2-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

INTERACTIVE MODE (default):
  %s                          Open the quarterly planning TUI

SUBCOMMANDS:
  %s serve                    Run the planning service headless (HTTP API only)
  %s status                   Show service health (/healthz)
  %s period [key]             Show the active period, or switch to one
                              Example: quarterdeck period 2025-Q4
  %s provider <name> [model]  Set the LLM provider in config.yaml
  %s tui                      Force the TUI even when auto-detection fails

ENVIRONMENT VARIABLES:
  QUARTERDECK_HOME            Data directory (default: ~/.quarterdeck)
  QUARTERDECK_AUTH_TOKEN      Bearer token for the HTTP API
  GEMINI_API_KEY              Enables the Gemini generation backend
  ANTHROPIC_API_KEY           Enables the Anthropic generation backend
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	loadDotEnv(".env")

	interactive := isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("QUARTERDECK_NO_TUI") == ""

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	if len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			return
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "period":
			os.Exit(runPeriodCommand(ctx, args[1:]))
		case "provider":
			os.Exit(runProviderCommand(args[1:]))
		case "serve":
			interactive = false
		case "tui":
			interactive = true
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	runServe(ctx, stop, interactive)
}

func runServe(ctx context.Context, stop context.CancelFunc, interactive bool) {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// Quiet logs (file-only) in interactive mode so the TUI stays clean.
	logger, logLevel, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, interactive)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	if cfg.NeedsGenesis {
		if err := config.Genesis(cfg.HomeDir); err != nil {
			logger.Warn("could not write default config", "error", err)
		} else {
			logger.Info("wrote default config", "path", config.ConfigPath(cfg.HomeDir))
		}
	}

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:  cfg.OTel.Enabled,
		Exporter: cfg.OTel.Exporter,
		Endpoint: cfg.OTel.Endpoint,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	eventBus := bus.New()
	recorder := otelPkg.NewRecorder(eventBus, metrics)
	defer recorder.Stop(eventBus)

	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "quarterdeck.db"), eventBus)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "store_opened")

	provider, model, apiKey := cfg.ResolveLLM()
	planner, err := generation.NewPlanner(ctx, generation.Config{
		Provider:                 provider,
		Model:                    model,
		APIKey:                   apiKey,
		OpenAICompatibleProvider: cfg.LLM.OpenAICompatibleProvider,
		OpenAICompatibleBaseURL:  cfg.LLM.OpenAICompatibleBaseURL,
	})
	if err != nil {
		fatalStartup(logger, "E_PLANNER_INIT", err)
	}
	if !planner.LLMEnabled() {
		logger.Warn("no LLM provider configured; using deterministic generation")
	}

	session, err := planning.NewSession(ctx, planning.Config{
		Store:         store,
		Bus:           eventBus,
		Logger:        logger,
		Missions:      planner,
		Actions:       planner,
		AutosaveDelay: cfg.AutosaveDelay(),
	}, period.Current(time.Now()))
	if err != nil {
		fatalStartup(logger, "E_SESSION_INIT", err)
	}
	defer session.Close()

	// Resume expansion automatically when targets exist but the previous
	// run never produced missions.
	go func() {
		if _, err := session.AutoExpand(ctx); err != nil {
			logger.Warn("auto expansion failed", "error", err)
		}
	}()

	if cfg.RolloverPrompt {
		rollover := cron.NewScheduler(cron.Config{
			Session: session,
			Bus:     eventBus,
			Logger:  logger,
		})
		rollover.Start(ctx)
		defer rollover.Stop()
	}

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				next, err := config.LoadFrom(cfg.HomeDir)
				if err != nil {
					logger.Warn("config reload failed", "error", err)
					continue
				}
				// Log level and autosave delay apply live; bind address and
				// provider changes need a restart.
				logLevel.Set(telemetry.ParseLevel(next.LogLevel))
				session.SetAutosaveDelay(next.AutosaveDelay())
				logger.Info("config reloaded", "fingerprint", next.Fingerprint())
				if next.BindAddr != cfg.BindAddr || next.LLM != cfg.LLM {
					logger.Info("bind or provider change pending; restart to apply")
				}
			}
		}()
	}

	authToken, err := loadAuthToken(cfg)
	if err != nil {
		fatalStartup(logger, "E_AUTH_TOKEN", err)
	}

	gw := gateway.New(gateway.Config{
		Session:           session,
		Store:             store,
		Bus:               eventBus,
		Logger:            logger,
		AuthToken:         authToken,
		ConfigFingerprint: cfg.Fingerprint(),
		LLMEnabled:        planner.LLMEnabled,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: gw.Handler(),
	}
	serverErr := make(chan error, 1)
	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	if interactive {
		if err := tui.Run(ctx, session); err != nil && ctx.Err() == nil {
			logger.Error("tui exited", "error", err)
		}
		stop()
	}

	select {
	case err := <-serverErr:
		fatalStartup(logger, "E_GATEWAY_SERVE", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	// Session close abandons any pending autosave; selections already in a
	// dispatched write still land before store.Close.
	logger.Info("shutdown complete")
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"planner","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

// loadAuthToken resolves the API bearer token: env var first, then
// config.yaml, then a generated token persisted to auth.token.
func loadAuthToken(cfg config.Config) (string, error) {
	if raw := strings.TrimSpace(os.Getenv("QUARTERDECK_AUTH_TOKEN")); raw != "" {
		return raw, nil
	}
	if cfg.AuthToken != "" {
		return cfg.AuthToken, nil
	}

	host, _, err := net.SplitHostPort(cfg.BindAddr)
	loopback := err == nil && (host == "127.0.0.1" || host == "localhost" || host == "::1")
	if loopback {
		// Loopback binds run open by default.
		return "", nil
	}

	tokenPath := filepath.Join(cfg.HomeDir, "auth.token")
	if b, err := os.ReadFile(tokenPath); err == nil {
		if tok := strings.TrimSpace(string(b)); tok != "" {
			return tok, nil
		}
	}
	tok := uuid.NewString()
	if err := os.WriteFile(tokenPath, []byte(tok+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist auth token: %w", err)
	}
	return tok, nil
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
