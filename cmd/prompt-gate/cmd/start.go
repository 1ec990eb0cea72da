package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Prompt-Gate/Promptgate/internal/adapter/dialect"
	"github.com/Prompt-Gate/Promptgate/internal/adapter/inbound/admin"
	"github.com/Prompt-Gate/Promptgate/internal/adapter/inbound/http"
	"github.com/Prompt-Gate/Promptgate/internal/adapter/outbound/cel"
	"github.com/Prompt-Gate/Promptgate/internal/adapter/outbound/memory"
	"github.com/Prompt-Gate/Promptgate/internal/adapter/outbound/riskdb"
	"github.com/Prompt-Gate/Promptgate/internal/adapter/outbound/sqlite"
	"github.com/Prompt-Gate/Promptgate/internal/adapter/outbound/telemetry"
	upstreamhttp "github.com/Prompt-Gate/Promptgate/internal/adapter/outbound/upstream"
	"github.com/Prompt-Gate/Promptgate/internal/config"
	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
	"github.com/Prompt-Gate/Promptgate/internal/domain/pipeline"
	"github.com/Prompt-Gate/Promptgate/internal/domain/pkgrisk"
	"github.com/Prompt-Gate/Promptgate/internal/domain/policy"
	"github.com/Prompt-Gate/Promptgate/internal/domain/secrets"
	"github.com/Prompt-Gate/Promptgate/internal/domain/workspace"
	"github.com/Prompt-Gate/Promptgate/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway server",
	Long: `Start the Promptgate gateway server.

Point your coding assistant at the gateway's dialect endpoints:

  OpenAI     http://127.0.0.1:8989/v1/chat/completions
  Anthropic  http://127.0.0.1:8989/v1/messages
  Ollama     http://127.0.0.1:8989/api/chat
  Gemini     http://127.0.0.1:8989/v1beta/models/{model}:streamGenerateContent

Examples:
  # Start with config file settings
  prompt-gate start

  # Start with a specific config file
  prompt-gate --config /path/to/config.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, local ollama provider)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration without validation so the CLI flag can override
	// dev mode first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Signal context for graceful shutdown. stop() restores default signal
	// handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("prompt-gate stopped")
	return nil
}

// run wires all components together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Storage backend: everything in memory, or everything in one sqlite
	// database.
	var (
		workspaceStore workspace.Store
		sessionStore   workspace.SessionStore
		providerStore  mux.ProviderStore
		alertStore     pipeline.AlertStore
		usageStore     workspace.UsageStore
	)
	switch cfg.Storage.Backend {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		defer func() { _ = db.Close() }()
		workspaceStore = db
		sessionStore = db.Sessions()
		providerStore = db.Providers()
		alertStore = db.Alerts()
		usageStore = db.Usage()
		logger.Info("using sqlite storage", "path", cfg.Storage.SQLitePath)
	default:
		workspaceStore = memory.NewWorkspaceStore()
		sessionStore = memory.NewSessionStore()
		providerStore = memory.NewProviderStore()
		alertStore = memory.NewAlertStore()
		usageStore = memory.NewUsageStore()
		logger.Info("using in-memory storage")
	}

	registry := workspace.NewRegistry(workspaceStore, sessionStore)
	if err := registry.EnsureDefault(ctx); err != nil {
		return fmt.Errorf("failed to ensure default workspace: %w", err)
	}

	providerService := service.NewProviderService(providerStore, logger)
	if err := seedProviders(ctx, cfg, providerService, logger); err != nil {
		return err
	}

	// Pipeline steps. Input order: redact secrets, check packages, evaluate
	// policies, then prepend workspace instructions.
	var (
		inputs  []pipeline.InputStep
		outputs []pipeline.OutputStepFactory
	)

	if cfg.RedactionEnabled() {
		detector, err := buildDetector(cfg)
		if err != nil {
			return fmt.Errorf("failed to load secret signatures: %w", err)
		}
		vault := secrets.NewVault()
		inputs = append(inputs, secrets.NewRedactStep(detector, vault))
		outputs = append(outputs, func() pipeline.OutputStep {
			return secrets.NewRestoreStep(vault)
		})
		logger.Info("secret redaction enabled")
	} else {
		logger.Warn("secret redaction is DISABLED; credentials will leave this machine unredacted")
	}

	if cfg.RiskDB.Enabled {
		lookup := riskdb.NewClient(cfg.RiskDB.BaseURL)
		inputs = append(inputs, pkgrisk.NewCheckStep(lookup))
		outputs = append(outputs, func() pipeline.OutputStep {
			return pkgrisk.NewAdvisoryStep(lookup)
		})
		logger.Info("package-risk checks enabled", "base_url", cfg.RiskDB.BaseURL)
	}

	if len(cfg.Policies) > 0 {
		evaluator, err := cel.NewEvaluator()
		if err != nil {
			return fmt.Errorf("failed to create policy evaluator: %w", err)
		}
		rules := make([]policy.Rule, 0, len(cfg.Policies))
		for _, p := range cfg.Policies {
			if err := evaluator.Validate(p.Expression); err != nil {
				return fmt.Errorf("policy %q: %w", p.Name, err)
			}
			rules = append(rules, policy.Rule{
				Name:       p.Name,
				Expression: p.Expression,
				Message:    p.Message,
			})
		}
		inputs = append(inputs, policy.NewStep(rules, evaluator))
		logger.Info("policy rules loaded", "rules", len(rules))
	}

	inputs = append(inputs, workspace.NewInstructionsStep(registry))

	pipelineEngine := pipeline.NewEngine(inputs, outputs, logger)
	router := mux.NewEngine(registry)
	dialects := dialect.NewRegistry()
	forwarder := upstreamhttp.NewForwarder(dialects)

	tracer, err := telemetry.NewProvider(cfg.Telemetry.TracingEnabled, Version)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	gateway := service.NewGatewayService(
		registry, router, providerStore, pipelineEngine,
		forwarder, alertStore, usageStore, tracer.Tracer(), logger,
	)
	workspaceService := service.NewWorkspaceService(registry, alertStore, usageStore, logger)

	adminHandler := admin.NewHandler(
		admin.WithWorkspaceService(workspaceService),
		admin.WithProviderService(providerService),
		admin.WithAPIKeyHash(cfg.Admin.APIKeyHash),
		admin.WithLogger(logger),
	)

	metricsRegistry := http.NewMetricsRegistry()
	metrics := http.NewMetrics(metricsRegistry)
	gatewayHandler := http.NewGatewayHandler(gateway, dialects, metrics)

	shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil {
		shutdownTimeout = 10 * time.Second
	}

	transport := http.NewTransport(gatewayHandler, metrics, metricsRegistry,
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithAdminHandler(adminHandler.Routes()),
		http.WithHealthChecker(http.NewHealthChecker(workspaceStore, Version)),
		http.WithLogger(logger),
		http.WithShutdownTimeout(shutdownTimeout),
	)

	logger.Info("prompt-gate starting",
		"version", Version,
		"addr", cfg.Server.HTTPAddr,
		"storage", cfg.Storage.Backend,
	)
	return transport.Start(ctx)
}

// buildDetector loads signature rules from the configured file, falling back
// to the embedded default set.
func buildDetector(cfg *config.Config) (secrets.Detector, error) {
	if cfg.Secrets.SignaturesFile != "" {
		raw, err := os.ReadFile(cfg.Secrets.SignaturesFile)
		if err != nil {
			return nil, err
		}
		return secrets.NewSignatureDetector(raw)
	}
	return secrets.NewDefaultDetector()
}

// seedProviders registers configured providers, skipping names already
// present so admin-registered providers survive restarts with the sqlite
// backend.
func seedProviders(ctx context.Context, cfg *config.Config, providers *service.ProviderService, logger *slog.Logger) error {
	for _, pc := range cfg.Providers {
		authKey := ""
		if pc.AuthKeyEnv != "" {
			authKey = os.Getenv(pc.AuthKeyEnv)
			if authKey == "" {
				logger.Warn("provider auth env var is empty", "provider", pc.Name, "env", pc.AuthKeyEnv)
			}
		}
		err := providers.Register(ctx, &mux.Provider{
			Name:    pc.Name,
			Type:    mux.ProviderType(pc.Type),
			BaseURL: pc.BaseURL,
			AuthKey: authKey,
		})
		if errors.Is(err, mux.ErrDuplicateProviderName) {
			logger.Debug("provider already registered", "provider", pc.Name)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to seed provider %q: %w", pc.Name, err)
		}
	}
	return nil
}

// parseLogLevel converts a config log level string to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
