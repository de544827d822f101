package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/channel"
	"relaybot/internal/command"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/engine"
	"relaybot/internal/messenger"
	"relaybot/internal/metrics"
	"relaybot/internal/provider"
	"relaybot/internal/workflow"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // set by the persistent --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

	root := &cobra.Command{
		Use:   "relaybot",
		Short: "RelayBot: mail and chat relay assistant",
		Long:  "RelayBot bridges a mail service and Telegram. It runs plain-language relay commands (fetch, send, forward), persistent forwarding workflows, and free-form chat through a local model.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.relaybot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(wizardCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(workflowsCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			dataDir := config.ExpandPath(cfg.General.DataDir)
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "dataDir", dataDir)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the RelayBot version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("relaybot v%s\n", version)
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (CLI)",
		RunE:  runChat,
	}
}

// resolveConfigPath honors --config when given, else the default location.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfigOrDefaults loads the config file, falling back to the built-in
// defaults so `relaybot chat` works before `relaybot init` has run.
func loadConfigOrDefaults() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("no usable config, starting from defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
		cfg.General.DataDir = config.ExpandPath(cfg.General.DataDir)
		cfg.Workflows.DBPath = config.ExpandPath(cfg.Workflows.DBPath)
	}
	return cfg
}

// buildLogger constructs the process logger from the general config section.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err == nil {
			if f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				out = f
			} else {
				logger.Warn("cannot open log file, logging to stderr", "path", cfg.General.LogFile, "err", err)
			}
		}
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

// relayParts is the wired relay core shared by chat and gateway runs.
type relayParts struct {
	bus        *bus.InMemoryBus
	events     *bus.EventBus
	mail       *messenger.Mail
	chat       *messenger.Telegram
	store      *workflow.Store
	registry   *workflow.Registry
	runner     *workflow.Runner
	generator  domain.Generator
	engineLoop *engine.Loop
}

// Close releases the persistent pieces. The message bus is closed separately
// so in-flight turns can drain first.
func (p *relayParts) Close() {
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			logger.Warn("cannot close workflow store", "err", err)
		}
	}
}

// buildRelay wires adapters, registry, runner, and the engine loop.
func buildRelay(cfg *config.Config, log *slog.Logger) (*relayParts, error) {
	messageBus := bus.New(100, log)
	events := bus.NewEventBus(log)
	bridgeEvents(events, log)

	mail := messenger.NewMail(cfg.Mail, log)
	chatAdapter := messenger.NewTelegram(cfg.Telegram, log)

	var store *workflow.Store
	if cfg.Workflows.Enabled && cfg.Workflows.DBPath != "" {
		s, err := workflow.NewStore(cfg.Workflows.DBPath, log)
		if err != nil {
			return nil, fmt.Errorf("workflow store: %w", err)
		}
		store = s
	}
	registry := workflow.NewRegistry(store, log)

	if cfg.Workflows.Enabled && cfg.Workflows.Dir != "" {
		defs, err := workflow.LoadFromDirectory(cfg.Workflows.Dir, log)
		if err != nil {
			log.Warn("cannot load workflow directory", "dir", cfg.Workflows.Dir, "err", err)
		}
		if n := importDefinitions(registry, defs); n > 0 {
			log.Info("imported workflow definitions", "dir", cfg.Workflows.Dir, "count", n)
		}
	}

	var generator domain.Generator
	if cfg.Generation.Enabled {
		generator = provider.NewOllama(provider.OllamaConfig{
			APIBase:      cfg.Generation.APIBase,
			DefaultModel: cfg.Generation.Model,
			Timeout:      time.Duration(cfg.Generation.TimeoutSeconds) * time.Second,
			Logger:       log,
		})
	}

	dispatcher := command.NewDispatcher(mail, chatAdapter, registry, log)

	engineLoop := engine.NewLoop(engine.LoopConfig{
		Dispatcher:   dispatcher,
		Generator:    generator,
		Bus:          messageBus,
		Events:       events,
		Logger:       log,
		Model:        cfg.Generation.Model,
		HistoryLimit: cfg.Generation.MaxHistory,
	})

	var runner *workflow.Runner
	if cfg.Workflows.Enabled {
		messengers := map[string]domain.Messenger{
			mail.Name():        mail,
			chatAdapter.Name(): chatAdapter,
		}
		runner = workflow.NewRunner(registry, messengers, generator, cfg.Workflows.PollIntervalSeconds, log)
	}

	return &relayParts{
		bus:        messageBus,
		events:     events,
		mail:       mail,
		chat:       chatAdapter,
		store:      store,
		registry:   registry,
		runner:     runner,
		generator:  generator,
		engineLoop: engineLoop,
	}, nil
}

// importDefinitions merges YAML definitions into the registry. Definitions
// already present, matched by ID or by name when the file carries no ID, are
// skipped so repeated boots do not duplicate them.
func importDefinitions(registry *workflow.Registry, defs []domain.WorkflowDefinition) int {
	byID := make(map[string]bool)
	byName := make(map[string]bool)
	for _, wf := range registry.List() {
		byID[wf.ID] = true
		byName[wf.Name] = true
	}

	added := 0
	for _, def := range defs {
		if def.ID != "" && byID[def.ID] {
			continue
		}
		if def.ID == "" && byName[def.Name] {
			continue
		}
		registry.Create(def)
		added++
	}
	return added
}

// bridgeEvents surfaces relay events in the debug log.
func bridgeEvents(events *bus.EventBus, log *slog.Logger) {
	for _, evtType := range []string{
		bus.EventMessageReceived,
		bus.EventMessageSent,
		bus.EventCommandDispatched,
		bus.EventCommandUnrecognized,
		bus.EventGenerationStarted,
		bus.EventGenerationCompleted,
		bus.EventWorkflowRun,
	} {
		events.On(evtType, func(e bus.Event) {
			log.Debug("event", "type", e.Type, "source", e.Source, "payload", e.Payload)
		})
	}
	events.On(bus.EventGenerationFailed, func(e bus.Event) {
		log.Warn("generation failed", "payload", e.Payload)
	})
}

// startMetricsServer exposes the Prometheus endpoint when metrics.enabled is
// set. The server shuts down with the run context.
func startMetricsServer(ctx context.Context, cfg config.MetricsConfig, log *slog.Logger) {
	if !cfg.Enabled {
		return
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "/metrics"
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	mux := http.NewServeMux()
	mux.Handle(endpoint, metrics.Collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info("metrics endpoint listening", "addr", addr, "endpoint", endpoint)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfigOrDefaults()
	log := buildLogger(cfg)

	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	parts, err := buildRelay(cfg, log)
	if err != nil {
		return err
	}
	defer parts.Close()
	defer parts.bus.Close()

	go parts.engineLoop.Run(ctx)

	if parts.runner != nil {
		go parts.runner.Start(ctx)
		defer parts.runner.Stop()
	}

	startMetricsServer(ctx, cfg.Metrics, log)

	cliCh := channel.NewCLI(channel.CLIConfig{Logger: log})
	return cliCh.Start(ctx, parts.bus)
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start gateway (Telegram surface + engine + workflow runner)",
		Long:  "Starts the Telegram surface, the relay engine, and the workflow runner. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log := buildLogger(cfg)

	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	parts, err := buildRelay(cfg, log)
	if err != nil {
		return err
	}
	defer parts.Close()

	go parts.engineLoop.Run(ctx)

	if parts.runner != nil {
		go parts.runner.Start(ctx)
	}

	startMetricsServer(ctx, cfg.Metrics, log)

	var telegramCh *channel.Telegram
	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		telegramCh = channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Telegram.Token,
			AllowFrom: cfg.Telegram.AllowFrom,
			ParseMode: cfg.Telegram.ParseMode,
			Logger:    log,
			Observer:  parts.chat,
			OnConnect: parts.chat.AttachBot,
		})
		go func() {
			if err := telegramCh.Start(ctx, parts.bus); err != nil {
				log.Error("telegram channel error", "err", err)
			}
		}()
		log.Info("telegram channel enabled")
	} else {
		log.Info("telegram channel disabled")
	}

	log.Info("gateway up, Ctrl+C stops it")

	<-ctx.Done()
	log.Info("gateway stopping")

	// Give in-flight work a bounded window to drain.
	const drainWindow = 10 * time.Second
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainWindow)
	defer cancelDrain()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if telegramCh != nil {
			telegramCh.Stop()
		}
		if parts.runner != nil {
			parts.runner.Stop()
		}
		parts.bus.Close()
	}()

	select {
	case <-done:
		log.Info("gateway stopped cleanly")
		return nil
	case <-drainCtx.Done():
		log.Warn("drain window elapsed, exiting anyway")
		return fmt.Errorf("shutdown did not finish within %s", drainWindow)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show relay status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			loaded := err == nil
			if !loaded {
				cfg = config.Defaults()
				cfg.Workflows.DBPath = config.ExpandPath(cfg.Workflows.DBPath)
			}
			logger.Info("config", "path", cfgPath, "loaded", loaded)

			logger.Info("mail", "enabled", cfg.Mail.Enabled, "backend", cfg.Mail.BaseURL != "", "fallback", cfg.Mail.Fallback)
			logger.Info("telegram", "enabled", cfg.Telegram.Enabled, "token", cfg.Telegram.Token != "")

			if cfg.Generation.Enabled {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				gen := provider.NewOllama(provider.OllamaConfig{APIBase: cfg.Generation.APIBase, Logger: logger})
				if err := gen.Healthy(ctx); err != nil {
					logger.Info("generation", "engine", gen.Name(), "healthy", false, "err", err)
				} else {
					logger.Info("generation", "engine", gen.Name(), "healthy", true, "model", cfg.Generation.Model)
				}
			} else {
				logger.Info("generation", "enabled", false)
			}

			if cfg.Workflows.Enabled && cfg.Workflows.DBPath != "" {
				store, err := workflow.NewStore(cfg.Workflows.DBPath, logger)
				if err != nil {
					logger.Info("workflows", "db", cfg.Workflows.DBPath, "open", false, "err", err)
					return nil
				}
				defer store.Close()
				registry := workflow.NewRegistry(store, logger)
				active := 0
				for _, wf := range registry.List() {
					if wf.Active {
						active++
					}
				}
				logger.Info("workflows", "total", len(registry.List()), "active", active)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Read and edit settings by dot path. Edits are written straight back to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. generation.model)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. telegram.enabled true)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			logger.Info("config value set", "key", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
