package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentra/internal/audit"
	"sentra/internal/bus"
	"sentra/internal/classifier"
	"sentra/internal/config"
	"sentra/internal/domain"
	"sentra/internal/keystore"
	"sentra/internal/notify"
	"sentra/internal/sandbox"
	"sentra/internal/server"
	"sentra/internal/validator"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "sentra",
		Short:   "Sentra: security core for the desktop assistant",
		Long:    "Sentra mediates everything the assistant does on the machine: input validation, command classification, sandboxed execution, credentials and the audit trail.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.sentra/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(execCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(keysCmd())
	root.AddCommand(daemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	applyLogLevel(cfg.General.LogLevel)
	return cfg
}

func applyLogLevel(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// core bundles the wired security components.
type core struct {
	bus        *bus.InMemoryBus
	auditLog   *audit.Logger
	index      *audit.Index
	watcher    *audit.Watcher
	validator  *validator.Validator
	classifier *classifier.Classifier
	manager    *sandbox.Manager
	keys       *keystore.Store
}

// buildCore wires every component from config. withWatcher controls the
// filesystem integrity watcher; one-shot commands skip it.
func buildCore(cfg *config.Config, withWatcher bool) (*core, error) {
	c := &core{bus: bus.New(100, logger)}

	var opts []audit.Option
	opts = append(opts, audit.WithBus(c.bus))

	if cfg.Audit.IndexEnabled && cfg.Audit.IndexPath != "" {
		ix, err := audit.NewIndex(cfg.Audit.IndexPath, logger)
		if err != nil {
			return nil, err
		}
		c.index = ix
		opts = append(opts, audit.WithIndex(ix))
	}

	var notifier audit.Notifier = &notify.LogNotifier{Logger: logger}
	if cfg.Alerts.SlackWebhookURL != "" {
		notifier = notify.Multi{
			&notify.LogNotifier{Logger: logger},
			&notify.SlackNotifier{WebhookURL: cfg.Alerts.SlackWebhookURL, Logger: logger},
		}
	}
	opts = append(opts, audit.WithNotifier(notifier))

	auditLog, err := audit.New(audit.Config{
		Dir:           cfg.Audit.Dir,
		BufferSize:    cfg.Audit.BufferSize,
		FlushInterval: time.Duration(cfg.Audit.FlushIntervalSeconds) * time.Second,
		MaxFileSize:   cfg.Audit.MaxFileSizeBytes,
		Patterns:      audit.DefaultPatterns(),
		Retention: audit.RetentionConfig{
			MaxAgeDays: cfg.Audit.RetentionDays,
			MaxFiles:   cfg.Audit.RetentionMaxFiles,
			Archive:    cfg.Audit.ArchiveOnPrune,
		},
	}, logger, opts...)
	if err != nil {
		return nil, err
	}
	c.auditLog = auditLog

	if withWatcher && cfg.Audit.WatchIntegrity {
		w, err := audit.NewWatcher(auditLog, logger)
		if err != nil {
			logger.Warn("integrity watcher unavailable", "err", err)
		} else {
			c.watcher = w
		}
	}

	patterns := validator.DefaultPatternSet()
	if cfg.Validator.RulesDir != "" {
		rules := validator.LoadRulesDir(cfg.Validator.RulesDir, logger)
		if err := patterns.AddCustom(rules); err != nil {
			logger.Warn("custom rules rejected", "err", err)
		}
	}
	c.validator = validator.New(validator.Config{
		MaxInputLength:    cfg.Validator.MaxInputLength,
		BlockOnThreat:     cfg.Validator.BlockOnThreat,
		BlockThreshold:    domain.ThreatLevel(cfg.Validator.BlockThreshold),
		SanitizeInput:     cfg.Validator.SanitizeInput,
		LogAllValidations: cfg.Validator.LogAllValidations,
	}, patterns, auditLog, logger)

	c.classifier = classifier.New(auditLog, logger)

	c.manager = sandbox.NewManager(sandbox.Config{
		Level:               domain.SandboxLevel(cfg.Sandbox.Level),
		AllowedPaths:        cfg.Sandbox.AllowedPaths,
		BlockedPaths:        cfg.Sandbox.BlockedPaths,
		ConfirmationTimeout: time.Duration(cfg.Sandbox.ConfirmationTimeoutSeconds) * time.Second,
	}, sandbox.NewShellExecutor(), c.classifier, auditLog, c.bus, logger)

	keys, err := keystore.New(cfg.Keystore.Dir, auditLog, logger)
	if err != nil {
		return nil, err
	}
	c.keys = keys

	return c, nil
}

func (c *core) close() {
	c.manager.Shutdown()
	if c.watcher != nil {
		c.watcher.Close()
	}
	if err := c.auditLog.Close(); err != nil {
		logger.Error("audit log close failed", "err", err)
	}
	if c.index != nil {
		c.index.Close()
	}
	c.bus.Close()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the security core and the desktop shell bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := buildCore(cfg, true)
			if err != nil {
				return err
			}
			defer c.close()

			c.auditLog.Log(ctx, domain.AuditEntry{
				Category: domain.CategorySystem,
				Severity: domain.AuditInfo,
				Message:  "security core started",
				Action:   "startup",
				Allowed:  true,
				Source:   "cli",
				Context:  map[string]any{"version": version, "sandboxLevel": string(c.manager.Level())},
			})

			if !cfg.Server.Enabled {
				logger.Info("bridge server disabled, running headless")
				<-ctx.Done()
				return nil
			}

			srv := server.New(server.Config{
				Host: cfg.Server.Host,
				Port: cfg.Server.Port,
				Path: cfg.Server.Path,
			}, c.manager, c.bus, logger)
			return srv.Start(ctx)
		},
	}
}

func execCmd() *cobra.Command {
	var cwd, sessionID string
	var timeoutSeconds int
	cmd := &cobra.Command{
		Use:   "exec [command]",
		Short: "Run a command through the sandbox pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := buildCore(cfg, false)
			if err != nil {
				return err
			}
			defer c.close()

			// Answer confirmation requests on the terminal.
			events := c.bus.Subscribe("cli")
			go func() {
				for ev := range events {
					if ev.Type != domain.EventConfirmationRequired {
						continue
					}
					fmt.Fprintf(os.Stderr, "\nCommand requires confirmation:\n  %v\nAllow? (yes/no): ", ev.Payload["command"])
					var response string
					fmt.Scanln(&response)
					c.manager.ConfirmExecution(ev.ExecutionID, response == "yes" || response == "y")
				}
			}()

			var timeout time.Duration
			if timeoutSeconds > 0 {
				timeout = time.Duration(timeoutSeconds) * time.Second
			}
			res, err := c.manager.Execute(ctx, args[0], sandbox.ExecuteOptions{
				Cwd:       cwd,
				Timeout:   timeout,
				Source:    "cli",
				SessionID: sessionID,
			})
			if err != nil {
				return err
			}

			printJSON(res)
			if res.Blocked || !res.Success {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory for the command")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id for the audit trail")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "timeout in seconds (capped by the sandbox level)")
	return cmd
}

func validateCmd() *cobra.Command {
	var vctx string
	cmd := &cobra.Command{
		Use:   "validate [input]",
		Short: "Run input through the threat detection pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			c, err := buildCore(cfg, false)
			if err != nil {
				return err
			}
			defer c.close()

			res := c.validator.Validate(cmd.Context(), args[0], validator.Options{
				Source:  "cli",
				Context: domain.ValidationContext(vctx),
			})
			printJSON(res)
			if !res.Safe {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&vctx, "context", "text", "validation context: voice | text | command | file_path")
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [input]",
		Short: "Fast prescreen without auditing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			v := validator.New(validator.Config{
				MaxInputLength: cfg.Validator.MaxInputLength,
			}, validator.DefaultPatternSet(), nil, logger)
			if v.QuickCheck(args[0]) {
				fmt.Println("pass")
				return nil
			}
			fmt.Println("fail")
			os.Exit(1)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show security core status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			c, err := buildCore(cfg, false)
			if err != nil {
				return err
			}
			defer c.close()

			res, err := c.auditLog.VerifyIntegrity()
			if err != nil {
				return err
			}
			keys, err := c.keys.ListKeys()
			if err != nil {
				return err
			}

			logger.Info("sandbox", "level", c.manager.Level())
			logger.Info("audit chain", "entries", res.Entries, "valid", res.Valid)
			logger.Info("keystore", "keys", len(keys))
			if !res.Valid {
				return fmt.Errorf("audit chain broken at entry %d: %s", res.BrokenAt, res.Reason)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value by dot path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			printJSON(val)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value by dot path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg := loadConfig()
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("config updated", "path", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config paths and values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			printJSON(config.ListPaths(cfg))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "marshal error:", err)
		return
	}
	fmt.Println(string(data))
}
