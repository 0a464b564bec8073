package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"missionctl/internal/bus"
	"missionctl/internal/channel"
	"missionctl/internal/config"
	"missionctl/internal/domain"
	"missionctl/internal/ingest"
	"missionctl/internal/provider"
	"missionctl/internal/router"
	"missionctl/internal/store"
	"missionctl/internal/worker"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = newLogger("info")

	root := &cobra.Command{
		Use:   "missionctl",
		Short: "missionctl: personal mission-control message pipeline",
		Long:  "missionctl runs a shared conversation across web and Telegram, with AI replies generated by Fred and Antigravity.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.missionctl/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
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
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the gateway (channels + router + worker)",
		Long:  "Starts all enabled channels, the message router, the reply worker, and the reconciler. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg.General.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(logger)

	st, err := store.New(cfg.Store.DBPath, messageBus, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rules, err := router.LoadRules(cfg.Router.RulesFile, logger)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if cfg.Router.MentionToken != "" {
		rules.MentionToken = cfg.Router.MentionToken
	}
	if len(cfg.Router.OperatorAliases) > 0 {
		rules.OperatorAliases = cfg.Router.OperatorAliases
	}
	adapter := ingest.NewAdapter(rules.MentionToken)

	factory := provider.NewFactory(cfg, logger)
	responder, err := factory.Default()
	if err != nil {
		logger.Warn("no default responder available, AI replies disabled", "err", err)
		responder = nil
	} else if err := responder.Healthy(ctx); err != nil {
		logger.Warn("default responder unhealthy at startup", "responder", responder.Name(), "err", err)
	} else {
		logger.Info("responder healthy", "responder", responder.Name())
	}

	router.New(router.Config{
		Store:     st,
		Bus:       messageBus,
		Responder: responder,
		Rules:     rules,
		Logger:    logger,
	})

	worker.New(worker.Config{
		Store:       st,
		Bus:         messageBus,
		Responder:   responder,
		Logger:      logger,
		MaxAttempts: cfg.Worker.MaxAttempts,
		ClaimTTL:    time.Duration(cfg.Worker.ClaimTTLSeconds) * time.Second,
	})

	reconciler, err := worker.NewReconciler(worker.ReconcilerConfig{
		Store:         st,
		Logger:        logger,
		CronExpr:      cfg.Worker.ReconcileCron,
		RequeueFailed: cfg.Worker.RequeueFailed,
		MaxAttempts:   cfg.Worker.MaxAttempts,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(reconciler.Run(gctx))
	})

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			Store:     st,
			Adapter:   adapter,
			Logger:    logger,
		})
		g.Go(func() error {
			return ignoreCanceled(tg.Start(gctx, messageBus))
		})
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	if cfg.Channels.Web.Enabled {
		web := channel.NewWeb(channel.WebChannelConfig{
			Host:           cfg.Channels.Web.Host,
			Port:           cfg.Channels.Web.Port,
			MetricsEnabled: cfg.Metrics.Enabled,
			Store:          st,
			Adapter:        adapter,
			Logger:         logger,
		})
		g.Go(func() error {
			return ignoreCanceled(web.Start(gctx, messageBus))
		})
	}

	logger.Info("gateway started. Press Ctrl+C to stop.", "version", version)

	err = g.Wait()
	logger.Info("shutting down gateway")
	messageBus.Close()
	if err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx := context.Background()

			st, err := store.New(cfg.Store.DBPath, nil, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			for _, status := range []domain.JobStatus{
				domain.JobQueued, domain.JobRunning, domain.JobFailed, domain.JobDeadletter,
			} {
				n, err := st.CountJobs(ctx, status)
				if err != nil {
					return err
				}
				fmt.Printf("jobs %-11s %d\n", status, n)
			}

			if chCfg, err := st.GetChannelConfig(ctx, domain.ChannelTelegram); err == nil && chCfg != nil {
				fmt.Printf("telegram chat   %s (%s)\n", chCfg.ChatID, chCfg.ChatTitle)
			} else {
				fmt.Println("telegram chat   not configured")
			}

			factory := provider.NewFactory(cfg, logger)
			responder, err := factory.Default()
			if err != nil {
				fmt.Printf("responder       unavailable: %v\n", err)
				return nil
			}
			if err := responder.Healthy(ctx); err != nil {
				fmt.Printf("responder       %s (unhealthy: %v)\n", responder.Name(), err)
			} else {
				fmt.Printf("responder       %s (healthy)\n", responder.Name())
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. general.defaultProvider)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
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
		Short: "Set a config value (e.g. worker.requeueFailed true)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
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
