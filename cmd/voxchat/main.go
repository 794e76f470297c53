package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"voxchat/internal/agent"
	"voxchat/internal/channel"
	"voxchat/internal/config"
	"voxchat/internal/metrics"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	root := &cobra.Command{
		Use:     "voxchat",
		Short:   "voxchat: a local voice and text assistant",
		Long:    "voxchat talks with a local Ollama model by keyboard or by voice and remembers the conversation.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.voxchat/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(statusCmd())

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

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			dataDir := config.ExpandPath(cfg.General.DataDir)
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nData directory: %s\n", cfgPath, dataDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func chatCmd() *cobra.Command {
	var voice bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start chatting (CLI, plus Telegram when enabled)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(voice)
		},
	}
	cmd.Flags().BoolVar(&voice, "voice", false, "start in voice mode")
	return cmd
}

func runChat(voice bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	closeLog, err := setupLogger(cfg.General)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		return err
	}

	// Graceful shutdown on signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	history, closeStore, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	history.Restore(ctx)

	capture, synth, err := buildSpeech(cfg)
	if err != nil {
		return err
	}

	orch := agent.New(agent.Config{
		Inference:        newInference(cfg),
		Capture:          capture,
		Synth:            synth,
		History:          history,
		Logger:           logger,
		ListenPause:      cfg.Speech.ListenPause(),
		CaptureTimeout:   cfg.Speech.CaptureTimeout(),
		InferenceTimeout: cfg.Inference.InferenceTimeout(),
	})

	runDone := make(chan error, 1)
	go func() { runDone <- orch.Run(ctx) }()

	if cfg.Telegram.Enabled {
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:         cfg.Telegram.Token,
			AllowFrom:     cfg.Telegram.AllowFrom,
			ParseMode:     cfg.Telegram.ParseMode,
			AttachmentDir: filepath.Join(cfg.General.DataDir, "attachments"),
			SendsPerMin:   cfg.Telegram.SendsPerMinute,
			Logger:        logger,
		})
		go func() {
			if err := tg.Run(ctx, orch); err != nil {
				logger.Error("telegram channel stopped", "err", err)
			}
		}()
	}

	cli := channel.NewCLI(channel.CLIConfig{
		AssistantName: cfg.Assistant.Name,
		StartInVoice:  voice,
		Stats:         metrics.Collector.Render,
		Logger:        logger,
	})
	cliErr := cli.Run(ctx, orch)

	if err := orch.Terminate(); err != nil {
		logger.Warn("shutdown", "err", err)
	}
	if err := <-runDone; err != nil {
		return err
	}
	return cliErr
}

// setupLogger replaces the bootstrap logger with one honouring the config.
func setupLogger(cfg config.GeneralConfig) (func(), error) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if cfg.LogFile == "" {
		// Keep the terminal readable while chatting.
		if level < slog.LevelWarn {
			level = slog.LevelWarn
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		return func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return func() { f.Close() }, nil
}
