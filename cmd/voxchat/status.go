package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, model reachability and history size",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "config:    %s\n", cfgPath)
			fmt.Fprintf(out, "model:     %s at %s\n", cfg.Inference.Model, cfg.Inference.APIBase)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := newInference(cfg).Healthy(ctx); err != nil {
				fmt.Fprintf(out, "ollama:    unreachable (%v)\n", err)
			} else {
				fmt.Fprintf(out, "ollama:    ok\n")
			}

			fmt.Fprintf(out, "voice in:  %s\n", enabled(cfg.Speech.STT.Enabled))
			fmt.Fprintf(out, "voice out: %s\n", enabled(cfg.Speech.TTS.Enabled))
			fmt.Fprintf(out, "telegram:  %s\n", enabled(cfg.Telegram.Enabled))

			backend, closeFn, err := openBackend(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			turns, err := backend.Read(ctx)
			if err != nil {
				fmt.Fprintf(out, "history:   unreadable (%v)\n", err)
				return nil
			}
			fmt.Fprintf(out, "history:   %d turns in %s (%s)\n", len(turns), cfg.HistoryPath(), cfg.History.Backend)
			return nil
		},
	}
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
