package main

import (
	"context"
	"fmt"

	"voxchat/internal/domain"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or clear the saved conversation",
	}
	cmd.AddCommand(historyShowCmd(), historyClearCmd())
	return cmd
}

func historyShowCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the saved conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			backend, closeFn, err := openBackend(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			turns, err := backend.Read(context.Background())
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}
			if limit > 0 && len(turns) > limit {
				turns = turns[len(turns)-limit:]
			}
			out := cmd.OutOrStdout()
			if len(turns) == 0 {
				fmt.Fprintln(out, "(no saved conversation)")
				return nil
			}
			for _, t := range turns {
				who := "you"
				if t.Role == domain.RoleAssistant {
					who = cfg.Assistant.Name
				}
				line := fmt.Sprintf("%s  %-6s %s", t.CreatedAt.Local().Format("2006-01-02 15:04"), who+":", t.Text)
				if t.HasAttachment() {
					line += "  [image: " + t.Attachment + "]"
				}
				if t.Failed {
					line += "  (failed)"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show only the last n turns")
	return cmd
}

func historyClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the saved conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			backend, closeFn, err := openBackend(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := backend.Write(context.Background(), nil); err != nil {
				return fmt.Errorf("clear history: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Conversation cleared.")
			return nil
		},
	}
}
