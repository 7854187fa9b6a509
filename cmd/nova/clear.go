package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newClearChatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-chats",
		Short: "Delete every chat and message",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, err := openStorage(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			chats, messages, err := store.Purge(cmd.Context())
			if err != nil {
				return fmt.Errorf("clear chats: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d chats\nDeleted %d messages\n", chats, messages)
			return nil
		},
	}
}
