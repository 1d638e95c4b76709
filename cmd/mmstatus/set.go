package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mmstatus/internal/presence"
)

var setCmd = &cobra.Command{
	Use:       "set <online|dnd|away>",
	Short:     "Set Mattermost presence once",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"online", "dnd", "away"},
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := presence.ParseStatus(args[0])
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client := presence.NewClient(requestTimeout(cfg))
		if err := client.PutStatus(cmd.Context(), cfg.Credentials(), status); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Status set to %s\n", status)
		return nil
	},
}
