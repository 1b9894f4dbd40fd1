package cli

import (
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status: emergency state, validation stats, snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient(cmd).Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func newUsageCmd() *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "usage RESOURCE",
		Short: "Show recent resource usage samples (cpu|memory|disk|network)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient(cmd).UsageHistory(cmd.Context(), args[0], minutes)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 60, "History window in minutes")
	return cmd
}
