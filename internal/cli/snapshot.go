package cli

import (
	"github.com/spf13/cobra"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create, list, and roll back workspace snapshots",
	}
	cmd.AddCommand(newSnapshotCreateCmd())
	cmd.AddCommand(newSnapshotListCmd())
	cmd.AddCommand(newSnapshotRollbackCmd())
	return cmd
}

func newSnapshotCreateCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Snapshot the workspace now",
		RunE: func(cmd *cobra.Command, args []string) error {
			var metadata map[string]any
			if reason != "" {
				metadata = map[string]any{"reason": reason}
			}
			out, err := newClient(cmd).CreateSnapshot(cmd.Context(), metadata)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the snapshot metadata")
	return cmd
}

func newSnapshotListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient(cmd).ListSnapshots(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func newSnapshotRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback SNAPSHOT_ID",
		Short: "Restore the workspace to a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient(cmd).RollbackSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}
