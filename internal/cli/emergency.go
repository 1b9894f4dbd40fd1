package cli

import (
	"github.com/spf13/cobra"
)

func newEmergencyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emergency",
		Short: "Inspect and control the emergency stop",
	}
	cmd.AddCommand(newEmergencyStatusCmd())
	cmd.AddCommand(newEmergencyTriggerCmd())
	cmd.AddCommand(newEmergencyResetCmd())
	return cmd
}

func newEmergencyStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the emergency stop state",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient(cmd).EmergencyStatus(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func newEmergencyTriggerCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Activate the emergency stop: all operations deny until reset",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient(cmd).TriggerEmergency(cmd.Context(), reason, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the stop is being triggered")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newEmergencyResetCmd() *cobra.Command {
	var user, reason string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Deactivate the emergency stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient(cmd).ResetEmergency(cmd.Context(), user, reason)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Operator performing the reset")
	cmd.Flags().StringVar(&reason, "reason", "", "Why it is safe to resume")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
