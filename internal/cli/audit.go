package cli

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agentgate/agentgate/internal/audit"
	"github.com/agentgate/agentgate/internal/store/segment"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query, summarize, and verify the audit trail",
	}
	cmd.AddCommand(newAuditQueryCmd())
	cmd.AddCommand(newAuditSummaryCmd())
	cmd.AddCommand(newAuditAnomaliesCmd())
	cmd.AddCommand(newAuditVerifyCmd())
	return cmd
}

func newAuditQueryCmd() *cobra.Command {
	var (
		eventType string
		userID    string
		severity  string
		since     string
		until     string
		limit     int
		offset    int
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Search audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if eventType != "" {
				q.Set("type", eventType)
			}
			if userID != "" {
				q.Set("user_id", userID)
			}
			if severity != "" {
				q.Set("severity", severity)
			}
			if since != "" {
				q.Set("since", since)
			}
			if until != "" {
				q.Set("until", until)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}
			evs, err := newClient(cmd).SearchEvents(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(cmd, evs)
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "Event type(s), comma separated")
	cmd.Flags().StringVar(&userID, "user", "", "Filter by user ID")
	cmd.Flags().StringVar(&severity, "severity", "", "Filter by severity")
	cmd.Flags().StringVar(&since, "since", "", "RFC3339 timestamp or duration ago (e.g. 15m)")
	cmd.Flags().StringVar(&until, "until", "", "RFC3339 timestamp or duration ago")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max events to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Events to skip")
	return cmd
}

func newAuditSummaryCmd() *cobra.Command {
	var since, until string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Aggregate activity by type, severity, and user",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newClient(cmd).EventSummary(cmd.Context(), since, until)
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		},
	}
	cmd.Flags().StringVar(&since, "since", "24h", "Start of the window (RFC3339 or duration ago)")
	cmd.Flags().StringVar(&until, "until", "", "End of the window (RFC3339 or duration ago)")
	return cmd
}

func newAuditAnomaliesCmd() *cobra.Command {
	var window string
	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "Scan the recent trail for suspicious patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient(cmd).EventAnomalies(cmd.Context(), window)
			if err != nil {
				return err
			}
			if len(out) > 0 {
				if err := printJSON(cmd, out); err != nil {
					return err
				}
				return &ExitError{code: 1, message: fmt.Sprintf("%d anomalies detected", len(out))}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "no anomalies")
			return nil
		},
	}
	cmd.Flags().StringVar(&window, "window", "1h", "Trailing window to scan")
	return cmd
}

// newAuditVerifyCmd checks the HMAC chain offline, straight from the
// segment files, so a tampered server cannot vouch for itself.
func newAuditVerifyCmd() *cobra.Command {
	var (
		dir     string
		keyFile string
		keyEnv  string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit trail integrity chain from segment files",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := audit.LoadKey(keyFile, keyEnv)
			if err != nil {
				return err
			}
			all, err := segment.ReadAll(dir)
			if err != nil {
				return err
			}
			chained := all[:0:0]
			for _, ev := range all {
				if ev.Integrity != nil {
					chained = append(chained, ev)
				}
			}
			if len(chained) == 0 {
				return &ExitError{code: 1, message: "no chained events found"}
			}
			sort.Slice(chained, func(i, j int) bool {
				return chained[i].Integrity.Sequence < chained[j].Integrity.Sequence
			})
			if err := audit.Verify(key, chained); err != nil {
				return &ExitError{code: 1, message: fmt.Sprintf("integrity check failed: %v", err)}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d events verified\n", len(chained))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Audit segment directory")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "File holding the integrity key")
	cmd.Flags().StringVar(&keyEnv, "key-env", "", "Environment variable holding the integrity key")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}
