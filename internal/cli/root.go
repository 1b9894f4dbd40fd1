// Package cli implements the agentgate command tree.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentgate/agentgate/internal/client"
)

func NewRoot(version string) *cobra.Command {
	cfg := &clientConfig{}
	cmd := &cobra.Command{
		Use:           "agentgate",
		Short:         "agentgate: safety control plane for AI agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("agentgate {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&cfg.serverAddr, "server", getenvDefault("AGENTGATE_SERVER", "http://127.0.0.1:8080"), "agentgate server base URL")
	cmd.PersistentFlags().StringVar(&cfg.apiKey, "api-key", getenvDefault("AGENTGATE_API_KEY", ""), "API key (sent as X-API-Key)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAuthorizeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newSnapshotCmd())
	cmd.AddCommand(newEmergencyCmd())
	cmd.AddCommand(newUsageCmd())

	return cmd
}

type clientConfig struct {
	serverAddr string
	apiKey     string
}

func getClientConfig(cmd *cobra.Command) *clientConfig {
	serverAddr, _ := cmd.Root().PersistentFlags().GetString("server")
	apiKey, _ := cmd.Root().PersistentFlags().GetString("api-key")
	if serverAddr == "" {
		serverAddr = "http://127.0.0.1:8080"
	}
	return &clientConfig{serverAddr: serverAddr, apiKey: apiKey}
}

func newClient(cmd *cobra.Command) *client.Client {
	cfg := getClientConfig(cmd)
	return client.New(cfg.serverAddr, cfg.apiKey)
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
