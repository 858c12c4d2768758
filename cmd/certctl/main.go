// Command certctl is the operator CLI for the fulfillment service. It
// drives the same admin HTTP surface the dashboard uses, so anything an
// operator scripts here matches what the service audits.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	client := &client{}

	root := &cobra.Command{
		Use:           "certctl",
		Short:         "Operate the certificate fulfillment service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&client.addr, "addr", envOr("COURSECERT_ADDR", "http://localhost:8080"), "service base URL")
	root.PersistentFlags().StringVar(&client.adminToken, "admin-token", os.Getenv("COURSECERT_ADMIN_TOKEN"), "admin token")
	root.PersistentFlags().StringVar(&client.actor, "actor", os.Getenv("COURSECERT_ACTOR"), "acting administrator UUID")

	root.AddCommand(
		newCreateBatchCommand(client),
		newReconcileCommand(client),
		newVerifyCommand(client),
		newAddStockCommand(client),
		newListBatchesCommand(client),
	)
	return root
}

func newCreateBatchCommand(client *client) *cobra.Command {
	var jurisdiction, courseID string
	cmd := &cobra.Command{
		Use:   "create-batch",
		Short: "Export a new fulfillment batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"jurisdiction": jurisdiction,
				"course_id":    courseID,
			}
			return client.postJSON(cmd, "/admin/batches", body)
		},
	}
	cmd.Flags().StringVar(&jurisdiction, "jurisdiction", "", "jurisdiction code (required)")
	cmd.Flags().StringVar(&courseID, "course", "", "course UUID (required)")
	_ = cmd.MarkFlagRequired("jurisdiction")
	_ = cmd.MarkFlagRequired("course")
	return cmd
}

func newReconcileCommand(client *client) *cobra.Command {
	var mailedPath, exceptionsPath string
	cmd := &cobra.Command{
		Use:   "reconcile <batch-id>",
		Short: "Upload vendor mailed/exception reports for a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if mailedPath == "" && exceptionsPath == "" {
				return fmt.Errorf("at least one of --mailed or --exceptions is required")
			}
			files := map[string]string{}
			if mailedPath != "" {
				files["mailed"] = mailedPath
			}
			if exceptionsPath != "" {
				files["exceptions"] = exceptionsPath
			}
			return client.postFiles(cmd, "/admin/batches/"+args[0]+"/reconcile", files)
		},
	}
	cmd.Flags().StringVar(&mailedPath, "mailed", "", "path to the mailed report")
	cmd.Flags().StringVar(&exceptionsPath, "exceptions", "", "path to the exceptions report")
	return cmd
}

func newVerifyCommand(client *client) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <batch-id>",
		Short: "Re-check a stored bundle's signature and hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.get(cmd, "/admin/batches/"+args[0]+"/verify")
		},
	}
}

func newAddStockCommand(client *client) *cobra.Command {
	var jurisdiction, serialsPath string
	cmd := &cobra.Command{
		Use:   "add-stock",
		Short: "Register pre-printed serials, one per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(serialsPath)
			if err != nil {
				return fmt.Errorf("read serials file: %w", err)
			}
			var serials []string
			for _, line := range strings.Split(string(data), "\n") {
				if trimmed := strings.TrimSpace(line); trimmed != "" {
					serials = append(serials, trimmed)
				}
			}
			body := map[string]any{
				"jurisdiction": jurisdiction,
				"serials":      serials,
			}
			return client.postJSON(cmd, "/admin/stock", body)
		},
	}
	cmd.Flags().StringVar(&jurisdiction, "jurisdiction", "", "jurisdiction code (required)")
	cmd.Flags().StringVar(&serialsPath, "serials", "", "path to serial list file (required)")
	_ = cmd.MarkFlagRequired("jurisdiction")
	_ = cmd.MarkFlagRequired("serials")
	return cmd
}

func newListBatchesCommand(client *client) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list-batches",
		Short: "List fulfillment batches, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.get(cmd, fmt.Sprintf("/admin/batches?limit=%d&offset=%d", limit, offset))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
