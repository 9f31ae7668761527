package client

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newDepthCommand constructs the `depth` command.
func newDepthCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "depth",
		Short: "Show indexed depth per priority class",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				Depths map[int]int64 `json:"depths"`
			}
			if err := newAPIClient(baseURL).get(cmd.Context(), "/v1/queue/depth", &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out.Depths)
		},
	}
}

// newLatencyCommand constructs the `latency` command.
func newLatencyCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "latency",
		Short: "Show smoothed processing latency (ms) per priority class",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				LatencyMs map[int]float64 `json:"latencyMs"`
			}
			if err := newAPIClient(baseURL).get(cmd.Context(), "/v1/queue/latency", &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out.LatencyMs)
		},
	}
}

// newCountCommand constructs the `count` command.
func newCountCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Show the transport's approximate message count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				Count int64 `json:"count"`
			}
			if err := newAPIClient(baseURL).get(cmd.Context(), "/v1/queue/count", &out); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "count:", out.Count)
			return nil
		},
	}
}

// newPurgeCommand constructs the `purge` command.
func newPurgeCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every message from the transport and the index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			confirm, _ := cmd.Flags().GetBool("confirm")
			if !confirm {
				return errors.New("purge deletes all messages; pass --confirm")
			}
			if err := newAPIClient(baseURL).post(cmd.Context(), "/v1/queue/purge", nil, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
			return nil
		},
	}
	cmd.Flags().Bool("confirm", false, "Confirm the purge")
	return cmd
}
