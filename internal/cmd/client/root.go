package client

import (
	"os"

	"github.com/spf13/cobra"
)

// BaseURLFunc returns the HTTP base URL of the spqs server.
type BaseURLFunc func() string

// DefaultBaseURL reads SPQS_HTTP and falls back to the local default.
func DefaultBaseURL() string {
	if v := os.Getenv("SPQS_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

// NewRoot constructs a root Cobra command for the spqs client.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "spqs",
		Short: "spqs client commands",
	}
	AddCommands(root, baseURL)
	return root
}

// AddCommands registers every client command on parent.
func AddCommands(parent *cobra.Command, baseURL BaseURLFunc) {
	parent.AddCommand(
		newSendCommand(baseURL),
		newReceiveCommand(baseURL),
		newDeleteCommand(baseURL),
		newExtendCommand(baseURL),
		newDepthCommand(baseURL),
		newLatencyCommand(baseURL),
		newCountCommand(baseURL),
		newPurgeCommand(baseURL),
	)
}
