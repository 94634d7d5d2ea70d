// Package cmd defines the argus CLI.
package cmd

import (
	"context"
	"fmt"

	"argus/bootstrap"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the argus command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "argus",
		Short: "Security event correlation and alerting engine",
		Long: "Argus ingests security events, evaluates detection and correlation rules\n" +
			"against them, and manages the resulting alerts through their lifecycle.",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := bootstrap.NewApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			app.Start()
			app.WaitForShutdown()
			app.Shutdown()
			return nil
		},
	}
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}
