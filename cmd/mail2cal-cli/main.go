package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mikey/mail2cal/internal/di"
	"github.com/spf13/cobra"
	"go.uber.org/dig"
)

func main() {
	flags := &di.CLIFlags{}

	rootCmd := &cobra.Command{
		Use:           "mail2cal-cli",
		Short:         "Utilities for testing and setting up mail2cal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.ConfigFile, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")

	rootCmd.AddCommand(
		newExtractCommand(flags),
		newCheckCommand(flags),
		newGoogleAuthCommand(flags),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", dig.RootCause(err))
		os.Exit(1)
	}
}

// invoke builds the CLI container and runs fn with its dependencies
func invoke(cmd *cobra.Command, flags *di.CLIFlags, fn interface{}) error {
	container, err := di.BuildCLIContainer(cmd.Context(), flags)
	if err != nil {
		return fmt.Errorf("failed to build dependency container: %w", err)
	}
	return container.Invoke(fn)
}
