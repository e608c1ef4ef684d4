package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"subgate/internal/logging"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "subgatectl",
		Short:         "Operator tool for the subgate subscription service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(logging.Config{Level: logLevel, Format: "auto", Output: cmd.ErrOrStderr()})
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(plansCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(hashpwCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(reconcileCmd())
	return root
}
