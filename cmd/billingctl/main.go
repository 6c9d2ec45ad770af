// Command billingctl is the operator tool for the billing service: schema
// migrations, balance lookups, manual credit adjustments and dev tokens.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/platform/config"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/platform/logger"
)

var (
	cfg       *config.Config
	appLogger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "billingctl",
	Short:         "Operate the credit ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load("billingctl")
		if err != nil {
			return err
		}
		appLogger = logger.NewWithWriter(os.Stderr, cfg.LogLevel).With("service", "billingctl")
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
