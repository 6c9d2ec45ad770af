package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/app"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/bootstrap"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/repository/postgres"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/platform/auth"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/platform/config"
)

func init() {
	rootCmd.AddCommand(migrateCmd, balanceCmd, grantCmd, tokenCmd)

	balanceCmd.Flags().String("account", "", "Account id")
	_ = balanceCmd.MarkFlagRequired("account")

	grantCmd.Flags().String("account", "", "Account id")
	grantCmd.Flags().Int64("amount", 0, "Credits to add")
	_ = grantCmd.MarkFlagRequired("account")
	_ = grantCmd.MarkFlagRequired("amount")

	tokenCmd.Flags().String("account", "", "Account id placed in the sub claim")
	tokenCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("account")
}

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status|redo|reset]",
	Short:     "Run Postgres schema migrations",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"up", "down", "status", "redo", "reset"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.StoreDriver != config.StoreDriverPostgres {
			return fmt.Errorf("migrations apply to the postgres store only, APP_STORE_DRIVER is %q", cfg.StoreDriver)
		}
		command := "up"
		if len(args) == 1 {
			command = args[0]
		}
		if err := postgres.RunMigrations(cmd.Context(), cfg.PostgresDSN, command); err != nil {
			return err
		}
		appLogger.Info("Migrations finished", "command", command)
		return nil
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print an account's credit balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, _ := cmd.Flags().GetString("account")

		ledger, closeFn, err := openLedger(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		credit, err := ledger.Balance(cmd.Context(), accountID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", accountID, credit.Credits)
		return nil
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Add credits to an account outside of a payment",
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, _ := cmd.Flags().GetString("account")
		amount, _ := cmd.Flags().GetInt64("amount")

		ledger, closeFn, err := openLedger(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		credit, err := ledger.Grant(cmd.Context(), accountID, amount)
		if err != nil {
			return err
		}
		appLogger.Info("Manual credit adjustment", "account_id", accountID, "amount", amount, "total_credits", credit.Credits)
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", accountID, credit.Credits)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a development bearer token signed with APP_JWT_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return errors.New("APP_JWT_SECRET is not set")
		}
		accountID, _ := cmd.Flags().GetString("account")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := auth.NewVerifier(cfg.JWTSecret).Issue(accountID, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

// openLedger builds a ledger over the configured store. Events are published
// when NATS is enabled so downstream consumers see manual adjustments.
func openLedger(cmd *cobra.Command) (*app.CreditLedger, func(), error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, nil, err
	}
	store, err := bootstrap.OpenStore(cmd.Context(), cfg, appLogger)
	if err != nil {
		return nil, nil, err
	}
	publisher, closePublisher, err := bootstrap.NewPublisher(cfg, "billingctl", appLogger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return app.NewCreditLedger(store, publisher, appLogger), func() {
		closePublisher()
		store.Close()
	}, nil
}
