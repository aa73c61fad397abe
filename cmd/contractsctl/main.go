// contractsctl runs operational tasks against the contracts database.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... go run ./cmd/contractsctl migrate
//	go run ./cmd/contractsctl outbox summary
//	go run ./cmd/contractsctl statement --user 12 --from 2026-01-01 --until 2026-02-01 --upload
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "contractsctl",
	Short:         "Operational tools for the contracts service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil {
			log.Println(".env file not found, using environment variables")
		}
	},
}

// connect opens the database for commands that need it.
func connect() error {
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		return fmt.Errorf("database not initialized; set DB_* env vars or DB_DRIVER=sqlite")
	}
	return nil
}

func main() {
	rootCmd.AddCommand(migrateCmd, reconcileCmd, outboxCmd, statementCmd, tokenCmd, seedCmd)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
