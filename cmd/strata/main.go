// Command strata is the CLI for the strata document store: ad-hoc CRUD
// against a store, schema management, and a long-running serve mode that
// hosts the consolidation and GC loops.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stratadb/strata"
	"github.com/stratadb/strata/internal/telemetry"
)

var version = "0.3.0-dev"

var (
	connString string
	verbose    bool

	rootCtx    context.Context
	rootCancel context.CancelFunc

	db *strata.Database
)

var rootCmd = &cobra.Command{
	Use:          "strata",
	Short:        "Document store over S3-compatible object storage",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		if err := telemetry.Init(rootCtx, "strata", version); err != nil {
			return err
		}

		if connString == "" {
			connString = viper.GetString("store")
		}
		if connString == "" {
			return fmt.Errorf("no store configured: pass --store or set STRATA_STORE")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if db != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := db.Close(ctx); err != nil {
				slog.Warn("close database", "error", err)
			}
			db = nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

// openDB connects lazily so commands like completion never touch the store.
func openDB(opts strata.Options) error {
	var err error
	db, err = strata.Connect(rootCtx, connString, opts)
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&connString, "store", "", "connection string (s3://, file://, memory://)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	viper.SetEnvPrefix("STRATA")
	viper.AutomaticEnv()
	viper.SetConfigName("strata")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home + "/.config/strata")
	}
	_ = viper.ReadInConfig()
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		os.Exit(1)
	}
}
