package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/stratadb/strata"
	"github.com/stratadb/strata/internal/eventual"
)

var (
	serveSchemaDir     string
	serveEventualConf  string
	serveReconcileMins int
)

// serve opens the database, applies the schema directory, installs the
// eventual-consistency plugin when configured, and blocks until SIGINT
// or SIGTERM. Schema files are re-applied when they change on disk.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the consolidation, GC, and reconciliation loops",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := strata.Options{}
		if serveReconcileMins > 0 {
			opts.ReconcileInterval = time.Duration(serveReconcileMins) * time.Minute
		}
		if err := openDB(opts); err != nil {
			return err
		}

		if serveSchemaDir != "" {
			if err := applySchemaDir(); err != nil {
				return err
			}
		}

		if serveEventualConf != "" {
			cfg, err := eventual.LoadConfig(serveEventualConf)
			if err != nil {
				return err
			}
			plg, err := strata.NewEventualConsistency(cfg)
			if err != nil {
				return err
			}
			if err := db.UsePlugin(rootCtx, plg); err != nil {
				return err
			}
			slog.Info("eventual-consistency plugin running",
				"mode", cfg.Consolidation.Mode, "resources", len(cfg.Resources))
		}

		var watcher *fsnotify.Watcher
		if serveSchemaDir != "" {
			var err error
			watcher, err = fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("schema watcher: %w", err)
			}
			defer watcher.Close()
			if err := watcher.Add(serveSchemaDir); err != nil {
				return err
			}
			go watchSchemas(watcher)
		}

		slog.Info("strata serving", "store", redactConnString(connString))
		<-rootCtx.Done()
		slog.Info("shutting down")
		return nil
	},
}

func applySchemaDir() error {
	cfgs, err := loadSchemaDir(serveSchemaDir)
	if err != nil {
		return err
	}
	for _, cfg := range cfgs {
		if _, err := db.EnsureResource(rootCtx, cfg); err != nil {
			return fmt.Errorf("apply %s: %w", cfg.Name, err)
		}
		slog.Info("resource ready", "name", cfg.Name)
	}
	return nil
}

// watchSchemas re-applies the schema directory on writes. New resources
// are opened; changes to already-open resources require a restart and
// are logged as such.
func watchSchemas(watcher *fsnotify.Watcher) {
	for {
		select {
		case <-rootCtx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			ext := strings.ToLower(filepath.Ext(event.Name))
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			slog.Info("schema change", "file", event.Name)
			if err := applySchemaDir(); err != nil {
				slog.Error("re-apply schemas", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("schema watcher", "error", err)
		}
	}
}

// redactConnString hides credentials before logging.
func redactConnString(s string) string {
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return s
	}
	scheme := strings.Index(s, "://")
	if scheme < 0 || scheme+3 > at {
		return s
	}
	return s[:scheme+3] + "***" + s[at:]
}

func init() {
	serveCmd.Flags().StringVar(&serveSchemaDir, "schemas", "", "directory of resource schema yaml files")
	serveCmd.Flags().StringVar(&serveEventualConf, "eventual-config", "", "eventual-consistency plugin config (toml)")
	serveCmd.Flags().IntVar(&serveReconcileMins, "reconcile-interval", 0, "partition reconcile period in minutes (0 = off)")
	rootCmd.AddCommand(serveCmd)
}
