package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/stratadb/strata"
	"github.com/stratadb/strata/internal/eventual"
)

var ecConfigPath string

// openEventual opens the database with the eventual-consistency plugin
// installed from its TOML config, plus the target resources from --schema.
func openEventual() (*strata.Eventual, error) {
	if ecConfigPath == "" {
		return nil, fmt.Errorf("pass --eventual-config")
	}
	if err := openDB(strata.Options{}); err != nil {
		return nil, err
	}
	if crudSchema != "" {
		cfgs, err := loadSchemaFile(crudSchema)
		if err != nil {
			return nil, err
		}
		for _, cfg := range cfgs {
			if _, err := db.EnsureResource(rootCtx, cfg); err != nil {
				return nil, err
			}
		}
	}
	cfg, err := eventual.LoadConfig(ecConfigPath)
	if err != nil {
		return nil, err
	}
	// CLI invocations consolidate on demand; no background loops.
	cfg.Consolidation.Auto = false
	cfg.GarbageCollection.Enabled = false
	plg, err := strata.NewEventualConsistency(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.UsePlugin(rootCtx, plg); err != nil {
		return nil, err
	}
	return plg, nil
}

var addCmd = &cobra.Command{
	Use:   "add <resource> <id> <field> <delta>",
	Short: "Record an add transaction against a managed numeric field",
	Args:  cobra.ExactArgs(4),
	RunE:  func(cmd *cobra.Command, args []string) error { return runMutation(args, "add") },
}

var subCmd = &cobra.Command{
	Use:   "sub <resource> <id> <field> <delta>",
	Short: "Record a subtract transaction",
	Args:  cobra.ExactArgs(4),
	RunE:  func(cmd *cobra.Command, args []string) error { return runMutation(args, "sub") },
}

var setCmd = &cobra.Command{
	Use:   "set <resource> <id> <field> <value>",
	Short: "Record an absolute-value transaction",
	Args:  cobra.ExactArgs(4),
	RunE:  func(cmd *cobra.Command, args []string) error { return runMutation(args, "set") },
}

func runMutation(args []string, op string) error {
	plg, err := openEventual()
	if err != nil {
		return err
	}
	value, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return fmt.Errorf("parse value: %w", err)
	}
	var tx *strata.Transaction
	switch op {
	case "add":
		tx, err = plg.Add(rootCtx, args[0], args[1], args[2], value)
	case "sub":
		tx, err = plg.Sub(rootCtx, args[0], args[1], args[2], value)
	case "set":
		tx, err = plg.Set(rootCtx, args[0], args[1], args[2], value)
	}
	if err != nil {
		return err
	}
	fmt.Println(tx.ID)
	return nil
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate <resource> <id> <field>",
	Short: "Fold pending transactions into the primary record",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		plg, err := openEventual()
		if err != nil {
			return err
		}
		res, err := plg.Consolidate(rootCtx, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		if res.Skipped {
			fmt.Printf("skipped: %s\n", res.Reason)
			return nil
		}
		fmt.Printf("value=%g applied=%d errors=%d duration=%s\n",
			res.Value, res.Applied, res.Errors, res.Duration)
		return nil
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete applied transactions past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		plg, err := openEventual()
		if err != nil {
			return err
		}
		n, err := plg.CollectGarbage(rootCtx)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d transactions\n", n)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{addCmd, subCmd, setCmd, consolidateCmd, gcCmd} {
		c.Flags().StringVar(&ecConfigPath, "eventual-config", "", "plugin config (toml)")
		c.Flags().StringVar(&crudSchema, "schema", "", "schema file declaring the target resource")
	}
	rootCmd.AddCommand(addCmd, subCmd, setCmd, consolidateCmd, gcCmd)
}
