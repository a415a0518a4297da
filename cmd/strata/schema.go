package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stratadb/strata"
)

// schemaFile is the on-disk declaration format: one or more resources.
type schemaFile struct {
	Resources []strata.ResourceConfig `yaml:"resources"`
}

var resourceCmd = &cobra.Command{
	Use:   "resource",
	Short: "Manage resource schemas",
}

var applyFile string

var resourceApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Open the resources declared in a schema file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openDB(strata.Options{}); err != nil {
			return err
		}
		cfgs, err := loadSchemaFile(applyFile)
		if err != nil {
			return err
		}
		for _, cfg := range cfgs {
			if _, err := db.EnsureResource(rootCtx, cfg); err != nil {
				return fmt.Errorf("apply %s: %w", cfg.Name, err)
			}
			fmt.Printf("resource %s ready\n", cfg.Name)
		}
		return nil
	},
}

var resourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resource names present in the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openDB(strata.Options{}); err != nil {
			return err
		}
		seen := make(map[string]struct{})
		token := ""
		for {
			page, err := db.Client().List(rootCtx, "resource=", token, 1000)
			if err != nil {
				return err
			}
			for _, key := range page.Keys {
				rest := strings.TrimPrefix(key, "resource=")
				if i := strings.IndexByte(rest, '/'); i > 0 {
					seen[rest[:i]] = struct{}{}
				}
			}
			if !page.Truncated {
				break
			}
			token = page.NextToken
		}
		names := make([]string, 0, len(seen))
		for name := range seen {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

// loadSchemaFile parses a YAML schema declaration. A file may declare a
// single resource at top level or a resources list.
func loadSchemaFile(path string) ([]strata.ResourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var multi schemaFile
	if err := yaml.Unmarshal(data, &multi); err == nil && len(multi.Resources) > 0 {
		return multi.Resources, nil
	}
	var single strata.ResourceConfig
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if single.Name == "" {
		return nil, fmt.Errorf("parse %s: no resources declared", path)
	}
	return []strata.ResourceConfig{single}, nil
}

// loadSchemaDir applies every .yaml/.yml file in a directory.
func loadSchemaDir(dir string) ([]strata.ResourceConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var cfgs []strata.ResourceConfig
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		fileCfgs, err := loadSchemaFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, fileCfgs...)
	}
	return cfgs, nil
}

func init() {
	resourceApplyCmd.Flags().StringVarP(&applyFile, "file", "f", "", "schema file (yaml)")
	_ = resourceApplyCmd.MarkFlagRequired("file")
	resourceCmd.AddCommand(resourceApplyCmd, resourceListCmd)
	rootCmd.AddCommand(resourceCmd)
}
