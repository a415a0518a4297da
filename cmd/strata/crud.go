package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stratadb/strata"
)

var (
	crudSchema    string
	listPartition string
	listLimit     int
	listCursor    string
)

// openResource opens the database and the resource declared in the
// schema file named by --schema.
func openResource(name string) (*strata.Resource, error) {
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
	res, ok := db.Resource(name)
	if !ok {
		return nil, fmt.Errorf("resource %q not declared: pass --schema", name)
	}
	return res, nil
}

func readRecordArg(arg string) (strata.Record, error) {
	var data []byte
	var err error
	if arg == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data = []byte(arg)
	}
	if err != nil {
		return nil, err
	}
	var rec strata.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	return rec, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

var putCmd = &cobra.Command{
	Use:   "put <resource> <json|->",
	Short: "Insert or update a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := openResource(args[0])
		if err != nil {
			return err
		}
		rec, err := readRecordArg(args[1])
		if err != nil {
			return err
		}
		out, err := res.Upsert(rootCtx, rec)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <resource> <id>",
	Short: "Fetch a record by id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := openResource(args[0])
		if err != nil {
			return err
		}
		rec, err := res.Get(rootCtx, args[1])
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <resource> <id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := openResource(args[0])
		if err != nil {
			return err
		}
		return res.Delete(rootCtx, args[1])
	},
}

var listCmd = &cobra.Command{
	Use:   "list <resource>",
	Short: "List records, optionally through a partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := openResource(args[0])
		if err != nil {
			return err
		}
		page, err := res.List(rootCtx, strata.ListOptions{
			Partition: listPartition,
			Limit:     listLimit,
			Cursor:    listCursor,
		})
		if err != nil {
			return err
		}
		for _, rec := range page.Records {
			if err := printJSON(rec); err != nil {
				return err
			}
		}
		if page.HasMore {
			fmt.Fprintf(os.Stderr, "next cursor: %s\n", page.Cursor)
		}
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count <resource>",
	Short: "Count records, optionally within a partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := openResource(args[0])
		if err != nil {
			return err
		}
		n, err := res.Count(rootCtx, listPartition)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{putCmd, getCmd, deleteCmd, listCmd, countCmd} {
		c.Flags().StringVar(&crudSchema, "schema", "", "schema file declaring the resource")
	}
	listCmd.Flags().StringVar(&listPartition, "partition", "", "partition to list through")
	listCmd.Flags().IntVar(&listLimit, "limit", 100, "page size")
	listCmd.Flags().StringVar(&listCursor, "cursor", "", "continuation cursor")
	countCmd.Flags().StringVar(&listPartition, "partition", "", "partition to count")
	rootCmd.AddCommand(putCmd, getCmd, deleteCmd, listCmd, countCmd)
}
