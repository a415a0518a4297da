package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/stratadb/strata/internal/objstore"
	"github.com/stratadb/strata/internal/types"
)

// ListOptions control a listing page.
type ListOptions struct {
	Limit     int
	Cursor    string
	Partition string         // list a partition's index instead of primaries
	Filters   map[string]any // partial key prefix for the partition
}

// ListPage is one page of reassembled records.
type ListPage struct {
	Records []types.Record
	Cursor  string
	HasMore bool
}

// List pages through the resource (or one of its partitions) using
// continuation tokens and reassembles the records. Tombstoned records
// are skipped under paranoid mode.
func (r *Resource) List(ctx context.Context, opts ListOptions) (*ListPage, error) {
	prefix, err := r.scanPrefix(opts.Partition, opts.Filters)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	page, err := r.client.List(ctx, prefix, opts.Cursor, limit)
	if err != nil {
		return nil, err
	}

	out := &ListPage{Cursor: page.NextToken, HasMore: page.Truncated}
	for _, key := range page.Keys {
		id := objstore.IDFromKey(key)
		if id == "" {
			continue
		}
		rec, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue // tombstoned, or index object ahead of a deleted primary
			}
			return nil, err
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

// Query returns all records in a partition whose leading fields match the
// filters. Only prefix matches are supported: derivation stops at the
// first partition field without a filter value, and any remaining filter
// keys must belong to the partition.
func (r *Resource) Query(ctx context.Context, partitionName string, filters map[string]any) ([]types.Record, error) {
	def, ok := r.parts.Definition(partitionName)
	if !ok {
		return nil, fmt.Errorf("resource %q has no partition %q", r.cfg.Name, partitionName)
	}
	for f := range filters {
		found := false
		for _, pf := range def.Fields {
			if pf == f {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("filter field %q is not part of partition %q", f, partitionName)
		}
	}

	var records []types.Record
	cursor := ""
	for {
		page, err := r.List(ctx, ListOptions{
			Partition: partitionName,
			Filters:   filters,
			Cursor:    cursor,
			Limit:     1000,
		})
		if err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
		if !page.HasMore {
			return records, nil
		}
		cursor = page.Cursor
	}
}

// Count returns the number of keys under the resource prefix, or under a
// partition prefix when partitionName is non-empty.
func (r *Resource) Count(ctx context.Context, partitionName string) (int, error) {
	prefix, err := r.scanPrefix(partitionName, nil)
	if err != nil {
		return 0, err
	}
	count := 0
	token := ""
	for {
		page, err := r.client.List(ctx, prefix, token, 0)
		if err != nil {
			return 0, err
		}
		count += len(page.Keys)
		if !page.Truncated {
			return count, nil
		}
		token = page.NextToken
	}
}

func (r *Resource) scanPrefix(partitionName string, filters map[string]any) (string, error) {
	if partitionName == "" {
		return objstore.ResourcePrefix(r.cfg.Name), nil
	}
	def, ok := r.parts.Definition(partitionName)
	if !ok {
		return "", fmt.Errorf("resource %q has no partition %q", r.cfg.Name, partitionName)
	}
	if len(filters) == 0 {
		return objstore.PartitionPrefix(r.cfg.Name, partitionName, nil), nil
	}
	return def.PrefixFor(r.cfg.Name, r.schema, filters)
}
