// Package resource implements the record runtime: CRUD and bulk
// operations over one named collection, schema validation, metadata
// packing, partition fan-out, hooks, and event emission.
package resource

import (
	"context"
	"log"
	"time"

	"github.com/stratadb/strata/internal/eventbus"
	"github.com/stratadb/strata/internal/metapack"
	"github.com/stratadb/strata/internal/objstore"
	"github.com/stratadb/strata/internal/partition"
	"github.com/stratadb/strata/internal/schema"
	"github.com/stratadb/strata/internal/types"
)

// Config declares a resource.
type Config struct {
	Name            string                 `json:"name" yaml:"name"`
	Attributes      map[string]string      `json:"attributes" yaml:"attributes"`
	Behavior        types.Behavior         `json:"behavior" yaml:"behavior"`
	Partitions      []partition.Definition `json:"partitions" yaml:"partitions"`
	Timestamps      bool                   `json:"timestamps" yaml:"timestamps"`
	Paranoid        bool                   `json:"paranoid" yaml:"paranoid"`
	AsyncPartitions bool                   `json:"asyncPartitions" yaml:"asyncPartitions"`

	// MetadataBudget overrides the metadata byte ceiling; 0 uses the
	// default.
	MetadataBudget int `json:"metadataBudget,omitempty" yaml:"metadataBudget,omitempty"`

	// PartitionWorkers sizes the async fan-out pool; 0 uses the default.
	PartitionWorkers int `json:"partitionWorkers,omitempty" yaml:"partitionWorkers,omitempty"`

	// BulkConcurrency bounds parallel items in bulk operations; 0 uses
	// the default (10).
	BulkConcurrency int `json:"bulkConcurrency,omitempty" yaml:"bulkConcurrency,omitempty"`
}

const defaultBulkConcurrency = 10

// Timestamp attribute names autocreated when Timestamps is set.
const (
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldDeletedAt = "deletedAt"
)

// Resource is one live collection bound to an object-store client.
type Resource struct {
	cfg    Config
	client objstore.Client
	schema *schema.Schema
	packer *metapack.Packer
	parts  *partition.Engine
	hooks  *hookSet
	bus    *eventbus.Bus

	// AfterHookErrors receives failures from after-hooks instead of
	// propagating them to callers. Defaults to logging.
	AfterHookErrors func(error)
}

// New compiles the schema and opens the resource runtime. Async partition
// workers are started immediately; the reconciler is the caller's
// responsibility (the database runs it at open and on a ticker).
func New(cfg Config, client objstore.Client, bus *eventbus.Bus) (*Resource, error) {
	behavior, err := types.ParseBehavior(string(cfg.Behavior))
	if err != nil {
		return nil, err
	}
	cfg.Behavior = behavior

	defs := cfg.Attributes
	if cfg.Timestamps {
		defs = make(map[string]string, len(cfg.Attributes)+3)
		for k, v := range cfg.Attributes {
			defs[k] = v
		}
		defs[FieldCreatedAt] = "date|optional"
		defs[FieldUpdatedAt] = "date|optional"
		if cfg.Paranoid {
			defs[FieldDeletedAt] = "date|optional"
		}
	}
	sch, err := schema.Compile(cfg.Name, defs)
	if err != nil {
		return nil, err
	}
	for i := range cfg.Partitions {
		if err := cfg.Partitions[i].Validate(); err != nil {
			return nil, err
		}
	}

	r := &Resource{
		cfg:    cfg,
		client: client,
		schema: sch,
		packer: metapack.New(sch, behavior, cfg.MetadataBudget),
		parts:  partition.NewEngine(client, cfg.Name, sch, cfg.Partitions, cfg.AsyncPartitions, cfg.PartitionWorkers),
		hooks:  newHookSet(),
		bus:    bus,
		AfterHookErrors: func(err error) {
			log.Printf("resource: after-hook: %v", err)
		},
	}
	r.parts.Start()
	return r, nil
}

// Name returns the resource name.
func (r *Resource) Name() string { return r.cfg.Name }

// Schema returns the compiled schema.
func (r *Resource) Schema() *schema.Schema { return r.schema }

// Config returns the resource configuration.
func (r *Resource) Config() Config { return r.cfg }

// Partitions exposes the partition engine (used by the database's
// reconciler loop).
func (r *Resource) Partitions() *partition.Engine { return r.parts }

// Close drains the async partition pool.
func (r *Resource) Close() {
	r.parts.Stop()
}

// Reconcile repairs partition index drift for primaries modified within
// the window.
func (r *Resource) Reconcile(ctx context.Context, window time.Duration) error {
	return r.parts.Reconcile(ctx, window, func(ctx context.Context, id string) (types.Record, error) {
		return r.read(ctx, id)
	})
}

func (r *Resource) emit(ctx context.Context, t eventbus.EventType, rec types.Record) {
	if r.bus == nil {
		return
	}
	r.bus.Dispatch(ctx, &eventbus.Event{
		Type:     t,
		Resource: r.cfg.Name,
		Record:   rec,
		Time:     time.Now().UTC(),
	})
}

func (r *Resource) bulkConcurrency() int64 {
	if r.cfg.BulkConcurrency > 0 {
		return int64(r.cfg.BulkConcurrency)
	}
	return defaultBulkConcurrency
}
