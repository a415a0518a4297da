// Package database assembles the storage engine: one object-store
// client, the resource runtimes opened on it, the event bus, the lock
// manager, and installed plugins.
package database

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/stratadb/strata/internal/eventbus"
	"github.com/stratadb/strata/internal/locks"
	"github.com/stratadb/strata/internal/objstore"
	"github.com/stratadb/strata/internal/plugin"
	"github.com/stratadb/strata/internal/resource"
	"github.com/stratadb/strata/internal/telemetry"
)

// Options tune a database.
type Options struct {
	// Store passes client tuning through to the object-store backend.
	Store objstore.Options

	// ReconcileInterval runs the partition reconciler for every resource
	// on this period. Zero disables the loop.
	ReconcileInterval time.Duration

	// ReconcileWindow bounds how far back the reconciler looks. Defaults
	// to twice the interval.
	ReconcileWindow time.Duration
}

// Database is one open store.
type Database struct {
	client objstore.Client
	bus    *eventbus.Bus
	locks  *locks.Manager

	mu        sync.RWMutex
	resources map[string]*resource.Resource
	plugins   []plugin.Plugin

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open connects to the store named by the connection string
// (s3://, file://, or memory://) and returns an empty database.
func Open(ctx context.Context, connString string, opts Options) (*Database, error) {
	client, err := objstore.Open(ctx, connString, opts.Store)
	if err != nil {
		return nil, err
	}
	db := New(telemetry.WrapClient(client))

	if opts.ReconcileInterval > 0 {
		window := opts.ReconcileWindow
		if window <= 0 {
			window = 2 * opts.ReconcileInterval
		}
		loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		db.cancel = cancel
		db.wg.Add(1)
		go db.reconcileLoop(loopCtx, opts.ReconcileInterval, window)
	}
	return db, nil
}

// New wraps an already-open client. Used by tests and by callers that
// construct their own backend.
func New(client objstore.Client) *Database {
	return &Database{
		client:    client,
		bus:       eventbus.New(),
		locks:     locks.NewManager(client),
		resources: make(map[string]*resource.Resource),
	}
}

// CreateResource compiles and opens a resource runtime. Opening the same
// name twice is an error; use EnsureResource for idempotent opens.
func (db *Database) CreateResource(ctx context.Context, cfg resource.Config) (*resource.Resource, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.resources[cfg.Name]; ok {
		return nil, fmt.Errorf("database: resource %q already open", cfg.Name)
	}
	return db.openLocked(cfg)
}

// EnsureResource implements plugin.Host: it opens the resource or
// returns the existing runtime.
func (db *Database) EnsureResource(ctx context.Context, cfg resource.Config) (*resource.Resource, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if r, ok := db.resources[cfg.Name]; ok {
		return r, nil
	}
	return db.openLocked(cfg)
}

func (db *Database) openLocked(cfg resource.Config) (*resource.Resource, error) {
	r, err := resource.New(cfg, db.client, db.bus)
	if err != nil {
		return nil, err
	}
	db.resources[cfg.Name] = r
	return r, nil
}

// Resource returns an open resource runtime by name.
func (db *Database) Resource(name string) (*resource.Resource, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	r, ok := db.resources[name]
	return r, ok
}

// Resources lists the open resource names.
func (db *Database) Resources() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.resources))
	for name := range db.resources {
		names = append(names, name)
	}
	return names
}

// Bus implements plugin.Host.
func (db *Database) Bus() *eventbus.Bus { return db.bus }

// Locks implements plugin.Host.
func (db *Database) Locks() *locks.Manager { return db.locks }

// Client exposes the underlying object-store client.
func (db *Database) Client() objstore.Client { return db.client }

// UsePlugin installs and starts a plugin.
func (db *Database) UsePlugin(ctx context.Context, p plugin.Plugin) error {
	if err := p.Install(ctx, db); err != nil {
		return fmt.Errorf("install plugin %s: %w", p.Name(), err)
	}
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start plugin %s: %w", p.Name(), err)
	}
	db.mu.Lock()
	db.plugins = append(db.plugins, p)
	db.mu.Unlock()
	return nil
}

// Plugin returns an installed plugin by name.
func (db *Database) Plugin(name string) (plugin.Plugin, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, p := range db.plugins {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Close stops plugins in reverse install order, drains the resource
// runtimes and the reconciler, and closes the store client.
func (db *Database) Close(ctx context.Context) error {
	if db.cancel != nil {
		db.cancel()
	}
	db.wg.Wait()

	db.mu.Lock()
	plugins := db.plugins
	db.plugins = nil
	resources := db.resources
	db.resources = make(map[string]*resource.Resource)
	db.mu.Unlock()

	for i := len(plugins) - 1; i >= 0; i-- {
		if err := plugins[i].Stop(ctx); err != nil {
			log.Printf("database: stop plugin %s: %v", plugins[i].Name(), err)
		}
	}
	for _, r := range resources {
		r.Close()
	}
	return db.client.Close()
}

// Reconcile runs one partition repair pass over every open resource.
func (db *Database) Reconcile(ctx context.Context, window time.Duration) error {
	db.mu.RLock()
	resources := make([]*resource.Resource, 0, len(db.resources))
	for _, r := range db.resources {
		resources = append(resources, r)
	}
	db.mu.RUnlock()

	for _, r := range resources {
		if err := r.Reconcile(ctx, window); err != nil {
			return fmt.Errorf("reconcile %s: %w", r.Name(), err)
		}
	}
	return nil
}

func (db *Database) reconcileLoop(ctx context.Context, interval, window time.Duration) {
	defer db.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.Reconcile(ctx, window); err != nil && ctx.Err() == nil {
				log.Printf("database: reconcile: %v", err)
			}
		}
	}
}
