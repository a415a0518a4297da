// Package plugin defines the contract between the database and its
// plugins. A plugin installs against a Host, may create internal
// resources, and runs background work between Start and Stop.
package plugin

import (
	"context"

	"github.com/stratadb/strata/internal/eventbus"
	"github.com/stratadb/strata/internal/locks"
	"github.com/stratadb/strata/internal/resource"
)

// Host is the database surface a plugin sees at install time.
type Host interface {
	// EnsureResource opens the named resource, creating its runtime if
	// the database does not have it yet.
	EnsureResource(ctx context.Context, cfg resource.Config) (*resource.Resource, error)

	// Resource returns an already-open resource.
	Resource(name string) (*resource.Resource, bool)

	// Bus is the database-wide event bus.
	Bus() *eventbus.Bus

	// Locks is the database-wide lock manager.
	Locks() *locks.Manager
}

// Plugin is installed on a database and may run background loops.
type Plugin interface {
	Name() string
	Install(ctx context.Context, host Host) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
