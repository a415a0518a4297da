// Package strata provides the public API of the strata document store:
// schema-validated records packed into object metadata on an
// S3-compatible store, partition indexes for prefix queries, and the
// eventual-consistency plugin for numeric fields.
//
// Most programs need only Connect, CreateResource, and the resource
// CRUD surface; install eventual.New(...) for transaction-log counters.
package strata

import (
	"context"

	"github.com/stratadb/strata/internal/database"
	"github.com/stratadb/strata/internal/eventbus"
	"github.com/stratadb/strata/internal/eventual"
	"github.com/stratadb/strata/internal/objstore"
	"github.com/stratadb/strata/internal/partition"
	"github.com/stratadb/strata/internal/plugin"
	"github.com/stratadb/strata/internal/resource"
	"github.com/stratadb/strata/internal/types"
)

// Core types for working with records and resources.
type (
	Record         = types.Record
	Behavior       = types.Behavior
	Period         = types.Period
	Operation      = types.Operation
	Transaction    = types.Transaction
	Analytics      = types.Analytics
	Checkpoint     = types.Checkpoint
	Database       = database.Database
	Options        = database.Options
	Resource       = resource.Resource
	ResourceConfig = resource.Config
	Partition      = partition.Definition
	ListOptions    = resource.ListOptions
	BulkResult     = resource.BulkResult
	HookPoint      = resource.HookPoint
	HookFunc       = resource.HookFunc
	Event          = eventbus.Event
	EventType      = eventbus.EventType
	Plugin         = plugin.Plugin
	StoreOptions   = objstore.Options
)

// Behavior constants.
const (
	BehaviorUserMetadata  = types.BehaviorUserMetadata
	BehaviorEnforceLimits = types.BehaviorEnforceLimits
	BehaviorTruncateData  = types.BehaviorTruncateData
	BehaviorBodyOverflow  = types.BehaviorBodyOverflow
	BehaviorBodyOnly      = types.BehaviorBodyOnly
)

// Hook points.
const (
	BeforeInsert = resource.BeforeInsert
	AfterInsert  = resource.AfterInsert
	BeforeUpdate = resource.BeforeUpdate
	AfterUpdate  = resource.AfterUpdate
	BeforeDelete = resource.BeforeDelete
	AfterDelete  = resource.AfterDelete
)

// Error sentinels, matchable with errors.Is.
var (
	ErrValidation       = types.ErrValidation
	ErrMetadataOverflow = types.ErrMetadataOverflow
	ErrEncoding         = types.ErrEncoding
	ErrNotFound         = types.ErrNotFound
	ErrAlreadyExists    = types.ErrAlreadyExists
	ErrTransient        = types.ErrTransient
	ErrPermanent        = types.ErrPermanent
	ErrLockHeld         = types.ErrLockHeld
	ErrConsolidation    = types.ErrConsolidation
	ErrGC               = types.ErrGC
)

// EventualConsistency plugin surface.
type (
	EventualConfig = eventual.Config
	Eventual       = eventual.Plugin
)

// NewEventualConsistency builds the eventual-consistency plugin from its
// config; install it with Database.UsePlugin.
func NewEventualConsistency(cfg EventualConfig) (*Eventual, error) {
	return eventual.New(cfg)
}

// Connect opens a database on the store named by the connection string:
// s3://access:secret@bucket/prefix?region=..., file:///path, or
// memory:// for tests.
func Connect(ctx context.Context, connString string, opts Options) (*Database, error) {
	return database.Open(ctx, connString, opts)
}
