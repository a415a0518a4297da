package resource

import (
	"context"
	"sync"

	"github.com/stratadb/strata/internal/types"
)

// HookPoint names one of the fixed hook points every resource emits.
type HookPoint string

const (
	BeforeInsert HookPoint = "beforeInsert"
	AfterInsert  HookPoint = "afterInsert"
	BeforeUpdate HookPoint = "beforeUpdate"
	AfterUpdate  HookPoint = "afterUpdate"
	BeforeDelete HookPoint = "beforeDelete"
	AfterDelete  HookPoint = "afterDelete"
)

// HookFunc observes or rewrites a record. Before-hooks may return a
// replacement record; returning an error aborts the operation. Errors
// from after-hooks are reported through Resource.AfterHookErrors and do
// not propagate to the caller.
//
// For update hooks, prior carries the pre-operation record; it is nil for
// insert hooks.
type HookFunc func(ctx context.Context, rec types.Record, prior types.Record) (types.Record, error)

type hookSet struct {
	mu    sync.RWMutex
	hooks map[HookPoint][]HookFunc
}

func newHookSet() *hookSet {
	return &hookSet{hooks: make(map[HookPoint][]HookFunc)}
}

// AddHook registers a hook; hooks run in registration order.
func (r *Resource) AddHook(point HookPoint, fn HookFunc) {
	r.hooks.mu.Lock()
	defer r.hooks.mu.Unlock()
	r.hooks.hooks[point] = append(r.hooks.hooks[point], fn)
}

// runBefore chains the before-hooks; the record returned by one hook
// feeds the next. An error aborts the chain and the operation.
func (r *Resource) runBefore(ctx context.Context, point HookPoint, rec, prior types.Record) (types.Record, error) {
	r.hooks.mu.RLock()
	chain := append([]HookFunc(nil), r.hooks.hooks[point]...)
	r.hooks.mu.RUnlock()
	for _, fn := range chain {
		next, err := fn(ctx, rec, prior)
		if err != nil {
			return nil, err
		}
		if next != nil {
			rec = next
		}
	}
	return rec, nil
}

// runAfter runs the after-hooks; failures are collected into the error
// channel rather than surfaced to the caller.
func (r *Resource) runAfter(ctx context.Context, point HookPoint, rec, prior types.Record) {
	r.hooks.mu.RLock()
	chain := append([]HookFunc(nil), r.hooks.hooks[point]...)
	r.hooks.mu.RUnlock()
	for _, fn := range chain {
		if _, err := fn(ctx, rec, prior); err != nil {
			r.AfterHookErrors(err)
		}
	}
}
