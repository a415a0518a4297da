package resource

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/stratadb/strata/internal/types"
)

// BulkResult reports the outcome of one item in a bulk operation.
type BulkResult struct {
	ID     string
	Record types.Record
	Err    error
}

// GetMany fetches records by id with bounded concurrency. Results keep
// the input order; missing records report types.ErrNotFound in their slot.
func (r *Resource) GetMany(ctx context.Context, ids []string) ([]BulkResult, error) {
	return r.forEach(ctx, len(ids), func(i int) BulkResult {
		rec, err := r.Get(ctx, ids[i])
		return BulkResult{ID: ids[i], Record: rec, Err: err}
	})
}

// InsertMany inserts records with bounded concurrency. Each item succeeds
// or fails independently.
func (r *Resource) InsertMany(ctx context.Context, recs []types.Record) ([]BulkResult, error) {
	return r.forEach(ctx, len(recs), func(i int) BulkResult {
		out, err := r.Insert(ctx, recs[i])
		id := recs[i].ID()
		if out != nil {
			id = out.ID()
		}
		return BulkResult{ID: id, Record: out, Err: err}
	})
}

// UpdateMany applies patches keyed by record id with bounded concurrency.
func (r *Resource) UpdateMany(ctx context.Context, patches map[string]types.Record) ([]BulkResult, error) {
	ids := make([]string, 0, len(patches))
	for id := range patches {
		ids = append(ids, id)
	}
	return r.forEach(ctx, len(ids), func(i int) BulkResult {
		out, err := r.Update(ctx, ids[i], patches[ids[i]])
		return BulkResult{ID: ids[i], Record: out, Err: err}
	})
}

// DeleteMany deletes records by id with bounded concurrency.
func (r *Resource) DeleteMany(ctx context.Context, ids []string) ([]BulkResult, error) {
	return r.forEach(ctx, len(ids), func(i int) BulkResult {
		return BulkResult{ID: ids[i], Err: r.Delete(ctx, ids[i])}
	})
}

// forEach runs fn for each index under the bulk concurrency cap. The
// returned error is only non-nil when the context is cancelled before all
// items were attempted.
func (r *Resource) forEach(ctx context.Context, n int, fn func(i int) BulkResult) ([]BulkResult, error) {
	results := make([]BulkResult, n)
	sem := semaphore.NewWeighted(r.bulkConcurrency())
	var wg sync.WaitGroup
	var ctxErr error
	for i := 0; i < n; i++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			ctxErr = err
			for j := i; j < n; j++ {
				results[j] = BulkResult{Err: err}
			}
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = fn(i)
		}(i)
	}
	wg.Wait()
	if ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
		return results, ctxErr
	}
	return results, ctxErr
}
