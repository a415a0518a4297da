package eventual

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/stratadb/strata/internal/eventbus"
	"github.com/stratadb/strata/internal/types"
)

// Result reports one consolidation pass. Skip outcomes (lock held, target
// missing, nothing pending) are results, not errors: the outer scan
// switches on Reason and moves on.
type Result struct {
	Skipped bool
	Reason  string // "lock-held", "missing-target", "no-pending"

	Value    float64
	Applied  int
	Errors   int
	Duration time.Duration
}

// Consolidate folds pending transactions for (id, field) under the
// stream's exclusive lock and applies the result to the primary record.
// Idempotent: transactions already marked applied are never refolded.
func (p *Plugin) Consolidate(ctx context.Context, resName, id, field string) (*Result, error) {
	s, err := p.stream(resName, field)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	lease, err := p.locks.Acquire(ctx, lockName(resName, id, field), p.cfg.lockTTL())
	if err != nil {
		if errors.Is(err, types.ErrLockHeld) {
			return &Result{Skipped: true, Reason: "lock-held"}, nil
		}
		return nil, err
	}
	defer func() {
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil && !errors.Is(rerr, types.ErrLockHeld) {
			p.emit(ctx, eventbus.EventECConsolidationError, resName, nil, rerr)
		}
	}()

	txs, err := p.pending(ctx, s, id, p.cfg.window())
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return &Result{Skipped: true, Reason: "no-pending"}, nil
	}

	cur, err := s.target.Get(ctx, id)
	if errors.Is(err, types.ErrNotFound) {
		// Transactions outlive the target; they stay pending until the
		// record exists.
		return &Result{Skipped: true, Reason: "missing-target"}, nil
	}
	if err != nil {
		return nil, err
	}
	base := 0.0
	if v, ok := cur.GetPath(field); ok {
		base = num(v)
	}
	value := fold(base, txs)

	if err := p.writePrimary(ctx, s, id, value); err != nil {
		cerr := types.NewError(types.ErrConsolidation, "EC_PRIMARY_WRITE", err.Error(),
			"resource", resName, "id", id, "field", field)
		p.emit(ctx, eventbus.EventECConsolidationError, resName, nil, cerr)
		return nil, cerr
	}

	applied, failed := p.markApplied(ctx, s, txs)

	if p.cfg.Analytics.Enabled {
		if aerr := p.updateAnalytics(ctx, s, applied); aerr != nil {
			p.emit(ctx, eventbus.EventECConsolidationError, resName, nil, aerr)
		}
	}
	if p.cfg.Checkpoints.Enabled {
		if cerr := p.writeCheckpoint(ctx, s, id, value, applied); cerr != nil {
			p.emit(ctx, eventbus.EventECConsolidationError, resName, nil, cerr)
		}
	}

	res := &Result{
		Value:    value,
		Applied:  len(applied),
		Errors:   failed,
		Duration: time.Since(start),
	}
	p.emit(ctx, eventbus.EventECConsolidated, resName,
		eventbus.ConsolidatedPayload(resName, field, len(txs), len(applied), failed, res.Duration), nil)
	return res, nil
}

// writePrimary issues the single primary update, retrying transient
// store failures with bounded backoff.
func (p *Plugin) writePrimary(ctx context.Context, s *stream, id string, value float64) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(func() error {
		_, err := s.target.Update(ctx, id, types.Record{s.field: value})
		if err == nil {
			return nil
		}
		if types.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

// markApplied flips the applied flag on each folded transaction with
// bounded parallelism. Returns the transactions marked and the failure
// count; failed marks stay pending and are picked up next pass.
func (p *Plugin) markApplied(ctx context.Context, s *stream, txs []*types.Transaction) ([]*types.Transaction, int) {
	now := time.Now().UTC()
	sem := semaphore.NewWeighted(int64(p.cfg.Consolidation.MarkAppliedConcurrency))
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied []*types.Transaction
		failed  int
	)
	for _, tx := range txs {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			failed++
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(tx *types.Transaction) {
			defer wg.Done()
			defer sem.Release(1)
			_, err := s.tx.Update(ctx, tx.ID, types.Record{
				"applied":   true,
				"appliedAt": now.Format(time.RFC3339Nano),
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				return
			}
			tx.Applied = true
			tx.AppliedAt = &now
			applied = append(applied, tx)
		}(tx)
	}
	wg.Wait()
	sortTxs(applied)
	return applied, failed
}

// ConsolidateAll scans every managed stream for records with pending
// transactions and consolidates them with bounded parallelism. Used by
// the scheduler and exposed for manual sweeps.
func (p *Plugin) ConsolidateAll(ctx context.Context) error {
	sem := semaphore.NewWeighted(int64(p.cfg.Consolidation.Concurrency))
	var wg sync.WaitGroup

	for resName, fields := range p.streams {
		for field, s := range fields {
			ids, err := p.pendingIDs(ctx, s)
			if err != nil {
				p.emit(ctx, eventbus.EventECConsolidationError, resName, nil, err)
				continue
			}
			for _, id := range ids {
				if err := sem.Acquire(ctx, 1); err != nil {
					wg.Wait()
					return err
				}
				wg.Add(1)
				go func(resName, id, field string) {
					defer wg.Done()
					defer sem.Release(1)
					if _, err := p.Consolidate(ctx, resName, id, field); err != nil {
						p.emit(ctx, eventbus.EventECConsolidationError, resName, nil, err)
					}
				}(resName, id, field)
			}
		}
	}
	wg.Wait()
	return nil
}

// pendingIDs returns the distinct originalIds with unapplied
// transactions, from the applied=false partition.
func (p *Plugin) pendingIDs(ctx context.Context, s *stream) ([]string, error) {
	recs, err := s.tx.Query(ctx, partByApplied, map[string]any{"applied": false})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(recs))
	var ids []string
	for _, rec := range recs {
		id := str(rec["originalId"])
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func lockName(resName, id, field string) string {
	return resName + ":" + id + ":" + field
}
