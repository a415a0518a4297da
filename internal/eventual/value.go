package eventual

import (
	"context"

	"github.com/stratadb/strata/internal/types"
)

// ValueOptions tune GetConsolidatedValue.
type ValueOptions struct {
	// IncludePending folds unapplied transactions on top of the stored
	// value, giving a read-your-writes view without consolidating.
	IncludePending bool
}

// GetConsolidatedValue reads the field's stored value, optionally folding
// pending transactions in.
func (p *Plugin) GetConsolidatedValue(ctx context.Context, resName, id, field string, opts ValueOptions) (float64, error) {
	s, err := p.stream(resName, field)
	if err != nil {
		return 0, err
	}

	rec, err := s.target.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	value := 0.0
	if v, ok := rec.GetPath(field); ok {
		value = num(v)
	}
	if !opts.IncludePending {
		return value, nil
	}

	txs, err := p.pending(ctx, s, id, p.cfg.window())
	if err != nil {
		return 0, err
	}
	return fold(value, txs), nil
}

// Recalculate rebuilds the primary field from the entire retained
// transaction log, applied and pending alike, folding from zero. Used to
// repair a primary value suspected of drift. Runs under the stream lock.
func (p *Plugin) Recalculate(ctx context.Context, resName, id, field string) (float64, error) {
	s, err := p.stream(resName, field)
	if err != nil {
		return 0, err
	}

	lease, err := p.locks.Acquire(ctx, lockName(resName, id, field), p.cfg.lockTTL())
	if err != nil {
		return 0, err
	}
	defer lease.Release(context.WithoutCancel(ctx))

	// Prefix query on originalId alone spans both applied partitions.
	recs, err := s.tx.Query(ctx, partByOriginalIDAndApplied, map[string]any{"originalId": id})
	if err != nil {
		return 0, err
	}
	txs := make([]*types.Transaction, 0, len(recs))
	for _, rec := range recs {
		txs = append(txs, recordTx(rec))
	}
	sortTxs(txs)

	value := fold(0, txs)
	if err := p.writePrimary(ctx, s, id, value); err != nil {
		return 0, types.NewError(types.ErrConsolidation, "EC_RECALC_WRITE", err.Error(),
			"resource", resName, "id", id, "field", field)
	}

	unapplied := txs[:0]
	for _, tx := range txs {
		if !tx.Applied {
			unapplied = append(unapplied, tx)
		}
	}
	p.markApplied(ctx, s, unapplied)
	return value, nil
}
