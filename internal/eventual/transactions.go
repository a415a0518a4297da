package eventual

import (
	"context"
	"sort"
	"time"

	"github.com/stratadb/strata/internal/idgen"
	"github.com/stratadb/strata/internal/types"
)

// Add records a delta transaction against a managed field. The primary
// record is not touched here; in sync mode the call blocks until a
// consolidation pass has applied it.
func (p *Plugin) Add(ctx context.Context, resName, id, field string, delta float64) (*types.Transaction, error) {
	return p.mutate(ctx, resName, id, field, delta, types.OpAdd)
}

// Sub records a subtraction transaction.
func (p *Plugin) Sub(ctx context.Context, resName, id, field string, delta float64) (*types.Transaction, error) {
	return p.mutate(ctx, resName, id, field, delta, types.OpSub)
}

// Set records an absolute-value transaction. On fold it resets the
// accumulator, discarding earlier history.
func (p *Plugin) Set(ctx context.Context, resName, id, field string, value float64) (*types.Transaction, error) {
	return p.mutate(ctx, resName, id, field, value, types.OpSet)
}

// Increment is Add with delta 1.
func (p *Plugin) Increment(ctx context.Context, resName, id, field string) (*types.Transaction, error) {
	return p.Add(ctx, resName, id, field, 1)
}

// Decrement is Sub with delta 1.
func (p *Plugin) Decrement(ctx context.Context, resName, id, field string) (*types.Transaction, error) {
	return p.Sub(ctx, resName, id, field, 1)
}

func (p *Plugin) mutate(ctx context.Context, resName, id, field string, value float64, op types.Operation) (*types.Transaction, error) {
	s, err := p.stream(resName, field)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cohorts := computeCohorts(now, p.loc)
	tx := &types.Transaction{
		ID:          idgen.New(),
		OriginalID:  id,
		Field:       field,
		Value:       value,
		Operation:   op,
		Timestamp:   now,
		CohortHour:  cohorts.Hour,
		CohortDay:   cohorts.Day,
		CohortWeek:  cohorts.Week,
		CohortMonth: cohorts.Month,
	}
	if _, err := s.tx.Insert(ctx, txRecord(tx)); err != nil {
		return nil, err
	}

	if p.cfg.Consolidation.Mode == ModeSync {
		if _, err := p.Consolidate(ctx, resName, id, field); err != nil {
			return tx, err
		}
	}
	return tx, nil
}

// txRecord converts a transaction to its stored record form.
func txRecord(tx *types.Transaction) types.Record {
	rec := types.Record{
		"id":          tx.ID,
		"originalId":  tx.OriginalID,
		"field":       tx.Field,
		"value":       tx.Value,
		"operation":   string(tx.Operation),
		"timestamp":   tx.Timestamp.Format(time.RFC3339Nano),
		"cohortHour":  tx.CohortHour,
		"cohortDay":   tx.CohortDay,
		"cohortWeek":  tx.CohortWeek,
		"cohortMonth": tx.CohortMonth,
		"applied":     tx.Applied,
	}
	if tx.AppliedAt != nil {
		rec["appliedAt"] = tx.AppliedAt.Format(time.RFC3339Nano)
	}
	return rec
}

// recordTx converts a stored record back into a transaction.
func recordTx(rec types.Record) *types.Transaction {
	tx := &types.Transaction{
		ID:          str(rec["id"]),
		OriginalID:  str(rec["originalId"]),
		Field:       str(rec["field"]),
		Value:       num(rec["value"]),
		Operation:   types.Operation(str(rec["operation"])),
		CohortHour:  str(rec["cohortHour"]),
		CohortDay:   str(rec["cohortDay"]),
		CohortWeek:  str(rec["cohortWeek"]),
		CohortMonth: str(rec["cohortMonth"]),
	}
	tx.Applied, _ = rec["applied"].(bool)
	if ts, err := time.Parse(time.RFC3339Nano, str(rec["timestamp"])); err == nil {
		tx.Timestamp = ts
	}
	if at := str(rec["appliedAt"]); at != "" {
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			tx.AppliedAt = &ts
		}
	}
	return tx
}

// pending lists unapplied transactions for the record within the
// consolidation window, oldest first (timestamp order, id breaks ties).
func (p *Plugin) pending(ctx context.Context, s *stream, id string, window time.Duration) ([]*types.Transaction, error) {
	recs, err := s.tx.Query(ctx, partByOriginalIDAndApplied, map[string]any{
		"originalId": id,
		"applied":    false,
	})
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-window)
	txs := make([]*types.Transaction, 0, len(recs))
	for _, rec := range recs {
		tx := recordTx(rec)
		if tx.Applied || tx.Timestamp.Before(cutoff) {
			continue
		}
		txs = append(txs, tx)
	}
	sortTxs(txs)
	return txs, nil
}

func sortTxs(txs []*types.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Timestamp.Before(txs[j].Timestamp)
		}
		return txs[i].ID < txs[j].ID
	})
}

// fold applies transactions to an accumulator in order.
func fold(start float64, txs []*types.Transaction) float64 {
	acc := start
	for _, tx := range txs {
		switch tx.Operation {
		case types.OpSet:
			acc = tx.Value
		case types.OpAdd:
			acc += tx.Value
		case types.OpSub:
			acc -= tx.Value
		}
	}
	return acc
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	}
	return 0
}
