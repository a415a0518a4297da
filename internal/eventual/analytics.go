package eventual

import (
	"context"
	"errors"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/stratadb/strata/internal/types"
)

// updateAnalytics folds a batch of applied transactions into the cohort
// rollups for every enabled period. Upserts for different (period,
// cohort) cells run in parallel under the rollup concurrency cap.
//
// The (record, field) consolidation lock does not cover cohort cells:
// consolidators for different records share them. The stream's rollup
// mutex serializes the read-modify-write so no fold is lost; cells in
// one batch are disjoint, so the errgroup below may still fan out.
func (p *Plugin) updateAnalytics(ctx context.Context, s *stream, txs []*types.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	s.anMu.Lock()
	defer s.anMu.Unlock()

	type cell struct {
		period types.Period
		cohort string
	}
	batches := make(map[cell][]*types.Transaction)
	for _, tx := range txs {
		for _, period := range p.cfg.Analytics.Periods {
			cohort := tx.CohortFor(period)
			if cohort == "" {
				continue
			}
			key := cell{period, cohort}
			batches[key] = append(batches[key], tx)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Consolidation.RollupConcurrency)
	for key, batch := range batches {
		key, batch := key, batch
		g.Go(func() error {
			return p.upsertCell(gctx, s, key.period, key.cohort, batch)
		})
	}
	return g.Wait()
}

// upsertCell read-or-creates the analytics record for one (period,
// cohort) and folds the batch in.
func (p *Plugin) upsertCell(ctx context.Context, s *stream, period types.Period, cohort string, batch []*types.Transaction) error {
	id := string(period) + ":" + cohort

	rec, err := s.an.Get(ctx, id)
	if errors.Is(err, types.ErrNotFound) {
		rec = types.Record{
			"id":          id,
			"period":      string(period),
			"cohort":      cohort,
			"count":       0.0,
			"sum":         0.0,
			"min":         math.Inf(1),
			"max":         math.Inf(-1),
			"avg":         0.0,
			"recordCount": 0.0,
			"operations":  map[string]any{},
			"recordIds":   map[string]any{},
		}
	} else if err != nil {
		return err
	}

	count := num(rec["count"])
	sum := num(rec["sum"])
	minV := num(rec["min"])
	maxV := num(rec["max"])
	if count == 0 {
		minV = math.Inf(1)
		maxV = math.Inf(-1)
	}
	ops, _ := rec["operations"].(map[string]any)
	if ops == nil {
		ops = map[string]any{}
	}
	ids, _ := rec["recordIds"].(map[string]any)
	if ids == nil {
		ids = map[string]any{}
	}

	for _, tx := range batch {
		count++
		sum += tx.Value
		minV = math.Min(minV, tx.Value)
		maxV = math.Max(maxV, tx.Value)
		ids[tx.OriginalID] = true

		opEntry, _ := ops[string(tx.Operation)].(map[string]any)
		if opEntry == nil {
			opEntry = map[string]any{"count": 0.0, "sum": 0.0}
		}
		opEntry["count"] = num(opEntry["count"]) + 1
		opEntry["sum"] = num(opEntry["sum"]) + tx.Value
		ops[string(tx.Operation)] = opEntry
	}

	_, err = s.an.Upsert(ctx, types.Record{
		"id":          id,
		"period":      string(period),
		"cohort":      cohort,
		"count":       count,
		"sum":         sum,
		"min":         minV,
		"max":         maxV,
		"avg":         sum / count,
		"recordCount": float64(len(ids)),
		"operations":  ops,
		"recordIds":   ids,
	})
	return err
}

// Analytics returns the rollup for one (period, cohort) of a managed
// stream, or types.ErrNotFound when no transaction has touched it.
func (p *Plugin) Analytics(ctx context.Context, resName, field string, period types.Period, cohort string) (*types.Analytics, error) {
	s, err := p.stream(resName, field)
	if err != nil {
		return nil, err
	}
	rec, err := s.an.Get(ctx, string(period)+":"+cohort)
	if err != nil {
		return nil, err
	}

	out := &types.Analytics{
		ID:          rec.ID(),
		Period:      period,
		Cohort:      cohort,
		Count:       int64(num(rec["count"])),
		Sum:         num(rec["sum"]),
		Min:         num(rec["min"]),
		Max:         num(rec["max"]),
		Avg:         num(rec["avg"]),
		RecordCount: int64(num(rec["recordCount"])),
		Operations:  make(map[types.Operation]types.OperationStats),
	}
	if ops, ok := rec["operations"].(map[string]any); ok {
		for op, v := range ops {
			entry, _ := v.(map[string]any)
			out.Operations[types.Operation(op)] = types.OperationStats{
				Count: int64(num(entry["count"])),
				Sum:   num(entry["sum"]),
			}
		}
	}
	return out, nil
}
