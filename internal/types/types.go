// Package types holds shared value types referenced across the storage
// engine and the eventual-consistency subsystem: records, behaviors,
// cohort periods, and the failure taxonomy.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Record is a logical document. The canonical in-memory representation is a
// string-keyed map; nested JSON fields are nested maps.
type Record map[string]any

// Clone returns a deep copy of the record. Nested maps and slices are
// copied; scalar values are shared.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case Record:
		return map[string]any(t.Clone())
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// ID returns the record id, or empty string when unset.
func (r Record) ID() string {
	s, _ := r["id"].(string)
	return s
}

// GetPath resolves a dotted path into the record. Returns the value and
// whether it was present.
func (r Record) GetPath(path string) (any, bool) {
	cur := any(map[string]any(r))
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			if rec, okr := cur.(Record); okr {
				m = map[string]any(rec)
			} else {
				return nil, false
			}
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// SetPath assigns a value at a dotted path, creating intermediate maps.
func (r Record) SetPath(path string, value any) {
	segs := strings.Split(path, ".")
	m := map[string]any(r)
	for _, seg := range segs[:len(segs)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[seg] = next
		}
		m = next
	}
	m[segs[len(segs)-1]] = value
}

// DeletePath removes the value at a dotted path if present.
func (r Record) DeletePath(path string) {
	segs := strings.Split(path, ".")
	m := map[string]any(r)
	for _, seg := range segs[:len(segs)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			return
		}
		m = next
	}
	delete(m, segs[len(segs)-1])
}

// Behavior selects how a packed record is split between object metadata
// and object body.
type Behavior string

const (
	// BehaviorUserMetadata forbids overflow: packing fails when the
	// encoded attributes exceed the metadata budget.
	BehaviorUserMetadata Behavior = "user-metadata"

	// BehaviorEnforceLimits applies per-attribute maximum lengths before
	// failing on overflow.
	BehaviorEnforceLimits Behavior = "enforce-limits"

	// BehaviorTruncateData truncates string attributes (longest first,
	// ties by name) until the metadata fits.
	BehaviorTruncateData Behavior = "truncate-data"

	// BehaviorBodyOverflow spills the largest attributes into the body
	// JSON until the remaining metadata fits. This is the default.
	BehaviorBodyOverflow Behavior = "body-overflow"

	// BehaviorBodyOnly skips the metadata fit entirely and stores the
	// full encoded record in the body.
	BehaviorBodyOnly Behavior = "body-only"
)

// ParseBehavior validates a behavior name; empty defaults to body-overflow.
func ParseBehavior(s string) (Behavior, error) {
	switch Behavior(s) {
	case "":
		return BehaviorBodyOverflow, nil
	case BehaviorUserMetadata, BehaviorEnforceLimits, BehaviorTruncateData,
		BehaviorBodyOverflow, BehaviorBodyOnly:
		return Behavior(s), nil
	}
	return "", fmt.Errorf("unknown behavior: %q", s)
}

// Operation is a numeric mutation kind recorded in a transaction.
type Operation string

const (
	OpAdd Operation = "add"
	OpSub Operation = "sub"
	OpSet Operation = "set"
)

// Period is a time-cohort granularity for analytics.
type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Transaction is one entry in a per-(record,field) append-only log.
// Immutable after creation except for Applied and AppliedAt.
type Transaction struct {
	ID          string     `json:"id"`
	OriginalID  string     `json:"originalId"`
	Field       string     `json:"field"`
	Value       float64    `json:"value"`
	Operation   Operation  `json:"operation"`
	Timestamp   time.Time  `json:"timestamp"`
	CohortHour  string     `json:"cohortHour"`
	CohortDay   string     `json:"cohortDay"`
	CohortWeek  string     `json:"cohortWeek"`
	CohortMonth string     `json:"cohortMonth"`
	Applied     bool       `json:"applied"`
	AppliedAt   *time.Time `json:"appliedAt,omitempty"`
}

// CohortFor returns the transaction's cohort key at the given period.
func (t *Transaction) CohortFor(p Period) string {
	switch p {
	case PeriodHour:
		return t.CohortHour
	case PeriodDay:
		return t.CohortDay
	case PeriodWeek:
		return t.CohortWeek
	case PeriodMonth:
		return t.CohortMonth
	}
	return ""
}

// OperationStats is a per-operation sub-counter inside an analytics record.
type OperationStats struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
}

// Analytics is a pre-aggregated rollup for one (period, cohort).
type Analytics struct {
	ID          string                       `json:"id"`
	Period      Period                       `json:"period"`
	Cohort      string                       `json:"cohort"`
	Count       int64                        `json:"count"`
	Sum         float64                      `json:"sum"`
	Min         float64                      `json:"min"`
	Max         float64                      `json:"max"`
	Avg         float64                      `json:"avg"`
	RecordCount int64                        `json:"recordCount"`
	Operations  map[Operation]OperationStats `json:"operations"`
}

// Checkpoint summarizes consolidated history for one (resource, field,
// cohort), enabling recovery without replaying the full transaction log.
type Checkpoint struct {
	Cohort    string    `json:"cohort"`
	Value     float64   `json:"value"`
	MinTxID   string    `json:"minTxId"`
	MaxTxID   string    `json:"maxTxId"`
	CreatedAt time.Time `json:"createdAt"`
}
