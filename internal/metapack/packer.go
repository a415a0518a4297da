// Package metapack splits a validated record between the bounded object
// user-metadata region and the object body, according to the resource
// behavior. Packing is deterministic: identical schema and input produce
// byte-identical metadata and body, and the choice of which attributes
// overflow is stable across runs.
package metapack

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/stratadb/strata/internal/codec"
	"github.com/stratadb/strata/internal/objstore"
	"github.com/stratadb/strata/internal/schema"
	"github.com/stratadb/strata/internal/types"
)

// Reserved metadata keys. Kept short; every byte counts against the
// budget. Attribute keys are lowercased with dots replaced by '-'
// (metadata keys travel as HTTP headers: S3 folds their case and dots
// are hostile).
const (
	KeySchemaVersion  = "_s"
	KeyBehavior       = "_b"
	KeyContentMarker  = "_c"
	KeyTruncated      = "_t"
	KeyFieldCase      = "_k"
	overflowKeyPrefix = "_o-"
)

// Content markers for KeyContentMarker.
const (
	ContentMeta     = "m" // record fully in metadata
	ContentOverflow = "o" // body carries an _overflow envelope
	ContentBody     = "b" // body carries the full record
)

// DefaultBudget is the metadata byte ceiling: the S3 user-metadata cap of
// 2 KiB minus reserved headroom. Configurable per database.
const DefaultBudget = 1960

// perKeyOverhead approximates the per-header wire overhead counted
// against the metadata cap.
const perKeyOverhead = 2

// overflowEnvelope is the body wrapper written by the body-overflow
// behavior.
const overflowEnvelope = "_overflow"

// Packer turns validated records into put plans and back.
type Packer struct {
	Schema   *schema.Schema
	Behavior types.Behavior
	Budget   int
}

// New builds a packer; budget <= 0 selects DefaultBudget.
func New(s *schema.Schema, behavior types.Behavior, budget int) *Packer {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Packer{Schema: s, Behavior: behavior, Budget: budget}
}

// Plan is the outcome of packing one record.
type Plan struct {
	Metadata    objstore.Metadata
	Body        []byte
	ContentType string
}

// entry is one top-level field with its encoded metadata form.
type entry struct {
	field   string // top-level record key
	key     string // metadata key
	encoded string
	raw     any  // normalized value, for body placement
	isText  bool // eligible for truncation
}

func (e *entry) size() int {
	return len(e.key) + len(e.encoded) + perKeyOverhead
}

// metaKey maps an attribute path to its metadata key. Lowercase only:
// the store returns user-metadata keys case-folded, so packing anything
// else would not round-trip.
func metaKey(field string) string {
	return strings.ToLower(strings.ReplaceAll(field, ".", "-"))
}

func fieldFromMetaKey(key string) string {
	return strings.ReplaceAll(key, "-", ".")
}

// Pack produces the put plan for a validated record.
func (p *Packer) Pack(rec types.Record) (*Plan, error) {
	if p.Behavior == types.BehaviorBodyOnly {
		return p.packBodyOnly(rec)
	}

	entries, err := p.encodeEntries(rec)
	if err != nil {
		return nil, err
	}

	base := p.reservedMeta(ContentMeta)
	if m := p.caseManifest(entries); m != "" {
		base[KeyFieldCase] = m
	}
	used := metaSize(base)
	total := used
	for _, e := range entries {
		total += e.size()
	}
	if total <= p.Budget {
		meta := base
		for _, e := range entries {
			meta[e.key] = e.encoded
		}
		return &Plan{Metadata: meta, Body: nil, ContentType: "application/json"}, nil
	}

	switch p.Behavior {
	case types.BehaviorUserMetadata:
		return nil, types.NewError(types.ErrMetadataOverflow, "PACK_OVERFLOW",
			"encoded metadata exceeds budget", "need", total, "budget", p.Budget)
	case types.BehaviorEnforceLimits:
		return p.packEnforceLimits(entries, base, used)
	case types.BehaviorTruncateData:
		return p.packTruncate(entries, base, used)
	default: // body-overflow
		return p.packOverflow(entries, base, used)
	}
}

// encodeEntries encodes every top-level field, sorted by field name.
func (p *Packer) encodeEntries(rec types.Record) ([]*entry, error) {
	fields := make([]string, 0, len(rec))
	for f := range rec {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	entries := make([]*entry, 0, len(fields))
	for _, f := range fields {
		v := rec[f]
		if v == nil {
			continue
		}
		e := &entry{field: f, key: metaKey(f), raw: v}
		if attr, ok := p.Schema.Attribute(f); ok {
			enc, err := attr.EncodeValue(v)
			if err != nil {
				return nil, err
			}
			e.encoded = enc
			e.isText = attr.Kind == schema.KindString || attr.Kind == schema.KindSecret
		} else {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, types.NewError(types.ErrEncoding, "PACK_JSON", err.Error(), "field", f)
			}
			e.encoded = codec.EncodeString(string(raw))
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// caseManifest lists undeclared fields whose metadata key loses case
// information under folding. Declared attributes recover their casing
// from the schema; these recover theirs from the _k manifest.
func (p *Packer) caseManifest(entries []*entry) string {
	var names []string
	for _, e := range entries {
		if e.field == strings.ToLower(e.field) {
			continue
		}
		if _, ok := p.Schema.Attribute(e.field); ok {
			continue
		}
		names = append(names, e.field)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func (p *Packer) reservedMeta(marker string) objstore.Metadata {
	return objstore.Metadata{
		KeySchemaVersion: schema.Version,
		KeyBehavior:      string(p.Behavior),
		KeyContentMarker: marker,
	}
}

func metaSize(m objstore.Metadata) int {
	n := 0
	for k, v := range m {
		n += len(k) + len(v) + perKeyOverhead
	}
	return n
}

func (p *Packer) packBodyOnly(rec types.Record) (*Plan, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, types.NewError(types.ErrEncoding, "PACK_JSON", err.Error())
	}
	meta := p.reservedMeta(ContentBody)
	if id := rec.ID(); id != "" {
		meta[metaKey("id")] = codec.EncodeString(id)
	}
	return &Plan{Metadata: meta, Body: body, ContentType: "application/json"}, nil
}

// packEnforceLimits truncates string entries to their declared maxLength,
// then fails if the metadata still does not fit.
func (p *Packer) packEnforceLimits(entries []*entry, base objstore.Metadata, used int) (*Plan, error) {
	total := used
	for _, e := range entries {
		if attr, ok := p.Schema.Attribute(e.field); ok && e.isText && attr.MaxLength > 0 {
			if s, ok := e.raw.(string); ok && len(s) > attr.MaxLength {
				e.raw = s[:attr.MaxLength]
				e.encoded = codec.EncodeString(s[:attr.MaxLength])
			}
		}
		total += e.size()
	}
	if total > p.Budget {
		return nil, types.NewError(types.ErrMetadataOverflow, "PACK_OVERFLOW",
			"encoded metadata exceeds budget after enforcing limits", "need", total, "budget", p.Budget)
	}
	meta := base
	for _, e := range entries {
		meta[e.key] = e.encoded
	}
	return &Plan{Metadata: meta, Body: nil, ContentType: "application/json"}, nil
}

// packTruncate cuts string attributes, longest encoded form first (ties
// by name), until the metadata fits. Truncated fields are recorded under
// the _t flag.
func (p *Packer) packTruncate(entries []*entry, base objstore.Metadata, used int) (*Plan, error) {
	total := used
	for _, e := range entries {
		total += e.size()
	}

	var truncated []string
	seen := make(map[string]bool)
	for total > p.Budget {
		victim := pickLargest(entries, func(e *entry) bool { return e.isText && len(e.encoded) > 0 })
		if victim == nil {
			return nil, types.NewError(types.ErrMetadataOverflow, "PACK_OVERFLOW",
				"no truncatable attributes left", "need", total, "budget", p.Budget)
		}
		over := total - p.Budget
		s, _ := victim.raw.(string)
		target := len(victim.encoded) - over
		if target < 0 {
			target = 0
		}
		cut := len(s)
		if cut > target {
			cut = target
		}
		// Smart encoding may expand after cutting (escape prefixes,
		// base64); shrink until the encoded form actually hits target.
		victim.raw = s[:cut]
		victim.encoded = codec.EncodeString(s[:cut])
		for len(victim.encoded) > target && cut > 0 {
			cut--
			victim.raw = s[:cut]
			victim.encoded = codec.EncodeString(s[:cut])
		}
		if !seen[victim.field] {
			seen[victim.field] = true
			truncated = append(truncated, victim.field)
		}
		total = used
		for _, e := range entries {
			total += e.size()
		}
		// account for the _t flag itself
		total += len(KeyTruncated) + len(strings.Join(truncated, ",")) + perKeyOverhead
	}

	meta := base
	for _, e := range entries {
		meta[e.key] = e.encoded
	}
	if len(truncated) > 0 {
		sort.Strings(truncated)
		meta[KeyTruncated] = strings.Join(truncated, ",")
	}
	return &Plan{Metadata: meta, Body: nil, ContentType: "application/json"}, nil
}

// packOverflow moves the largest entries into the body envelope until the
// remaining metadata fits. Moved fields are marked with _o-<field> flags.
func (p *Packer) packOverflow(entries []*entry, base objstore.Metadata, used int) (*Plan, error) {
	base[KeyContentMarker] = ContentOverflow
	remaining := append([]*entry(nil), entries...)
	overflow := map[string]any{}

	fits := func() (int, bool) {
		total := metaSize(base)
		for _, e := range remaining {
			total += e.size()
		}
		for f := range overflow {
			total += len(overflowKeyPrefix) + len(metaKey(f)) + 1 + perKeyOverhead
		}
		return total, total <= p.Budget
	}

	for {
		total, ok := fits()
		if ok {
			break
		}
		// Move the largest remaining entry; never move id (it anchors the
		// read path).
		victim := pickLargest(remaining, func(e *entry) bool { return e.field != "id" })
		if victim == nil {
			return nil, types.NewError(types.ErrMetadataOverflow, "PACK_OVERFLOW",
				"cannot fit metadata even with full overflow", "need", total, "budget", p.Budget)
		}
		overflow[victim.field] = victim.raw
		remaining = removeEntry(remaining, victim)
	}

	meta := base
	for _, e := range remaining {
		meta[e.key] = e.encoded
	}
	ofields := make([]string, 0, len(overflow))
	for f := range overflow {
		ofields = append(ofields, f)
		meta[overflowKeyPrefix+metaKey(f)] = "1"
	}
	sort.Strings(ofields)

	var body []byte
	if len(overflow) > 0 {
		var err error
		body, err = json.Marshal(map[string]any{overflowEnvelope: overflow})
		if err != nil {
			return nil, types.NewError(types.ErrEncoding, "PACK_JSON", err.Error())
		}
	} else {
		meta[KeyContentMarker] = ContentMeta
	}
	return &Plan{Metadata: meta, Body: body, ContentType: "application/json"}, nil
}

// pickLargest returns the eligible entry with the longest encoded form,
// ties broken by field name ascending.
func pickLargest(entries []*entry, eligible func(*entry) bool) *entry {
	var best *entry
	for _, e := range entries {
		if !eligible(e) {
			continue
		}
		if best == nil ||
			len(e.encoded) > len(best.encoded) ||
			(len(e.encoded) == len(best.encoded) && e.field < best.field) {
			best = e
		}
	}
	return best
}

func removeEntry(entries []*entry, target *entry) []*entry {
	out := entries[:0]
	for _, e := range entries {
		if e != target {
			out = append(out, e)
		}
	}
	return out
}
