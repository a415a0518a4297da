// Package partition derives secondary-index keys from records and keeps
// the partition index objects consistent with the primary objects, either
// synchronously or through an async worker pool with a reconciler.
package partition

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/stratadb/strata/internal/objstore"
	"github.com/stratadb/strata/internal/schema"
	"github.com/stratadb/strata/internal/types"
)

// undefinedSentinel stands in for a missing partition field value so that
// key shapes stay uniform.
const undefinedSentinel = "%E2%88%85" // url-escaped ∅

// Definition is one declared partition: an ordered list of fields whose
// encoded values form the index path.
type Definition struct {
	Name   string   `json:"name" yaml:"name"`
	Fields []string `json:"fields" yaml:"fields"`
}

// Validate checks the definition against a compiled schema. Fields not
// declared in the schema are allowed (they encode via smart string), but
// the definition itself must be well-formed.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("partition missing name")
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("partition %q has no fields", d.Name)
	}
	return nil
}

// Segments computes the encoded `field=value` path segments for a record,
// in declared field order. Missing fields use the undefined sentinel.
func (d *Definition) Segments(s *schema.Schema, rec types.Record) ([]string, error) {
	segs := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		v, ok := rec.GetPath(f)
		if !ok || v == nil {
			segs[i] = f + "=" + undefinedSentinel
			continue
		}
		enc, err := encodeFieldValue(s, f, v)
		if err != nil {
			return nil, err
		}
		segs[i] = f + "=" + url.PathEscape(enc)
	}
	return segs, nil
}

// Key returns the index object key for a record, or empty if any encoding
// fails.
func (d *Definition) Key(resource string, s *schema.Schema, rec types.Record) (string, error) {
	segs, err := d.Segments(s, rec)
	if err != nil {
		return "", err
	}
	return objstore.PartitionKey(resource, d.Name, segs, rec.ID()), nil
}

// PrefixFor builds a partial key prefix from filter values in declared
// field order; derivation stops at the first field without a filter value
// (prefix scans only).
func (d *Definition) PrefixFor(resource string, s *schema.Schema, filters map[string]any) (string, error) {
	var segs []string
	for _, f := range d.Fields {
		v, ok := filters[f]
		if !ok {
			break
		}
		enc, err := encodeFieldValue(s, f, v)
		if err != nil {
			return "", err
		}
		segs = append(segs, f+"="+url.PathEscape(enc))
	}
	return objstore.PartitionPrefix(resource, d.Name, segs), nil
}

// encodeFieldValue routes a partition field value through the same codec
// as the main encoding path.
func encodeFieldValue(s *schema.Schema, field string, v any) (string, error) {
	if attr, ok := s.Attribute(field); ok {
		norm, reason := attr.Normalize(v)
		if reason != "" {
			return "", types.NewError(types.ErrEncoding, "PART_ENCODE", reason, "field", field)
		}
		return attr.EncodeValue(norm)
	}
	return fmt.Sprintf("%v", v), nil
}

// Changed reports whether the partition key differs between two records.
func (d *Definition) Changed(s *schema.Schema, old, new types.Record) bool {
	oldSegs, errOld := d.Segments(s, old)
	newSegs, errNew := d.Segments(s, new)
	if errOld != nil || errNew != nil {
		return true
	}
	return strings.Join(oldSegs, "/") != strings.Join(newSegs, "/")
}
