package metapack

import (
	"encoding/json"
	"strings"

	"github.com/stratadb/strata/internal/codec"
	"github.com/stratadb/strata/internal/objstore"
	"github.com/stratadb/strata/internal/types"
)

// NeedsBody reports whether reading the record requires fetching the
// object body, based on metadata flags alone.
func NeedsBody(meta objstore.Metadata) bool {
	switch meta[KeyContentMarker] {
	case ContentBody, ContentOverflow:
		return true
	}
	return false
}

// Unpack is the inverse of Pack: rebuild the record from an object's
// metadata and (when the flags demand it) its body.
func (p *Packer) Unpack(obj *objstore.Object) (types.Record, error) {
	meta := obj.Metadata
	if meta[KeyContentMarker] == ContentBody {
		var rec types.Record
		if err := json.Unmarshal(obj.Body, &rec); err != nil {
			return nil, types.NewError(types.ErrEncoding, "UNPACK_JSON", err.Error(), "key", obj.Key)
		}
		return rec, nil
	}

	rec := types.Record{}
	cases := fieldCases(meta[KeyFieldCase])
	for key, val := range meta {
		if isReservedKey(key) {
			continue
		}
		field := p.fieldForKey(key, cases)
		if attr, ok := p.Schema.Attribute(field); ok {
			v, err := attr.DecodeValue(val)
			if err != nil {
				return nil, err
			}
			rec[field] = v
			continue
		}
		raw, err := codec.DecodeString(val)
		if err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, types.NewError(types.ErrEncoding, "UNPACK_JSON", err.Error(), "field", field)
		}
		rec[field] = v
	}

	if meta[KeyContentMarker] == ContentOverflow && len(obj.Body) > 0 {
		var envelope map[string]map[string]any
		if err := json.Unmarshal(obj.Body, &envelope); err != nil {
			return nil, types.NewError(types.ErrEncoding, "UNPACK_JSON", err.Error(), "key", obj.Key)
		}
		for field, v := range envelope[overflowEnvelope] {
			rec[field] = v
		}
	}
	return rec, nil
}

// TruncatedFields returns the fields flagged as truncated by the
// truncate-data behavior, or nil.
func TruncatedFields(meta objstore.Metadata) []string {
	v := meta[KeyTruncated]
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func isReservedKey(key string) bool {
	switch key {
	case KeySchemaVersion, KeyBehavior, KeyContentMarker, KeyTruncated, KeyFieldCase:
		return true
	}
	return strings.HasPrefix(key, overflowKeyPrefix)
}

// fieldCases rebuilds the metadata-key -> original-name map from the _k
// manifest.
func fieldCases(manifest string) map[string]string {
	if manifest == "" {
		return nil
	}
	out := make(map[string]string)
	for _, name := range strings.Split(manifest, ",") {
		out[metaKey(name)] = name
	}
	return out
}

// fieldForKey maps a metadata key back to its field name. Keys arrive
// lowercased from the store: declared attributes resolve through the
// schema's case-folded index, undeclared fields through the _k manifest.
// Dots are only rewritten when the converted name is actually declared.
func (p *Packer) fieldForKey(key string, cases map[string]string) string {
	if f, ok := cases[key]; ok {
		return f
	}
	if _, ok := p.Schema.Attribute(key); ok {
		return key
	}
	dotted := fieldFromMetaKey(key)
	if _, ok := p.Schema.Attribute(dotted); ok {
		return dotted
	}
	if f, ok := p.Schema.CanonicalPath(dotted); ok {
		return f
	}
	return key
}
