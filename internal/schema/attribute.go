// Package schema compiles attribute declarations into validators and
// routes semantic types to their codecs.
//
// Declarations use a compact pipe-separated shorthand, one entry per
// (possibly dotted) field path:
//
//	"name":        "string|required|maxLength:100"
//	"amount":      "money",
//	"utm":         "json",
//	"utm.source":  "string|optional",
//	"vector":      "embedding:384",
//
// Dotted paths may address at most one level below an attribute declared
// as json; deeper addressing requires the intermediate levels to be
// declared with the object type.
package schema

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/stratadb/strata/internal/codec"
	"github.com/stratadb/strata/internal/types"
)

// Kind is a parsed attribute type.
type Kind string

const (
	KindString    Kind = "string"
	KindNumber    Kind = "number"
	KindBoolean   Kind = "boolean"
	KindDate      Kind = "date"
	KindJSON      Kind = "json"
	KindObject    Kind = "object"
	KindBinary    Kind = "binary"
	KindIP4       Kind = "ip4"
	KindIP6       Kind = "ip6"
	KindMoney     Kind = "money"
	KindDecimal   Kind = "decimal"
	KindGeoLat    Kind = "geo:lat"
	KindGeoLon    Kind = "geo:lon"
	KindEmbedding Kind = "embedding"
	KindSecret    Kind = "secret"
)

// Attribute is one compiled field declaration.
type Attribute struct {
	Name      string // dotted path
	Kind      Kind
	Arg       int // decimal precision or embedding dimension
	Required  bool
	Default   any
	MinLength int
	MaxLength int
	Min       *float64
	Max       *float64
	Enum      []string
	Pattern   *regexp.Regexp
}

// parseAttribute compiles one shorthand declaration.
func parseAttribute(name, decl string) (*Attribute, error) {
	attr := &Attribute{Name: name}
	parts := strings.Split(decl, "|")
	if err := attr.parseType(strings.TrimSpace(parts[0])); err != nil {
		return nil, fmt.Errorf("attribute %q: %w", name, err)
	}
	for _, mod := range parts[1:] {
		mod = strings.TrimSpace(mod)
		if mod == "" {
			continue
		}
		if err := attr.parseModifier(mod); err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
	}
	return attr, nil
}

func (a *Attribute) parseType(t string) error {
	switch {
	case t == string(KindGeoLat) || t == string(KindGeoLon):
		a.Kind = Kind(t)
		return nil
	case strings.HasPrefix(t, "decimal:"):
		n, err := strconv.Atoi(t[len("decimal:"):])
		if err != nil || n < 0 || n > 18 {
			return fmt.Errorf("bad decimal precision in %q", t)
		}
		a.Kind, a.Arg = KindDecimal, n
		return nil
	case strings.HasPrefix(t, "embedding:"):
		n, err := strconv.Atoi(t[len("embedding:"):])
		if err != nil || n <= 0 {
			return fmt.Errorf("bad embedding dimension in %q", t)
		}
		a.Kind, a.Arg = KindEmbedding, n
		return nil
	}
	switch Kind(t) {
	case KindString, KindNumber, KindBoolean, KindDate, KindJSON,
		KindObject, KindBinary, KindIP4, KindIP6, KindMoney, KindSecret:
		a.Kind = Kind(t)
		return nil
	}
	return fmt.Errorf("unknown attribute type %q", t)
}

func (a *Attribute) parseModifier(mod string) error {
	key, val, _ := strings.Cut(mod, ":")
	switch key {
	case "required":
		a.Required = true
	case "optional":
		a.Required = false
	case "default":
		a.Default = coerceDefault(a.Kind, val)
	case "minLength", "min-length":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("bad minLength %q", val)
		}
		a.MinLength = n
	case "maxLength", "max-length", "max:length":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("bad maxLength %q", val)
		}
		a.MaxLength = n
	case "min":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("bad min %q", val)
		}
		a.Min = &f
	case "max":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("bad max %q", val)
		}
		a.Max = &f
	case "enum":
		a.Enum = strings.Split(val, ",")
	case "regex", "pattern":
		re, err := regexp.Compile(val)
		if err != nil {
			return fmt.Errorf("bad pattern %q: %w", val, err)
		}
		a.Pattern = re
	default:
		return fmt.Errorf("unknown modifier %q", mod)
	}
	return nil
}

func coerceDefault(kind Kind, val string) any {
	switch kind {
	case KindNumber, KindMoney, KindDecimal, KindGeoLat, KindGeoLon:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	case KindBoolean:
		return val == "true"
	}
	return val
}

// Normalize coerces an input value into the attribute's canonical in-memory
// form, validating range and shape. Returns the normalized value or a
// field-level reason.
func (a *Attribute) Normalize(v any) (any, string) {
	switch a.Kind {
	case KindString, KindSecret:
		s, ok := v.(string)
		if !ok {
			return nil, "expected string"
		}
		if a.MinLength > 0 && len(s) < a.MinLength {
			return nil, fmt.Sprintf("shorter than minLength %d", a.MinLength)
		}
		if a.MaxLength > 0 && len(s) > a.MaxLength {
			return nil, fmt.Sprintf("longer than maxLength %d", a.MaxLength)
		}
		if len(a.Enum) > 0 && !contains(a.Enum, s) {
			return nil, "not in enum"
		}
		if a.Pattern != nil && !a.Pattern.MatchString(s) {
			return nil, "does not match pattern"
		}
		return s, ""

	case KindNumber, KindDecimal, KindMoney, KindGeoLat, KindGeoLon:
		f, ok := toFloat(v)
		if !ok {
			return nil, "expected number"
		}
		if a.Min != nil && f < *a.Min {
			return nil, fmt.Sprintf("below min %v", *a.Min)
		}
		if a.Max != nil && f > *a.Max {
			return nil, fmt.Sprintf("above max %v", *a.Max)
		}
		return f, ""

	case KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, "expected boolean"
		}
		return b, ""

	case KindDate:
		switch t := v.(type) {
		case time.Time:
			return t.UTC().Format(time.RFC3339Nano), ""
		case string:
			if _, err := time.Parse(time.RFC3339Nano, t); err != nil {
				if _, err := time.Parse(time.RFC3339, t); err != nil {
					return nil, "expected RFC3339 date"
				}
			}
			return t, ""
		}
		return nil, "expected date"

	case KindJSON, KindObject:
		return v, ""

	case KindBinary:
		switch t := v.(type) {
		case []byte:
			return base64.StdEncoding.EncodeToString(t), ""
		case string:
			if _, err := base64.StdEncoding.DecodeString(t); err != nil {
				return nil, "expected base64 string or bytes"
			}
			return t, ""
		}
		return nil, "expected base64 string or bytes"

	case KindIP4:
		s, ok := v.(string)
		if !ok {
			return nil, "expected IPv4 string"
		}
		if _, err := codec.EncodeIPv4(s); err != nil {
			return nil, "invalid IPv4 address"
		}
		return s, ""

	case KindIP6:
		s, ok := v.(string)
		if !ok {
			return nil, "expected IPv6 string"
		}
		if _, err := codec.EncodeIPv6(s); err != nil {
			return nil, "invalid IPv6 address"
		}
		return s, ""

	case KindEmbedding:
		vec, ok := toFloatSlice(v)
		if !ok {
			return nil, "expected float array"
		}
		if a.Arg > 0 && len(vec) != a.Arg {
			return nil, fmt.Sprintf("expected %d elements, got %d", a.Arg, len(vec))
		}
		return vec, ""
	}
	return nil, "unsupported attribute kind"
}

// EncodeValue encodes a normalized value into its metadata string form.
func (a *Attribute) EncodeValue(v any) (string, error) {
	switch a.Kind {
	case KindString, KindSecret, KindDate, KindBinary:
		s, _ := v.(string)
		if a.Kind == KindString || a.Kind == KindSecret {
			return codec.EncodeString(s), nil
		}
		return s, nil
	case KindNumber:
		f, _ := toFloat(v)
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case KindDecimal:
		f, _ := toFloat(v)
		return codec.EncodeFixedPoint(f, a.Arg)
	case KindMoney:
		f, _ := toFloat(v)
		return codec.EncodeMoney(f)
	case KindGeoLat:
		f, _ := toFloat(v)
		return codec.EncodeGeoLat(f)
	case KindGeoLon:
		f, _ := toFloat(v)
		return codec.EncodeGeoLon(f)
	case KindBoolean:
		if b, _ := v.(bool); b {
			return "1", nil
		}
		return "0", nil
	case KindIP4:
		s, _ := v.(string)
		return codec.EncodeIPv4(s)
	case KindIP6:
		s, _ := v.(string)
		return codec.EncodeIPv6(s)
	case KindEmbedding:
		vec, _ := toFloatSlice(v)
		return codec.EncodeEmbedding(vec, a.Arg)
	case KindJSON, KindObject:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", types.NewError(types.ErrEncoding, "CODEC_JSON", err.Error(), "field", a.Name)
		}
		return codec.EncodeString(string(raw)), nil
	}
	return "", types.NewError(types.ErrEncoding, "CODEC_KIND", "unsupported kind", "field", a.Name)
}

// DecodeValue reverses EncodeValue.
func (a *Attribute) DecodeValue(s string) (any, error) {
	switch a.Kind {
	case KindString, KindSecret:
		return codec.DecodeString(s)
	case KindDate, KindBinary:
		return s, nil
	case KindNumber:
		return strconv.ParseFloat(s, 64)
	case KindDecimal:
		return codec.DecodeFixedPoint(s, a.Arg)
	case KindMoney:
		return codec.DecodeMoney(s)
	case KindGeoLat:
		return codec.DecodeGeoLat(s)
	case KindGeoLon:
		return codec.DecodeGeoLon(s)
	case KindBoolean:
		return s == "1", nil
	case KindIP4:
		return codec.DecodeIPv4(s)
	case KindIP6:
		return codec.DecodeIPv6(s)
	case KindEmbedding:
		return codec.DecodeEmbedding(s, a.Arg)
	case KindJSON, KindObject:
		raw, err := codec.DecodeString(s)
		if err != nil {
			return nil, err
		}
		var out any
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, types.NewError(types.ErrEncoding, "CODEC_JSON", err.Error(), "field", a.Name)
		}
		return out, nil
	}
	return nil, types.NewError(types.ErrEncoding, "CODEC_KIND", "unsupported kind", "field", a.Name)
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

func toFloatSlice(v any) ([]float64, bool) {
	switch t := v.(type) {
	case []float64:
		return t, true
	case []any:
		out := make([]float64, len(t))
		for i, e := range t {
			f, ok := toFloat(e)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	}
	return nil, false
}
