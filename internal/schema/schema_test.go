package schema

import (
	"errors"
	"testing"

	"github.com/stratadb/strata/internal/types"
)

func TestParseShorthand(t *testing.T) {
	s, err := Compile("users", map[string]string{
		"name":    "string|required|maxLength:100",
		"age":     "number|optional|min:0|max:150",
		"status":  "string|enum:active,inactive|default:active",
		"price":   "decimal:4",
		"vector":  "embedding:3",
		"balance": "money",
		"lat":     "geo:lat",
	})
	if err != nil {
		t.Fatal(err)
	}

	name, _ := s.Attribute("name")
	if !name.Required || name.MaxLength != 100 {
		t.Errorf("name: %+v", name)
	}
	age, _ := s.Attribute("age")
	if age.Required || *age.Min != 0 || *age.Max != 150 {
		t.Errorf("age: %+v", age)
	}
	status, _ := s.Attribute("status")
	if len(status.Enum) != 2 || status.Default != "active" {
		t.Errorf("status: %+v", status)
	}
	price, _ := s.Attribute("price")
	if price.Kind != KindDecimal || price.Arg != 4 {
		t.Errorf("price: %+v", price)
	}
	vector, _ := s.Attribute("vector")
	if vector.Kind != KindEmbedding || vector.Arg != 3 {
		t.Errorf("vector: %+v", vector)
	}
	if _, ok := s.Attribute("id"); !ok {
		t.Error("implicit id attribute missing")
	}
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"f1": "frobnicate",
		"f2": "string|banana",
		"f3": "decimal:abc",
		"f4": "embedding:0",
	}
	for field, decl := range cases {
		if _, err := Compile("t", map[string]string{field: decl}); err == nil {
			t.Errorf("Compile(%q) should fail", decl)
		}
	}
}

func TestCanonicalPath(t *testing.T) {
	s, err := Compile("t", map[string]string{"userName": "string", "utm": "json", "utm.Source": "string"})
	if err != nil {
		t.Fatal(err)
	}
	for folded, want := range map[string]string{
		"username":   "userName",
		"USERNAME":   "userName",
		"utm.source": "utm.Source",
	} {
		got, ok := s.CanonicalPath(folded)
		if !ok || got != want {
			t.Errorf("CanonicalPath(%q) = %q, %v", folded, got, ok)
		}
	}
	if _, ok := s.CanonicalPath("missing"); ok {
		t.Error("undeclared path resolved")
	}
}

func TestCaseInsensitiveCollision(t *testing.T) {
	if _, err := Compile("t", map[string]string{
		"userName": "string",
		"username": "string",
	}); err == nil {
		t.Error("case-colliding attributes should fail to compile")
	}
}

func TestNestingRules(t *testing.T) {
	// One level below json is fine.
	if _, err := Compile("t", map[string]string{
		"utm":        "json",
		"utm.source": "string",
	}); err != nil {
		t.Errorf("one level below json: %v", err)
	}

	// Two levels below json is rejected.
	if _, err := Compile("t", map[string]string{
		"utm":          "json",
		"utm.deep.foo": "string",
	}); err == nil {
		t.Error("two levels below json should fail")
	}

	// Objects nest freely.
	if _, err := Compile("t", map[string]string{
		"cfg":          "object",
		"cfg.net":      "object",
		"cfg.net.host": "string",
	}); err != nil {
		t.Errorf("nested objects: %v", err)
	}

	// Scalars are not addressable.
	if _, err := Compile("t", map[string]string{
		"name":     "string",
		"name.sub": "string",
	}); err == nil {
		t.Error("addressing below a scalar should fail")
	}
}

func TestValidate(t *testing.T) {
	s, err := Compile("users", map[string]string{
		"name":   "string|required|minLength:2",
		"age":    "number|min:0",
		"active": "boolean",
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := types.Record{"id": "u1", "name": "ann", "age": 30, "active": true}
	if err := s.Validate(rec, false); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}
	if rec["age"] != float64(30) {
		t.Errorf("age not normalized to float64: %T", rec["age"])
	}

	bad := types.Record{"id": "u2", "name": "x", "age": -1}
	err = s.Validate(bad, false)
	if err == nil {
		t.Fatal("invalid record accepted")
	}
	if !errors.Is(err, types.ErrValidation) {
		t.Errorf("error does not unwrap to ErrValidation: %v", err)
	}
	var verr *types.ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) != 2 {
		t.Errorf("expected 2 field errors, got %v", err)
	}

	// Missing required field fails full validation but passes partial.
	missing := types.Record{"id": "u3"}
	if err := s.Validate(missing, false); err == nil {
		t.Error("missing required field accepted")
	}
	if err := s.Validate(missing.Clone(), true); err != nil {
		t.Errorf("partial validation rejected: %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	s, err := Compile("t", map[string]string{
		"status": "string|default:pending",
		"count":  "number|default:5",
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := types.Record{"id": "x", "status": "done"}
	s.ApplyDefaults(rec)
	if rec["status"] != "done" {
		t.Error("default overwrote an explicit value")
	}
	if rec["count"] != float64(5) {
		t.Errorf("count default = %v", rec["count"])
	}
}

func TestEncodeDecodeValue(t *testing.T) {
	s, err := Compile("t", map[string]string{
		"name":    "string",
		"amount":  "money",
		"coord":   "geo:lat",
		"active":  "boolean",
		"ip":      "ip4",
		"payload": "json",
	})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		field string
		value any
	}{
		{"name", "hello world"},
		{"amount", 42.5},
		{"coord", -23.5},
		{"active", true},
		{"ip", "10.0.0.1"},
		{"payload", map[string]any{"k": "v"}},
	}
	for _, tc := range cases {
		attr, ok := s.Attribute(tc.field)
		if !ok {
			t.Fatalf("attribute %q missing", tc.field)
		}
		norm, reason := attr.Normalize(tc.value)
		if reason != "" {
			t.Fatalf("normalize %q: %s", tc.field, reason)
		}
		enc, err := attr.EncodeValue(norm)
		if err != nil {
			t.Fatalf("encode %q: %v", tc.field, err)
		}
		dec, err := attr.DecodeValue(enc)
		if err != nil {
			t.Fatalf("decode %q: %v", tc.field, err)
		}
		switch want := norm.(type) {
		case map[string]any:
			got, ok := dec.(map[string]any)
			if !ok || got["k"] != want["k"] {
				t.Errorf("field %q: got %v", tc.field, dec)
			}
		default:
			if dec != norm {
				t.Errorf("field %q: got %v want %v", tc.field, dec, norm)
			}
		}
	}
}

func TestIDMustBeString(t *testing.T) {
	if _, err := Compile("t", map[string]string{"id": "number"}); err == nil {
		t.Error("numeric id accepted")
	}
}
