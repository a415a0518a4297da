package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stratadb/strata/internal/types"
)

// Version is stamped into object metadata so the read path can detect
// incompatible packers.
const Version = "1"

// Schema is a compiled attribute map for one resource.
type Schema struct {
	Name    string
	attrs   map[string]*Attribute
	ordered []*Attribute      // sorted by name for deterministic iteration
	folded  map[string]string // lowercased path -> declared path
}

// Compile parses the attribute declarations for a resource. The id
// attribute is implicit (string, required) and may not be redeclared with
// another type.
func Compile(name string, defs map[string]string) (*Schema, error) {
	s := &Schema{
		Name:  name,
		attrs: make(map[string]*Attribute, len(defs)+1),
	}
	if _, ok := defs["id"]; !ok {
		s.attrs["id"] = &Attribute{Name: "id", Kind: KindString, Required: true}
	}
	for path, decl := range defs {
		attr, err := parseAttribute(path, decl)
		if err != nil {
			return nil, err
		}
		s.attrs[path] = attr
	}
	if id := s.attrs["id"]; id.Kind != KindString {
		return nil, fmt.Errorf("attribute \"id\" must be a string")
	}
	s.attrs["id"].Required = true

	for path := range s.attrs {
		if err := s.checkNesting(path); err != nil {
			return nil, err
		}
	}

	// Object-store metadata keys come back case-folded, so two attributes
	// may not collide under ToLower.
	s.folded = make(map[string]string, len(s.attrs))
	for path := range s.attrs {
		low := strings.ToLower(path)
		if prev, ok := s.folded[low]; ok {
			return nil, fmt.Errorf("attributes %q and %q collide case-insensitively", prev, path)
		}
		s.folded[low] = path
	}

	s.ordered = make([]*Attribute, 0, len(s.attrs))
	for _, a := range s.attrs {
		s.ordered = append(s.ordered, a)
	}
	sort.Slice(s.ordered, func(i, j int) bool { return s.ordered[i].Name < s.ordered[j].Name })
	return s, nil
}

// checkNesting enforces the nesting rule: at most one level of key
// addressing below an attribute declared as json; anything deeper needs
// the intermediate levels declared as object.
func (s *Schema) checkNesting(path string) error {
	segs := strings.Split(path, ".")
	if len(segs) == 1 {
		return nil
	}
	for depth := 1; depth < len(segs); depth++ {
		prefix := strings.Join(segs[:depth], ".")
		parent, ok := s.attrs[prefix]
		if !ok {
			continue
		}
		below := len(segs) - depth
		switch parent.Kind {
		case KindJSON:
			if below > 1 {
				return fmt.Errorf("attribute %q: more than one level below json attribute %q requires explicit object typing", path, prefix)
			}
		case KindObject:
			// typed objects may nest arbitrarily
		default:
			return fmt.Errorf("attribute %q: parent %q is not addressable (%s)", path, prefix, parent.Kind)
		}
	}
	return nil
}

// CanonicalPath resolves a case-folded dotted path back to the declared
// attribute name. S3 lowercases user-metadata keys in transit.
func (s *Schema) CanonicalPath(path string) (string, bool) {
	name, ok := s.folded[strings.ToLower(path)]
	return name, ok
}

// Attribute returns the compiled attribute at a dotted path.
func (s *Schema) Attribute(path string) (*Attribute, bool) {
	a, ok := s.attrs[path]
	return a, ok
}

// Attributes returns all attributes sorted by name.
func (s *Schema) Attributes() []*Attribute {
	return s.ordered
}

// ApplyDefaults fills missing attributes that declare defaults.
func (s *Schema) ApplyDefaults(rec types.Record) {
	for _, a := range s.ordered {
		if a.Default == nil {
			continue
		}
		if _, ok := rec.GetPath(a.Name); !ok {
			rec.SetPath(a.Name, a.Default)
		}
	}
}

// Validate checks a record against the schema and normalizes values in
// place. With partial set, missing required attributes are not errors
// (update patches validate only the fields they carry).
func (s *Schema) Validate(rec types.Record, partial bool) error {
	var verr types.ValidationError
	for _, a := range s.ordered {
		v, present := rec.GetPath(a.Name)
		if !present {
			if a.Required && !partial {
				verr.Fields = append(verr.Fields, types.FieldError{Path: a.Name, Reason: "required"})
			}
			continue
		}
		if v == nil {
			if a.Required {
				verr.Fields = append(verr.Fields, types.FieldError{Path: a.Name, Reason: "required"})
			}
			continue
		}
		norm, reason := a.Normalize(v)
		if reason != "" {
			verr.Fields = append(verr.Fields, types.FieldError{Path: a.Name, Reason: reason})
			continue
		}
		rec.SetPath(a.Name, norm)
	}
	if len(verr.Fields) > 0 {
		sort.Slice(verr.Fields, func(i, j int) bool { return verr.Fields[i].Path < verr.Fields[j].Path })
		return &verr
	}
	return nil
}
