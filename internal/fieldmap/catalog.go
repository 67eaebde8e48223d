package fieldmap

import (
	"errors"
	"fmt"
	"strings"
)

// Default ranked-candidate limits.
const (
	DefaultCandidateLimit         = 5
	DefaultMultipleCandidateLimit = 10
)

var (
	ErrEmptyCatalog   = errors.New("fieldmap: no fields configured")
	ErrDuplicateField = errors.New("fieldmap: duplicate field")
	ErrNoAliases      = errors.New("fieldmap: field has no usable aliases")
	ErrUnknownField   = errors.New("fieldmap: unknown field")
)

// FieldSpec is the configured description of one canonical field.
type FieldSpec struct {
	Name           string
	Required       bool
	Multiple       bool
	Aliases        []string
	CandidateLimit int
}

// Field is a canonical field with its aliases in normalized form.
type Field struct {
	Name           string
	Required       bool
	Multiple       bool
	Aliases        []string
	CandidateLimit int

	tokens []string
}

// Catalog is the immutable set of canonical fields and their aliases.
// It is safe for concurrent use once built.
type Catalog struct {
	fields []Field
	index  map[string]int
}

// NewCatalog normalizes and de-duplicates every alias, keeping configured order.
func NewCatalog(specs []FieldSpec) (*Catalog, error) {
	if len(specs) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{index: make(map[string]int, len(specs))}
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrUnknownField)
		}
		if _, dup := c.index[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateField, name)
		}

		f := Field{
			Name:           name,
			Required:       spec.Required,
			Multiple:       spec.Multiple,
			CandidateLimit: spec.CandidateLimit,
		}
		seen := make(map[string]bool)
		seenTok := make(map[string]bool)
		for _, a := range spec.Aliases {
			n := Normalize(a)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			f.Aliases = append(f.Aliases, n)
			for _, tok := range strings.Fields(n) {
				if !seenTok[tok] {
					seenTok[tok] = true
					f.tokens = append(f.tokens, tok)
				}
			}
		}
		if len(f.Aliases) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoAliases, name)
		}
		if f.CandidateLimit <= 0 {
			f.CandidateLimit = DefaultCandidateLimit
			if f.Multiple {
				f.CandidateLimit = DefaultMultipleCandidateLimit
			}
		}

		c.index[name] = len(c.fields)
		c.fields = append(c.fields, f)
	}
	return c, nil
}

// Fields returns the fields in configured order.
func (c *Catalog) Fields() []Field {
	out := make([]Field, len(c.fields))
	copy(out, c.fields)
	return out
}

// Field looks a field up by name.
func (c *Catalog) Field(name string) (Field, bool) {
	i, ok := c.index[name]
	if !ok {
		return Field{}, false
	}
	return c.fields[i], true
}

// Names returns every field name in configured order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.fields))
	for i, f := range c.fields {
		out[i] = f.Name
	}
	return out
}

// Required returns the names of required fields in configured order.
func (c *Catalog) Required() []string {
	var out []string
	for _, f := range c.fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}
