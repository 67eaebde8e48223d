package fieldmap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Code classifies a mapping validation failure.
type Code string

const (
	CodeMissingMapping   Code = "MissingMapping"
	CodeUnknownColumn    Code = "UnknownColumn"
	CodeAmbiguousMapping Code = "AmbiguousMapping"
)

// FieldError describes one problem with a submitted mapping.
type FieldError struct {
	Field   string `json:"field"`
	Code    Code   `json:"code"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

func (e FieldError) Error() string { return e.Message }

// ValidationError carries every problem found, in field order.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Message
	}
	return "invalid mapping: " + strings.Join(msgs, "; ")
}

// Selection is a caller-supplied column choice: JSON null, a string, or an
// array of strings.
type Selection []string

func (s *Selection) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = nil
		return nil
	case len(data) > 0 && data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = Selection{v}
		return nil
	default:
		var v []string
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("mapping value must be a string or an array of strings: %w", err)
		}
		*s = Selection(v)
		return nil
	}
}

// values drops blank entries.
func (s Selection) values() []string {
	out := make([]string, 0, len(s))
	for _, v := range s {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate checks a caller-supplied mapping against the authoritative
// headers. Headers are matched by normalized equality and the returned
// mapping uses the sheet's own spelling. Every error is reported, not just
// the first. Keys that are not catalog fields are ignored.
func (c *Catalog) Validate(input map[string]Selection, headers []string) (Mapping, error) {
	known := make(map[string]string, len(headers))
	for _, col := range NewColumns(headers) {
		if col.Norm == "" {
			continue
		}
		if _, ok := known[col.Norm]; !ok {
			known[col.Norm] = col.Raw
		}
	}

	out := make(Mapping, len(c.fields))
	var errs []FieldError

	for _, f := range c.fields {
		vals := input[f.Name].values()

		if len(vals) == 0 {
			if f.Required {
				errs = append(errs, FieldError{
					Field:   f.Name,
					Code:    CodeMissingMapping,
					Message: fmt.Sprintf("%s: no column selected", f.Name),
				})
			}
			continue
		}

		if !f.Multiple && len(vals) > 1 {
			errs = append(errs, FieldError{
				Field:   f.Name,
				Code:    CodeAmbiguousMapping,
				Message: fmt.Sprintf("%s: expects one column, got %d", f.Name, len(vals)),
			})
			continue
		}

		var resolved []string
		seen := make(map[string]bool)
		for _, v := range vals {
			raw, ok := known[Normalize(v)]
			if !ok {
				errs = append(errs, FieldError{
					Field:   f.Name,
					Code:    CodeUnknownColumn,
					Column:  v,
					Message: fmt.Sprintf("%s: column %q not found in sheet", f.Name, v),
				})
				continue
			}
			if !seen[raw] {
				seen[raw] = true
				resolved = append(resolved, raw)
			}
		}
		if len(resolved) > 0 {
			out[f.Name] = resolved
		}
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return out, nil
}
