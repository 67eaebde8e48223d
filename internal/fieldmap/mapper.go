package fieldmap

import (
	"sort"
	"strings"
)

// Column is one spreadsheet header with its normalized form cached.
type Column struct {
	Raw  string
	Norm string
}

// NewColumns normalizes headers once for a mapping call.
func NewColumns(headers []string) []Column {
	cols := make([]Column, len(headers))
	for i, h := range headers {
		cols[i] = Column{Raw: h, Norm: Normalize(h)}
	}
	return cols
}

// Mapping assigns header names to canonical fields. Single-valued fields hold
// at most one header; an absent key or empty slice means unmapped.
type Mapping map[string][]string

// First returns the single header mapped to field, or "".
func (m Mapping) First(field string) string {
	if v := m[field]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Result is the advisory output of AutoMap.
type Result struct {
	Mapping    Mapping
	Missing    []string
	Candidates map[string][]string
}

// AutoMap guesses a header for every field and ranks alternatives for
// disambiguation. Nothing here is trusted for job creation without Validate.
func (c *Catalog) AutoMap(headers []string) Result {
	cols := NewColumns(headers)
	res := Result{
		Mapping:    make(Mapping, len(c.fields)),
		Missing:    []string{},
		Candidates: make(map[string][]string, len(c.fields)),
	}

	for _, f := range c.fields {
		if f.Multiple {
			res.Mapping[f.Name] = findMany(cols, f.Aliases)
		} else if h, ok := findOne(cols, f.Aliases); ok {
			res.Mapping[f.Name] = []string{h}
		} else {
			res.Mapping[f.Name] = nil
		}
		if len(res.Mapping[f.Name]) == 0 {
			res.Missing = append(res.Missing, f.Name)
		}
		res.Candidates[f.Name] = rankCandidates(cols, f, f.CandidateLimit)
	}
	return res
}

// Candidates ranks headers for one field. limit <= 0 uses the field's limit.
func (c *Catalog) Candidates(field string, headers []string, limit int) ([]string, error) {
	f, ok := c.Field(field)
	if !ok {
		return nil, ErrUnknownField
	}
	if limit <= 0 {
		limit = f.CandidateLimit
	}
	return rankCandidates(NewColumns(headers), f, limit), nil
}

// findOne prefers an exact alias match over a substring match; within each
// pass the earliest header wins.
func findOne(cols []Column, aliases []string) (string, bool) {
	for _, col := range cols {
		if col.Norm == "" {
			continue
		}
		for _, a := range aliases {
			if col.Norm == a {
				return col.Raw, true
			}
		}
	}
	for _, col := range cols {
		if col.Norm == "" {
			continue
		}
		for _, a := range aliases {
			if strings.Contains(col.Norm, a) {
				return col.Raw, true
			}
		}
	}
	return "", false
}

// findMany collects every header equal to or containing an alias, in header
// order, de-duplicated by raw value. Never nil.
func findMany(cols []Column, aliases []string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, col := range cols {
		if col.Norm == "" || seen[col.Raw] {
			continue
		}
		for _, a := range aliases {
			if col.Norm == a || strings.Contains(col.Norm, a) {
				seen[col.Raw] = true
				out = append(out, col.Raw)
				break
			}
		}
	}
	return out
}

type scored struct {
	raw   string
	score int
}

// score: 3 exact alias, 2 alias substring, 1 alias token substring, 0 none.
func score(norm string, f Field) int {
	if norm == "" {
		return 0
	}
	best := 0
	for _, a := range f.Aliases {
		if norm == a {
			return 3
		}
		if strings.Contains(norm, a) {
			best = 2
		}
	}
	if best > 0 {
		return best
	}
	for _, tok := range f.tokens {
		if strings.Contains(norm, tok) {
			return 1
		}
	}
	return 0
}

func rankCandidates(cols []Column, f Field, limit int) []string {
	var hits []scored
	seen := make(map[string]bool)
	for _, col := range cols {
		if seen[col.Raw] {
			continue
		}
		if s := score(col.Norm, f); s > 0 {
			seen[col.Raw] = true
			hits = append(hits, scored{raw: col.Raw, score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].raw < hits[j].raw
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.raw
	}
	return out
}

// Render converts a mapping into its wire form: a string or null for
// single-valued fields and an array for multi-valued ones.
func (c *Catalog) Render(m Mapping) map[string]any {
	out := make(map[string]any, len(c.fields))
	for _, f := range c.fields {
		v := m[f.Name]
		if f.Multiple {
			list := make([]string, len(v))
			copy(list, v)
			out[f.Name] = list
			continue
		}
		if len(v) == 0 {
			out[f.Name] = nil
		} else {
			out[f.Name] = v[0]
		}
	}
	return out
}
