package notify

import (
	"fmt"
	"strings"

	"github.com/osteele/liquid"
)

// Kind selects a mail template.
type Kind string

const (
	KindSuccess Kind = "success"
	KindFailure Kind = "failure"
	KindStarted Kind = "started"
)

// Template is a liquid subject/body pair.
type Template struct {
	Subject string
	Body    string
}

// DefaultTemplates are used for any kind not overridden.
var DefaultTemplates = map[Kind]Template{
	KindSuccess: {
		Subject: "Your enriched catalog is ready ({{ filename }})",
		Body: `Hello,

Your file {{ filename }} has been processed with {{ models | join: ", " }}.
{% if row_count > 0 %}{{ row_count }} rows were enriched. {% endif %}The result is attached.

Job reference: {{ job_id }}
`,
	},
	KindFailure: {
		Subject: "We could not process {{ filename }}",
		Body: `Hello,

Processing of {{ filename }} with {{ models | join: ", " }} did not complete.
Reason: {{ error | default: "unknown error" }}

You can submit the file again. Job reference: {{ job_id }}
`,
	},
	KindStarted: {
		Subject: "Processing started for {{ filename }}",
		Body: `Hello,

We received {{ filename }} and started processing it with {{ models | join: ", " }}.
You will receive the result by email when it is ready.

Job reference: {{ job_id }}
`,
	},
}

// Vars are the values available to templates.
type Vars struct {
	JobID    string
	Filename string
	Models   []string
	RowCount int
	Error    string
}

func (v Vars) bindings() map[string]interface{} {
	return map[string]interface{}{
		"job_id":    v.JobID,
		"filename":  v.Filename,
		"models":    v.Models,
		"row_count": v.RowCount,
		"error":     v.Error,
	}
}

// Templates renders the parsed mail templates.
type Templates struct {
	parsed map[Kind][2]*liquid.Template
}

// NewTemplates parses the defaults with overrides applied. Empty override
// fields keep the default text.
func NewTemplates(overrides map[Kind]Template) (*Templates, error) {
	engine := liquid.NewEngine()
	engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil || fmt.Sprintf("%v", value) == "" {
			return fallback
		}
		return value
	})

	t := &Templates{parsed: make(map[Kind][2]*liquid.Template, len(DefaultTemplates))}
	for kind, def := range DefaultTemplates {
		tpl := def
		if o, ok := overrides[kind]; ok {
			if strings.TrimSpace(o.Subject) != "" {
				tpl.Subject = o.Subject
			}
			if strings.TrimSpace(o.Body) != "" {
				tpl.Body = o.Body
			}
		}
		subject, serr := engine.ParseString(tpl.Subject)
		if serr != nil {
			return nil, fmt.Errorf("notify: %s subject template: %s", kind, serr.Error())
		}
		body, serr := engine.ParseString(tpl.Body)
		if serr != nil {
			return nil, fmt.Errorf("notify: %s body template: %s", kind, serr.Error())
		}
		t.parsed[kind] = [2]*liquid.Template{subject, body}
	}
	return t, nil
}

// Render returns the subject and body for kind.
func (t *Templates) Render(kind Kind, v Vars) (string, string, error) {
	tpl, ok := t.parsed[kind]
	if !ok {
		return "", "", fmt.Errorf("notify: no template %q", kind)
	}
	b := v.bindings()
	subject, serr := tpl[0].RenderString(b)
	if serr != nil {
		return "", "", fmt.Errorf("notify: render %s subject: %s", kind, serr.Error())
	}
	body, serr := tpl[1].RenderString(b)
	if serr != nil {
		return "", "", fmt.Errorf("notify: render %s body: %s", kind, serr.Error())
	}
	return strings.TrimSpace(subject), body, nil
}
