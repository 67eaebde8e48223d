package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]string {
	t.Helper()
	var out []map[string]string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]string
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WARN, false)

	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("kept", "attempt", 2)
	l.Error("kept too", "err", errors.New("boom"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, "2", lines[0]["attempt"])
	assert.Equal(t, "boom", lines[1]["err"])
}

func TestLoggerWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, DEBUG, false)
	child := root.With("component", "pipeline")
	child.With("job_id", "abc").Info("dispatched", "handle", "h-1")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "pipeline", lines[0]["component"])
	assert.Equal(t, "abc", lines[0]["job_id"])
	assert.Equal(t, "h-1", lines[0]["handle"])
	assert.Equal(t, "dispatched", lines[0]["msg"])
}

func TestLoggerRedactsEmails(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO, true)
	l.Info("job accepted", "email", "john.doe@example.com", "note", "reply to ab@example.org")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "jo***@example.com", lines[0]["email"])
	assert.Equal(t, "reply to ***@example.org", lines[0]["note"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" Warning "))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://enricher.example.com/files/***", RedactURL("https://enricher.example.com/files/abc123"))
	assert.Equal(t, "https://bucket.s3.amazonaws.com/uploads/tok/***",
		RedactURL("https://bucket.s3.amazonaws.com/uploads/tok/catalog.csv?X-Amz-Signature=deadbeef"))
	assert.Equal(t, "https://example.com/", RedactURL("https://example.com/"))
	assert.Equal(t, "***", RedactURL("not a url"))
}
