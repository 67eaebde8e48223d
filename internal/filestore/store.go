// Package filestore holds uploaded files behind short-lived random tokens so
// the inference service can pull them back over HTTP.
package filestore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is how long an entry stays readable when no TTL is configured.
const DefaultTTL = time.Hour

// ErrNotFound is returned for unknown and expired tokens alike.
var ErrNotFound = errors.New("filestore: not found")

// Entry is one stored file.
type Entry struct {
	Data      []byte    `json:"data"`
	Filename  string    `json:"filename"`
	MIMEType  string    `json:"mime_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is no longer readable at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Store keeps files behind opaque tokens until they expire. A token may be
// read any number of times before expiry.
type Store interface {
	Put(ctx context.Context, data []byte, filename, mimeType string) (string, error)
	Get(ctx context.Context, token string) (*Entry, error)
}

// newToken returns 32 random bytes, URL-safe encoded.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("filestore: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
