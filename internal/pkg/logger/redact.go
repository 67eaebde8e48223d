package logger

import (
	"net/url"
	"strings"
)

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
// Values that are not a single address are masked entirely.
func RedactEmail(email string) string {
	email = strings.TrimSpace(email)
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[1] == "" {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactURL strips the query and masks the last path segment, where
// capability tokens and presigned object keys live.
// "https://h/files/abc?X-Amz-Signature=s" → "https://h/files/***"
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	path := u.EscapedPath()
	if i := strings.LastIndex(path, "/"); i >= 0 && i < len(path)-1 {
		path = path[:i+1] + "***"
	}
	return u.Scheme + "://" + u.Host + path
}
