package jobs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/catalog-enricher/internal/sheet"
)

var (
	// ErrInvalidFile is returned when the upload cannot be parsed.
	ErrInvalidFile  = sheet.ErrInvalidFile
	ErrInvalidEmail = errors.New("invalid email address")
	ErrFileTooLarge = errors.New("file too large")
	ErrNoModels     = errors.New("no models selected")
	ErrShuttingDown = errors.New("pipeline is shutting down")
)

// ErrPublishFailed wraps failures to make the upload reachable in pull mode.
var ErrPublishFailed = errors.New("publishing file")

// UnknownModelError lists every requested model id that is not configured.
type UnknownModelError struct {
	IDs []string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model(s): %s", strings.Join(e.IDs, ", "))
}
