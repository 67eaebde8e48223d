package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/catalog-enricher/internal/fieldmap"
	"github.com/ignite/catalog-enricher/internal/filestore"
	"github.com/ignite/catalog-enricher/internal/jobs"
)

// multipartMemory is how much of a form is buffered in memory before
// spilling file parts to disk.
const multipartMemory = 32 << 20

// formOverhead is allowed on top of the file limit for the other form parts.
const formOverhead = 1 << 20

// JobService is the part of the job pipeline the API drives.
type JobService interface {
	Catalog() *fieldmap.Catalog
	Models() []jobs.Model
	Active() int64
	Inspect(data []byte, filename string) (*jobs.Inspection, error)
	Submit(ctx context.Context, s jobs.Submission) (*jobs.Job, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	jobs      JobService
	files     filestore.Store
	maxUpload int64
	startTime time.Time
}

// NewHandlers creates a new handlers instance. files may be nil when uploads
// are hosted elsewhere, in which case /files answers 404.
func NewHandlers(svc JobService, files filestore.Store, maxUpload int64) *Handlers {
	return &Handlers{
		jobs:      svc,
		files:     files,
		maxUpload: maxUpload,
		startTime: time.Now(),
	}
}

// limitBody caps the request body at the upload limit plus form overhead.
func (h *Handlers) limitBody(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+formOverhead)
	}
}
