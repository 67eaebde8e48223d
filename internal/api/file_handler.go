package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/catalog-enricher/internal/filestore"
	"github.com/ignite/catalog-enricher/internal/pkg/httputil"
)

// ServeFile handles GET /files/{token}
func (h *Handlers) ServeFile(w http.ResponseWriter, r *http.Request) {
	if h.files == nil {
		httputil.NotFound(w, "file not found")
		return
	}

	entry, err := h.files.Get(r.Context(), chi.URLParam(r, "token"))
	if errors.Is(err, filestore.ErrNotFound) {
		httputil.NotFound(w, "file not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Attachment(w, entry.Data, entry.Filename, entry.MIMEType)
}
