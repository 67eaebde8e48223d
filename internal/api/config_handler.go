package api

import (
	"net/http"

	"github.com/ignite/catalog-enricher/internal/jobs"
	"github.com/ignite/catalog-enricher/internal/pkg/httputil"
)

// FieldInfo describes one canonical field to the client.
type FieldInfo struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Multiple bool   `json:"multiple"`
}

// ConfigResponse is the payload of GET /api/config.
type ConfigResponse struct {
	Fields         []FieldInfo  `json:"fields"`
	Models         []jobs.Model `json:"models"`
	MaxUploadBytes int64        `json:"maxUploadBytes"`
}

// GetConfig handles GET /api/config
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	fields := h.jobs.Catalog().Fields()
	resp := ConfigResponse{
		Fields:         make([]FieldInfo, 0, len(fields)),
		Models:         h.jobs.Models(),
		MaxUploadBytes: h.maxUpload,
	}
	for _, f := range fields {
		resp.Fields = append(resp.Fields, FieldInfo{Name: f.Name, Required: f.Required, Multiple: f.Multiple})
	}
	if resp.Models == nil {
		resp.Models = []jobs.Model{}
	}
	httputil.OK(w, resp)
}
