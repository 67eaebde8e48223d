package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/ignite/catalog-enricher/internal/jobs"
)

var errMissingFile = errors.New("missing file part")

// upload is the file part of a multipart request.
type upload struct {
	data     []byte
	filename string
	mimeType string
}

// parseForm reads the multipart body, mapping an oversized body to
// jobs.ErrFileTooLarge.
func (h *Handlers) parseForm(w http.ResponseWriter, r *http.Request) error {
	h.limitBody(w, r)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return fmt.Errorf("%w: limit %d bytes", jobs.ErrFileTooLarge, h.maxUpload)
		}
		return fmt.Errorf("parse form: %w", err)
	}
	return nil
}

// readUpload returns the "file" part of an already parsed form.
func (h *Handlers) readUpload(r *http.Request) (*upload, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, errMissingFile
	}
	defer file.Close()

	if h.maxUpload > 0 && header.Size > h.maxUpload {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", jobs.ErrFileTooLarge, header.Size, h.maxUpload)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return &upload{
		data:     data,
		filename: filepath.Base(header.Filename),
		mimeType: header.Header.Get("Content-Type"),
	}, nil
}
