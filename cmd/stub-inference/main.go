// Command stub-inference is a local stand-in for the prediction service.
// It speaks both the pull protocol (/run, /status, /results) and the inline
// protocol (/predict) and returns the upload as a workbook with one
// placeholder column per model.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/catalog-enricher/internal/pkg/httputil"
	"github.com/ignite/catalog-enricher/internal/pkg/logger"
	"github.com/ignite/catalog-enricher/internal/sheet"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type runRequest struct {
	JobID    string         `json:"jobId"`
	FileURL  string         `json:"fileUrl"`
	Filename string         `json:"filename"`
	Mapping  map[string]any `json:"mapping"`
	ModelIDs []string       `json:"modelIds"`
}

type predictRequest struct {
	JobID            string         `json:"jobId"`
	FileBytesEncoded string         `json:"fileBytesEncoded"`
	Filename         string         `json:"filename"`
	Mapping          map[string]any `json:"mapping"`
	ModelIDs         []string       `json:"modelIds"`
}

// run is one pull-mode submission.
type run struct {
	status   string
	err      string
	readyAt  time.Time
	data     []byte
	filename string
	rows     int
}

type stub struct {
	baseURL string
	delay   time.Duration
	reader  sheet.Reader
	client  *http.Client
	now     func() time.Time
	log     *logger.Logger

	mu   sync.Mutex
	runs map[string]*run
}

func newStub(baseURL string, delay time.Duration) *stub {
	return &stub{
		baseURL: baseURL,
		delay:   delay,
		reader:  sheet.NewReader(),
		client:  &http.Client{Timeout: time.Minute},
		now:     time.Now,
		log:     logger.With("component", "stub-inference"),
		runs:    make(map[string]*run),
	}
}

func (s *stub) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		httputil.OK(w, map[string]string{"status": "healthy", "service": "stub-inference"})
	})
	mux.HandleFunc("POST /run", s.handleRun)
	mux.HandleFunc("GET /status/{handle}", s.handleStatus)
	mux.HandleFunc("GET /results/{handle}", s.handleResult)
	mux.HandleFunc("POST /predict", s.handlePredict)
	return mux
}

func (s *stub) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON")
		return
	}
	if req.FileURL == "" {
		httputil.BadRequest(w, "fileUrl is required")
		return
	}

	handle := uuid.NewString()
	job := &run{status: "IN_PROGRESS", readyAt: s.now().Add(s.delay)}
	s.mu.Lock()
	s.runs[handle] = job
	s.mu.Unlock()

	s.log.Info("run accepted", "handle", handle, "job_id", req.JobID, "models", len(req.ModelIDs))
	go s.process(handle, job, req)

	httputil.OK(w, map[string]string{"handle": handle})
}

func (s *stub) process(handle string, job *run, req runRequest) {
	var (
		out      []byte
		filename string
		rows     int
	)
	data, err := s.download(req.FileURL)
	if err == nil {
		out, filename, rows, err = enrich(s.reader, data, req.Filename, req.ModelIDs)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.log.Warn("run failed", "handle", handle, "error", err)
		job.status, job.err = "FAILED", err.Error()
		return
	}
	job.data, job.filename, job.rows = out, filename, rows
	job.status = "COMPLETED"
}

func (s *stub) download(url string) ([]byte, error) {
	resp, err := s.client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *stub) handleStatus(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	s.mu.Lock()
	job, ok := s.runs[handle]
	var (
		status, errMsg, filename string
		rows                     int
	)
	if ok {
		status, errMsg, filename, rows = job.status, job.err, job.filename, job.rows
		if status == "COMPLETED" && s.now().Before(job.readyAt) {
			status = "IN_PROGRESS"
		}
	}
	s.mu.Unlock()

	if !ok {
		httputil.NotFound(w, "unknown handle")
		return
	}
	resp := map[string]any{"status": status}
	switch status {
	case "COMPLETED":
		resp["output"] = map[string]any{
			"url":      s.baseURL + "/results/" + handle,
			"filename": filename,
			"rowCount": rows,
		}
	case "FAILED":
		resp["error"] = errMsg
	}
	httputil.OK(w, resp)
}

func (s *stub) handleResult(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	job, ok := s.runs[r.PathValue("handle")]
	var (
		data     []byte
		filename string
	)
	if ok && job.status == "COMPLETED" {
		data, filename = job.data, job.filename
	}
	s.mu.Unlock()

	if data == nil {
		httputil.NotFound(w, "result not ready")
		return
	}
	httputil.Attachment(w, data, filename, xlsxMIME)
}

func (s *stub) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.FileBytesEncoded)
	if err != nil {
		httputil.OK(w, map[string]any{"ok": false, "error": "fileBytesEncoded is not valid base64"})
		return
	}

	out, filename, rows, err := enrich(s.reader, data, req.Filename, req.ModelIDs)
	if err != nil {
		httputil.OK(w, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	s.log.Info("inline prediction", "job_id", req.JobID, "rows", rows)
	httputil.OK(w, map[string]any{
		"ok":                 true,
		"resultBytesEncoded": base64.StdEncoding.EncodeToString(out),
		"resultFilename":     filename,
		"rowCount":           rows,
	})
}

func main() {
	log.Println("WARNING: stub-inference returns placeholder predictions for local testing only.")

	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}
	baseURL := os.Getenv("STUB_PUBLIC_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + port
	}
	delay := 3 * time.Second
	if v := os.Getenv("STUB_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("invalid STUB_DELAY: %v", err)
		}
		delay = d
	}

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           newStub(baseURL, delay).routes(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Stub inference listening on :%s", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	log.Println("Stub inference stopped")
}
