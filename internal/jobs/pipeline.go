package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/catalog-enricher/internal/fieldmap"
	"github.com/ignite/catalog-enricher/internal/filestore"
	"github.com/ignite/catalog-enricher/internal/inference"
	"github.com/ignite/catalog-enricher/internal/ledger"
	"github.com/ignite/catalog-enricher/internal/notify"
	"github.com/ignite/catalog-enricher/internal/pkg/httpretry"
	"github.com/ignite/catalog-enricher/internal/pkg/logger"
	"github.com/ignite/catalog-enricher/internal/sheet"
)

// finalizeTimeout bounds the notification and ledger calls after a job ends,
// which run even while the pipeline is shutting down.
const finalizeTimeout = 30 * time.Second

// Model is a selectable prediction model.
type Model struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Deps are the collaborators of a Pipeline. Reader, Templates and Ledger
// have defaults; Publisher is required only for a pull-mode Predictor.
type Deps struct {
	Catalog   *fieldmap.Catalog
	Models    []Model
	Reader    sheet.Reader
	Predictor inference.Predictor
	Publisher filestore.Publisher
	Notifier  notify.Notifier
	Templates *notify.Templates
	Ledger    ledger.Recorder
}

// Options tune pipeline behaviour.
type Options struct {
	MaxFileBytes    int64
	NotifyOnFailure bool
	NotifyOnStart   bool
}

// Submission is an inbound job request. Mapping is the caller's confirmed
// field mapping, still unvalidated.
type Submission struct {
	Email    string
	Filename string
	MIMEType string
	Data     []byte
	Mapping  map[string]fieldmap.Selection
	ModelIDs []string
}

// Pipeline validates submissions and runs each accepted job in its own
// goroutine. Jobs share no mutable state.
type Pipeline struct {
	catalog   *fieldmap.Catalog
	models    []Model
	modelIdx  map[string]Model
	reader    sheet.Reader
	predictor inference.Predictor
	publisher filestore.Publisher
	notifier  notify.Notifier
	templates *notify.Templates
	ledger    ledger.Recorder
	opts      Options
	log       *logger.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int64

	mu     sync.Mutex
	closed bool
}

// New builds a pipeline. Background jobs run until they finish or Shutdown
// gives up waiting for them.
func New(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Catalog == nil {
		return nil, errors.New("jobs: catalog is required")
	}
	if deps.Predictor == nil {
		return nil, errors.New("jobs: predictor is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("jobs: notifier is required")
	}
	if deps.Predictor.Mode() == inference.ModePull && deps.Publisher == nil {
		return nil, errors.New("jobs: pull mode needs a file publisher")
	}
	if deps.Reader == nil {
		deps.Reader = sheet.NewReader()
	}
	if deps.Templates == nil {
		t, err := notify.NewTemplates(nil)
		if err != nil {
			return nil, err
		}
		deps.Templates = t
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.NewLogRecorder()
	}

	idx := make(map[string]Model, len(deps.Models))
	for _, m := range deps.Models {
		idx[m.ID] = m
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		catalog:   deps.Catalog,
		models:    deps.Models,
		modelIdx:  idx,
		reader:    deps.Reader,
		predictor: deps.Predictor,
		publisher: deps.Publisher,
		notifier:  deps.Notifier,
		templates: deps.Templates,
		ledger:    deps.Ledger,
		opts:      opts,
		log:       logger.With("component", "pipeline"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Catalog returns the field catalog.
func (p *Pipeline) Catalog() *fieldmap.Catalog { return p.catalog }

// Models returns the configured models in order.
func (p *Pipeline) Models() []Model {
	out := make([]Model, len(p.models))
	copy(out, p.models)
	return out
}

// Active returns the number of jobs still running.
func (p *Pipeline) Active() int64 { return p.active.Load() }

// Inspection is the advisory mapping for an uploaded file.
type Inspection struct {
	Headers []string
	fieldmap.Result
}

// Inspect reads the header row and proposes a mapping.
func (p *Pipeline) Inspect(data []byte, filename string) (*Inspection, error) {
	if p.opts.MaxFileBytes > 0 && int64(len(data)) > p.opts.MaxFileBytes {
		return nil, ErrFileTooLarge
	}
	headers, err := sheet.ReadHeaders(p.reader, data, filename)
	if err != nil {
		return nil, err
	}
	return &Inspection{Headers: headers, Result: p.catalog.AutoMap(headers)}, nil
}

// Submit validates s and, if it is acceptable, starts the job in the
// background and returns it in StateCreated. No network I/O happens before
// Submit returns.
func (p *Pipeline) Submit(_ context.Context, s Submission) (*Job, error) {
	if p.opts.MaxFileBytes > 0 && int64(len(s.Data)) > p.opts.MaxFileBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, len(s.Data), p.opts.MaxFileBytes)
	}
	headers, err := sheet.ReadHeaders(p.reader, s.Data, s.Filename)
	if err != nil {
		return nil, err
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(s.Email))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	mapping, err := p.catalog.Validate(s.Mapping, headers)
	if err != nil {
		return nil, err
	}
	modelIDs, err := p.checkModels(s.ModelIDs)
	if err != nil {
		return nil, err
	}

	mimeType := s.MIMEType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = inference.MIMEType(s.Filename, mimeType)
	}
	job := &Job{
		ID:        uuid.NewString(),
		Email:     addr.Address,
		Filename:  s.Filename,
		MIMEType:  mimeType,
		Mapping:   mapping,
		ModelIDs:  modelIDs,
		CreatedAt: p.now(),
		data:      s.Data,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrShuttingDown
	}
	p.wg.Add(1)
	p.active.Add(1)
	p.mu.Unlock()

	p.log.Info("job accepted",
		"job_id", job.ID,
		"email", job.Email,
		"filename", job.Filename,
		"models", strings.Join(modelIDs, ","),
		"bytes", len(s.Data),
	)
	go p.run(job)
	return job, nil
}

// checkModels trims and de-duplicates ids and reports every unknown one.
func (p *Pipeline) checkModels(ids []string) ([]string, error) {
	var out, unknown []string
	seen := make(map[string]bool)
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := p.modelIdx[id]; !ok {
			unknown = append(unknown, id)
			continue
		}
		out = append(out, id)
	}
	if len(unknown) > 0 {
		return nil, &UnknownModelError{IDs: unknown}
	}
	if len(out) == 0 {
		return nil, ErrNoModels
	}
	return out, nil
}

func (p *Pipeline) run(job *Job) {
	defer p.wg.Done()
	defer p.active.Add(-1)

	log := p.log.With("job_id", job.ID)
	started := p.now()

	defer func() {
		if r := recover(); r != nil {
			p.fail(job, log, started, fmt.Errorf("panic: %v", r))
		}
	}()

	if p.opts.NotifyOnStart {
		p.notify(job, log, notify.KindStarted, notify.Vars{}, nil)
	}

	res, err := p.execute(p.ctx, job, log)
	if err != nil {
		p.fail(job, log, started, err)
		return
	}
	p.complete(job, log, started, res)
}

// execute runs submit → await → fetch strictly in order.
func (p *Pipeline) execute(ctx context.Context, job *Job, log *logger.Logger) (*inference.Result, error) {
	req := inference.Request{
		JobID:    job.ID,
		Filename: job.Filename,
		Mapping:  p.catalog.Render(job.Mapping),
		ModelIDs: job.ModelIDs,
	}
	if p.predictor.Mode() == inference.ModePull {
		url, err := p.publisher.Publish(ctx, job.data, job.Filename, job.MIMEType)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
		req.FileURL = url
		log.Debug("file published", "url", logger.RedactURL(url))
	} else {
		req.FileData = job.data
	}

	sub, err := p.predictor.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	job.advance(StateDispatched)
	log.Info("job dispatched", "handle", sub.Handle)

	if p.predictor.Mode() == inference.ModePull {
		job.advance(StatePolling)
	}
	out, err := p.predictor.Await(ctx, sub)
	if err != nil {
		return nil, err
	}
	res, err := p.predictor.Fetch(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("fetching result: %w", err)
	}
	return res, nil
}

func (p *Pipeline) complete(job *Job, log *logger.Logger, started time.Time, res *inference.Result) {
	if !job.advance(StateCompleted) {
		return
	}
	job.data = nil
	log.Info("job completed", "rows", res.RowCount, "result_bytes", len(res.Data), "duration", p.now().Sub(started))

	p.notify(job, log, notify.KindSuccess, notify.Vars{RowCount: res.RowCount}, &notify.Attachment{
		Filename: res.Filename,
		MIMEType: res.MIMEType,
		Data:     res.Data,
	})
	p.record(job, log, started, "", res.RowCount)
}

func (p *Pipeline) fail(job *Job, log *logger.Logger, started time.Time, cause error) {
	if !job.advance(StateFailed) {
		return
	}
	job.data = nil

	if errors.Is(cause, context.Canceled) && p.ctx.Err() != nil {
		log.Warn("job abandoned at shutdown", "error", cause)
		p.record(job, log, started, "abandoned at shutdown", 0)
		return
	}

	log.Error("job failed", "error", cause, "duration", p.now().Sub(started))
	if p.opts.NotifyOnFailure {
		p.notify(job, log, notify.KindFailure, notify.Vars{Error: describe(cause)}, nil)
	}
	p.record(job, log, started, cause.Error(), 0)
}

// notify renders and sends one mail. Failures are logged and never change
// the job's state.
func (p *Pipeline) notify(job *Job, log *logger.Logger, kind notify.Kind, vars notify.Vars, att *notify.Attachment) {
	vars.JobID = job.ID
	vars.Filename = job.Filename
	vars.Models = p.modelTitles(job.ModelIDs)

	subject, body, err := p.templates.Render(kind, vars)
	if err != nil {
		log.Error("mail template failed", "kind", string(kind), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), finalizeTimeout)
	defer cancel()
	err = p.notifier.Send(ctx, notify.Message{
		To:         job.Email,
		Subject:    subject,
		Text:       body,
		Attachment: att,
	})
	if err != nil {
		log.Error("notification failed", "kind", string(kind), "email", job.Email, "error", err)
		return
	}
	log.Info("notification sent", "kind", string(kind), "email", job.Email)
}

func (p *Pipeline) record(job *Job, log *logger.Logger, started time.Time, errMsg string, rows int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), finalizeTimeout)
	defer cancel()
	err := p.ledger.Record(ctx, ledger.Outcome{
		JobID:      job.ID,
		Email:      logger.RedactEmail(job.Email),
		State:      job.State().String(),
		Error:      errMsg,
		ModelIDs:   job.ModelIDs,
		Filename:   job.Filename,
		RowCount:   rows,
		StartedAt:  started,
		FinishedAt: p.now(),
	})
	if err != nil {
		log.Error("recording outcome failed", "error", err)
	}
}

func (p *Pipeline) modelTitles(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if m, ok := p.modelIdx[id]; ok && m.Title != "" {
			out[i] = m.Title
		} else {
			out[i] = id
		}
	}
	return out
}

// describe turns a failure into a sentence fit for the requester.
func describe(err error) string {
	var (
		te *inference.TerminalError
		se *httpretry.StatusError
	)
	switch {
	case errors.As(err, &te):
		if te.Detail != "" {
			return fmt.Sprintf("the prediction service reported the job %s: %s", te.Status, te.Detail)
		}
		return fmt.Sprintf("the prediction service reported the job %s", te.Status)
	case errors.Is(err, inference.ErrWaitTimeout):
		return "processing did not finish in time"
	case errors.Is(err, inference.ErrPayloadTooLarge):
		return "the file is too large to be processed"
	case errors.Is(err, ErrPublishFailed):
		return "the uploaded file could not be handed to the prediction service"
	case errors.Is(err, inference.ErrInvalidResponse):
		return "the prediction service returned a response that could not be understood"
	case errors.As(err, &se) && !httpretry.IsRetryableStatus(se.StatusCode):
		return fmt.Sprintf("the prediction service rejected the request (status %d)", se.StatusCode)
	default:
		return "the prediction service could not be reached"
	}
}

// Wait blocks until every running job has finished or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for running ones. If ctx ends
// first, running jobs are cancelled and their outcome is lost.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	if err := p.Wait(ctx); err != nil {
		p.log.Warn("shutdown timed out, cancelling running jobs", "active", p.Active())
		p.cancel()
		return err
	}
	p.cancel()
	return nil
}
