package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/catalog-enricher/internal/fieldmap"
	"github.com/ignite/catalog-enricher/internal/inference"
	"github.com/ignite/catalog-enricher/internal/ledger"
	"github.com/ignite/catalog-enricher/internal/notify"
	"github.com/ignite/catalog-enricher/internal/pkg/httpretry"
)

const sampleCSV = "Product Images,Title,Bullet Point 1,Bullet Point 2,Description\nhttp://x/1.jpg,Mug,Big,Blue,A mug\n"

type fakePredictor struct {
	mode      inference.Mode
	release   chan struct{}
	submitErr error
	awaitErr  error
	fetchErr  error

	mu       sync.Mutex
	calls    []string
	requests []inference.Request
}

func (f *fakePredictor) Mode() inference.Mode { return f.mode }

func (f *fakePredictor) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakePredictor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePredictor) Submit(ctx context.Context, req inference.Request) (*inference.Submission, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.record("submit")
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &inference.Submission{Handle: "h-1"}, nil
}

func (f *fakePredictor) Await(context.Context, *inference.Submission) (*inference.Output, error) {
	f.record("await")
	if f.awaitErr != nil {
		return nil, f.awaitErr
	}
	return &inference.Output{Data: []byte("enriched"), Filename: "out.xlsx", RowCount: 1}, nil
}

func (f *fakePredictor) Fetch(_ context.Context, out *inference.Output) (*inference.Result, error) {
	f.record("fetch")
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return &inference.Result{Data: out.Data, Filename: out.Filename, MIMEType: "application/x-test", RowCount: out.RowCount}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

func (f *fakeNotifier) Sent() []notify.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Message(nil), f.sent...)
}

type fakeLedger struct {
	mu       sync.Mutex
	outcomes []ledger.Outcome
}

func (f *fakeLedger) Record(_ context.Context, o ledger.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, o)
	return nil
}

func (f *fakeLedger) Outcomes() []ledger.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.Outcome(nil), f.outcomes...)
}

type fakePublisher struct {
	mu   sync.Mutex
	data [][]byte
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, data []byte, filename, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.data = append(f.data, data)
	return "https://enricher.example.com/files/" + filename, nil
}

type harness struct {
	pipeline  *Pipeline
	predictor *fakePredictor
	notifier  *fakeNotifier
	ledger    *fakeLedger
	publisher *fakePublisher
}

func newHarness(t *testing.T, predictor *fakePredictor, opts Options) *harness {
	t.Helper()
	catalog, err := fieldmap.NewCatalog([]fieldmap.FieldSpec{
		{Name: "product_images", Required: true, Aliases: []string{"product images"}},
		{Name: "title", Required: true, Aliases: []string{"title"}},
		{Name: "description", Required: true, Aliases: []string{"description"}},
		{Name: "bullet_points", Required: true, Multiple: true, Aliases: []string{"bullet point"}},
	})
	require.NoError(t, err)

	if predictor.mode == "" {
		predictor.mode = inference.ModePull
	}
	h := &harness{
		predictor: predictor,
		notifier:  &fakeNotifier{},
		ledger:    &fakeLedger{},
		publisher: &fakePublisher{},
	}
	h.pipeline, err = New(Deps{
		Catalog:   catalog,
		Models:    []Model{{ID: "attributes", Title: "Attribute extraction"}, {ID: "seo", Title: "SEO copy"}},
		Predictor: predictor,
		Publisher: h.publisher,
		Notifier:  h.notifier,
		Ledger:    h.ledger,
	}, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.pipeline.Shutdown(ctx)
	})
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.pipeline.Wait(ctx))
}

func validSubmission() Submission {
	return Submission{
		Email:    " Buyer <buyer@example.com> ",
		Filename: "catalog.csv",
		Data:     []byte(sampleCSV),
		Mapping: map[string]fieldmap.Selection{
			"product_images": {"Product Images"},
			"title":          {"title"},
			"description":    {"Description"},
			"bullet_points":  {"Bullet Point 1", "Bullet Point 2"},
		},
		ModelIDs: []string{"attributes", "seo", "attributes"},
	}
}

func TestSubmitReturnsBeforeExternalCall(t *testing.T) {
	pred := &fakePredictor{release: make(chan struct{})}
	h := newHarness(t, pred, Options{NotifyOnFailure: true})

	start := time.Now()
	job, err := h.pipeline.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StateCreated, job.State())
	assert.Equal(t, "buyer@example.com", job.Email)
	assert.Equal(t, []string{"attributes", "seo"}, job.ModelIDs)
	assert.Equal(t, "text/csv", job.MIMEType)
	assert.Empty(t, pred.Calls())
	assert.Equal(t, int64(1), h.pipeline.Active())

	close(pred.release)
	h.wait(t)

	assert.Equal(t, StateCompleted, job.State())
	assert.Equal(t, []string{"submit", "await", "fetch"}, pred.Calls())
	assert.Equal(t, int64(0), h.pipeline.Active())

	sent := h.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "buyer@example.com", sent[0].To)
	require.NotNil(t, sent[0].Attachment)
	assert.Equal(t, "out.xlsx", sent[0].Attachment.Filename)
	assert.Equal(t, []byte("enriched"), sent[0].Attachment.Data)
	assert.Contains(t, sent[0].Text, "Attribute extraction, SEO copy")

	outcomes := h.ledger.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, "completed", outcomes[0].State)
	assert.Equal(t, "bu***@example.com", outcomes[0].Email)
	assert.Equal(t, job.ID, outcomes[0].JobID)
}

func TestPullModePublishesFileAndRendersMapping(t *testing.T) {
	pred := &fakePredictor{}
	h := newHarness(t, pred, Options{})

	_, err := h.pipeline.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	h.wait(t)

	require.Len(t, h.publisher.data, 1)
	assert.Equal(t, []byte(sampleCSV), h.publisher.data[0])

	require.Len(t, pred.requests, 1)
	req := pred.requests[0]
	assert.Equal(t, "https://enricher.example.com/files/catalog.csv", req.FileURL)
	assert.Nil(t, req.FileData)
	assert.Equal(t, "Title", req.Mapping["title"])
	assert.Equal(t, []string{"Bullet Point 1", "Bullet Point 2"}, req.Mapping["bullet_points"])
}

func TestInlineModeSendsFileData(t *testing.T) {
	pred := &fakePredictor{mode: inference.ModeInline}
	h := newHarness(t, pred, Options{})

	job, err := h.pipeline.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	h.wait(t)

	assert.Empty(t, h.publisher.data)
	require.Len(t, pred.requests, 1)
	assert.Equal(t, []byte(sampleCSV), pred.requests[0].FileData)
	assert.Empty(t, pred.requests[0].FileURL)
	assert.Equal(t, StateCompleted, job.State())
}

func TestSubmitValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Submission)
		check  func(t *testing.T, err error)
	}{
		{"invalid file", func(s *Submission) { s.Data = nil }, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrInvalidFile)
		}},
		{"invalid email", func(s *Submission) { s.Email = "not-an-address" }, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrInvalidEmail)
		}},
		{"too large", func(s *Submission) { s.Data = make([]byte, 2048) }, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrFileTooLarge)
		}},
		{"bad mapping", func(s *Submission) {
			s.Mapping["title"] = fieldmap.Selection{"Name"}
			s.Mapping["bullet_points"] = fieldmap.Selection{"Bullet Point 1", "Bullet 7"}
		}, func(t *testing.T, err error) {
			var verr *fieldmap.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Len(t, verr.Errors, 2)
			assert.Equal(t, "Name", verr.Errors[0].Column)
			assert.Equal(t, "Bullet 7", verr.Errors[1].Column)
		}},
		{"unknown models", func(s *Submission) { s.ModelIDs = []string{"seo", "gpt", "vision"} }, func(t *testing.T, err error) {
			var uerr *UnknownModelError
			require.ErrorAs(t, err, &uerr)
			assert.Equal(t, []string{"gpt", "vision"}, uerr.IDs)
		}},
		{"no models", func(s *Submission) { s.ModelIDs = []string{" "} }, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrNoModels)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := &fakePredictor{}
			h := newHarness(t, pred, Options{MaxFileBytes: 1024, NotifyOnFailure: true})

			s := validSubmission()
			tt.mutate(&s)
			job, err := h.pipeline.Submit(context.Background(), s)
			require.Error(t, err)
			assert.Nil(t, job)
			tt.check(t, err)

			h.wait(t)
			assert.Empty(t, pred.Calls())
			assert.Empty(t, h.notifier.Sent())
			assert.Empty(t, h.ledger.Outcomes())
		})
	}
}

func TestFailureNotification(t *testing.T) {
	tests := []struct {
		name   string
		pred   *fakePredictor
		calls  []string
		reason string
	}{
		{"submit exhausted", &fakePredictor{submitErr: errors.New("503 after 4 attempts")},
			[]string{"submit"}, "could not be reached"},
		{"terminal failure", &fakePredictor{awaitErr: &inference.TerminalError{Status: inference.StatusCancelled, Detail: "operator cancelled"}},
			[]string{"submit", "await"}, "cancelled: operator cancelled"},
		{"wait budget", &fakePredictor{awaitErr: inference.ErrWaitTimeout},
			[]string{"submit", "await"}, "did not finish in time"},
		{"fetch failure", &fakePredictor{fetchErr: errors.New("404")},
			[]string{"submit", "await", "fetch"}, "could not be reached"},
		{"rejected request", &fakePredictor{submitErr: &httpretry.StatusError{StatusCode: http.StatusBadRequest, Body: "bad mapping"}},
			[]string{"submit"}, "rejected the request (status 400)"},
		{"unreadable response", &fakePredictor{awaitErr: fmt.Errorf("%w: completed status without output", inference.ErrInvalidResponse)},
			[]string{"submit", "await"}, "could not be understood"},
		{"exhausted on server errors", &fakePredictor{submitErr: fmt.Errorf("%w: %w", httpretry.ErrExhausted, &httpretry.StatusError{StatusCode: http.StatusServiceUnavailable})},
			[]string{"submit"}, "could not be reached"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.pred, Options{NotifyOnFailure: true})
			job, err := h.pipeline.Submit(context.Background(), validSubmission())
			require.NoError(t, err)
			h.wait(t)

			assert.Equal(t, StateFailed, job.State())
			assert.Equal(t, tt.calls, tt.pred.Calls())

			sent := h.notifier.Sent()
			require.Len(t, sent, 1)
			assert.Nil(t, sent[0].Attachment)
			assert.Contains(t, sent[0].Text, tt.reason)

			outcomes := h.ledger.Outcomes()
			require.Len(t, outcomes, 1)
			assert.Equal(t, "failed", outcomes[0].State)
			assert.NotEmpty(t, outcomes[0].Error)
		})
	}
}

func TestFailureNotificationDisabled(t *testing.T) {
	pred := &fakePredictor{submitErr: errors.New("boom")}
	h := newHarness(t, pred, Options{NotifyOnFailure: false})

	job, err := h.pipeline.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	h.wait(t)

	assert.Equal(t, StateFailed, job.State())
	assert.Empty(t, h.notifier.Sent())
	assert.Len(t, h.ledger.Outcomes(), 1)
}

func TestPublishFailureFailsJob(t *testing.T) {
	pred := &fakePredictor{}
	h := newHarness(t, pred, Options{NotifyOnFailure: true})
	h.publisher.err = errors.New("redis down")

	job, err := h.pipeline.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	h.wait(t)

	assert.Equal(t, StateFailed, job.State())
	assert.Empty(t, pred.Calls())

	sent := h.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "could not be handed to the prediction service")
}

func TestNotificationFailureKeepsCompletedState(t *testing.T) {
	pred := &fakePredictor{}
	h := newHarness(t, pred, Options{NotifyOnFailure: true})
	h.notifier.err = errors.New("ses throttled")

	job, err := h.pipeline.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	h.wait(t)

	assert.Equal(t, StateCompleted, job.State())
	assert.Len(t, h.notifier.Sent(), 1, "no retry and no failure mail")
	outcomes := h.ledger.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, "completed", outcomes[0].State)
}

func TestStartedNotification(t *testing.T) {
	pred := &fakePredictor{}
	h := newHarness(t, pred, Options{NotifyOnStart: true})

	_, err := h.pipeline.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	h.wait(t)

	sent := h.notifier.Sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].Subject, "Processing started")
	assert.Nil(t, sent[0].Attachment)
	assert.NotNil(t, sent[1].Attachment)
}

func TestJobsRunIndependently(t *testing.T) {
	pred := &fakePredictor{}
	h := newHarness(t, pred, Options{})

	var jobs []*Job
	for i := 0; i < 10; i++ {
		job, err := h.pipeline.Submit(context.Background(), validSubmission())
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
	h.wait(t)

	ids := make(map[string]bool)
	for _, j := range jobs {
		assert.Equal(t, StateCompleted, j.State())
		ids[j.ID] = true
	}
	assert.Len(t, ids, 10)
	assert.Len(t, h.notifier.Sent(), 10)
}

func TestShutdown(t *testing.T) {
	pred := &fakePredictor{release: make(chan struct{})}
	h := newHarness(t, pred, Options{NotifyOnFailure: true})

	job, err := h.pipeline.Submit(context.Background(), validSubmission())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.pipeline.Shutdown(ctx), context.DeadlineExceeded)

	h.wait(t)
	assert.Equal(t, StateFailed, job.State())
	assert.Empty(t, h.notifier.Sent(), "abandoned jobs are not mailed")

	_, err = h.pipeline.Submit(context.Background(), validSubmission())
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestInspect(t *testing.T) {
	h := newHarness(t, &fakePredictor{}, Options{})
	in, err := h.pipeline.Inspect([]byte(sampleCSV), "catalog.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"Product Images", "Title", "Bullet Point 1", "Bullet Point 2", "Description"}, in.Headers)
	assert.Empty(t, in.Missing)
	assert.Equal(t, "Title", in.Mapping.First("title"))

	_, err = h.pipeline.Inspect(nil, "empty.csv")
	assert.ErrorIs(t, err, ErrInvalidFile)
}

func TestNewRequiresPublisherInPullMode(t *testing.T) {
	catalog, err := fieldmap.NewCatalog([]fieldmap.FieldSpec{{Name: "title", Aliases: []string{"title"}}})
	require.NoError(t, err)
	_, err = New(Deps{Catalog: catalog, Predictor: &fakePredictor{mode: inference.ModePull}, Notifier: &fakeNotifier{}}, Options{})
	assert.Error(t, err)
}
