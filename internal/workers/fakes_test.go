package workers

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"jobboard/internal/external"
	"jobboard/internal/queue"
	"jobboard/internal/reports"
	"jobboard/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []external.Email
	err  error
}

func (f *fakeMailer) Send(_ context.Context, e external.Email) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, e)
	return "msg-1", nil
}

func (f *fakeMailer) Sent() []external.Email {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]external.Email(nil), f.sent...)
}

type fakeSyncer struct {
	mu     sync.Mutex
	reqs   []external.SyncRequest
	result external.SyncResult
	err    error
}

func (f *fakeSyncer) Sync(_ context.Context, req external.SyncRequest) (external.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.result, f.err
}

func (f *fakeSyncer) Requests() []external.SyncRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]external.SyncRequest(nil), f.reqs...)
}

type fakeResults struct {
	mu    sync.Mutex
	rows  map[string]types.AssessmentResult
	calls int
	err   error
}

func (f *fakeResults) SaveAssessmentResult(_ context.Context, res types.AssessmentResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.rows == nil {
		f.rows = map[string]types.AssessmentResult{}
	}
	f.rows[res.AssessmentID+"/"+res.UserID] = res
	return nil
}

func (f *fakeResults) Get(assessmentID, userID string) (types.AssessmentResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[assessmentID+"/"+userID]
	return r, ok
}

type fakeNotifications struct {
	mu   sync.Mutex
	rows map[string]types.Notification
}

func (f *fakeNotifications) DispatchNotification(_ context.Context, n types.Notification) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows == nil {
		f.rows = map[string]types.Notification{}
	}
	if _, ok := f.rows[n.ID]; ok {
		return false, nil
	}
	f.rows[n.ID] = n
	return true, nil
}

func (f *fakeNotifications) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeReports struct {
	mu   sync.Mutex
	reqs []reports.Request
	err  error
}

func (f *fakeReports) Generate(_ context.Context, req reports.Request) (reports.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return reports.Result{}, f.err
	}
	return reports.Result{Key: req.ReportType + "/" + req.JobID}, nil
}

func (f *fakeReports) Requests() []reports.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reports.Request(nil), f.reqs...)
}

type fakes struct {
	mailer        *fakeMailer
	syncer        *fakeSyncer
	results       *fakeResults
	notifications *fakeNotifications
	reports       *fakeReports
}

func newFakes() *fakes {
	return &fakes{
		mailer:        &fakeMailer{},
		syncer:        &fakeSyncer{},
		results:       &fakeResults{},
		notifications: &fakeNotifications{},
		reports:       &fakeReports{},
	}
}

func (f *fakes) handlers() *Handlers {
	return NewHandlers(Deps{
		Mailer:        f.mailer,
		Syncer:        f.syncer,
		Results:       f.results,
		Notifications: f.notifications,
		Reports:       f.reports,
		SyncBatchSize: 100,
	}, testLogger())
}

func envelopeFor(t *testing.T, job queue.Job) queue.Envelope {
	t.Helper()
	env, err := queue.NewEnvelope(job, time.Date(2026, 3, 9, 14, 30, 15, 0, time.UTC))
	require.NoError(t, err)
	return env
}

// run dispatches job through the handler bound to the job's own queue.
func run(t *testing.T, h *Handlers, job queue.Job) (queue.Envelope, error) {
	t.Helper()
	q, err := queue.KindQueue(job.Kind())
	require.NoError(t, err)
	handler, err := h.ForQueue(q)
	require.NoError(t, err)
	env := envelopeFor(t, job)
	return env, handler(context.Background(), env)
}
