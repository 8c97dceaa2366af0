package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
	"github.com/cifer55/email-progress-tracker-sub002/internal/queue"
	"github.com/cifer55/email-progress-tracker-sub002/internal/repository"
	pipelinesvc "github.com/cifer55/email-progress-tracker-sub002/internal/service/pipeline"
)

type fakeEmailStore struct {
	emails    map[string]*model.EmailRecord
	processed []string
	unmatched []string
	failed    []string
}

func (f *fakeEmailStore) GetByID(_ context.Context, id string) (*model.EmailRecord, error) {
	e, ok := f.emails[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return e, nil
}

func (f *fakeEmailStore) MarkProcessed(_ context.Context, id string) error {
	f.processed = append(f.processed, id)
	f.emails[id].Status = model.EmailStatusProcessed
	return nil
}

func (f *fakeEmailStore) MarkUnmatched(_ context.Context, id string) error {
	f.unmatched = append(f.unmatched, id)
	f.emails[id].Status = model.EmailStatusUnmatched
	return nil
}

func (f *fakeEmailStore) MarkFailed(_ context.Context, id, _ string) error {
	f.failed = append(f.failed, id)
	if e, ok := f.emails[id]; ok {
		e.Status = model.EmailStatusFailed
	}
	return nil
}

type fakeJobStore struct {
	completed     []string
	failed        []string
	rescheduled   []string
	deferred      []string
	deferDelays   []time.Duration
	attempts      int
	exhausted     bool
	deferErr      error
	rescheduleErr error
}

func (f *fakeJobStore) MarkCompleted(_ context.Context, id string) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeJobStore) MarkFailed(_ context.Context, id, _ string) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeJobStore) Reschedule(_ context.Context, id, _ string) (int, bool, error) {
	if f.rescheduleErr != nil {
		return 0, false, f.rescheduleErr
	}
	f.rescheduled = append(f.rescheduled, id)
	f.attempts++
	return f.attempts, f.exhausted, nil
}

func (f *fakeJobStore) Defer(_ context.Context, id string, delay time.Duration) error {
	if f.deferErr != nil {
		return f.deferErr
	}
	f.deferred = append(f.deferred, id)
	f.deferDelays = append(f.deferDelays, delay)
	return nil
}

type fakePipeline struct {
	outcome *pipelinesvc.Outcome
	err     error
	calls   int
}

func (f *fakePipeline) Process(_ context.Context, _ *model.EmailRecord) (*pipelinesvc.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

type fakeDLQ struct {
	published []string
}

func (f *fakeDLQ) PublishToDLQ(_ string, payload []byte, _ string) error {
	f.published = append(f.published, string(payload))
	return nil
}

type fakeLocker struct {
	held     bool
	releases []string
}

func (f *fakeLocker) AcquireOnce(_ context.Context, _, _ string) bool {
	return !f.held
}

func (f *fakeLocker) Release(_ context.Context, _, emailID string) {
	f.releases = append(f.releases, emailID)
}

type fakeCounter struct {
	counts map[string]int64
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: make(map[string]int64)}
}

func (f *fakeCounter) IncrementAndGet(_ context.Context, key string) (int64, error) {
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeCounter) Reset(_ context.Context, key string) error {
	delete(f.counts, key)
	return nil
}

type fakeReviewAlerter struct {
	emailIDs []string
}

func (f *fakeReviewAlerter) OnManualReview(_ context.Context, emailID, _ string) error {
	f.emailIDs = append(f.emailIDs, emailID)
	return nil
}

type handlerFixture struct {
	handler *EmailReceivedHandler
	emails  *fakeEmailStore
	jobs    *fakeJobStore
	pipe    *fakePipeline
	dlq     *fakeDLQ
	locker  *fakeLocker
	alerter *fakeReviewAlerter
}

func newFixture(outcome *pipelinesvc.Outcome, pipeErr error) *handlerFixture {
	f := &handlerFixture{
		emails: &fakeEmailStore{emails: map[string]*model.EmailRecord{
			"e1": {ID: "e1", Sender: "dev@example.com", Subject: "Update", Body: "FEAT-1 done", Status: model.EmailStatusPending},
		}},
		jobs:    &fakeJobStore{},
		pipe:    &fakePipeline{outcome: outcome, err: pipeErr},
		dlq:     &fakeDLQ{},
		locker:  &fakeLocker{},
		alerter: &fakeReviewAlerter{},
	}
	f.handler = NewEmailReceivedHandler(
		f.emails, f.jobs, f.pipe, f.alerter, f.dlq,
		f.locker, newFakeCounter(), 3, zap.NewNop(),
	)
	return f
}

func payload(t *testing.T, jobID, emailID string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(queue.JobPayload{JobID: jobID, EmailID: emailID, Subject: "Update"})
	require.NoError(t, err)
	return raw
}

func TestHandleMatchedEmailSettles(t *testing.T) {
	f := newFixture(&pipelinesvc.Outcome{Matched: true}, nil)

	err := f.handler.Handle(context.Background(), payload(t, "j1", "e1"))
	require.NoError(t, err)

	assert.Equal(t, []string{"e1"}, f.emails.processed)
	assert.Equal(t, []string{"j1"}, f.jobs.completed)
	assert.Empty(t, f.alerter.emailIDs)
}

func TestHandleUnmatchedEmailGoesToReview(t *testing.T) {
	f := newFixture(&pipelinesvc.Outcome{Matched: false}, nil)

	err := f.handler.Handle(context.Background(), payload(t, "j1", "e1"))
	require.NoError(t, err)

	assert.Equal(t, []string{"e1"}, f.emails.unmatched)
	assert.Equal(t, []string{"e1"}, f.alerter.emailIDs)
	assert.Equal(t, []string{"j1"}, f.jobs.completed)
}

func TestHandleLockedEmailDefersJob(t *testing.T) {
	// A delivery that loses the per-email lock must not be dropped: the
	// lock holder may have crashed before settling, so the job goes back
	// to the queue with a delay instead of being acked away.
	f := newFixture(&pipelinesvc.Outcome{Matched: true}, nil)
	f.locker.held = true

	err := f.handler.Handle(context.Background(), payload(t, "j1", "e1"))
	require.NoError(t, err)

	assert.Equal(t, []string{"j1"}, f.jobs.deferred)
	require.Len(t, f.jobs.deferDelays, 1)
	assert.Greater(t, f.jobs.deferDelays[0], time.Duration(0))
	assert.Zero(t, f.pipe.calls)
	assert.Empty(t, f.jobs.completed)
	assert.Empty(t, f.emails.processed)
	assert.Equal(t, model.EmailStatusPending, f.emails.emails["e1"].Status)
}

func TestHandleLockedEmailDeferFailureFallsBackToBroker(t *testing.T) {
	f := newFixture(&pipelinesvc.Outcome{Matched: true}, nil)
	f.locker.held = true
	f.jobs.deferErr = errors.New("db connection refused")

	err := f.handler.Handle(context.Background(), payload(t, "j1", "e1"))
	assert.Error(t, err)
	assert.Empty(t, f.jobs.completed)
}

func TestHandleUnmatchedRedeliveryDoesNotReAlert(t *testing.T) {
	// One review alert per email: the redelivered job hits the settled
	// status guard before the alerting path.
	f := newFixture(&pipelinesvc.Outcome{Matched: false}, nil)

	require.NoError(t, f.handler.Handle(context.Background(), payload(t, "j1", "e1")))
	require.NoError(t, f.handler.Handle(context.Background(), payload(t, "j1", "e1")))

	assert.Equal(t, []string{"e1"}, f.alerter.emailIDs)
	assert.Equal(t, 1, f.pipe.calls)
}

func TestHandleSettledEmailCompletesJob(t *testing.T) {
	f := newFixture(&pipelinesvc.Outcome{Matched: true}, nil)
	f.emails.emails["e1"].Status = model.EmailStatusProcessed

	err := f.handler.Handle(context.Background(), payload(t, "j1", "e1"))
	require.NoError(t, err)

	assert.Equal(t, []string{"j1"}, f.jobs.completed)
	assert.Zero(t, f.pipe.calls)
}

func TestHandlePoisonPayloadGoesToDLQ(t *testing.T) {
	f := newFixture(nil, nil)

	err := f.handler.Handle(context.Background(), json.RawMessage(`{not json`))
	require.NoError(t, err)

	require.Len(t, f.dlq.published, 1)
	assert.Zero(t, f.pipe.calls)
}

func TestHandleMissingEmailFailsJob(t *testing.T) {
	f := newFixture(&pipelinesvc.Outcome{Matched: true}, nil)

	err := f.handler.Handle(context.Background(), payload(t, "j2", "missing"))
	require.NoError(t, err)

	assert.Equal(t, []string{"j2"}, f.jobs.failed)
	require.Len(t, f.dlq.published, 1)
}

func TestHandleRetryableErrorReschedules(t *testing.T) {
	f := newFixture(nil, errors.New("db connection refused"))

	err := f.handler.Handle(context.Background(), payload(t, "j1", "e1"))
	require.NoError(t, err)

	assert.Equal(t, []string{"j1"}, f.jobs.rescheduled)
	assert.Equal(t, []string{"e1"}, f.locker.releases)
	assert.Empty(t, f.jobs.completed)
	assert.Empty(t, f.emails.failed)
}

func TestHandleNonRetryableErrorFailsTerminally(t *testing.T) {
	f := newFixture(nil, errors.New("boom"))

	err := f.handler.Handle(context.Background(), payload(t, "j1", "e1"))
	require.NoError(t, err)

	assert.Empty(t, f.jobs.rescheduled)
	assert.Equal(t, []string{"j1"}, f.jobs.failed)
	assert.Equal(t, []string{"e1"}, f.emails.failed)
	require.Len(t, f.dlq.published, 1)
}

func TestHandleExhaustedRetriesFailTerminally(t *testing.T) {
	f := newFixture(nil, errors.New("db connection refused"))
	f.jobs.exhausted = true

	err := f.handler.Handle(context.Background(), payload(t, "j1", "e1"))
	require.NoError(t, err)

	assert.Equal(t, []string{"e1"}, f.emails.failed)
	require.Len(t, f.dlq.published, 1)
	// Reschedule itself moved the job to failed; the handler must not
	// double-mark it.
	assert.Empty(t, f.jobs.failed)
}
