package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cifer55/email-progress-tracker-sub002/internal/imapclient"
	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
	"github.com/cifer55/email-progress-tracker-sub002/internal/queue"
	"github.com/cifer55/email-progress-tracker-sub002/internal/vault"
)

type fakeConfigStore struct {
	saved *model.EmailConfig
}

func (f *fakeConfigStore) Get(_ context.Context) (*model.EmailConfig, error) {
	return f.saved, nil
}

func (f *fakeConfigStore) Save(_ context.Context, c *model.EmailConfig) error {
	f.saved = c
	return nil
}

type fakeEmailStore struct {
	created []*model.EmailRecord
	byMsgID map[string]bool
}

func newFakeEmailStore() *fakeEmailStore {
	return &fakeEmailStore{byMsgID: make(map[string]bool)}
}

func (f *fakeEmailStore) Create(_ context.Context, e *model.EmailRecord) (bool, error) {
	if e.MessageID != "" && f.byMsgID[e.MessageID] {
		return false, nil
	}
	f.byMsgID[e.MessageID] = true
	f.created = append(f.created, e)
	return true, nil
}

type fakeEnqueuer struct {
	payloads []queue.JobPayload
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, p queue.JobPayload) (string, error) {
	f.payloads = append(f.payloads, p)
	return "job-1", nil
}

type fakeSeenMarker struct {
	seen []imap.UID
	errs []error
}

func (f *fakeSeenMarker) MarkSeen(uid imap.UID) error {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.seen = append(f.seen, uid)
	return nil
}

func newTestPoller(t *testing.T) (*Poller, *fakeConfigStore, *fakeEmailStore, *fakeEnqueuer, *vault.Vault) {
	t.Helper()
	v, err := vault.New("test-master-secret", "test-salt")
	require.NoError(t, err)
	configs := &fakeConfigStore{}
	emails := newFakeEmailStore()
	jobs := &fakeEnqueuer{}
	return New(configs, emails, jobs, v, zap.NewNop()), configs, emails, jobs, v
}

func TestIngestStoresAndEnqueues(t *testing.T) {
	p, _, emails, jobs, _ := newTestPoller(t)
	marker := &fakeSeenMarker{}

	msg := &imapclient.Message{
		UID:       7,
		MessageID: "<abc@example.com>",
		From:      "dev@example.com",
		Subject:   "FEAT-1 update",
		BodyText:  "FEAT-1 is done",
		Date:      time.Now(),
	}
	require.NoError(t, p.ingest(context.Background(), marker, msg))

	require.Len(t, emails.created, 1)
	assert.Equal(t, "<abc@example.com>", emails.created[0].MessageID)
	require.Len(t, jobs.payloads, 1)
	assert.Equal(t, emails.created[0].ID, jobs.payloads[0].EmailID)
	assert.Equal(t, []imap.UID{7}, marker.seen)
}

func TestIngestRefetchAfterFailedMarkSeenDoesNotDuplicate(t *testing.T) {
	// Mark-seen fails on the first pass, so the next tick re-fetches the
	// same message. The Message-ID guard must keep the replay down to a
	// bare re-mark: one record, one job.
	p, _, emails, jobs, _ := newTestPoller(t)
	marker := &fakeSeenMarker{errs: []error{errors.New("connection reset")}}

	msg := &imapclient.Message{
		UID:       7,
		MessageID: "<abc@example.com>",
		From:      "dev@example.com",
		Subject:   "FEAT-1 update",
		BodyText:  "FEAT-1 is done",
		Date:      time.Now(),
	}
	require.NoError(t, p.ingest(context.Background(), marker, msg))
	assert.Empty(t, marker.seen)

	require.NoError(t, p.ingest(context.Background(), marker, msg))

	assert.Len(t, emails.created, 1)
	assert.Len(t, jobs.payloads, 1)
	assert.Equal(t, []imap.UID{7}, marker.seen)
}

func TestUpdateConfigEncryptsPassword(t *testing.T) {
	p, configs, _, _, v := newTestPoller(t)

	cfg := &model.EmailConfig{
		Host:         "imap.example.com",
		Port:         993,
		Username:     "tracker@example.com",
		Folder:       "INBOX",
		PollInterval: 5 * time.Minute,
	}
	require.NoError(t, p.UpdateConfig(context.Background(), cfg, "hunter2"))

	require.NotNil(t, configs.saved)
	assert.NotEqual(t, "hunter2", configs.saved.EncryptedPassword)
	assert.NotContains(t, configs.saved.EncryptedPassword, "hunter2")

	plain, err := v.Decrypt(configs.saved.EncryptedPassword)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestUpdateConfigKeepsExistingPassword(t *testing.T) {
	p, configs, _, _, v := newTestPoller(t)

	encrypted, err := v.Encrypt("hunter2")
	require.NoError(t, err)

	cfg := &model.EmailConfig{
		Host:              "imap.example.com",
		Port:              993,
		Username:          "tracker@example.com",
		EncryptedPassword: encrypted,
	}
	require.NoError(t, p.UpdateConfig(context.Background(), cfg, ""))
	assert.Equal(t, encrypted, configs.saved.EncryptedPassword)
}

func TestUpdateConfigRequiresPassword(t *testing.T) {
	p, _, _, _, _ := newTestPoller(t)

	cfg := &model.EmailConfig{Host: "imap.example.com", Port: 993}
	assert.Error(t, p.UpdateConfig(context.Background(), cfg, ""))
}
