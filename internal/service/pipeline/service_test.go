package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cifer55/email-progress-tracker-sub002/internal/match"
	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
	progresssvc "github.com/cifer55/email-progress-tracker-sub002/internal/service/progress"
)

type fakeCatalog struct {
	features []*model.Feature
}

func (f *fakeCatalog) FindByKey(_ context.Context, key string) (*model.Feature, error) {
	for _, ft := range f.features {
		if ft.Key == key {
			return ft, nil
		}
	}
	return nil, nil
}

func (f *fakeCatalog) List(_ context.Context) ([]model.Feature, error) {
	out := make([]model.Feature, 0, len(f.features))
	for _, ft := range f.features {
		out = append(out, *ft)
	}
	return out, nil
}

type fakeRecorder struct {
	recorded []*model.Update
	statuses map[string]string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{statuses: make(map[string]string)}
}

func (f *fakeRecorder) RecordUpdate(_ context.Context, u *model.Update) (*progresssvc.Result, error) {
	f.recorded = append(f.recorded, u)
	old := f.statuses[u.FeatureKey]
	if u.Status != "" {
		f.statuses[u.FeatureKey] = u.Status
	}
	newStatus := f.statuses[u.FeatureKey]
	return &progresssvc.Result{
		Inserted:      true,
		OldStatus:     old,
		NewStatus:     newStatus,
		StatusChanged: newStatus != "" && newStatus != old,
	}, nil
}

type fakeNotifier struct {
	changes []string
}

func (f *fakeNotifier) OnStatusChange(_ context.Context, featureKey, _, _, newStatus string) error {
	f.changes = append(f.changes, featureKey+":"+newStatus)
	return nil
}

func newTestService(features ...*model.Feature) (*Service, *fakeRecorder, *fakeNotifier) {
	catalog := &fakeCatalog{features: features}
	matcher := match.New(catalog, 0.6, zap.NewNop())
	recorder := newFakeRecorder()
	notifier := &fakeNotifier{}
	return NewService(matcher, recorder, notifier, 0.7, zap.NewNop()), recorder, notifier
}

func email(id, subject, body string) *model.EmailRecord {
	return &model.EmailRecord{
		ID:         id,
		Sender:     "dev@example.com",
		Subject:    subject,
		Body:       body,
		Status:     model.EmailStatusPending,
		ReceivedAt: time.Now(),
	}
}

func TestProcessRecordsBlockedUpdate(t *testing.T) {
	svc, rec, notifier := newTestService(
		&model.Feature{Key: "FEAT-42", Name: "Payment Integration"},
	)

	out, err := svc.Process(context.Background(),
		email("e1", "Status update", "Feature #42 is 75% complete and blocked by vendor API access."))
	require.NoError(t, err)

	assert.True(t, out.Matched)
	require.Len(t, rec.recorded, 1)

	u := rec.recorded[0]
	assert.Equal(t, "FEAT-42", u.FeatureKey)
	assert.Equal(t, model.StatusBlocked, u.Status)
	require.NotNil(t, u.PercentComplete)
	assert.Equal(t, 75, *u.PercentComplete)
	require.Len(t, u.Blockers, 1)
	assert.Equal(t, "vendor API access", u.Blockers[0])

	assert.Equal(t, []string{"FEAT-42:blocked"}, notifier.changes)
}

func TestProcessVagueEmailIsUnmatched(t *testing.T) {
	svc, rec, _ := newTestService(
		&model.Feature{Key: "FEAT-7", Name: "User Dashboard"},
	)

	out, err := svc.Process(context.Background(),
		email("e1", "Weekly report", "Great progress this week, the team is doing well."))
	require.NoError(t, err)

	assert.False(t, out.Matched)
	assert.Empty(t, rec.recorded)
	assert.Empty(t, out.Parsed.References)
}

func TestProcessFuzzyMatchAcceptedOnOverallConfidence(t *testing.T) {
	// The acceptance gate is the message's overall confidence, not the
	// per-match fuzzy score. A quoted name reference with an indicator
	// scores 0.9 overall, so a catalog match in the fuzzy band still
	// records an update.
	svc, rec, _ := newTestService(
		&model.Feature{Key: "FEAT-12", Name: "billing dashboard"},
	)

	out, err := svc.Process(context.Background(),
		email("e1", "Update", `The "payment dashboard" is 50% complete.`))
	require.NoError(t, err)

	assert.True(t, out.Matched)
	require.Len(t, rec.recorded, 1)
	assert.Equal(t, "FEAT-12", rec.recorded[0].FeatureKey)
	require.NotNil(t, rec.recorded[0].PercentComplete)
	assert.Equal(t, 50, *rec.recorded[0].PercentComplete)
}

func TestProcessBelowThresholdConfidenceIsUnmatched(t *testing.T) {
	// A quoted name reference without any progress indicator scores 0.7
	// overall, under a stricter 0.8 threshold.
	catalog := &fakeCatalog{features: []*model.Feature{
		{Key: "FEAT-7", Name: "User Dashboard"},
	}}
	rec := newFakeRecorder()
	svc := NewService(match.New(catalog, 0.6, zap.NewNop()), rec, &fakeNotifier{}, 0.8, zap.NewNop())

	out, err := svc.Process(context.Background(),
		email("e1", "Update", `Some movement on the "user dashboard" feature this week.`))
	require.NoError(t, err)

	assert.False(t, out.Matched)
	assert.Empty(t, rec.recorded)
	assert.NotEmpty(t, out.Parsed.References)
}

func TestProcessConfidentButNoCatalogMatchIsUnmatched(t *testing.T) {
	svc, rec, _ := newTestService(
		&model.Feature{Key: "FEAT-1", Name: "Checkout"},
	)

	out, err := svc.Process(context.Background(),
		email("e1", "Update", "FEAT-999 is 80% complete."))
	require.NoError(t, err)

	assert.False(t, out.Matched)
	assert.Empty(t, rec.recorded)
	assert.NotEmpty(t, out.Parsed.References)
}

func TestProcessMultipleFeaturesOneUpdateEach(t *testing.T) {
	svc, rec, _ := newTestService(
		&model.Feature{Key: "FEAT-1", Name: "Checkout"},
		&model.Feature{Key: "FEAT-2", Name: "Search"},
	)

	out, err := svc.Process(context.Background(),
		email("e1", "Sprint update", "FEAT-1 is done, FEAT-2 is in progress."))
	require.NoError(t, err)

	assert.True(t, out.Matched)
	require.Len(t, rec.recorded, 2)
	keys := []string{rec.recorded[0].FeatureKey, rec.recorded[1].FeatureKey}
	assert.ElementsMatch(t, []string{"FEAT-1", "FEAT-2"}, keys)
}

func TestProcessUsesHTMLBodyWhenPresent(t *testing.T) {
	svc, rec, _ := newTestService(
		&model.Feature{Key: "FEAT-9", Name: "Reports"},
	)

	e := email("e1", "Update", "")
	e.HTMLBody = "<html><body><p>FEAT-9 is <b>blocked by</b> the data migration.</p></body></html>"

	out, err := svc.Process(context.Background(), e)
	require.NoError(t, err)

	assert.True(t, out.Matched)
	require.Len(t, rec.recorded, 1)
	assert.Equal(t, model.StatusBlocked, rec.recorded[0].Status)
	assert.NotContains(t, rec.recorded[0].Summary, "<b>")
}

func TestProcessEnrichmentCarriedInParsed(t *testing.T) {
	svc, _, _ := newTestService(
		&model.Feature{Key: "FEAT-1", Name: "Checkout"},
	)

	out, err := svc.Process(context.Background(),
		email("e1", "Urgent", "FEAT-1 is blocked, this is urgent and critical."))
	require.NoError(t, err)

	assert.Equal(t, "high", out.Parsed.Extracted.Urgency)
	assert.Equal(t, "negative", out.Parsed.Extracted.Sentiment)
}
