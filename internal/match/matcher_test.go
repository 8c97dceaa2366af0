package match

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
)

type fakeCatalog struct {
	features []model.Feature
}

func (f *fakeCatalog) FindByKey(_ context.Context, key string) (*model.Feature, error) {
	for i := range f.features {
		if f.features[i].Key == key {
			return &f.features[i], nil
		}
	}
	return nil, nil
}

func (f *fakeCatalog) List(_ context.Context) ([]model.Feature, error) {
	return f.features, nil
}

func newTestMatcher(features ...model.Feature) *Matcher {
	return New(&fakeCatalog{features: features}, 0.6, zap.NewNop())
}

func idRef(id string) model.FeatureReference {
	return model.FeatureReference{FeatureID: id, Confidence: 0.9, MatchType: model.MatchTypeID}
}

func nameRef(name string) model.FeatureReference {
	return model.FeatureReference{FeatureName: name, Confidence: 0.7, MatchType: model.MatchTypeExact}
}

func TestExactIDMatch(t *testing.T) {
	m := newTestMatcher(model.Feature{Key: "FEAT-7", Name: "Payments dashboard"})

	matches, err := m.Match(context.Background(), []model.FeatureReference{idRef("FEAT-7")})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "FEAT-7", matches[0].FeatureKey)
	assert.Equal(t, 0.95, matches[0].Confidence)
	assert.Equal(t, "Exact ID match", matches[0].MatchReason)
}

func TestNumericIDMatchesKeySuffix(t *testing.T) {
	m := newTestMatcher(model.Feature{Key: "FEAT-42", Name: "Checkout flow"})

	matches, err := m.Match(context.Background(), []model.FeatureReference{idRef("42")})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "FEAT-42", matches[0].FeatureKey)
	assert.Equal(t, 0.95, matches[0].Confidence)
	assert.Equal(t, "Exact ID match", matches[0].MatchReason)
}

func TestIDTakesPriorityOverNameText(t *testing.T) {
	// The reference's id wins even when accompanying name text points
	// elsewhere.
	m := newTestMatcher(
		model.Feature{Key: "FEAT-1", Name: "Search service"},
		model.Feature{Key: "FEAT-2", Name: "Payments dashboard"},
	)

	ref := model.FeatureReference{FeatureID: "FEAT-1", FeatureName: "Payments dashboard", Confidence: 0.9, MatchType: model.MatchTypeID}
	matches, err := m.Match(context.Background(), []model.FeatureReference{ref})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "FEAT-1", matches[0].FeatureKey)
	assert.Equal(t, 0.95, matches[0].Confidence)
}

func TestFuzzyNameMatch(t *testing.T) {
	m := newTestMatcher(
		model.Feature{Key: "FEAT-1", Name: "payments dashboard"},
		model.Feature{Key: "FEAT-2", Name: "user onboarding"},
	)

	matches, err := m.Match(context.Background(), []model.FeatureReference{nameRef("payment dashboard")})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "FEAT-1", matches[0].FeatureKey)
	assert.Greater(t, matches[0].Confidence, 0.6)
	assert.LessOrEqual(t, matches[0].Confidence, 1.0)
}

func TestFuzzyBelowThresholdRejected(t *testing.T) {
	m := newTestMatcher(model.Feature{Key: "FEAT-1", Name: "payments dashboard"})

	matches, err := m.Match(context.Background(), []model.FeatureReference{nameRef("kubernetes operator")})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatchCountNeverExceedsReferenceCount(t *testing.T) {
	m := newTestMatcher(
		model.Feature{Key: "FEAT-1", Name: "payments dashboard"},
		model.Feature{Key: "FEAT-2", Name: "user onboarding"},
	)

	refs := []model.FeatureReference{
		idRef("FEAT-1"),
		idRef("FEAT-1"), // duplicate mention collapses
		nameRef("user onboarding"),
		nameRef("no such thing at all"),
	}
	matches, err := m.Match(context.Background(), refs)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(matches), len(refs))
	assert.Len(t, matches, 2)
}

func TestMatchesSortedByDescendingConfidence(t *testing.T) {
	m := newTestMatcher(
		model.Feature{Key: "FEAT-1", Name: "payments dashboard"},
		model.Feature{Key: "FEAT-2", Name: "user onboarding"},
	)

	matches, err := m.Match(context.Background(), []model.FeatureReference{
		nameRef("payments dashboar"),
		idRef("FEAT-2"),
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Confidence, matches[i].Confidence)
	}
	assert.Equal(t, "FEAT-2", matches[0].FeatureKey)
}

func TestSimilarityBounds(t *testing.T) {
	pairs := [][2]string{
		{"a", "a"},
		{"a", "b"},
		{"payments dashboard", "payment dashboard"},
		{"", "anything"},
		{"short", "a much longer string entirely"},
	}
	for _, p := range pairs {
		s := Similarity(p[0], p[1])
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}

	assert.Equal(t, 1.0, Similarity("Same Name", "same name"))
	assert.Equal(t, 0.0, Similarity("", "x"))
}

func TestTieBrokenByCatalogOrder(t *testing.T) {
	// Two identical names: the first catalog entry wins.
	m := newTestMatcher(
		model.Feature{Key: "FEAT-1", Name: "auth module"},
		model.Feature{Key: "FEAT-2", Name: "auth module"},
	)

	matches, err := m.Match(context.Background(), []model.FeatureReference{nameRef("auth module")})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "FEAT-1", matches[0].FeatureKey)
}
