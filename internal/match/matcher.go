package match

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
)

// Exact identifier hits always score 0.95, above any fuzzy name result.
const exactIDConfidence = 0.95

// ExactIDReason is the match reason reported for identifier lookups.
const ExactIDReason = "Exact ID match"

// Catalog is the read-only feature catalog the matcher resolves against.
type Catalog interface {
	FindByKey(ctx context.Context, key string) (*model.Feature, error)
	List(ctx context.Context) ([]model.Feature, error)
}

// Matcher resolves extracted references to concrete catalog items.
type Matcher struct {
	catalog  Catalog
	minScore float64
	logger   *zap.Logger
}

func New(catalog Catalog, minScore float64, logger *zap.Logger) *Matcher {
	return &Matcher{
		catalog:  catalog,
		minScore: minScore,
		logger:   logger,
	}
}

// Match resolves each reference to at most one catalog item, so the result
// never has more entries than the input. Identifier references use exact
// lookup and take priority over any name text; name references use fuzzy
// similarity with a minimum acceptance threshold. The result is sorted by
// descending confidence.
func (m *Matcher) Match(ctx context.Context, refs []model.FeatureReference) ([]model.FeatureMatch, error) {
	var matches []model.FeatureMatch
	seen := make(map[string]bool)

	for _, ref := range refs {
		var match *model.FeatureMatch
		var err error

		if ref.FeatureID != "" {
			match, err = m.matchByID(ctx, ref.FeatureID)
		} else if ref.FeatureName != "" {
			match, err = m.matchByName(ctx, ref.FeatureName)
		}
		if err != nil {
			return nil, err
		}
		if match == nil || seen[match.FeatureKey] {
			continue
		}
		seen[match.FeatureKey] = true
		matches = append(matches, *match)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})

	return matches, nil
}

func (m *Matcher) matchByID(ctx context.Context, id string) (*model.FeatureMatch, error) {
	feature, err := m.catalog.FindByKey(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup for %q failed: %w", id, err)
	}

	// Bare numeric ids ("Feature #42") also match a key's numeric suffix
	// ("FEAT-42").
	if feature == nil && isDigits(id) {
		features, err := m.catalog.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("catalog list failed: %w", err)
		}
		for i := range features {
			if strings.HasSuffix(features[i].Key, "-"+id) {
				feature = &features[i]
				break
			}
		}
	}

	if feature == nil {
		m.logger.Debug("No catalog item for extracted identifier", zap.String("id", id))
		return nil, nil
	}

	return &model.FeatureMatch{
		FeatureKey:  feature.Key,
		FeatureName: feature.Name,
		Confidence:  exactIDConfidence,
		MatchReason: ExactIDReason,
	}, nil
}

func (m *Matcher) matchByName(ctx context.Context, name string) (*model.FeatureMatch, error) {
	features, err := m.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog list failed: %w", err)
	}

	var best *model.Feature
	bestScore := 0.0
	for i := range features {
		score := Similarity(name, features[i].Name)
		// Strict greater-than keeps the first of tied candidates, so
		// catalog order breaks ties deterministically.
		if score > bestScore {
			bestScore = score
			best = &features[i]
		}
	}

	if best == nil || bestScore < m.minScore {
		return nil, nil
	}

	return &model.FeatureMatch{
		FeatureKey:  best.Key,
		FeatureName: best.Name,
		Confidence:  bestScore,
		MatchReason: fmt.Sprintf("Name similarity %.2f to %q", bestScore, best.Name),
	}, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Similarity computes normalized Levenshtein similarity between two names.
// Returns a value between 0.0 (completely different) and 1.0 (identical),
// case-insensitive.
func Similarity(s1, s2 string) float64 {
	s1 = strings.ToLower(strings.TrimSpace(s1))
	s2 = strings.ToLower(strings.TrimSpace(s2))

	if s1 == s2 {
		return 1.0
	}
	if len(s1) == 0 || len(s2) == 0 {
		return 0.0
	}

	distance := levenshteinDistance(s1, s2)
	maxLen := len(s1)
	if len(s2) > maxLen {
		maxLen = len(s2)
	}

	return 1.0 - float64(distance)/float64(maxLen)
}

// levenshteinDistance computes the edit distance between two strings.
func levenshteinDistance(s1, s2 string) int {
	len1, len2 := len(s1), len(s2)
	if len1 == 0 {
		return len2
	}
	if len2 == 0 {
		return len1
	}

	prev := make([]int, len2+1)
	curr := make([]int, len2+1)
	for j := 0; j <= len2; j++ {
		prev[j] = j
	}

	for i := 1; i <= len1; i++ {
		curr[0] = i
		for j := 1; j <= len2; j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len2]
}

func minInt(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
