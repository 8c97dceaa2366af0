package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
	"github.com/cifer55/email-progress-tracker-sub002/internal/sanitize"
)

// Reference confidences are fixed by pattern strength, not tuned per message.
const (
	idReferenceConfidence   = 0.9
	nameReferenceConfidence = 0.7
	indicatorBonus          = 0.2

	maxNameLen    = 50
	minNameLen    = 3
	maxBlockerLen = 200
)

var (
	// Identifier conventions: "Feature #42", ticket-style "FEAT-7" and
	// word-style "feature-42". All case-insensitive.
	featureHashRe = regexp.MustCompile(`(?i)\bfeature\s*#\s*(\d{1,6})\b`)
	ticketRe      = regexp.MustCompile(`(?i)\b([a-z]{2,10})-(\d{1,6})\b`)
	featureDashRe = regexp.MustCompile(`(?i)\bfeature-(\d{1,6})\b`)

	quotedRe = regexp.MustCompile(`["'\x60“”]([^"'\x60“”]{3,50})["'\x60“”]`)

	percentRe = regexp.MustCompile(`(?i)\b(\d{1,3})\s*%\s*(?:complete|done|finished)\b`)

	blockedByRe   = regexp.MustCompile(`(?i)\bblocked\s+(?:by|on)[:\s]+([^.;\n]{1,200})`)
	blockerLineRe = regexp.MustCompile(`(?im)^\s*(?:blockers?|issue)[:\s]+(.{1,200})$`)
)

// Words that mark a quoted string as a plausible work-item name.
var featureIndicatorWords = []string{
	"feature", "component", "module", "service", "api", "system",
	"interface", "dashboard", "page", "form",
}

// statusLexicon maps keywords to canonical statuses. Order matters: the
// first bucket with a hit wins, so "75% complete and blocked" reads as
// blocked, not complete.
var statusLexicon = []struct {
	status   string
	keywords []string
}{
	{model.StatusBlocked, []string{"blocked", "blocker", "stuck", "impediment", "waiting on", "waiting for"}},
	{model.StatusDelayed, []string{"delayed", "behind schedule", "slipping", "slipped", "postponed", "running late"}},
	{model.StatusOnHold, []string{"on hold", "on-hold", "paused", "shelved", "deprioritized"}},
	{model.StatusComplete, []string{"complete", "completed", "done", "finished", "shipped", "deployed", "released"}},
	{model.StatusInProgress, []string{"in progress", "in-progress", "working on", "started", "underway", "ongoing", "making progress"}},
}

// Extract pulls feature references and progress indicators out of a
// sanitized message. Subject and body are treated as one blob.
func Extract(subject, body string) ([]model.FeatureReference, []model.ProgressIndicator) {
	text := strings.TrimSpace(subject + " " + body)

	refs := extractReferences(text)
	indicators := extractIndicators(text)
	return refs, indicators
}

func extractReferences(text string) []model.FeatureReference {
	var refs []model.FeatureReference
	seen := make(map[string]bool)

	add := func(ref model.FeatureReference) {
		key := ref.MatchType + "|" + strings.ToUpper(ref.FeatureID) + "|" + strings.ToLower(ref.FeatureName)
		if seen[key] {
			return
		}
		seen[key] = true
		refs = append(refs, ref)
	}

	for _, m := range featureHashRe.FindAllStringSubmatch(text, -1) {
		add(model.FeatureReference{
			FeatureID:  m[1],
			Confidence: idReferenceConfidence,
			MatchType:  model.MatchTypeID,
		})
	}

	for _, m := range ticketRe.FindAllStringSubmatch(text, -1) {
		// "feature-42" is handled by the word-style pattern below.
		if strings.EqualFold(m[1], "feature") {
			continue
		}
		add(model.FeatureReference{
			FeatureID:  strings.ToUpper(m[1]) + "-" + m[2],
			Confidence: idReferenceConfidence,
			MatchType:  model.MatchTypeID,
		})
	}

	for _, m := range featureDashRe.FindAllStringSubmatch(text, -1) {
		add(model.FeatureReference{
			FeatureID:  m[1],
			Confidence: idReferenceConfidence,
			MatchType:  model.MatchTypeID,
		})
	}

	for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		if len(name) < minNameLen || len(name) > maxNameLen {
			continue
		}
		if !containsIndicatorWord(name) {
			continue
		}
		add(model.FeatureReference{
			FeatureName: sanitize.Truncate(name, maxNameLen),
			Confidence:  nameReferenceConfidence,
			MatchType:   model.MatchTypeExact,
		})
	}

	return refs
}

func containsIndicatorWord(name string) bool {
	lower := strings.ToLower(name)
	for _, w := range featureIndicatorWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func extractIndicators(text string) []model.ProgressIndicator {
	var indicators []model.ProgressIndicator

	if status, ok := ClassifyStatus(text); ok {
		indicators = append(indicators, model.ProgressIndicator{Status: status})
	}

	if m := percentRe.FindStringSubmatch(text); m != nil {
		if pct, err := strconv.Atoi(m[1]); err == nil {
			if pct > 100 {
				pct = 100
			}
			indicators = append(indicators, model.ProgressIndicator{Percentage: &pct})
		}
	}

	for _, blocker := range extractBlockers(text) {
		indicators = append(indicators, model.ProgressIndicator{Blocker: blocker})
	}

	return indicators
}

// ClassifyStatus maps free text to a canonical status by ordered
// first-match-wins lexicon lookup.
func ClassifyStatus(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, bucket := range statusLexicon {
		for _, kw := range bucket.keywords {
			if strings.Contains(lower, kw) {
				return bucket.status, true
			}
		}
	}
	return "", false
}

func extractBlockers(text string) []string {
	var blockers []string
	seen := make(map[string]bool)

	add := func(raw string) {
		b := strings.TrimSpace(sanitize.Truncate(raw, maxBlockerLen))
		if b == "" || seen[strings.ToLower(b)] {
			return
		}
		seen[strings.ToLower(b)] = true
		blockers = append(blockers, b)
	}

	for _, m := range blockedByRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range blockerLineRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}

	return blockers
}

// Confidence computes the overall extraction confidence: the average
// reference confidence plus a fixed bonus when any progress indicator was
// found, capped at 1.0. Zero references always means zero confidence.
func Confidence(refs []model.FeatureReference, indicators []model.ProgressIndicator) float64 {
	if len(refs) == 0 {
		return 0
	}

	var sum float64
	for _, r := range refs {
		sum += r.Confidence
	}
	conf := sum / float64(len(refs))

	if len(indicators) > 0 {
		conf += indicatorBonus
	}
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}
