package extract

import (
	"regexp"
	"strings"

	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
)

// Sentiment and urgency levels.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"

	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
)

// A side must outweigh the other by this factor to win; anything closer is
// neutral.
const sentimentDominance = 1.5

var positiveKeywords = []string{
	"great", "good", "excellent", "progress", "completed", "done", "success",
	"ahead", "resolved", "fixed", "shipped", "improved", "on track",
}

var negativeKeywords = []string{
	"blocked", "delayed", "problem", "issue", "failed", "failure", "stuck",
	"behind", "risk", "slipping", "broken", "missed", "concern",
}

var urgentKeywords = []string{
	"urgent", "asap", "critical", "immediately", "emergency", "right away",
	"showstopper",
}

var mediumUrgencyKeywords = []string{
	"soon", "important", "this week", "priority", "needs attention",
}

var (
	personRe = regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`)
	dateRe   = regexp.MustCompile(`\b(?:\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]* \d{1,2}(?:st|nd|rd|th)?(?:,? \d{4})?)\b`)
	orgRe    = regexp.MustCompile(`\b[A-Z][A-Za-z]+ (?:Inc|Corp|LLC|Ltd|GmbH|Team|Labs)\b\.?`)
)

// Enrich derives additive signal from sanitized text: entity mentions plus
// sentiment and urgency classification. Pure function of its input; it
// never changes the extractor's references or indicators.
func Enrich(text string) model.ExtractedInfo {
	return model.ExtractedInfo{
		People:        dedupe(personRe.FindAllString(text, -1)),
		Dates:         dedupe(dateRe.FindAllString(text, -1)),
		Organizations: dedupe(orgRe.FindAllString(text, -1)),
		Sentiment:     ClassifySentiment(text),
		Urgency:       ClassifyUrgency(text),
	}
}

// ClassifySentiment counts weighted keyword occurrences. The negative side
// wins when its count reaches 1.5x the positive count, and vice versa;
// anything in between is neutral.
func ClassifySentiment(text string) string {
	lower := strings.ToLower(text)

	pos := countOccurrences(lower, positiveKeywords)
	neg := countOccurrences(lower, negativeKeywords)

	switch {
	case neg > 0 && float64(neg) >= sentimentDominance*float64(pos):
		return SentimentNegative
	case pos > 0 && float64(pos) >= sentimentDominance*float64(neg):
		return SentimentPositive
	default:
		return SentimentNeutral
	}
}

// ClassifyUrgency is three-level: any urgent keyword means high, else any
// medium keyword means medium, else low. High always dominates medium.
func ClassifyUrgency(text string) string {
	lower := strings.ToLower(text)

	for _, kw := range urgentKeywords {
		if strings.Contains(lower, kw) {
			return UrgencyHigh
		}
	}
	for _, kw := range mediumUrgencyKeywords {
		if strings.Contains(lower, kw) {
			return UrgencyMedium
		}
	}
	return UrgencyLow
}

func countOccurrences(lower string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		n += strings.Count(lower, kw)
	}
	return n
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
