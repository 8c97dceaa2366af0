package sanitize

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Patterns are compiled once; sanitization must be deterministic and
// allocation-light since it runs on every message.
var (
	scriptRe  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	styleRe   = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	headRe    = regexp.MustCompile(`(?is)<head\b[^>]*>.*?</head>`)
	commentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	breakRe   = regexp.MustCompile(`(?i)<(?:br|/p|/div|/tr|/li|/h[1-6])\b[^>]*>`)
	tagRe     = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// HTML strips executable and presentational markup from an HTML body and
// collapses the remainder to whitespace-joined plain text. Same input
// always yields the same output.
func HTML(body string) string {
	s := scriptRe.ReplaceAllString(body, " ")
	s = styleRe.ReplaceAllString(s, " ")
	s = headRe.ReplaceAllString(s, " ")
	s = commentRe.ReplaceAllString(s, " ")
	// Block-level closers become spaces so words on adjacent lines do not fuse.
	s = breakRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return Text(s)
}

// Text normalizes a plain-text body: valid UTF-8, single spaces, trimmed.
func Text(body string) string {
	s := ValidUTF8(body)
	s = strings.ReplaceAll(s, " ", " ") // non-breaking spaces from &nbsp;
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Body picks the richer source: the HTML body when present, else plain text.
func Body(plain, htmlBody string) string {
	if strings.TrimSpace(htmlBody) != "" {
		return HTML(htmlBody)
	}
	return Text(plain)
}

// ValidUTF8 drops invalid UTF-8 sequences from s.
func ValidUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	result := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				continue
			}
		}
		result = append(result, r)
	}
	return string(result)
}

// Truncate caps s at max bytes without splitting a UTF-8 sequence.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	truncated := s[:max]
	for !utf8.ValidString(truncated) && len(truncated) > 0 {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated
}
