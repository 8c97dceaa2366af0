package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTMLStripsActiveContent(t *testing.T) {
	in := `<html><head><title>hi</title></head><body>
		<script>alert("pwned")</script>
		<style>.x { color: red }</style>
		<p>Feature #42 is <b>75%</b> complete</p>
		<!-- hidden comment -->
	</body></html>`

	out := HTML(in)
	assert.Equal(t, "Feature #42 is 75% complete", out)
	assert.NotContains(t, out, "alert")
	assert.NotContains(t, out, "color")
}

func TestHTMLDecodesEntities(t *testing.T) {
	assert.Equal(t, `the "auth" module & more`, HTML(`the &quot;auth&quot; module &amp; more`))
}

func TestHTMLKeepsWordBoundariesAcrossBlocks(t *testing.T) {
	out := HTML(`<p>first line</p><p>second line</p>`)
	assert.Equal(t, "first line second line", out)
}

func TestTextCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", Text("  a\n\n b\t\tc  "))
}

func TestDeterministic(t *testing.T) {
	in := `<div>Status:   done<br>next&nbsp;week</div>`
	first := HTML(in)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, HTML(in))
	}
}

func TestBodyPrefersHTML(t *testing.T) {
	assert.Equal(t, "rich", Body("plain", "<b>rich</b>"))
	assert.Equal(t, "plain", Body("plain", "   "))
}

func TestTruncateRespectsUTF8(t *testing.T) {
	s := "héllo"
	out := Truncate(s, 2)
	assert.LessOrEqual(t, len(out), 2)
	assert.True(t, out == "h" || out == "")
	assert.Equal(t, s, Truncate(s, 100))
}
