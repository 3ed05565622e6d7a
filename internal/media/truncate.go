package media

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	// MaxBodyBytes is the stored size ceiling for text and HTML bodies.
	MaxBodyBytes = 2 << 20

	HTMLTruncationMarker = `<p class="truncated-notice">[Message truncated]</p>`
	TextTruncationMarker = "\n\n[Message truncated]"
)

// TruncateHTML cuts body to at most limit bytes (marker included). The cut
// lands on a token boundary found by the HTML tokenizer, so no tag or
// attribute is left open; only text tokens may be split, at a rune boundary
// outside any character reference.
func TruncateHTML(body string, limit int) (string, bool) {
	if len(body) <= limit {
		return body, false
	}
	budget := limit - len(HTMLTruncationMarker)
	if budget <= 0 {
		return HTMLTruncationMarker[:max(limit, 0)], true
	}

	z := html.NewTokenizer(strings.NewReader(body))
	offset, cut := 0, 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		n := len(z.Raw())
		if offset+n <= budget {
			offset += n
			cut = offset
			continue
		}
		if tt == html.TextToken {
			cut = offset + textCut(body[offset:offset+n], budget-offset)
		}
		break
	}
	return body[:cut] + HTMLTruncationMarker, true
}

// TruncateText cuts body to at most limit bytes (marker included) at a rune
// boundary.
func TruncateText(body string, limit int) (string, bool) {
	if len(body) <= limit {
		return body, false
	}
	budget := limit - len(TextTruncationMarker)
	if budget <= 0 {
		return TextTruncationMarker[:max(limit, 0)], true
	}
	return body[:runeCut(body, budget)] + TextTruncationMarker, true
}

func runeCut(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

// textCut never splits "&amp;"-style references.
func textCut(text string, n int) int {
	n = runeCut(text, n)
	if amp := strings.LastIndexByte(text[:n], '&'); amp >= 0 && !strings.Contains(text[amp:n], ";") {
		if n-amp <= 32 {
			n = amp
		}
	}
	return n
}
