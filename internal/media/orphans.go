package media

import (
	"regexp"
	"strings"
)

// orphanFragment matches the tail of a tag whose opening was lost, such as
// `AAAA" alt="logo" width="10">`, left in text after a cut payload.
var orphanFragment = regexp.MustCompile(`[A-Za-z0-9+/=]*["']?(?:\s+[a-zA-Z][\w:-]*\s*=\s*(?:"[^"<>]*"|'[^'<>]*'))+\s*/?>`)

// stripOrphans removes orphaned attribute fragments from text nodes only;
// markup is copied through untouched.
func stripOrphans(body string) string {
	if !strings.Contains(body, "=") {
		return body
	}
	var b strings.Builder
	b.Grow(len(body))
	i := 0
	for i < len(body) {
		lt := strings.IndexByte(body[i:], '<')
		if lt < 0 {
			b.WriteString(cleanText(body[i:]))
			break
		}
		b.WriteString(cleanText(body[i : i+lt]))
		i += lt
		end := tagEnd(body, i)
		b.WriteString(body[i:end])
		i = end
	}
	return b.String()
}

func cleanText(text string) string {
	if !strings.Contains(text, ">") {
		return text
	}
	return orphanFragment.ReplaceAllString(text, "")
}

// tagEnd returns the index just past the markup starting at body[i] == '<'.
// A '<' that does not start markup is returned as a single byte.
func tagEnd(body string, i int) int {
	if i+1 >= len(body) {
		return len(body)
	}
	if strings.HasPrefix(body[i:], "<!--") {
		if end := strings.Index(body[i+4:], "-->"); end >= 0 {
			return i + 4 + end + 3
		}
		return len(body)
	}
	c := body[i+1]
	if !(c == '/' || c == '!' || c == '?' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
		return i + 1
	}
	var quote byte
	for j := i + 1; j < len(body); j++ {
		switch {
		case quote != 0:
			if body[j] == quote {
				quote = 0
			}
		case body[j] == '"' || body[j] == '\'':
			quote = body[j]
		case body[j] == '>':
			return j + 1
		}
	}
	return len(body)
}
