package media

import (
	"strings"
)

// mediaTag is one <img> or <video> start tag found in a body.
type mediaTag struct {
	start, end int // byte range of the whole tag in the source
	name       string
	src        string
	srcStart   int // byte range of the src value, -1 when absent
	srcEnd     int
	alt        string
	// broken is set when the tag never closes or src exceeds the scan cap.
	broken bool
}

// scanMediaTags walks html byte by byte and returns every <img>/<video> start
// tag. Attribute values are scanned for their closing quote up to maxValue
// bytes, so a multi-megabyte data URI never goes through a regexp.
func scanMediaTags(html string, maxValue int) []mediaTag {
	var tags []mediaTag
	for i := 0; i < len(html); {
		lt := strings.IndexByte(html[i:], '<')
		if lt < 0 {
			break
		}
		pos := i + lt
		name := matchTagName(html, pos+1)
		if name == "" {
			i = pos + 1
			continue
		}
		tag := parseTag(html, pos, name, maxValue)
		tags = append(tags, tag)
		i = tag.end
	}
	return tags
}

func matchTagName(html string, at int) string {
	for _, name := range []string{"img", "video"} {
		end := at + len(name)
		if end > len(html) || !strings.EqualFold(html[at:end], name) {
			continue
		}
		if end == len(html) {
			return name
		}
		switch html[end] {
		case ' ', '\t', '\n', '\r', '\f', '/', '>':
			return name
		}
	}
	return ""
}

func parseTag(html string, start int, name string, maxValue int) mediaTag {
	tag := mediaTag{start: start, name: name, srcStart: -1, srcEnd: -1}
	i := start + 1 + len(name)
	for {
		for i < len(html) && isSpace(html[i]) {
			i++
		}
		if i >= len(html) {
			tag.end = len(html)
			tag.broken = true
			return tag
		}
		if html[i] == '>' {
			tag.end = i + 1
			return tag
		}
		if html[i] == '/' {
			i++
			continue
		}

		nameStart := i
		for i < len(html) && !isSpace(html[i]) && html[i] != '=' && html[i] != '>' && html[i] != '/' {
			i++
		}
		attr := strings.ToLower(html[nameStart:i])

		for i < len(html) && isSpace(html[i]) {
			i++
		}
		if i >= len(html) || html[i] != '=' {
			continue
		}
		i++
		for i < len(html) && isSpace(html[i]) {
			i++
		}
		if i >= len(html) {
			tag.end = len(html)
			tag.broken = true
			return tag
		}

		var valStart, valEnd int
		if q := html[i]; q == '"' || q == '\'' {
			valStart = i + 1
			limit := len(html)
			if maxValue > 0 && valStart+maxValue < limit {
				limit = valStart + maxValue
			}
			closing := strings.IndexByte(html[valStart:limit], q)
			if closing < 0 {
				// Unterminated or oversize value: the rest of the tag is unusable.
				tag.broken = true
				if attr == "src" {
					tag.srcStart, tag.srcEnd = valStart, limit
					tag.src = html[valStart:limit]
				}
				if gt := strings.IndexByte(html[limit:], '>'); gt >= 0 {
					tag.end = limit + gt + 1
				} else {
					tag.end = len(html)
				}
				return tag
			}
			valEnd = valStart + closing
			i = valEnd + 1
		} else {
			valStart = i
			for i < len(html) && !isSpace(html[i]) && html[i] != '>' {
				i++
			}
			valEnd = i
		}

		switch attr {
		case "src":
			tag.src = html[valStart:valEnd]
			tag.srcStart, tag.srcEnd = valStart, valEnd
		case "alt":
			tag.alt = html[valStart:valEnd]
		}
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
