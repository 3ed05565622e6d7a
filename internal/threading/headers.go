// Package threading assigns conversation identifiers to messages. It runs
// incrementally at ingest time (Resolver) and exploratively at display time
// (GroupThreads).
package threading

import (
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"
)

// ThreadHeaders is the typed view of the reply headers of a message.
// Identifiers are normalized (no angle brackets, lowercase).
type ThreadHeaders struct {
	InReplyTo  string
	References []string
}

// Pointers returns In-Reply-To followed by References, without duplicates.
func (h ThreadHeaders) Pointers() []string {
	out := make([]string, 0, len(h.References)+1)
	seen := make(map[string]struct{}, len(h.References)+1)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(h.InReplyTo)
	for _, ref := range h.References {
		add(ref)
	}
	return out
}

// ExtractThreadHeaders reads In-Reply-To and References out of a raw header
// bag. Providers disagree on key spelling ("In-Reply-To", "in_reply_to",
// "inReplyTo"), so keys are compared after folding case and dropping
// separators. This is the only place the untyped bag is inspected.
func ExtractThreadHeaders(bag map[string][]string) ThreadHeaders {
	var inReplyTo, references []string
	for key, values := range bag {
		switch foldHeaderKey(key) {
		case "inreplyto":
			inReplyTo = append(inReplyTo, values...)
		case "references":
			references = append(references, values...)
		}
	}

	var h ThreadHeaders
	if ids := parseMsgIDs("In-Reply-To", inReplyTo); len(ids) > 0 {
		h.InReplyTo = ids[0]
	}
	h.References = parseMsgIDs("References", references)
	return h
}

func foldHeaderKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.ReplaceAll(key, "-", "")
	return strings.ReplaceAll(key, "_", "")
}

// parseMsgIDs parses message-id lists with go-message and falls back to a
// whitespace split for values that are not RFC 5322 compliant.
func parseMsgIDs(name string, values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		var h mail.Header
		h.Set(name, v)
		ids, err := h.MsgIDList(name)
		if err != nil || len(ids) == 0 {
			ids = strings.FieldsFunc(v, func(r rune) bool {
				return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ','
			})
		}
		for _, id := range ids {
			if n := NormalizeMessageID(id); n != "" {
				out = append(out, n)
			}
		}
	}
	return out
}

// NormalizeMessageID strips whitespace and angle brackets and lowercases the id.
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.ToLower(strings.TrimSpace(id))
}

var (
	replyPrefix  = regexp.MustCompile(`(?i)^\s*(re|fwd|fw)\s*(\[\d+\])?\s*:\s*`)
	bracketedTag = regexp.MustCompile(`\[[^\]]*\]`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// NormalizeSubject strips reply/forward prefixes (repeatedly), bracketed tags
// such as "[External]", collapses whitespace and lowercases.
func NormalizeSubject(subject string) string {
	s := subject
	for {
		stripped := replyPrefix.ReplaceAllString(s, "")
		stripped = strings.TrimSpace(bracketedTag.ReplaceAllString(stripped, " "))
		if stripped == s {
			break
		}
		s = stripped
	}
	s = whitespace.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}
