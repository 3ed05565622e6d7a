package models

import "strings"

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func containsInlinePayload(html string) bool {
	return strings.Contains(html, "data:") || strings.Contains(strings.ToLower(html), "cid:")
}
