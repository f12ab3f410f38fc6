package analyzer

import (
	"net/url"
	"regexp"
	"strings"
)

var urlRe = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"'()\[\]{}]+`)

// ExtractURLs finds http(s) and www. links in text, deduplicated in
// first-seen order
func ExtractURLs(texts ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, text := range texts {
		for _, m := range urlRe.FindAllString(text, -1) {
			m = strings.TrimRight(m, ".,;:!?")
			if seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// MergeURLs appends extra to urls, keeping first-seen order and dropping duplicates
func MergeURLs(urls []string, extra ...string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls)+len(extra))
	for _, u := range append(append([]string(nil), urls...), extra...) {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// parseLink parses a link, adding a scheme to bare www. hosts
func parseLink(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	return url.Parse(raw)
}
