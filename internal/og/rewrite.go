// Package og substitutes Open Graph values into the empty placeholder meta tags
// served by the origin.
package og

import (
	"html"
	"sort"
	"strings"

	"og-meta-proxy/internal/model"
)

// Placeholder tags exactly as the origin emits them. Only these byte sequences are
// rewritten; a tag that already carries a value never matches again.
const (
	PlaceholderURL         = `<meta property="og:url" content="">`
	PlaceholderTitle       = `<meta property="og:title" content="">`
	PlaceholderDescription = `<meta property="og:description" content="">`
	PlaceholderImage       = `<meta property="og:image" content="">`
)

// Tag names used when reporting missing placeholders.
const (
	TagURL         = "og:url"
	TagTitle       = "og:title"
	TagDescription = "og:description"
	TagImage       = "og:image"
)

// Tags lists the properties the rewriter fills, in substitution order.
var Tags = []string{TagURL, TagTitle, TagDescription, TagImage}

type substitution struct {
	tag         string
	placeholder string
	value       string
}

func substitutions(url, title, description, image string) [4]substitution {
	return [4]substitution{
		{TagURL, PlaceholderURL, url},
		{TagTitle, PlaceholderTitle, title},
		{TagDescription, PlaceholderDescription, description},
		{TagImage, PlaceholderImage, image},
	}
}

// RewriteTags replaces the first occurrence of each of the four placeholders with
// the same tag carrying the given value. Values are inserted verbatim. A
// placeholder that is absent is skipped and the others still apply.
func RewriteTags(doc, url, title, description, image string) string {
	out, _ := rewrite(doc, substitutions(url, title, description, image), false)
	return out
}

// rewrite locates every placeholder in the original document before inserting
// anything, so a value that happens to contain a placeholder is never rewritten.
func rewrite(doc string, subs [4]substitution, escape bool) (string, []string) {
	type insertion struct {
		at    int
		value string
	}

	var (
		missing []string
		ins     []insertion
	)
	for _, s := range subs {
		i := strings.Index(doc, s.placeholder)
		if i < 0 {
			missing = append(missing, s.tag)
			continue
		}
		v := s.value
		if escape {
			v = html.EscapeString(v)
		}
		// The value goes right before the closing `">` of the placeholder.
		ins = append(ins, insertion{at: i + len(s.placeholder) - len(`">`), value: v})
	}
	if len(ins) == 0 {
		return doc, missing
	}
	sort.Slice(ins, func(a, b int) bool { return ins[a].at < ins[b].at })

	var b strings.Builder
	n := len(doc)
	for _, in := range ins {
		n += len(in.value)
	}
	b.Grow(n)
	prev := 0
	for _, in := range ins {
		b.WriteString(doc[prev:in.at])
		b.WriteString(in.value)
		prev = in.at
	}
	b.WriteString(doc[prev:])
	return b.String(), missing
}

// Options configures a Rewriter.
type Options struct {
	// EscapeValues HTML-escapes values before insertion. Off by default so the
	// output matches verbatim insertion byte for byte.
	EscapeValues bool
}

// Rewriter applies Open Graph values to HTML documents.
type Rewriter struct {
	escape bool
}

// NewRewriter creates a Rewriter.
func NewRewriter(opts Options) *Rewriter {
	return &Rewriter{escape: opts.EscapeValues}
}

// Rewrite fills the placeholders in doc with og and returns the new document along
// with the tags whose placeholder was not found. doc is not modified.
func (r *Rewriter) Rewrite(doc []byte, og model.OpenGraph) ([]byte, []string) {
	out, missing := rewrite(string(doc), substitutions(og.URL, og.Title, og.Description, og.Image), r.escape)
	return []byte(out), missing
}
