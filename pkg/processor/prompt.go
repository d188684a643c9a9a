package processor

import (
	"fmt"
	"strings"

	"github.com/curatorhq/curator/pkg/models"
)

const systemPrompt = `You are a researcher and writer for a technology publication.
Write well-sourced, neutral articles in markdown. Start with a single H1
title line, follow with an opening paragraph that stands alone as a
summary, and cite sources inline as markdown links.`

// buildArticlePrompt turns topic metadata into the research + drafting
// prompt. Pure function of the payload so retried generations see the
// identical prompt.
func buildArticlePrompt(p *models.TopicPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research and write an article about the following topic.\n\n")
	fmt.Fprintf(&b, "Topic: %s\n", p.Title)
	fmt.Fprintf(&b, "Original discussion: %s (source: %s)\n", p.URL, p.Source)
	if p.Excerpt != "" {
		fmt.Fprintf(&b, "Excerpt from the discussion:\n%s\n", p.Excerpt)
	}
	fmt.Fprintf(&b, "\nAudience signals: score %d, %d comments.\n", p.Score, p.Comments)
	b.WriteString(`
Requirements:
- 600 to 900 words of body text.
- Single H1 title on the first line.
- Neutral tone; attribute claims to sources.
- End with a "## References" section listing the sources used.`)
	return b.String()
}

// buildTitlePrompt asks for title variants for the generated draft.
func buildTitlePrompt(draftTitle string) string {
	return fmt.Sprintf(`Propose five alternative titles for an article currently titled
%q. One per line, no numbering, no quotes. Favor specific, concrete
titles between 35 and 70 characters.`, draftTitle)
}

// extractTitle returns the H1 of the draft and the body without it.
func extractTitle(markdown string) (title, body string) {
	lines := strings.Split(markdown, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "# ") {
			title = strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
			body = strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
			return title, body
		}
		break
	}
	return "", strings.TrimSpace(markdown)
}

// pickTitle selects the best candidate by length heuristics, falling back
// to the draft title when no candidate lands in range.
func pickTitle(draftTitle string, candidates []string) string {
	best := ""
	for _, c := range candidates {
		c = strings.TrimSpace(strings.Trim(c, `"`))
		if c == "" {
			continue
		}
		if len(c) < 35 || len(c) > 70 {
			continue
		}
		if best == "" || scoreTitle(c) > scoreTitle(best) {
			best = c
		}
	}
	if best == "" {
		return draftTitle
	}
	return best
}

// scoreTitle prefers titles near 55 characters.
func scoreTitle(t string) float64 {
	const ideal = 55.0
	d := float64(len(t)) - ideal
	return -d * d
}

// extractDescription returns the first body paragraph, bounded for SEO.
func extractDescription(body string) string {
	for _, para := range strings.Split(body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" || strings.HasPrefix(para, "#") {
			continue
		}
		para = strings.Join(strings.Fields(para), " ")
		if len(para) > 160 {
			cut := strings.LastIndex(para[:160], " ")
			if cut <= 0 {
				cut = 160
			}
			para = para[:cut] + "…"
		}
		return para
	}
	return ""
}

// extractReferences parses the trailing references section into
// structured citations.
func extractReferences(body string) []models.Reference {
	idx := strings.LastIndex(body, "## References")
	if idx < 0 {
		return nil
	}
	var refs []models.Reference
	for _, line := range strings.Split(body[idx:], "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-* "))
		start := strings.Index(line, "[")
		mid := strings.Index(line, "](")
		end := strings.LastIndex(line, ")")
		if start < 0 || mid <= start || end <= mid {
			continue
		}
		refs = append(refs, models.Reference{
			Source: line[start+1 : mid],
			URL:    line[mid+2 : end],
		})
	}
	return refs
}

// extractTags derives tags from the source category and title keywords.
func extractTags(category, title string) []string {
	seen := map[string]struct{}{}
	var tags []string
	add := func(tag string) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			return
		}
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	add(category)
	for _, word := range strings.Fields(title) {
		word = strings.Trim(word, `.,:;!?"'()`)
		if len(word) >= 5 && !isStopWord(word) {
			add(word)
		}
		if len(tags) >= 6 {
			break
		}
	}
	return tags
}

var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "against": {}, "because": {}, "before": {},
	"between": {}, "could": {}, "every": {}, "first": {}, "should": {},
	"their": {}, "there": {}, "these": {}, "thing": {}, "things": {},
	"through": {}, "under": {}, "where": {}, "which": {}, "while": {},
	"would": {}, "your": {},
}

func isStopWord(w string) bool {
	_, ok := stopWords[strings.ToLower(w)]
	return ok
}
