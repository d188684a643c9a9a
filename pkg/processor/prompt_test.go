package processor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatorhq/curator/pkg/models"
)

func TestExtractTitle(t *testing.T) {
	title, body := extractTitle("# A Fine Title\n\nFirst paragraph.\n\nSecond.")
	assert.Equal(t, "A Fine Title", title)
	assert.Equal(t, "First paragraph.\n\nSecond.", body)

	// No H1: body preserved, title empty.
	title, body = extractTitle("Just text without a heading.")
	assert.Equal(t, "", title)
	assert.Equal(t, "Just text without a heading.", body)

	// Leading blank lines are tolerated.
	title, _ = extractTitle("\n\n# Late Title\nbody")
	assert.Equal(t, "Late Title", title)
}

func TestPickTitle(t *testing.T) {
	draft := "Draft Title"

	picked := pickTitle(draft, []string{
		"short",
		"A workable candidate title of reasonable length",
		strings.Repeat("x", 90),
	})
	assert.Equal(t, "A workable candidate title of reasonable length", picked)

	// No candidate in range falls back to the draft.
	assert.Equal(t, draft, pickTitle(draft, []string{"nope", ""}))

	// Quoted candidates are unwrapped.
	picked = pickTitle(draft, []string{`"A quoted candidate title of workable length"`})
	assert.Equal(t, "A quoted candidate title of workable length", picked)
}

func TestExtractDescription(t *testing.T) {
	body := "First paragraph used as the summary.\n\nSecond paragraph."
	assert.Equal(t, "First paragraph used as the summary.", extractDescription(body))

	long := strings.Repeat("word ", 60)
	desc := extractDescription(long)
	assert.LessOrEqual(t, len(desc), 165)
	assert.True(t, strings.HasSuffix(desc, "…"))

	assert.Equal(t, "", extractDescription(""))
}

func TestExtractReferences(t *testing.T) {
	body := `Some article text.

## References

- [Go Blog](https://go.dev/blog/slices)
- [Paper](https://example.com/paper.pdf)
- not a link line
`
	refs := extractReferences(body)
	require.Len(t, refs, 2)
	assert.Equal(t, models.Reference{Source: "Go Blog", URL: "https://go.dev/blog/slices"}, refs[0])

	assert.Nil(t, extractReferences("no references section"))
}

func TestExtractTags(t *testing.T) {
	tags := extractTags("technology", "Understanding Paxos Consensus Rounds")
	assert.Contains(t, tags, "technology")
	assert.Contains(t, tags, "paxos")
	assert.Contains(t, tags, "consensus")
	assert.NotContains(t, tags, "which")
	assert.LessOrEqual(t, len(tags), 7)

	// Duplicates collapse.
	tags = extractTags("golang", "Golang Golang Golang")
	count := 0
	for _, tag := range tags {
		if tag == "golang" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestBuildArticlePromptDeterministic(t *testing.T) {
	p := &models.TopicPayload{TopicID: "t", Title: "A Topic", Source: "forum", URL: "https://x", Score: 10, Comments: 2}
	assert.Equal(t, buildArticlePrompt(p), buildArticlePrompt(p), "retried generations see the identical prompt")
	assert.Contains(t, buildArticlePrompt(p), "A Topic")
}
