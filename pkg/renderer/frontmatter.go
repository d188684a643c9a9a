package renderer

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/curatorhq/curator/pkg/images"
	"github.com/curatorhq/curator/pkg/models"
)

// frontMatter is the YAML header consumed by the static site generator.
// Field order is fixed by the struct so re-renders are byte-identical.
type frontMatter struct {
	Title                string            `yaml:"title"`
	Date                 string            `yaml:"date"`
	Source               string            `yaml:"source"`
	Tags                 []string          `yaml:"tags"`
	Description          string            `yaml:"description,omitempty"`
	HeroImage            string            `yaml:"hero_image,omitempty"`
	Thumbnail            string            `yaml:"thumbnail,omitempty"`
	ImageCredit          string            `yaml:"image_credit,omitempty"`
	Audio                map[string]string `yaml:"audio,omitempty"`
	AudioDurationSeconds int               `yaml:"audio_duration_seconds,omitempty"`
	References           []refEntry        `yaml:"references,omitempty"`
}

type refEntry struct {
	Source string `yaml:"source"`
	URL    string `yaml:"url"`
}

// renderMarkdown produces the full markdown document for an article:
// front matter, blank line, body.
func renderMarkdown(article *models.ProcessedArticle, img *images.Image) ([]byte, error) {
	fm := frontMatter{
		Title:       article.Title,
		Date:        article.GeneratedAt.UTC().Format("2006-01-02"),
		Source:      article.Source,
		Tags:        article.Tags,
		Description: article.Description,
	}
	if fm.Tags == nil {
		fm.Tags = []string{}
	}
	if img != nil {
		fm.HeroImage = img.URL
		fm.Thumbnail = img.ThumbnailURL
		fm.ImageCredit = img.Credit
	}
	for _, ref := range article.References {
		fm.References = append(fm.References, refEntry{Source: ref.Source, URL: ref.URL})
	}

	header, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("marshaling front matter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n\n")
	b.WriteString(strings.TrimSpace(article.Content))
	b.WriteString("\n")
	return []byte(b.String()), nil
}

// imageQuery builds the deterministic search query for an article:
// title plus the top tags.
func imageQuery(article *models.ProcessedArticle) string {
	parts := []string{article.Title}
	for i, tag := range article.Tags {
		if i >= 2 {
			break
		}
		parts = append(parts, tag)
	}
	return strings.Join(parts, " ")
}
