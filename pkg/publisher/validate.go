package publisher

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// validateOutput checks the generated site before anything touches the
// web container: the index page must exist, the total size must respect
// the deployment cap, and internal links are checked best-effort.
func validateOutput(dir string, maxMB int) error {
	if _, err := os.Stat(filepath.Join(dir, "index.html")); err != nil {
		return fmt.Errorf("generated site has no index.html: %w", err)
	}

	var totalBytes int64
	var htmlFiles []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		totalBytes += info.Size()
		if strings.HasSuffix(path, ".html") {
			htmlFiles = append(htmlFiles, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking generated site: %w", err)
	}

	if maxBytes := int64(maxMB) * 1024 * 1024; totalBytes > maxBytes {
		return fmt.Errorf("generated site is %d bytes, deployment cap is %d", totalBytes, maxBytes)
	}

	if broken := checkInternalLinks(dir, htmlFiles); len(broken) > 0 {
		// Best-effort: report the first few, fail the validation.
		if len(broken) > 5 {
			broken = broken[:5]
		}
		return fmt.Errorf("broken internal links: %s", strings.Join(broken, ", "))
	}
	return nil
}

var hrefPattern = regexp.MustCompile(`(?:href|src)="(/[^"#?]*)[#?]?[^"]*"`)

// checkInternalLinks resolves root-relative href/src targets against the
// output tree. External links and anchors are ignored.
func checkInternalLinks(dir string, htmlFiles []string) []string {
	var broken []string
	seen := map[string]bool{}

	for _, file := range htmlFiles {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		for _, match := range hrefPattern.FindAllStringSubmatch(string(data), -1) {
			link := match[1]
			if seen[link] {
				continue
			}
			seen[link] = true
			if !linkResolves(dir, link) {
				broken = append(broken, link)
			}
		}
	}
	return broken
}

func linkResolves(dir, link string) bool {
	target := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(link, "/")))
	if info, err := os.Stat(target); err == nil {
		if !info.IsDir() {
			return true
		}
		// Directory links resolve through their index page.
		if _, err := os.Stat(filepath.Join(target, "index.html")); err == nil {
			return true
		}
	}
	return false
}
