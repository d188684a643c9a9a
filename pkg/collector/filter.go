package collector

import (
	"math"
	"net/url"
	"strings"

	"github.com/curatorhq/curator/pkg/config"
	"github.com/curatorhq/curator/pkg/models"
)

// Rejection reasons recorded in collection stats.
const (
	reasonBlacklisted = "blacklisted_domain"
	reasonTitle       = "title_too_short"
	reasonEngagement  = "engagement_below_threshold"
	reasonQuality     = "quality_below_threshold"
)

// scoreItem computes a quality score in [0,1] and the rejection reason,
// if any. Blacklisted domains and hard threshold misses reject outright;
// otherwise the blended score is compared to the template minimum.
func scoreItem(item *models.CollectedItem, tmpl *config.QualityTemplate) (float64, string) {
	if domainBlacklisted(item.URL, tmpl.BlacklistDomains) {
		return 0, reasonBlacklisted
	}
	if len(item.Title) < tmpl.MinTitleLength {
		return 0, reasonTitle
	}
	if item.Score < tmpl.MinScore || item.Comments < tmpl.MinComments {
		return 0, reasonEngagement
	}

	// Blend: engagement dominates, title length rounds it out. Both
	// components saturate so one viral item cannot dwarf the scale.
	engagement := math.Min(1, float64(item.Score)/500.0)
	discussion := math.Min(1, float64(item.Comments)/100.0)
	titleLen := math.Min(1, float64(len(item.Title))/80.0)
	score := 0.5*engagement + 0.3*discussion + 0.2*titleLen

	if score < tmpl.MinQualityScore {
		return score, reasonQuality
	}
	return score, ""
}

// priorityScore orders topics for downstream processing. It uses the
// quality score's saturated engagement and discussion components,
// weighted 0.7 and 0.3, without the title component: priority reflects
// audience interest only.
func priorityScore(item *models.CollectedItem) float64 {
	engagement := math.Min(1, float64(item.Score)/500.0)
	discussion := math.Min(1, float64(item.Comments)/100.0)
	return 0.7*engagement + 0.3*discussion
}

func domainBlacklisted(rawURL string, blacklist []string) bool {
	if len(blacklist) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, pattern := range blacklist {
		pattern = strings.ToLower(pattern)
		if host == pattern || strings.HasSuffix(host, "."+pattern) {
			return true
		}
	}
	return false
}
