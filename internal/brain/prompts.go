package brain

import "github.com/scotthw/secondbrain/internal/knowledge"

// Placeholder text substituted when a prompt variable has no real value
// yet. The templates read better with an explicit marker than with an
// empty section.
const (
	noOverviewCapture = "(No overview yet. This is a new knowledge base.)"
	noOverviewQuery   = "(No overview yet.)"
	noOverviewRefresh = "(No existing overview.)"
	noContextItems    = "(No matching items found.)"
	noRecentItems     = "(No items stored yet.)"
)

func (b *Brain) capturePrompt(overview string) (string, error) {
	if overview == "" {
		overview = noOverviewCapture
	}
	return b.prompts.Load("capture", map[string]string{
		"overview":   overview,
		"item_types": knowledge.ItemTypeLabels(),
	})
}

func (b *Brain) queryPrompt(overview, contextItems string) (string, error) {
	if overview == "" {
		overview = noOverviewQuery
	}
	if contextItems == "" {
		contextItems = noContextItems
	}
	return b.prompts.Load("query", map[string]string{
		"overview":      overview,
		"context_items": contextItems,
	})
}

func (b *Brain) refreshPrompt(overview, recentItems string) (string, error) {
	if overview == "" {
		overview = noOverviewRefresh
	}
	if recentItems == "" {
		recentItems = noRecentItems
	}
	return b.prompts.Load("overview_refresh", map[string]string{
		"overview":     overview,
		"recent_items": recentItems,
	})
}

func (b *Brain) gapPrompt() (string, error) {
	return b.prompts.Load("capability_gap", nil)
}
