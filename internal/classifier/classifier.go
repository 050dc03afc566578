package classifier

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"Mansoor88-6/aw-sync-agent/internal/models"
)

// WorkHours reports whether a moment falls inside configured work hours
type WorkHours interface {
	InWorkHours(t time.Time) bool
}

// RuleFetcher retrieves the team's category rules from the server
type RuleFetcher interface {
	FetchRules(ctx context.Context) (*models.CategoryResponse, error)
}

// RuleFetcherFunc adapts a function to RuleFetcher
type RuleFetcherFunc func(ctx context.Context) (*models.CategoryResponse, error)

// FetchRules calls f(ctx)
func (f RuleFetcherFunc) FetchRules(ctx context.Context) (*models.CategoryResponse, error) {
	return f(ctx)
}

// RuleCache persists the last known rule set between runs
type RuleCache interface {
	LoadRuleSet(ctx context.Context) (*models.RuleSet, error)
	SaveRuleSet(ctx context.Context, rs *models.RuleSet) error
}

// RuleRefreshError reports a failed refresh. The previous rule set stays active.
type RuleRefreshError struct {
	Err error
}

func (e *RuleRefreshError) Error() string {
	return fmt.Sprintf("category rule refresh failed: %v", e.Err)
}

func (e *RuleRefreshError) Unwrap() error {
	return e.Err
}

// Classifier maps applications and web pages to categories
type Classifier struct {
	rules     atomic.Pointer[compiledRules]
	workHours WorkHours
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a classifier with no remote rules loaded
func New(workHours WorkHours, logger *zap.Logger) *Classifier {
	c := &Classifier{
		workHours: workHours,
		logger:    logger,
		now:       time.Now,
	}
	c.rules.Store(&compiledRules{})
	return c
}

// Apply replaces the active remote rules in one step
func (c *Classifier) Apply(rs *models.RuleSet) {
	c.rules.Store(compile(rs, c.logger))
}

// RuleSet returns the active remote rule set, nil if none has been loaded
func (c *Classifier) RuleSet() *models.RuleSet {
	return c.rules.Load().set
}

// CategorizeApp classifies a desktop application name
func (c *Classifier) CategorizeApp(app string) string {
	if app == "" {
		return CategoryOther
	}
	if name, ok := c.rules.Load().match(app); ok {
		return name
	}

	lower := strings.ToLower(app)
	if name, ok := matchTable(appCategories, lower); ok {
		return name
	}
	return CategoryOther
}

// CategorizeWindow classifies a window event. Browser windows are refined by the
// site inferred from the title when one can be recognised.
func (c *Classifier) CategorizeWindow(app, title string) string {
	if name, ok := c.rules.Load().match(app, title); ok {
		return name
	}

	category := c.CategorizeApp(app)
	if category != CategoryBrowser {
		return category
	}
	if domain := DomainFromTitle(title); domain != "" {
		if name, ok := c.categorizeDomain(domain, ""); ok {
			return name
		}
	}
	return category
}

// CategorizeURL classifies a web page. With an empty url the site is inferred from the title.
func (c *Classifier) CategorizeURL(rawURL, title string) string {
	domain := ExtractDomain(rawURL)
	if domain == "" {
		domain = DomainFromTitle(title)
	}

	if name, ok := c.rules.Load().match(domain, rawURL, title); ok {
		return name
	}
	if domain == "" {
		return CategoryWebBrowsing
	}
	if name, ok := c.categorizeDomain(domain, rawURL); ok {
		return name
	}
	return CategoryWebBrowsing
}

func (c *Classifier) categorizeDomain(domain, rawURL string) (string, bool) {
	if name, ok := matchTable(domainCategories, domain); ok {
		return name, true
	}
	return matchTable(pathHeuristics, strings.ToLower(rawURL))
}

// IsProductive decides productivity from the category, falling back to work hours
func (c *Classifier) IsProductive(app, category, rawURL string, at time.Time) bool {
	if productiveCategories[category] {
		return true
	}
	if unproductiveCategories[category] {
		return false
	}
	if category == CategoryWebBrowsing {
		lower := strings.ToLower(rawURL)
		for _, hint := range productiveURLHints {
			if strings.Contains(lower, hint) {
				return true
			}
		}
		return false
	}
	if c.workHours == nil {
		return true
	}
	return c.workHours.InWorkHours(at)
}

// RefreshRules fetches the remote rule set and activates it when it differs.
// On failure the active rules are kept, or the cache is loaded if none are active,
// and a *RuleRefreshError is returned for logging only.
func (c *Classifier) RefreshRules(ctx context.Context, fetcher RuleFetcher, cache RuleCache) (*models.RuleSet, bool, error) {
	current := c.RuleSet()

	resp, err := fetcher.FetchRules(ctx)
	if err != nil {
		if current == nil && cache != nil {
			cached, cacheErr := cache.LoadRuleSet(ctx)
			if cacheErr != nil {
				c.logger.Warn("Failed to load cached category rules", zap.Error(cacheErr))
			} else if cached != nil {
				c.Apply(cached)
				current = cached
				c.logger.Info("Using cached category rules",
					zap.Int("categories", len(cached.Rules)),
					zap.Time("fetched_at", cached.FetchedAt))
			}
		}
		c.logger.Warn("Category rule refresh failed, keeping previous rules", zap.Error(err))
		return current, false, &RuleRefreshError{Err: err}
	}

	next := NormalizeRuleSet(resp, c.now().UTC())
	if len(next.Rules) == 0 {
		c.logger.Warn("Server returned no category rules")
	}

	previous := current
	if previous == nil && cache != nil {
		if cached, cacheErr := cache.LoadRuleSet(ctx); cacheErr == nil {
			previous = cached
		}
	}
	if previous != nil && previous.Fingerprint == next.Fingerprint {
		if current == nil {
			c.Apply(previous)
		}
		c.logger.Debug("Category rules unchanged", zap.String("fingerprint", next.Fingerprint[:12]))
		return previous, false, nil
	}

	c.Apply(next)
	if cache != nil {
		if err := cache.SaveRuleSet(ctx, next); err != nil {
			c.logger.Warn("Failed to cache category rules", zap.Error(err))
		}
	}
	c.logger.Info("Category rules updated",
		zap.String("team_id", next.TeamID),
		zap.Int("categories", len(next.Rules)),
		zap.String("fingerprint", next.Fingerprint[:12]))
	return next, true, nil
}

func matchTable(table []keywordCategory, text string) (string, bool) {
	for _, entry := range table {
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				return entry.name, true
			}
		}
	}
	return "", false
}
