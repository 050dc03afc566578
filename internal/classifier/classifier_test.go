package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Mansoor88-6/aw-sync-agent/internal/models"
)

type fixedHours bool

func (f fixedHours) InWorkHours(time.Time) bool { return bool(f) }

type memoryCache struct {
	rs    *models.RuleSet
	saves int
}

func (m *memoryCache) LoadRuleSet(context.Context) (*models.RuleSet, error) { return m.rs, nil }

func (m *memoryCache) SaveRuleSet(_ context.Context, rs *models.RuleSet) error {
	m.rs = rs
	m.saves++
	return nil
}

func staticRules(resp *models.CategoryResponse, err error) RuleFetcher {
	return RuleFetcherFunc(func(context.Context) (*models.CategoryResponse, error) {
		return resp, err
	})
}

func TestCategorizeAppBuiltIn(t *testing.T) {
	c := New(fixedHours(true), zap.NewNop())

	tests := map[string]string{
		"Code":          "Development",
		"Slack":         "Communication",
		"Google Chrome": CategoryBrowser,
		"Notion":        CategoryDocumentation,
		"Figma":         "Design",
		"iTerm2":        "Terminal",
		"Spotify":       "Entertainment",
		"RandomApp42":   CategoryOther,
		"":              CategoryOther,
	}
	for app, want := range tests {
		assert.Equal(t, want, c.CategorizeApp(app), app)
	}
}

func TestCategorizeURL(t *testing.T) {
	c := New(fixedHours(true), zap.NewNop())

	assert.Equal(t, "Development", c.CategorizeURL("https://www.github.com/org/repo", ""))
	assert.Equal(t, "Email", c.CategorizeURL("https://mail.google.com/mail/u/0", ""))
	assert.Equal(t, "Entertainment", c.CategorizeURL("https://youtube.com/watch?v=1", ""))
	assert.Equal(t, CategoryDocumentation, c.CategorizeURL("https://intranet.local/wiki/Home", ""))
	assert.Equal(t, CategoryLearning, c.CategorizeURL("https://intranet.local/course/12", ""))
	assert.Equal(t, CategoryAdministration, c.CategorizeURL("https://intranet.local/admin", ""))
	assert.Equal(t, CategoryWebBrowsing, c.CategorizeURL("https://example-unknown.test/", ""))
}

func TestCategorizeURLInfersDomainFromTitle(t *testing.T) {
	c := New(fixedHours(true), zap.NewNop())

	assert.Equal(t, "Development", c.CategorizeURL("", "How to sort a slice - Stack Overflow"))
	assert.Equal(t, CategoryWebBrowsing, c.CategorizeURL("", "Untitled"))
	assert.Equal(t, CategoryWebBrowsing, c.CategorizeURL("", ""))
}

func TestCategorizeWindowRefinesBrowser(t *testing.T) {
	c := New(fixedHours(true), zap.NewNop())

	assert.Equal(t, "Entertainment", c.CategorizeWindow("Google Chrome", "(3) Lo-fi beats - YouTube - Google Chrome"))
	assert.Equal(t, CategoryBrowser, c.CategorizeWindow("Firefox", "New Tab - Mozilla Firefox"))
	assert.Equal(t, "Communication", c.CategorizeWindow("Slack", "general | Acme"))
}

func TestExtractDomain(t *testing.T) {
	tests := map[string]string{
		"https://www.Example.com:8443/path?q=1": "example.com",
		"http://user:pw@host.io/x":              "host.io",
		"docs.python.org/3/":                    "docs.python.org",
		"https://[::1]:5600/api":                "::1",
		"":                                      "",
	}
	for in, want := range tests {
		assert.Equal(t, want, ExtractDomain(in), in)
	}
}

func TestIsProductive(t *testing.T) {
	at := time.Date(2024, 3, 4, 22, 0, 0, 0, time.Local)

	inHours := New(fixedHours(true), zap.NewNop())
	outOfHours := New(fixedHours(false), zap.NewNop())

	assert.True(t, outOfHours.IsProductive("Code", "Development", "", at))
	assert.False(t, inHours.IsProductive("Spotify", "Entertainment", "", at))
	assert.False(t, inHours.IsProductive("AFK", CategoryAway, "", at))
	assert.True(t, inHours.IsProductive("Browser", CategoryWebBrowsing, "https://developer.apple.com/x", at))
	assert.False(t, inHours.IsProductive("Browser", CategoryWebBrowsing, "https://example-unknown.test/", at))
	assert.True(t, inHours.IsProductive("Slack", "Communication", "", at))
	assert.False(t, outOfHours.IsProductive("Slack", "Communication", "", at))
}

func TestRemoteRulesTakePrecedence(t *testing.T) {
	c := New(fixedHours(true), zap.NewNop())
	resp := &models.CategoryResponse{
		TeamID: "team-1",
		Categories: []models.RemoteCategory{
			{CategoryName: "Client Work", Rules: []models.RemoteRule{{RuleRegex: "acme\\.internal"}, {RuleRegex: "^slack$"}}},
			{CategoryName: "Broken", Rules: []models.RemoteRule{{RuleRegex: "([unclosed"}}},
		},
	}

	rs, changed, err := c.RefreshRules(context.Background(), staticRules(resp, nil), nil)
	require.NoError(t, err)
	require.True(t, changed)
	require.Len(t, rs.Rules, 2)

	assert.Equal(t, "Client Work", c.CategorizeApp("Slack"))
	assert.Equal(t, "Client Work", c.CategorizeURL("https://portal.acme.internal/home", ""))
	assert.Equal(t, "Development", c.CategorizeApp("Code"))
}

func TestFingerprintIgnoresPatternOrder(t *testing.T) {
	a := NormalizeRuleSet(&models.CategoryResponse{Categories: []models.RemoteCategory{
		{CategoryName: "B", Rules: []models.RemoteRule{{RuleRegex: "y"}, {RuleRegex: "x"}}},
		{CategoryName: "A", Rules: []models.RemoteRule{{RuleRegex: "z"}}},
	}}, time.Now())
	b := NormalizeRuleSet(&models.CategoryResponse{Categories: []models.RemoteCategory{
		{Name: "B", Rules: []models.RemoteRule{{Regex: "x"}, {RuleRegex: "y"}, {RuleRegex: "x"}}},
		{CategoryName: "A", Rules: []models.RemoteRule{{RuleRegex: " z "}}},
	}}, time.Now().Add(time.Hour))

	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.Equal(t, "B", b.Rules[0].Name)
	assert.Equal(t, []string{"x", "y"}, b.Rules[0].Patterns)

	c := NormalizeRuleSet(&models.CategoryResponse{Categories: []models.RemoteCategory{
		{CategoryName: "A", Rules: []models.RemoteRule{{RuleRegex: "z2"}}},
	}}, time.Now())
	assert.NotEqual(t, a.Fingerprint, c.Fingerprint)
}

func TestRemoteCategoriesMatchInServerOrder(t *testing.T) {
	resp := func(first, second string) *models.CategoryResponse {
		return &models.CategoryResponse{Categories: []models.RemoteCategory{
			{CategoryName: first, Rules: []models.RemoteRule{{RuleRegex: "jira"}}},
			{CategoryName: second, Rules: []models.RemoteRule{{RuleRegex: "jira|confluence"}}},
		}}
	}

	c := New(fixedHours(true), zap.NewNop())
	_, _, err := c.RefreshRules(context.Background(), staticRules(resp("Zeta Planning", "Alpha Docs"), nil), nil)
	require.NoError(t, err)
	assert.Equal(t, "Zeta Planning", c.CategorizeApp("Jira"))
	assert.Equal(t, "Alpha Docs", c.CategorizeApp("Confluence"))

	reordered := NormalizeRuleSet(resp("Alpha Docs", "Zeta Planning"), time.Now())
	assert.NotEqual(t, c.RuleSet().Fingerprint, reordered.Fingerprint)
}

func TestRefreshRulesUnchangedDoesNotRewriteCache(t *testing.T) {
	c := New(fixedHours(true), zap.NewNop())
	cache := &memoryCache{}
	resp := &models.CategoryResponse{Categories: []models.RemoteCategory{
		{CategoryName: "Dev", Rules: []models.RemoteRule{{RuleRegex: "goland"}}},
	}}

	_, changed, err := c.RefreshRules(context.Background(), staticRules(resp, nil), cache)
	require.NoError(t, err)
	assert.True(t, changed)

	_, changed, err = c.RefreshRules(context.Background(), staticRules(resp, nil), cache)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, cache.saves)
}

func TestRefreshRulesFailureFallsBackToCache(t *testing.T) {
	cached := NormalizeRuleSet(&models.CategoryResponse{Categories: []models.RemoteCategory{
		{CategoryName: "Cached", Rules: []models.RemoteRule{{RuleRegex: "randomapp"}}},
	}}, time.Now())
	cache := &memoryCache{rs: cached}
	c := New(fixedHours(true), zap.NewNop())

	rs, changed, err := c.RefreshRules(context.Background(), staticRules(nil, errors.New("connection refused")), cache)
	var refreshErr *RuleRefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.False(t, changed)
	assert.Equal(t, cached.Fingerprint, rs.Fingerprint)
	assert.Equal(t, "Cached", c.CategorizeApp("RandomApp42"))
}

func TestRefreshRulesFailureKeepsActiveRules(t *testing.T) {
	c := New(fixedHours(true), zap.NewNop())
	resp := &models.CategoryResponse{Categories: []models.RemoteCategory{
		{CategoryName: "Mine", Rules: []models.RemoteRule{{RuleRegex: "randomapp"}}},
	}}
	_, _, err := c.RefreshRules(context.Background(), staticRules(resp, nil), nil)
	require.NoError(t, err)

	_, changed, err := c.RefreshRules(context.Background(), staticRules(nil, errors.New("timeout")), nil)
	require.Error(t, err)
	assert.False(t, changed)
	assert.Equal(t, "Mine", c.CategorizeApp("RandomApp42"))
}
