package classifier

// Category labels
const (
	CategoryOther          = "Other"
	CategoryWebBrowsing    = "Web Browsing"
	CategoryBrowser        = "Browser"
	CategoryDocumentation  = "Documentation"
	CategoryLearning       = "Learning"
	CategoryAdministration = "Administration"
	CategoryAway           = "Away"
	CategoryActive         = "Active"
)

type keywordCategory struct {
	name     string
	keywords []string
}

// appCategories is scanned in order; the first keyword hit wins.
var appCategories = []keywordCategory{
	{"Development", []string{"code", "visual studio", "vscode", "pycharm", "intellij", "goland", "sublime", "atom", "vim", "cursor"}},
	{"Communication", []string{"slack", "teams", "discord", "zoom", "skype", "outlook", "gmail", "whatsapp"}},
	{CategoryBrowser, []string{"chrome", "firefox", "edge", "safari", "brave", "opera", "vivaldi", "chromium"}},
	{CategoryDocumentation, []string{"word", "docs", "notion", "obsidian", "onenote"}},
	{"Spreadsheet", []string{"excel", "sheets", "calc", "numbers"}},
	{"Design", []string{"figma", "photoshop", "illustrator", "sketch"}},
	{"Terminal", []string{"terminal", "powershell", "cmd", "iterm", "alacritty", "kitty"}},
	{"Entertainment", []string{"youtube", "netflix", "spotify", "steam"}},
}

// domainCategories is scanned in order; patterns are substrings of the domain.
var domainCategories = []keywordCategory{
	{"Development", []string{
		"github.com", "gitlab.com", "bitbucket.org", "stackoverflow.com",
		"docs.python.org", "developer.mozilla.org", "w3schools.com",
		"npmjs.com", "pypi.org", "docker.com", "kubernetes.io", "pkg.go.dev",
	}},
	{"Cloud Services", []string{
		"console.cloud.google.com", "aws.amazon.com", "azure.microsoft.com",
		"heroku.com", "vercel.com", "netlify.com",
	}},
	{CategoryDocumentation, []string{
		"confluence.atlassian.com", "notion.so", "gitbook.io",
		"readthedocs.io", "wiki.", "docs.",
	}},
	{"Communication", []string{
		"slack.com", "teams.microsoft.com", "discord.com",
		"zoom.us", "meet.google.com", "webex.com",
	}},
	{"Email", []string{"gmail.com", "outlook.com", "mail.google.com", "mail.yahoo.com"}},
	{"Research", []string{
		"google.com", "bing.com", "duckduckgo.com", "wikipedia.org",
		"scholar.google.com", "arxiv.org",
	}},
	{CategoryLearning, []string{
		"coursera.org", "udemy.com", "codecademy.com", "khanacademy.org",
		"pluralsight.com", "edx.org",
	}},
	{"Project Management", []string{
		"jira.atlassian.com", "trello.com", "asana.com", "monday.com",
		"basecamp.com", "linear.app",
	}},
	{"Entertainment", []string{
		"youtube.com", "netflix.com", "twitch.tv", "reddit.com",
		"facebook.com", "instagram.com", "twitter.com", "tiktok.com",
	}},
	{"News", []string{
		"news.ycombinator.com", "techcrunch.com", "arstechnica.com",
		"reuters.com", "bbc.com", "cnn.com",
	}},
}

// pathHeuristics apply to the full url when no domain pattern matched.
var pathHeuristics = []keywordCategory{
	{CategoryDocumentation, []string{"docs", "documentation", "wiki"}},
	{CategoryLearning, []string{"learn", "tutorial", "course"}},
	{CategoryAdministration, []string{"admin", "dashboard", "console"}},
}

var productiveCategories = map[string]bool{
	"Development":        true,
	"Documentation":      true,
	"Spreadsheet":        true,
	"Design":             true,
	"Terminal":           true,
	"Cloud Services":     true,
	"Learning":           true,
	"Project Management": true,
}

var unproductiveCategories = map[string]bool{
	"Entertainment": true,
	"Social Media":  true,
	CategoryAway:    true,
}

// productiveURLHints mark a generic web page as productive.
var productiveURLHints = []string{
	"github.com", "stackoverflow.com", "docs.", "developer.",
	"learn.", "tutorial", "course",
}
