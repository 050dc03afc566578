package classifier

import (
	"regexp"
	"strings"
)

var (
	titleURLRegex    = regexp.MustCompile(`https?://([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)
	titleDomainRegex = regexp.MustCompile(`\b([a-z0-9-]+(?:\.[a-z0-9-]+)*\.(?:com|org|net|io|co|dev|app|so|us|tv|edu|gov|uk|de|fr|ai))\b`)
	leadingCounter   = regexp.MustCompile(`^[\(\d\)\s]+`)
)

// knownSites maps site names seen in page titles to their domain.
var knownSites = []struct {
	key    string
	domain string
}{
	{"stack overflow", "stackoverflow.com"},
	{"youtube", "youtube.com"},
	{"github", "github.com"},
	{"gitlab", "gitlab.com"},
	{"linkedin", "linkedin.com"},
	{"reddit", "reddit.com"},
	{"facebook", "facebook.com"},
	{"instagram", "instagram.com"},
	{"twitter", "twitter.com"},
	{"discord", "discord.com"},
	{"slack", "slack.com"},
	{"gmail", "gmail.com"},
	{"outlook", "outlook.com"},
	{"notion", "notion.so"},
	{"figma", "figma.com"},
	{"trello", "trello.com"},
	{"asana", "asana.com"},
	{"jira", "jira.atlassian.com"},
	{"confluence", "confluence.atlassian.com"},
	{"wikipedia", "wikipedia.org"},
	{"netflix", "netflix.com"},
	{"twitch", "twitch.tv"},
	{"microsoft teams", "teams.microsoft.com"},
	{"google meet", "meet.google.com"},
}

// browserNames are stripped from titles before site matching.
var browserNames = []string{
	"google chrome", "chrome", "chromium",
	"mozilla firefox", "firefox",
	"microsoft edge", "edge",
	"safari", "opera", "brave", "vivaldi",
}

// ExtractDomain strips scheme, userinfo, path, query, port and a leading www.
func ExtractDomain(rawURL string) string {
	u := strings.TrimSpace(rawURL)
	if u == "" {
		return ""
	}

	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexAny(u, "/?#"); i >= 0 {
		u = u[:i]
	}
	if i := strings.LastIndex(u, "@"); i >= 0 {
		u = u[i+1:]
	}
	if strings.HasPrefix(u, "[") {
		// IPv6 literal
		if i := strings.Index(u, "]"); i >= 0 {
			u = u[1:i]
		}
	} else if i := strings.Index(u, ":"); i >= 0 {
		u = u[:i]
	}

	return strings.TrimPrefix(strings.ToLower(u), "www.")
}

// IsBrowser reports whether an application name is a web browser
func IsBrowser(app string) bool {
	lower := strings.ToLower(app)
	for _, name := range browserNames {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

// DomainFromTitle infers the site of a browser window from its title.
// Returns "" rather than guessing.
func DomainFromTitle(title string) string {
	if title == "" {
		return ""
	}

	if m := titleURLRegex.FindStringSubmatch(title); len(m) > 1 {
		return strings.TrimPrefix(strings.ToLower(m[1]), "www.")
	}

	lower := strings.ToLower(title)
	if m := titleDomainRegex.FindStringSubmatch(lower); len(m) > 1 {
		return strings.TrimPrefix(m[1], "www.")
	}

	// "Site - Description - Browser": the first non-browser part names the site
	for _, part := range strings.Split(lower, " - ") {
		part = strings.TrimSpace(leadingCounter.ReplaceAllString(part, ""))
		if part == "" || isBrowserPart(part) {
			continue
		}
		if domain := matchKnownSite(part); domain != "" {
			return domain
		}
	}

	return ""
}

func isBrowserPart(part string) bool {
	for _, name := range browserNames {
		if part == name {
			return true
		}
	}
	return false
}

func matchKnownSite(text string) string {
	for _, site := range knownSites {
		if strings.Contains(text, site.key) {
			return site.domain
		}
	}
	return ""
}
