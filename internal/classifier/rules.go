package classifier

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"Mansoor88-6/aw-sync-agent/internal/models"
)

type compiledRule struct {
	name string
	re   *regexp.Regexp
}

// compiledRules pairs a rule set with its matchers. Never mutated after construction.
type compiledRules struct {
	set   *models.RuleSet
	rules []compiledRule
}

// NormalizeRuleSet converts a server payload into a rule set with a stable fingerprint.
// Categories keep the server's order, first occurrence wins, and repeated names are
// merged. Patterns are trimmed, de-duplicated and sorted.
func NormalizeRuleSet(resp *models.CategoryResponse, fetchedAt time.Time) *models.RuleSet {
	rs := &models.RuleSet{FetchedAt: fetchedAt}
	if resp == nil {
		rs.Fingerprint = Fingerprint(nil)
		return rs
	}
	rs.TeamID = resp.TeamID

	var order []string
	byName := make(map[string]map[string]struct{})
	for _, cat := range resp.Categories {
		name := strings.TrimSpace(cat.DisplayName())
		if name == "" {
			continue
		}
		patterns, ok := byName[name]
		if !ok {
			patterns = make(map[string]struct{})
			byName[name] = patterns
			order = append(order, name)
		}
		for _, rule := range cat.Rules {
			if p := strings.TrimSpace(rule.Pattern()); p != "" {
				patterns[p] = struct{}{}
			}
		}
	}

	for _, name := range order {
		set := byName[name]
		if len(set) == 0 {
			continue
		}
		patterns := make([]string, 0, len(set))
		for p := range set {
			patterns = append(patterns, p)
		}
		sort.Strings(patterns)
		rs.Rules = append(rs.Rules, models.CategoryRule{Name: name, Patterns: patterns})
	}

	rs.Fingerprint = Fingerprint(rs.Rules)
	return rs
}

// Fingerprint hashes normalized rules. Category order is significant since the
// first matching category wins; pattern order within a category is not.
func Fingerprint(rules []models.CategoryRule) string {
	h := sha256.New()
	for _, r := range rules {
		h.Write([]byte(r.Name))
		h.Write([]byte{0})
		for _, p := range r.Patterns {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// compile builds one case-insensitive alternation per category.
// Invalid patterns are dropped individually.
func compile(rs *models.RuleSet, log *zap.Logger) *compiledRules {
	out := &compiledRules{set: rs}
	if rs == nil {
		return out
	}

	for _, rule := range rs.Rules {
		var valid []string
		for _, p := range rule.Patterns {
			if _, err := regexp.Compile(p); err != nil {
				log.Warn("Dropping invalid category pattern",
					zap.String("category", rule.Name),
					zap.String("pattern", p),
					zap.Error(err))
				continue
			}
			valid = append(valid, "("+p+")")
		}
		if len(valid) == 0 {
			continue
		}
		re, err := regexp.Compile("(?i)" + strings.Join(valid, "|"))
		if err != nil {
			log.Warn("Dropping category with uncompilable rules",
				zap.String("category", rule.Name), zap.Error(err))
			continue
		}
		out.rules = append(out.rules, compiledRule{name: rule.Name, re: re})
	}
	return out
}

// match returns the first category whose rule matches any of the texts
func (c *compiledRules) match(texts ...string) (string, bool) {
	if c == nil {
		return "", false
	}
	for _, rule := range c.rules {
		for _, t := range texts {
			if t != "" && rule.re.MatchString(t) {
				return rule.name, true
			}
		}
	}
	return "", false
}
