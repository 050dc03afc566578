package privacy

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"Mansoor88-6/aw-sync-agent/internal/config"
	"Mansoor88-6/aw-sync-agent/internal/models"
)

// Filter decides what must be dropped or redacted before upload
type Filter struct {
	excludeKeywords   []string
	sensitiveKeywords []string
	excludedApps      []string
	urlPatterns       []*regexp.Regexp
	mode              string
	cipher            *Cipher

	workHoursOnly bool
	startMinute   int
	endMinute     int
}

// NewFilter builds a filter from the privacy rule set. cipher is required in encrypt mode.
func NewFilter(p config.Privacy, cipher *Cipher) (*Filter, error) {
	mode := p.RedactionMode
	if mode == "" {
		mode = config.RedactionSentinel
	}
	if p.EncryptWindowTitles {
		mode = config.RedactionEncrypt
	}
	if mode == config.RedactionEncrypt && cipher == nil {
		return nil, fmt.Errorf("encrypt redaction mode requires an encryption key")
	}

	f := &Filter{
		excludeKeywords:   lowerAll(p.ExcludeKeywords),
		sensitiveKeywords: lowerAll(p.SensitiveKeywords),
		excludedApps:      lowerAll(p.ExcludedApps),
		mode:              mode,
		cipher:            cipher,
		workHoursOnly:     p.WorkHoursOnly,
	}

	for _, pattern := range p.ExcludeURLPatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid url pattern %q: %w", pattern, err)
		}
		f.urlPatterns = append(f.urlPatterns, re)
	}

	if p.WorkHoursOnly {
		start, err := config.ParseClock(p.WorkHours.Start)
		if err != nil {
			return nil, err
		}
		end, err := config.ParseClock(p.WorkHours.End)
		if err != nil {
			return nil, err
		}
		f.startMinute, f.endMinute = start, end
	}

	return f, nil
}

// ShouldExclude reports whether text contains an exclude keyword
func (f *Filter) ShouldExclude(text string) bool {
	return containsAny(text, f.excludeKeywords)
}

// ShouldExcludeApp reports whether the application is on the excluded list
func (f *Filter) ShouldExcludeApp(app string) bool {
	if app == "" {
		return false
	}
	lower := strings.ToLower(app)
	for _, excluded := range f.excludedApps {
		if lower == excluded || strings.Contains(lower, excluded) {
			return true
		}
	}
	return false
}

// ShouldExcludeURL reports whether a browser url or its page title matches a sensitive pattern
func (f *Filter) ShouldExcludeURL(url, title string) bool {
	if url == "" {
		return false
	}
	for _, re := range f.urlPatterns {
		if re.MatchString(url) || (title != "" && re.MatchString(title)) {
			return true
		}
	}
	return false
}

// IsSensitive reports whether text must be redacted before upload
func (f *Filter) IsSensitive(text string) bool {
	return containsAny(text, f.sensitiveKeywords)
}

// Redact replaces text according to the configured redaction mode
func (f *Filter) Redact(text string) (string, error) {
	if text == "" {
		return text, nil
	}

	switch f.mode {
	case config.RedactionEncrypt:
		return f.cipher.Encrypt(text)
	case config.RedactionOmit:
		return "", nil
	default:
		return models.FilteredSentinel, nil
	}
}

// RedactIfSensitive redacts text only when it is sensitive
func (f *Filter) RedactIfSensitive(text string) (string, bool, error) {
	if !f.IsSensitive(text) {
		return text, false, nil
	}
	redacted, err := f.Redact(text)
	return redacted, true, err
}

// Decrypt reverses encrypt-mode redaction using the local key
func (f *Filter) Decrypt(token string) (string, error) {
	if f.cipher == nil {
		return "", fmt.Errorf("no encryption key configured")
	}
	return f.cipher.Decrypt(token)
}

// Mode returns the active redaction mode
func (f *Filter) Mode() string {
	return f.mode
}

// InWorkHours reports whether t falls inside the configured work hours, inclusive.
// Always true when work-hours gating is disabled.
func (f *Filter) InWorkHours(t time.Time) bool {
	if !f.workHoursOnly {
		return true
	}

	local := t.Local()
	minute := local.Hour()*60 + local.Minute()

	if f.startMinute <= f.endMinute {
		return minute >= f.startMinute && minute <= f.endMinute
	}
	// range crosses midnight
	return minute >= f.startMinute || minute <= f.endMinute
}

func containsAny(text string, keywords []string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
