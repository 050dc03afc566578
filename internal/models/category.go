package models

import "time"

// CategoryResponse is the category payload served by the remote server
type CategoryResponse struct {
	TeamID     string           `json:"team_id"`
	Categories []RemoteCategory `json:"categories"`
}

// RemoteCategory is a single category definition as served remotely
type RemoteCategory struct {
	CategoryID   string       `json:"category_id,omitempty"`
	CategoryName string       `json:"category_name"`
	Name         string       `json:"name,omitempty"`
	Rules        []RemoteRule `json:"rules"`
}

// DisplayName returns the category name, accepting the legacy "name" key
func (c RemoteCategory) DisplayName() string {
	if c.CategoryName != "" {
		return c.CategoryName
	}
	return c.Name
}

// RemoteRule is a single matching pattern
type RemoteRule struct {
	RuleRegex string `json:"rule_regex"`
	Regex     string `json:"regex,omitempty"`
}

// Pattern returns the rule pattern, accepting the legacy "regex" key
func (r RemoteRule) Pattern() string {
	if r.RuleRegex != "" {
		return r.RuleRegex
	}
	return r.Regex
}

// CategoryRule is an ordered set of patterns mapped to a category
type CategoryRule struct {
	Name     string   `json:"name"`
	Patterns []string `json:"patterns"`
}

// RuleSet is the category rule table as cached locally
type RuleSet struct {
	TeamID      string         `json:"team_id"`
	Rules       []CategoryRule `json:"rules"`
	Fingerprint string         `json:"fingerprint"`
	FetchedAt   time.Time      `json:"fetched_at"`
}
