// Package model defines data structures for the LifeLine chat service.
package model

import (
	"strings"
)

// AgentID identifies an agent persona.
type AgentID string

// Agents shipped with the default roster.
const (
	AgentMaya AgentID = "maya-wellness-coach"
	AgentAlex AgentID = "alex-productivity-strategist"
	AgentZoe  AgentID = "zoe-relationship-guide"
	AgentSam  AgentID = "sam-financial-advisor"
	AgentLeo  AgentID = "leo-creative-mentor"
)

// DefaultRating is shown for every agent until ratings are collected.
const DefaultRating = 4.5

// Personality describes how an agent talks.
type Personality struct {
	Traits             []string `json:"traits" toml:"traits"`
	CommunicationStyle string   `json:"communication_style" toml:"communication_style"`
	ExpertiseLevel     string   `json:"expertise_level" toml:"expertise_level"`
}

// Agent is a static persona loaded from the roster.
type Agent struct {
	ID             AgentID     `json:"id" toml:"id"`
	Name           string      `json:"name" toml:"name"`
	Role           string      `json:"role" toml:"role"`
	Specialty      string      `json:"specialty" toml:"specialty"`
	AvatarURL      string      `json:"avatar_url,omitempty" toml:"avatar_url"`
	ColorScheme    []string    `json:"color_scheme,omitempty" toml:"color_scheme"`
	Personality    Personality `json:"personality" toml:"personality"`
	SystemPrompt   string      `json:"system_prompt" toml:"system_prompt"`
	StarterPrompts []string    `json:"starter_prompts" toml:"starter_prompts"`
	IsPremium      bool        `json:"is_premium" toml:"is_premium"`
	Tags           []string    `json:"tags,omitempty" toml:"tags"`
}

// Greeting returns the first sentence of the system prompt.
func (a Agent) Greeting() string {
	first, _, _ := strings.Cut(a.SystemPrompt, ".")
	first = strings.TrimSpace(first)
	if first == "" {
		return ""
	}
	return first + "."
}

// AgentSummary is an agent decorated with usage derived from stored sessions.
type AgentSummary struct {
	Agent
	IsActive   bool    `json:"is_active"`
	UsageCount int     `json:"usage_count"`
	Rating     float64 `json:"rating"`
}

// Summarize decorates the agent with its session count.
func (a Agent) Summarize(sessionCount int) AgentSummary {
	return AgentSummary{
		Agent:      a,
		IsActive:   sessionCount > 0,
		UsageCount: sessionCount,
		Rating:     DefaultRating,
	}
}
