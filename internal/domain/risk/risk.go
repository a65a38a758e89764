// Package risk defines risk levels and the keyword-based utterance classifier.
package risk

import (
	"strings"
	"time"
)

// Level represents the severity of a detected conversational risk.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// levelRank orders levels for monotonic comparisons. Higher rank wins.
var levelRank = map[Level]int{
	LevelLow:      0,
	LevelMedium:   1,
	LevelHigh:     2,
	LevelCritical: 3,
}

// ValidLevels is the set of all valid risk levels.
var ValidLevels = map[Level]bool{
	LevelLow:      true,
	LevelMedium:   true,
	LevelHigh:     true,
	LevelCritical: true,
}

// ParseLevel normalizes a wire-format level string. Unknown values map to LOW
// so a misbehaving publisher can never escalate by accident.
func ParseLevel(s string) Level {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if ValidLevels[l] {
		return l
	}
	return LevelLow
}

// Rank returns the numeric ordering of the level (LOW=0 .. CRITICAL=3).
func (l Level) Rank() int {
	return levelRank[l]
}

// Exceeds reports whether l is strictly higher than other in the ordering
// LOW < MEDIUM < HIGH < CRITICAL.
func (l Level) Exceeds(other Level) bool {
	return levelRank[l] > levelRank[other]
}

// Max returns the higher of the two levels.
func Max(a, b Level) Level {
	if b.Exceeds(a) {
		return b
	}
	return a
}

// Config holds the per-agent keyword tiers and alert thresholds used by the
// classifier and the sentiment pipeline.
type Config struct {
	CriticalKeywords       []string `json:"critical_keywords"`
	HighRiskKeywords       []string `json:"high_risk_keywords"`
	MediumRiskKeywords     []string `json:"medium_risk_keywords"`
	PositiveKeywords       []string `json:"positive_keywords"`
	AutoHandoffThreshold   float64  `json:"auto_handoff_threshold"`
	PositiveAlertThreshold float64  `json:"positive_alert_threshold"`
}

// AgentConfig is the stored one-to-one tunable for an agent, created lazily
// with defaults on first access.
type AgentConfig struct {
	AgentID   string    `json:"agent_id"`
	Config    Config    `json:"config"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultConfig returns the keyword tiers applied to agents without a stored
// configuration.
func DefaultConfig() Config {
	return Config{
		CriticalKeywords: []string{
			"suicide", "kill myself", "emergency", "911", "lawsuit", "sue you",
		},
		HighRiskKeywords: []string{
			"lawyer", "attorney", "legal action", "scam", "fraud", "police", "report you",
		},
		MediumRiskKeywords: []string{
			"refund", "cancel", "complaint", "manager", "supervisor", "unacceptable",
		},
		PositiveKeywords: []string{
			"thank you", "great", "perfect", "wonderful", "appreciate",
		},
		AutoHandoffThreshold:   -0.5,
		PositiveAlertThreshold: 0.7,
	}
}

// Validate checks that thresholds are inside the sentiment range [-1, 1].
func (c *Config) Validate() error {
	if c.AutoHandoffThreshold < -1 || c.AutoHandoffThreshold > 1 {
		return ErrThresholdRange
	}
	if c.PositiveAlertThreshold < -1 || c.PositiveAlertThreshold > 1 {
		return ErrThresholdRange
	}
	return nil
}

// Result is the outcome of classifying a single utterance.
type Result struct {
	Level           Level
	Matched         []string
	PositiveMatches []string
}

// Classify checks text case-insensitively against the configured keyword
// tiers, critical first, and returns the first matching tier. Positive
// matches are collected separately and never affect the level.
func Classify(text string, cfg Config) Result {
	lower := strings.ToLower(text)
	res := Result{Level: LevelLow}

	tiers := []struct {
		level    Level
		keywords []string
	}{
		{LevelCritical, cfg.CriticalKeywords},
		{LevelHigh, cfg.HighRiskKeywords},
		{LevelMedium, cfg.MediumRiskKeywords},
	}
	for _, tier := range tiers {
		if matched := matchKeywords(lower, tier.keywords); len(matched) > 0 {
			res.Level = tier.level
			res.Matched = matched
			break
		}
	}

	res.PositiveMatches = matchKeywords(lower, cfg.PositiveKeywords)
	return res
}

func matchKeywords(lowerText string, keywords []string) []string {
	var matched []string
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(lowerText, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}
