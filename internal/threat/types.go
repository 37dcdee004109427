package threat

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Common errors for threat engine operations.
var (
	ErrRecordNotFound   = errors.New("threat record not found")
	ErrPatternNotFound  = errors.New("threat pattern not found")
	ErrBuiltinImmutable = errors.New("built-in patterns cannot be modified")
	ErrInvalidPattern   = errors.New("invalid threat pattern")
)

// PatternType selects how a pattern's payload is evaluated.
type PatternType string

const (
	// PatternRegex matches a case-insensitive regular expression against
	// the normalized message.
	PatternRegex PatternType = "regex"

	// PatternKeyword matches by substring containment against a keyword list.
	PatternKeyword PatternType = "keyword"

	// PatternBehavioral is evaluated over the conversation history as a
	// whole (urgency density, topic churn), not per-pattern.
	PatternBehavioral PatternType = "behavioral"

	// PatternContextual matches keywords across the conversation history;
	// it is a no-op when no history is supplied.
	PatternContextual PatternType = "contextual"
)

// Severity orders threat seriousness: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the severity's position in the total order; unknown
// severities rank below low.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// ThreatType names the category of a detected threat.
type ThreatType string

const (
	ThreatOverpaymentScam ThreatType = "overpayment_scam"
	ThreatPaymentScam     ThreatType = "payment_scam"
	ThreatPhishing        ThreatType = "phishing"
	ThreatManipulation    ThreatType = "manipulation"
	ThreatHarassment      ThreatType = "harassment"
	ThreatInfoHarvesting  ThreatType = "info_harvesting"
	ThreatOffPlatform     ThreatType = "off_platform"
)

// Pattern is a named detection rule. Built-in patterns are immutable at
// runtime; custom patterns are tenant-scoped and mutable.
type Pattern struct {
	ID        string      `json:"id"`
	AccountID string      `json:"account_id,omitempty"` // empty for built-ins
	Name      string      `json:"name"`
	Type      PatternType `json:"pattern_type"`

	// Regex is the payload for regex patterns.
	Regex string `json:"regex,omitempty"`

	// Keywords is the payload for keyword and contextual patterns.
	Keywords []string `json:"keywords,omitempty"`

	ThreatType ThreatType `json:"threat_type"`
	Severity   Severity   `json:"severity"`
	Active     bool       `json:"active"`
	Builtin    bool       `json:"builtin"`
	CreatedAt  time.Time  `json:"created_at"`

	compiled *regexp.Regexp
}

// Validate checks the pattern and compiles its regex payload.
func (p *Pattern) Validate() error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidPattern)
	}
	if !p.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidPattern, p.Severity)
	}
	switch p.Type {
	case PatternRegex:
		if p.Regex == "" {
			return fmt.Errorf("%w: regex payload required", ErrInvalidPattern)
		}
		re, err := regexp.Compile("(?i)" + p.Regex)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		p.compiled = re
	case PatternKeyword, PatternContextual:
		if len(p.Keywords) == 0 {
			return fmt.Errorf("%w: keyword list required", ErrInvalidPattern)
		}
	case PatternBehavioral:
		// Behavioral checks carry no per-pattern payload.
	default:
		return fmt.Errorf("%w: unknown pattern type %q", ErrInvalidPattern, p.Type)
	}
	return nil
}

// Status is the lifecycle state of a threat record.
//
// detected -> {confirmed | false_positive} -> {resolved | escalated};
// escalated is reachable directly from detected for critical severity.
type Status string

const (
	StatusDetected      Status = "detected"
	StatusConfirmed     Status = "confirmed"
	StatusFalsePositive Status = "false_positive"
	StatusResolved      Status = "resolved"
	StatusEscalated     Status = "escalated"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDetected, StatusConfirmed, StatusFalsePositive, StatusResolved, StatusEscalated:
		return true
	}
	return false
}

// Record is one detected incident.
type Record struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"account_id"`
	ConversationID  string     `json:"conversation_id"`
	ThreatType      ThreatType `json:"threat_type"`
	Severity        Severity   `json:"severity"`
	Confidence      float64    `json:"confidence"`
	MatchedPatterns []string   `json:"matched_patterns"`
	TriggerText     string     `json:"trigger_text"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Analysis is the result of evaluating one message.
type Analysis struct {
	IsThreat          bool       `json:"is_threat"`
	ThreatType        ThreatType `json:"threat_type,omitempty"`
	Severity          Severity   `json:"severity,omitempty"`
	Confidence        float64    `json:"confidence"`
	MatchedPatterns   []string   `json:"matched_patterns,omitempty"`
	SuggestedResponse string     `json:"suggested_response,omitempty"`
	ShouldTerminate   bool       `json:"should_terminate"`
	ShouldEscalate    bool       `json:"should_escalate"`
	Evidence          []string   `json:"evidence,omitempty"`
}
