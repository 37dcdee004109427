package learning

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Common errors for learning engine operations.
var (
	ErrPatternNotFound  = errors.New("learning pattern not found")
	ErrBuiltinImmutable = errors.New("built-in patterns cannot be modified")
	ErrInvalidPattern   = errors.New("invalid learning pattern")
)

// ConditionType selects what a trigger condition is evaluated against.
type ConditionType string

const (
	// ConditionKeyword evaluates the operator against the normalized message.
	ConditionKeyword ConditionType = "keyword"

	// ConditionIntent compares the condition value to the pre-computed intent.
	ConditionIntent ConditionType = "intent"

	// ConditionSentiment compares the condition value to the pre-computed
	// sentiment.
	ConditionSentiment ConditionType = "sentiment"

	// ConditionContext requires the named key to be present somewhere in the
	// conversation context.
	ConditionContext ConditionType = "context"

	// ConditionSequence matches conversation position. Only "first_message"
	// is defined; other values are reserved and never match.
	ConditionSequence ConditionType = "sequence"
)

// Operator selects how a keyword condition compares its value.
type Operator string

const (
	OpContains Operator = "contains"
	OpRegex    Operator = "regex"
	OpEquals   Operator = "equals"
)

// SequenceFirstMessage is the only defined sequence condition value: true iff
// the conversation has no prior history.
const SequenceFirstMessage = "first_message"

// TriggerCondition is one clause of a pattern's trigger. Operator applies to
// keyword conditions only.
type TriggerCondition struct {
	Type     ConditionType `json:"condition_type"`
	Operator Operator      `json:"operator,omitempty"`
	Value    string        `json:"value"`
}

// Source names where a template variable's value comes from.
type Source string

const (
	SourceInventory    Source = "inventory"
	SourceCustomer     Source = "customer"
	SourceConversation Source = "conversation"
	SourceDealer       Source = "dealer"
	SourceCalculated   Source = "calculated"
)

// Variable declares one template placeholder: resolved from its source, then
// the fallback, then left visible as the literal {name}.
type Variable struct {
	Name     string `json:"name"`
	Source   Source `json:"source"`
	Fallback string `json:"fallback,omitempty"`
}

// SuccessMetrics tracks how a pattern has performed in the field.
type SuccessMetrics struct {
	TotalUses      int            `json:"total_uses"`
	SuccessfulUses int            `json:"successful_uses"`
	SuccessRate    float64        `json:"success_rate"`
	Outcomes       map[string]int `json:"outcomes,omitempty"`
}

// positiveOutcomes is the fixed set of usage outcomes counted as success.
var positiveOutcomes = map[string]bool{
	"sale_completed":        true,
	"appointment_set":       true,
	"test_drive_scheduled":  true,
	"contact_info_obtained": true,
	"positive_response":     true,
	"continued_engagement":  true,
}

// PositiveOutcome reports whether the outcome counts toward success.
func PositiveOutcome(outcome string) bool {
	return positiveOutcomes[outcome]
}

// Pattern is a learned response rule: trigger conditions, a response template
// with declared variables, and running success metrics. Built-in patterns are
// immutable at runtime; custom patterns are tenant-scoped and mutable.
type Pattern struct {
	ID         string             `json:"id"`
	AccountID  string             `json:"account_id,omitempty"` // empty for built-ins
	Name       string             `json:"name"`
	Conditions []TriggerCondition `json:"conditions"`
	Template   string             `json:"template"`
	Variables  []Variable         `json:"variables,omitempty"`
	Metrics    SuccessMetrics     `json:"metrics"`
	Active     bool               `json:"active"`
	Builtin    bool               `json:"builtin"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`

	// compiled holds the case-insensitive regex per condition index, for
	// keyword conditions using the regex operator.
	compiled map[int]*regexp.Regexp
}

// Validate checks the pattern's shape and compiles its regex conditions.
func (p *Pattern) Validate() error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidPattern)
	}
	if len(p.Conditions) == 0 {
		return fmt.Errorf("%w: at least one trigger condition required", ErrInvalidPattern)
	}
	if p.Template == "" {
		return fmt.Errorf("%w: response template required", ErrInvalidPattern)
	}

	p.compiled = nil
	for i, c := range p.Conditions {
		if c.Value == "" {
			return fmt.Errorf("%w: condition %d has no value", ErrInvalidPattern, i)
		}
		switch c.Type {
		case ConditionKeyword:
			switch c.Operator {
			case OpContains, OpEquals:
			case OpRegex:
				re, err := regexp.Compile("(?i)" + c.Value)
				if err != nil {
					return fmt.Errorf("%w: condition %d: %v", ErrInvalidPattern, i, err)
				}
				if p.compiled == nil {
					p.compiled = make(map[int]*regexp.Regexp)
				}
				p.compiled[i] = re
			default:
				return fmt.Errorf("%w: condition %d has unknown operator %q", ErrInvalidPattern, i, c.Operator)
			}
		case ConditionIntent, ConditionSentiment, ConditionContext, ConditionSequence:
		default:
			return fmt.Errorf("%w: condition %d has unknown type %q", ErrInvalidPattern, i, c.Type)
		}
	}

	for _, v := range p.Variables {
		switch v.Source {
		case SourceInventory, SourceCustomer, SourceConversation, SourceDealer, SourceCalculated:
		default:
			return fmt.Errorf("%w: variable %q has unknown source %q", ErrInvalidPattern, v.Name, v.Source)
		}
		if v.Name == "" {
			return fmt.Errorf("%w: variable with empty name", ErrInvalidPattern)
		}
	}
	return nil
}

// clone returns a shallow copy with its own Metrics.Outcomes map, so metric
// updates never mutate a snapshot visible to readers.
func (p *Pattern) clone() *Pattern {
	cp := *p
	cp.Metrics.Outcomes = make(map[string]int, len(p.Metrics.Outcomes))
	for k, v := range p.Metrics.Outcomes {
		cp.Metrics.Outcomes[k] = v
	}
	return &cp
}

// Match is one pattern that fired for a message, with its rendered response.
type Match struct {
	Pattern           *Pattern `json:"pattern"`
	Confidence        float64  `json:"confidence"`
	MatchedConditions int      `json:"matched_conditions"`
	Response          string   `json:"response"`
}

// Weighting of pattern confidence versus historical success when picking the
// best pattern.
const (
	confidenceWeight  = 0.6
	successRateWeight = 0.4
)

// WeightedScore combines match confidence with the pattern's historical
// success rate.
func (m *Match) WeightedScore() float64 {
	return confidenceWeight*m.Confidence + successRateWeight*m.Pattern.Metrics.SuccessRate
}

// UsageEvent reports one real-world use of a pattern and its outcome.
type UsageEvent struct {
	PatternID      string    `json:"pattern_id"`
	AccountID      string    `json:"account_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Outcome        string    `json:"outcome"`
	OccurredAt     time.Time `json:"occurred_at"`
}
