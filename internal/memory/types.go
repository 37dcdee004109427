package memory

import (
	"errors"
	"time"
)

// Common errors for memory store operations.
var (
	ErrInvalidEntry   = errors.New("invalid memory entry")
	ErrEmptyAccountID = errors.New("account ID cannot be empty")
	ErrEmptyOwnerID   = errors.New("owner ID cannot be empty")
	ErrEmptyKey       = errors.New("memory key cannot be empty")
	ErrInvalidType    = errors.New("unknown memory type")
	ErrInvalidScore   = errors.New("confidence and importance must be between 0.0 and 1.0")
)

// Type is the closed enumeration of memory categories.
type Type string

const (
	TypeProfile            Type = "profile"
	TypeInventory          Type = "inventory"
	TypeCustomerPatterns   Type = "customer_patterns"
	TypeLearnedResponses   Type = "learned_responses"
	TypeThreatPatterns     Type = "threat_patterns"
	TypePricingStrategies  Type = "pricing_strategies"
	TypeNegotiationTactics Type = "negotiation_tactics"
	TypeObjectionHandlers  Type = "objection_handlers"
	TypeVehicleKnowledge   Type = "vehicle_knowledge"
	TypeMarketData         Type = "market_data"
	TypeCompetitorInfo     Type = "competitor_info"
)

// Types lists every valid memory type.
var Types = []Type{
	TypeProfile,
	TypeInventory,
	TypeCustomerPatterns,
	TypeLearnedResponses,
	TypeThreatPatterns,
	TypePricingStrategies,
	TypeNegotiationTactics,
	TypeObjectionHandlers,
	TypeVehicleKnowledge,
	TypeMarketData,
	TypeCompetitorInfo,
}

// Valid reports whether t is a known memory type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Entry is the universal unit of persisted knowledge.
//
// Entries are uniquely identified among active rows by the natural key
// (OwnerID, Type, Key); storing again at the same key is an update, never a
// duplicate. The Embedding is optional and its absence is a valid, permanent
// state, not an error.
type Entry struct {
	// ID is the store-assigned opaque identifier.
	ID string `json:"id"`

	// AccountID is the tenant scope; all queries filter on it.
	AccountID string `json:"account_id"`

	// OwnerID identifies the entity the fact is about (dealer, customer,
	// vehicle listing). Part of the natural key.
	OwnerID string `json:"owner_id"`

	// Type categorizes the entry. Part of the natural key.
	Type Type `json:"memory_type"`

	// Key is the caller-chosen name within (OwnerID, Type).
	Key string `json:"key"`

	// Value is the structured payload. Producers with a fixed shape (the
	// pattern engines) marshal typed structs into it; dealer-specific blobs
	// use it schema-free.
	Value map[string]any `json:"value"`

	// Embedding is the optional fixed-length vector over Key + Value.
	Embedding []float32 `json:"embedding,omitempty"`

	// Confidence in [0,1] is how sure the system is about the fact.
	Confidence float64 `json:"confidence"`

	// Importance in [0,1] is the retrieval-ranking weight, subject to decay.
	Importance float64 `json:"importance"`

	// Tags are labels for coarse filtering.
	Tags []string `json:"tags,omitempty"`

	// AccessCount and LastAccessed are updated on successful retrieval,
	// not on search-candidate scanning.
	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`

	// Version increments on every update.
	Version int `json:"version"`

	// ExpiresAt, when set, excludes the entry from search and marks it for
	// the expiry sweep.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// IsActive is the soft-delete flag.
	IsActive bool `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the entry's required fields and score ranges.
func (e *Entry) Validate() error {
	if e == nil {
		return ErrInvalidEntry
	}
	if e.AccountID == "" {
		return ErrEmptyAccountID
	}
	if e.OwnerID == "" {
		return ErrEmptyOwnerID
	}
	if e.Key == "" {
		return ErrEmptyKey
	}
	if !e.Type.Valid() {
		return ErrInvalidType
	}
	if e.Confidence < 0 || e.Confidence > 1 || e.Importance < 0 || e.Importance > 1 {
		return ErrInvalidScore
	}
	return nil
}

// Expired reports whether the entry's expiry is set and in the past.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// SearchCriteria filters and bounds a memory search.
type SearchCriteria struct {
	// AccountID scopes the search to one tenant. Required.
	AccountID string

	// OwnerID optionally narrows to one owner.
	OwnerID string

	// Type optionally narrows to one memory type.
	Type Type

	// Tags optionally requires every listed tag.
	Tags []string

	// MinImportance optionally drops entries below the threshold.
	MinImportance float64

	// IncludeExpired opts in to entries past their expiry.
	IncludeExpired bool

	// Limit caps results; the service default applies when zero.
	Limit int
}

// ScoredEntry pairs an entry with its search score (cosine similarity for
// semantic search, token overlap for keyword search).
type ScoredEntry struct {
	Entry *Entry  `json:"entry"`
	Score float64 `json:"score"`
}

// Stats summarizes a tenant's memory footprint.
type Stats struct {
	Total         int          `json:"total"`
	ByType        map[Type]int `json:"by_type"`
	AvgImportance float64      `json:"avg_importance"`
}
