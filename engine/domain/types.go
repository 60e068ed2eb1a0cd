// Package domain defines the core document model, search filters, and
// validation shared across the engine. It acts as the validation gate at
// API and ingestion entry points.
package domain

// MetaCreatedAt is the reserved metadata key holding the ingestion
// timestamp as unix seconds. It is stamped at add time when absent.
const MetaCreatedAt = "created_at"

// DocumentRecord is one stored document. The embedding is computed once at
// ingestion and never serialized back to callers.
type DocumentRecord struct {
	ID        string            `json:"id,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"-"`
}

// SearchResult is a single ranked hit. Score is normalized to [0,1],
// higher is more relevant.
type SearchResult struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float32           `json:"score"`
}

// CollectionStats summarizes a collection. The counters are cumulative for
// the process lifetime and reset on restart.
type CollectionStats struct {
	Collection        string  `json:"collection"`
	DocumentCount     uint64  `json:"document_count"`
	AvgDocumentBytes  float64 `json:"avg_document_bytes"`
	EstimatedTotalKB  float64 `json:"estimated_total_kb"`
	SearchCount       int64   `json:"search_count"`
	CacheHits         int64   `json:"cache_hits"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
}

// FilterOp selects the comparison a Filter applies.
type FilterOp string

const (
	// FilterEq matches documents whose metadata field equals Value.
	FilterEq FilterOp = "eq"
	// FilterIn matches documents whose metadata field is any of Values.
	FilterIn FilterOp = "in"
	// FilterRange matches documents whose numeric field is in [Min, Max).
	// Use math.Inf bounds for half-open ranges.
	FilterRange FilterOp = "range"
)

// Filter is one typed metadata condition. A slice of Filters is interpreted
// as a conjunction. The tagged form lets index backends push conditions
// down natively instead of re-filtering candidates.
type Filter struct {
	Field  string   `json:"field"`
	Op     FilterOp `json:"op"`
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
	Min    float64  `json:"min,omitempty"`
	Max    float64  `json:"max,omitempty"`
}

// Eq builds an equality filter.
func Eq(field, value string) Filter {
	return Filter{Field: field, Op: FilterEq, Value: value}
}

// In builds a set-membership filter.
func In(field string, values ...string) Filter {
	return Filter{Field: field, Op: FilterIn, Values: values}
}

// Range builds a numeric range filter over [min, max).
func Range(field string, min, max float64) Filter {
	return Filter{Field: field, Op: FilterRange, Min: min, Max: max}
}
