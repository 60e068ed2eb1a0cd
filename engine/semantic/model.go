package semantic

// VectorRecord is a single point to store in the index.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Content   string
	CreatedAt int64 // unix seconds, stored as an integer payload field
	Metadata  map[string]string
}

// Hit is one candidate returned by a similarity query or scroll.
// Score is the raw index similarity; normalization happens upstream.
type Hit struct {
	ID        string            `json:"id"`
	Score     float32           `json:"score"`
	Content   string            `json:"content"`
	CreatedAt int64             `json:"created_at"`
	Metadata  map[string]string `json:"metadata"`
}
