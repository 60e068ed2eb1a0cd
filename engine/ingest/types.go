package ingest

import "github.com/StudyPathAI/studypath-engine/engine/domain"

// Request is one batch of documents published for ingestion.
type Request struct {
	Collection string                  `json:"collection"`
	BatchSize  int                     `json:"batch_size,omitempty"`
	Documents  []domain.DocumentRecord `json:"documents"`
}

// Receipt reports a completed ingestion.
type Receipt struct {
	Collection string   `json:"collection"`
	IDs        []string `json:"ids"`
}
