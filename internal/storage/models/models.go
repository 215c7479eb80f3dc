package models

import "time"

// KnowledgeCard is one unit of the retrievable corpus: a short pre-embedded
// text chunk with topic taxonomy tags. Cards are written by the offline
// ingestion tool and read-only at query time.
type KnowledgeCard struct {
	ID        string
	Keyword   string
	Content   string
	Embedding []float32
	Pillar    string
	Category  string
	CardType  string
	Position  int
	CreatedAt time.Time
}

// AnswerLibraryEntry is a semantic cache entry: a previously generated answer
// keyed by the embedding of the question that produced it.
type AnswerLibraryEntry struct {
	ID         string
	Question   string
	Embedding  []float32
	Answer     string
	Confidence float64
	Hits       int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AskQuery is the interaction log: one record per question asked.
type AskQuery struct {
	ID              string
	SessionToken    string
	QueryText       string
	Answer          string
	FromLibrary     bool
	LibraryID       string
	EmbeddingMS     int64
	SearchMS        int64
	GenerationMS    int64
	TotalMS         int64
	EmbeddingModel  string
	GenerationModel string
	CreatedAt       time.Time
}

// QueryFeedback records one thumbs-up/down against a prior AskQuery. At most
// one row per (QueryID, Fingerprint) pair.
type QueryFeedback struct {
	ID          int64
	QueryID     string
	LibraryID   string
	Polarity    string
	Comment     string
	Fingerprint string
	CreatedAt   time.Time
}

const (
	PolarityUp   = "thumbs_up"
	PolarityDown = "thumbs_down"
)
