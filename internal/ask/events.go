package ask

// Event is the tagged union streamed back to the caller: zero or more
// metadata and content events followed by exactly one terminal done or error
// event. Consumers concatenate content deltas in delivery order to
// reconstruct the answer.
type Event struct {
	Type     EventType        `json:"type"`
	Metadata *MetadataPayload `json:"metadata,omitempty"`
	Content  *ContentPayload  `json:"content,omitempty"`
	Done     *DonePayload     `json:"done,omitempty"`
	Error    *ErrorPayload    `json:"error,omitempty"`
}

type EventType string

const (
	EventMetadata EventType = "metadata"
	EventContent  EventType = "content"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// Source identifies one retrieved knowledge card surfaced to the caller.
type Source struct {
	CardID     string  `json:"card_id"`
	Keyword    string  `json:"keyword"`
	Pillar     string  `json:"pillar"`
	Category   string  `json:"category,omitempty"`
	Similarity float64 `json:"similarity"`
}

// Timings is the per-stage duration breakdown in milliseconds.
type Timings struct {
	EmbeddingMS  int64 `json:"embedding_ms"`
	SearchMS     int64 `json:"search_ms"`
	GenerationMS int64 `json:"generation_ms"`
	TotalMS      int64 `json:"total_ms"`
}

type MetadataPayload struct {
	Status      string   `json:"status,omitempty"`
	FromLibrary *bool    `json:"from_library,omitempty"`
	LibraryID   string   `json:"library_id,omitempty"`
	Sources     []Source `json:"sources,omitempty"`
}

type ContentPayload struct {
	Delta string `json:"delta"`
}

type DonePayload struct {
	QueryID         string   `json:"query_id"`
	Answer          string   `json:"answer"`
	FromLibrary     bool     `json:"from_library"`
	LibraryID       string   `json:"library_id,omitempty"`
	Sources         []Source `json:"sources"`
	SessionToken    string   `json:"session_token"`
	Timings         Timings  `json:"timings"`
	EmbeddingModel  string   `json:"embedding_model"`
	GenerationModel string   `json:"generation_model,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Machine-readable error codes carried on terminal error events.
const (
	CodeEmbeddingUnavailable       = "EmbeddingUnavailable"
	CodeEmbeddingDimensionMismatch = "EmbeddingDimensionMismatch"
	CodeGenerationUnavailable      = "GenerationUnavailable"
)

func metadataEvent(p MetadataPayload) Event {
	return Event{Type: EventMetadata, Metadata: &p}
}

func contentEvent(delta string) Event {
	return Event{Type: EventContent, Content: &ContentPayload{Delta: delta}}
}

func doneEvent(p DonePayload) Event {
	return Event{Type: EventDone, Done: &p}
}

func errorEvent(code, message string) Event {
	return Event{Type: EventError, Error: &ErrorPayload{Code: code, Message: message}}
}
