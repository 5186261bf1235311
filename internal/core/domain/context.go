package domain

import "time"

// EntityType enumerates what the background extractor pulls out of messages.
type EntityType string

const (
	EntityAddress EntityType = "address"
	EntityEmail   EntityType = "email"
	EntityPhone   EntityType = "phone"
	EntityDate    EntityType = "date"
	EntityName    EntityType = "name"
)

// Entity is append-only; deduplication is a read-time concern.
type Entity struct {
	ID              string     `json:"id"`
	ChatID          string     `json:"chat_id"`
	UserID          string     `json:"user_id"`
	ClientID        string     `json:"client_id"`
	Type            EntityType `json:"type"`
	Value           string     `json:"value"`
	SourceMessageID string     `json:"source_message_id"`
	ExtractedAt     time.Time  `json:"extracted_at"`
}

// Summary rows are superseded by later rows, never overwritten; the latest
// created_at wins at read time.
type Summary struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chat_id"`
	UserID     string    `json:"user_id"`
	Text       string    `json:"text"`
	CoversFrom time.Time `json:"covers_from"`
	CoversTo   time.Time `json:"covers_to"`
	CreatedAt  time.Time `json:"created_at"`
}

type FileRefKind string

const (
	FileRefUploaded      FileRefKind = "uploaded"
	FileRefKnowledgeBase FileRefKind = "knowledge_base"
	FileRefArtifact      FileRefKind = "artifact"
)

type FileRef struct {
	ID              string            `json:"id"`
	ChatID          string            `json:"chat_id"`
	UserID          string            `json:"user_id"`
	Kind            FileRefKind       `json:"kind"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	LinkedMessageID string            `json:"linked_message_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// ContextWindow is the bounded per-turn snapshot fed to the engine. It is
// built fresh per turn, never mutated after construction, and owned by the
// request that built it.
type ContextWindow struct {
	RecentHistory   []Turn    `json:"recent_history"`
	Entities        []Entity  `json:"entities"`
	Summary         *Summary  `json:"summary,omitempty"`
	Files           []FileRef `json:"files"`
	EstimatedTokens int       `json:"estimated_tokens"`
}
