package model

import "time"

// Artifact kind constants
const (
	ArtifactOutline = "outline"
	ArtifactContent = "content"
)

// Artifact is a persisted generation result. Completed artifacts double as
// the library the presentation layer can reload topics from.
type Artifact struct {
	ID        string `json:"id"`
	ItemID    string `json:"item_id"`
	Topic     string `json:"topic"`
	Kind      string `json:"kind"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// ArtifactFilter holds query parameters for listing artifacts.
type ArtifactFilter struct {
	Kind  []string
	Query string
}

// NewArtifact creates an Artifact for the given item and phase result.
func NewArtifact(id string, item Item, kind, body string) Artifact {
	return Artifact{
		ID:        id,
		ItemID:    item.ID,
		Topic:     item.Topic,
		Kind:      kind,
		Body:      body,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}
