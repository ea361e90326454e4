package store

import (
	"context"

	"github.com/SeraKah-1/neuronotespro/internal/model"
)

// QueueStore persists the ordered work queue as a whole. LoadQueue returns
// an empty slice when no snapshot has ever been saved.
type QueueStore interface {
	LoadQueue(ctx context.Context) ([]model.Item, error)
	SaveQueue(ctx context.Context, items []model.Item) error
}

// ArtifactStore persists generation results.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, a model.Artifact) error
	ListArtifacts(ctx context.Context, f model.ArtifactFilter) ([]model.Artifact, error)
	GetArtifact(ctx context.Context, id string) (*model.Artifact, error)
}

// Repository combines everything the API layer needs.
type Repository interface {
	QueueStore
	ArtifactStore
}
