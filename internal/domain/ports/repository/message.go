package repository

import (
	"context"

	"voice-ingest/internal/domain/model"
)

// MessageFilter narrows FindMany. Nil fields do not filter.
type MessageFilter struct {
	ProjectID string
	Status    *model.ProcessingStatus
	HasAudio  *bool
	// NewestFirst orders by updated_at descending; otherwise created_at ascending.
	NewestFirst bool
}

// MessageRepository is the port for durable message records.
type MessageRepository interface {
	Create(ctx context.Context, tx Tx, msg *model.Message) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Message, error)
	FindMany(ctx context.Context, tx Tx, filter MessageFilter) ([]*model.Message, error)
	// Update applies a sparse patch and returns the stored record.
	Update(ctx context.Context, tx Tx, id string, patch model.MessagePatch) (*model.Message, error)
	// TransitionStatus applies patch only while the current status is one of from.
	// It reports false (and no error) when the status did not match.
	TransitionStatus(ctx context.Context, tx Tx, id string, from []model.ProcessingStatus, patch model.MessagePatch) (*model.Message, bool, error)
	Delete(ctx context.Context, tx Tx, id string) error
}
