package envelopes

import (
	"context"

	"github.com/dmitrijs2005/blobrouter/internal/router/models"
)

type Repository interface {
	Insert(ctx context.Context, envelope *models.Envelope) error
	FindLast(ctx context.Context, container string, fileName string) (*models.Envelope, error)
	MarkDeleted(ctx context.Context, id string) error
}
