package events

import (
	"context"

	"github.com/dmitrijs2005/blobrouter/internal/router/models"
)

type Repository interface {
	Insert(ctx context.Context, event *models.EnvelopeEvent) error
}
