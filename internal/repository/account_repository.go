package repository

import (
	"context"

	"github.com/velenik/payflow/internal/models"
)

type AccountRepository interface {
	Create(ctx context.Context, ownerID string, initialBalance int64) (*models.Account, error)
	GetByOwner(ctx context.Context, ownerID string) (*models.Account, error)
	Delete(ctx context.Context, ownerID string) error
}
