package repository

import (
	"context"

	"github.com/velenik/payflow/internal/models"
)

// UserPatch is a partial update of mutable user fields. Nil fields are
// left untouched.
type UserPatch struct {
	PasswordHash *string
	FirstName    *string
	LastName     *string
}

func (p UserPatch) IsEmpty() bool {
	return p.PasswordHash == nil && p.FirstName == nil && p.LastName == nil
}

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateFields(ctx context.Context, id string, patch UserPatch) (int64, error)
	SearchByName(ctx context.Context, fragment string) ([]models.User, error)
}
