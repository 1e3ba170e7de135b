package repository

import (
	"context"

	"freecanvas/internal/model"
)

// UserRepository defines data access for accounts.
type UserRepository interface {
	// Create inserts a user. ErrDuplicate if the username or email is taken.
	Create(ctx context.Context, u *model.User) (*model.User, error)

	// FindByEmail returns the user with the given email or ErrNotFound.
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// ExistsByUsernameOrEmail reports whether either value is already registered.
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
}
