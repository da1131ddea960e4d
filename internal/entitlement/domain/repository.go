package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	WithTrx(tx *gorm.DB) Repository
	// GetUser returns nil without error when the user row does not exist.
	GetUser(ctx context.Context, userID string) (*User, error)
	// GetUserForUpdate locks the user row for the current transaction.
	GetUserForUpdate(ctx context.Context, userID string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	SaveUser(ctx context.Context, user *User) error
	CreateUsage(ctx context.Context, usage *CardUsage) error
	ListUsages(ctx context.Context, req HistoryRequest) ([]*CardUsage, error)
}
