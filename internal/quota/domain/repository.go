package domain

import (
	"context"

	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
	"gorm.io/gorm"
)

// Repository persists ledger entries. GetForUpdate must hold a row lock
// for the remainder of the transaction the repository was bound to.
type Repository interface {
	WithTrx(tx *gorm.DB) Repository
	// Get returns nil when no entry exists (zero usage).
	Get(ctx context.Context, userID string, resource membershipdomain.Resource, characterID string) (*Entry, error)
	// GetForUpdate locks and returns the entry, or nil when missing.
	GetForUpdate(ctx context.Context, userID string, resource membershipdomain.Resource, characterID string) (*Entry, error)
	ListByUser(ctx context.Context, userID string, resource membershipdomain.Resource) ([]*Entry, error)
	Create(ctx context.Context, entry *Entry) error
	Save(ctx context.Context, entry *Entry) error

	// GetAdWatch returns nil when the user has never watched an ad.
	GetAdWatch(ctx context.Context, userID string) (*AdWatch, error)
	// GetAdWatchForUpdate locks and returns the counter, or nil when missing.
	GetAdWatchForUpdate(ctx context.Context, userID string) (*AdWatch, error)
	CreateAdWatch(ctx context.Context, watch *AdWatch) error
	SaveAdWatch(ctx context.Context, watch *AdWatch) error
}
