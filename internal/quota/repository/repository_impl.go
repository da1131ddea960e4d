package repository

import (
	"context"
	"errors"

	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
	quotadomain "github.com/lumichat/lumichat/internal/quota/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) quotadomain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTrx(tx *gorm.DB) quotadomain.Repository {
	return &repository{db: tx}
}

func (r *repository) Get(ctx context.Context, userID string, resource membershipdomain.Resource, characterID string) (*quotadomain.Entry, error) {
	var entry quotadomain.Entry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND resource = ? AND character_id = ?", userID, resource, characterID).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repository) GetForUpdate(ctx context.Context, userID string, resource membershipdomain.Resource, characterID string) (*quotadomain.Entry, error) {
	var entry quotadomain.Entry
	err := forUpdate(r.db.WithContext(ctx)).
		Where("user_id = ? AND resource = ? AND character_id = ?", userID, resource, characterID).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// sqlite has no FOR UPDATE; its single writer serializes transactions
// already, so the lock clause is skipped there.
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *repository) ListByUser(ctx context.Context, userID string, resource membershipdomain.Resource) ([]*quotadomain.Entry, error) {
	var entries []*quotadomain.Entry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND resource = ?", userID, resource).
		Order("character_id").
		Find(&entries).Error
	return entries, err
}

func (r *repository) Create(ctx context.Context, entry *quotadomain.Entry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) Save(ctx context.Context, entry *quotadomain.Entry) error {
	return r.db.WithContext(ctx).Save(entry).Error
}

func (r *repository) GetAdWatch(ctx context.Context, userID string) (*quotadomain.AdWatch, error) {
	var watch quotadomain.AdWatch
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&watch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &watch, nil
}

func (r *repository) GetAdWatchForUpdate(ctx context.Context, userID string) (*quotadomain.AdWatch, error) {
	var watch quotadomain.AdWatch
	err := forUpdate(r.db.WithContext(ctx)).
		Where("user_id = ?", userID).
		First(&watch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &watch, nil
}

func (r *repository) CreateAdWatch(ctx context.Context, watch *quotadomain.AdWatch) error {
	return r.db.WithContext(ctx).Create(watch).Error
}

func (r *repository) SaveAdWatch(ctx context.Context, watch *quotadomain.AdWatch) error {
	return r.db.WithContext(ctx).Save(watch).Error
}
