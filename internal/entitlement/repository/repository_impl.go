package repository

import (
	"context"
	"errors"

	entitlementdomain "github.com/lumichat/lumichat/internal/entitlement/domain"
	"github.com/lumichat/lumichat/pkg/db/option"
	"github.com/lumichat/lumichat/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) entitlementdomain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTrx(tx *gorm.DB) entitlementdomain.Repository {
	return &repository{db: tx}
}

func (r *repository) GetUser(ctx context.Context, userID string) (*entitlementdomain.User, error) {
	var user entitlementdomain.User
	err := r.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) GetUserForUpdate(ctx context.Context, userID string) (*entitlementdomain.User, error) {
	var user entitlementdomain.User
	err := forUpdate(r.db.WithContext(ctx)).
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// sqlite has no FOR UPDATE; its single writer serializes transactions
// already, so the lock clause is skipped there.
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *repository) CreateUser(ctx context.Context, user *entitlementdomain.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *repository) SaveUser(ctx context.Context, user *entitlementdomain.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

func (r *repository) CreateUsage(ctx context.Context, usage *entitlementdomain.CardUsage) error {
	return r.db.WithContext(ctx).Create(usage).Error
}

func (r *repository) ListUsages(ctx context.Context, req entitlementdomain.HistoryRequest) ([]*entitlementdomain.CardUsage, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", req.UserID)
	if req.CardType != "" {
		query = query.Where("card_type = ?", req.CardType)
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Field: "created_at", Desc: true}),
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  req.PageSize,
		}),
	}
	for _, opt := range opts {
		query = opt.Apply(query)
	}

	var usages []*entitlementdomain.CardUsage
	if err := query.Find(&usages).Error; err != nil {
		return nil, err
	}
	return usages, nil
}
