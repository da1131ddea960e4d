package seed

import (
	"context"
	"errors"

	adrewarddomain "github.com/lumichat/lumichat/internal/adreward/domain"
	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
	"gorm.io/gorm"
)

// EnsureAdConfigs seeds one ad_configs row per tier from the compiled-in
// feature table so operators can tune rewards without a deploy. Existing
// rows are left untouched.
func EnsureAdConfigs(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for tier, limits := range membershipdomain.DefaultTiers {
			var existing adrewarddomain.Config
			err := tx.Where("tier = ?", tier).First(&existing).Error
			switch {
			case err == nil:
				continue
			case errors.Is(err, gorm.ErrRecordNotFound):
			default:
				return err
			}

			row := adrewarddomain.Config{
				Tier:         tier,
				Enabled:      limits.UnlockedMessagesPerAd > 0,
				RewardAmount: limits.UnlockedMessagesPerAd,
				DailyLimit:   limits.DailyAdLimit,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
