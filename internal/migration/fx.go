package migration

import (
	adrewarddomain "github.com/lumichat/lumichat/internal/adreward/domain"
	"github.com/lumichat/lumichat/internal/config"
	entitlementdomain "github.com/lumichat/lumichat/internal/entitlement/domain"
	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
	quotadomain "github.com/lumichat/lumichat/internal/quota/domain"
	"github.com/lumichat/lumichat/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
			return seed.EnsureAdConfigs(conn)
		}

		// sqlite and mysql deployments are local or test setups; gorm's
		// auto migration is sufficient there.
		if err := conn.AutoMigrate(
			&entitlementdomain.User{},
			&quotadomain.Entry{},
			&quotadomain.AdWatch{},
			&entitlementdomain.CardUsage{},
			&membershipdomain.TierConfig{},
			&adrewarddomain.Config{},
		); err != nil {
			return err
		}
		return seed.EnsureAdConfigs(conn)
	}),
)
