package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lumichat/lumichat/internal/cache"
	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tierConfigTTL = 1 * time.Minute

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	tiers cache.Cache[membershipdomain.Tier, membershipdomain.FeatureLimits]
}

func New(p Params) membershipdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("membership.service"),
		tiers: cache.NewTTLCache[membershipdomain.Tier, membershipdomain.FeatureLimits](),
	}
}

func (s *Service) ResolveLimit(ctx context.Context, req membershipdomain.ResolveRequest) (membershipdomain.Resolution, error) {
	if !req.Resource.Valid() {
		return membershipdomain.Resolution{}, membershipdomain.ErrInvalidResource
	}

	tier := req.Tier
	if !tier.Valid() {
		// A misconfigured tier must not lock the user out. Fall back to
		// the free tier's limits and make it visible in logs.
		s.log.Warn("unknown membership tier, falling back to free",
			zap.String("tier", string(req.Tier)),
			zap.String("user_id", req.UserID),
		)
		tier = membershipdomain.TierFree
	}

	features, err := s.Features(ctx, tier)
	if err != nil {
		return membershipdomain.Resolution{}, err
	}
	standard := features.LimitFor(req.Resource)

	limit := standard
	if req.TestAccount || tier == membershipdomain.TierTest {
		limit = membershipdomain.TestAccountLimits.LimitFor(req.Resource)
	}

	return membershipdomain.Resolution{
		Tier:          tier,
		Limit:         limit,
		StandardLimit: standard,
		Unlimited:     limit == membershipdomain.Unlimited,
		TestAccount:   req.TestAccount || tier == membershipdomain.TierTest,
	}, nil
}

func (s *Service) Features(ctx context.Context, tier membershipdomain.Tier) (membershipdomain.FeatureLimits, error) {
	if tier == membershipdomain.TierTest {
		return membershipdomain.TestAccountLimits, nil
	}

	if cached, ok := s.tiers.Get(tier); ok {
		return cached, nil
	}

	features, ok := membershipdomain.DefaultTiers[tier]
	if !ok {
		features = membershipdomain.DefaultTiers[membershipdomain.TierFree]
	}

	var row membershipdomain.TierConfig
	err := s.db.WithContext(ctx).Where("tier = ?", tier).First(&row).Error
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(row.Limits, &features); jsonErr != nil {
			s.log.Warn("invalid tier config override, using defaults",
				zap.String("tier", string(tier)),
				zap.Error(jsonErr),
			)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		// no override stored
	default:
		return membershipdomain.FeatureLimits{}, err
	}

	s.tiers.Set(tier, features, tierConfigTTL)
	return features, nil
}

func (s *Service) ClearCache(tiers ...membershipdomain.Tier) {
	if len(tiers) == 0 {
		for tier := range membershipdomain.DefaultTiers {
			s.tiers.Delete(tier)
		}
		return
	}
	for _, tier := range tiers {
		s.tiers.Delete(tier)
	}
}
