package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"regexp"
	"strconv"
	"time"

	adrewarddomain "github.com/lumichat/lumichat/internal/adreward/domain"
	"github.com/lumichat/lumichat/internal/cache"
	"github.com/lumichat/lumichat/internal/clock"
	"github.com/lumichat/lumichat/internal/config"
	"github.com/lumichat/lumichat/internal/idempotency"
	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
	quotadomain "github.com/lumichat/lumichat/internal/quota/domain"
	"github.com/lumichat/lumichat/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Ad identifiers carry their issue time: a millisecond timestamp plus a
// random suffix. The format is shared with mobile clients, do not change
// it without a coordinated release.
var adIDPattern = regexp.MustCompile(`^ad-(\d{13})-[a-z0-9]{8}$`)

const (
	adIDSuffixLen     = 8
	adIDSuffixCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

	// Issue timestamps slightly in the future are tolerated to absorb
	// clock skew between client and server.
	maxFutureSkew = time.Minute

	configCacheTTL = time.Minute
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Cfg   config.Config
	Guard *idempotency.Guard
	Quota quotadomain.Service
	Svc   membershipdomain.Service
}

type Service struct {
	log   *zap.Logger
	clock clock.Clock
	cfg   config.Config
	guard *idempotency.Guard
	quota quotadomain.Service
	svc   membershipdomain.Service
	store repository.Repository[adrewarddomain.Config]

	configs cache.Cache[membershipdomain.Tier, *adrewarddomain.Config]
}

func New(p Params) *Service {
	return &Service{
		log:     p.Log.Named("adreward.service"),
		clock:   p.Clock,
		cfg:     p.Cfg,
		guard:   p.Guard,
		quota:   p.Quota,
		svc:     p.Svc,
		store:   repository.ProvideStore[adrewarddomain.Config](p.DB),
		configs: cache.NewTTLCache[membershipdomain.Tier, *adrewarddomain.Config](),
	}
}

var _ adrewarddomain.Service = (*Service)(nil)

func (s *Service) RequestWatch(ctx context.Context, req adrewarddomain.WatchRequest) (*adrewarddomain.WatchGrant, error) {
	tuning, err := s.tuning(ctx, req.Tier)
	if err != nil {
		return nil, err
	}
	if tuning.RewardAmount <= 0 || !tuning.Enabled {
		return nil, adrewarddomain.ErrAdsNotAvailable
	}

	now := s.clock.Now()
	adID, err := newAdID(now)
	if err != nil {
		return nil, err
	}

	s.log.Debug("ad watch issued",
		zap.String("user_id", req.UserID),
		zap.String("ad_id", adID),
	)
	return &adrewarddomain.WatchGrant{
		AdID:            adID,
		ExpiresAt:       now.Add(s.cfg.AdReward.IDValidWindow),
		RewardAmount:    tuning.RewardAmount,
		DailyLimit:      tuning.DailyLimit,
		CooldownSeconds: tuning.CooldownSeconds,
	}, nil
}

func (s *Service) ClaimReward(ctx context.Context, req adrewarddomain.ClaimRequest) (*adrewarddomain.ClaimResult, error) {
	issuedAt, err := parseAdID(req.AdID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if issuedAt.After(now.Add(maxFutureSkew)) {
		return nil, adrewarddomain.ErrInvalidAdID
	}
	if now.Sub(issuedAt) > s.cfg.AdReward.IDValidWindow {
		return nil, adrewarddomain.ErrAdExpired
	}

	tuning, err := s.tuning(ctx, req.Tier)
	if err != nil {
		return nil, err
	}
	if tuning.RewardAmount <= 0 || !tuning.Enabled {
		return nil, adrewarddomain.ErrAdsNotAvailable
	}

	// The identifier is the idempotency key: replayed claims for the
	// same ad return the original grant instead of crediting twice.
	key := "ad-reward:" + req.AdID
	unlock, err := idempotency.Run(ctx, s.guard, key, s.cfg.AdReward.IDValidWindow,
		func(ctx context.Context) (*quotadomain.AdUnlockResult, error) {
			return s.quota.UnlockByAd(ctx, quotadomain.AdUnlockRequest{
				Request: quotadomain.Request{
					UserID:      req.UserID,
					Resource:    req.Resource,
					CharacterID: req.CharacterID,
					Tier:        req.Tier,
					TestAccount: req.TestAccount,
				},
				Amount:       tuning.RewardAmount,
				DailyAdLimit: tuning.DailyLimit,
				Cooldown:     time.Duration(tuning.CooldownSeconds) * time.Second,
			})
		})
	if err != nil {
		return nil, err
	}

	return &adrewarddomain.ClaimResult{
		AdID:            req.AdID,
		Granted:         unlock.Granted,
		BonusRemaining:  unlock.BonusRemaining,
		AdsWatchedToday: unlock.AdsWatchedToday,
	}, nil
}

func (s *Service) ClearCache() {
	s.configs.Purge()
}

// tuning resolves the effective ad reward settings for a tier: the
// feature table supplies reward amount and daily cap, the process
// config the cooldown, and an ad_configs row overrides any of them.
func (s *Service) tuning(ctx context.Context, tier membershipdomain.Tier) (*adrewarddomain.Config, error) {
	if !tier.Valid() {
		tier = membershipdomain.TierFree
	}
	if cached, ok := s.configs.Get(tier); ok {
		return cached, nil
	}

	features, err := s.svc.Features(ctx, tier)
	if err != nil {
		return nil, err
	}
	tuning := &adrewarddomain.Config{
		Tier:            tier,
		Enabled:         features.UnlockedMessagesPerAd > 0,
		RewardAmount:    features.UnlockedMessagesPerAd,
		DailyLimit:      features.DailyAdLimit,
		CooldownSeconds: s.cfg.AdReward.CooldownSeconds,
	}

	row, err := s.store.FindOne(ctx, &adrewarddomain.Config{Tier: tier})
	if err != nil {
		return nil, err
	}
	if row != nil {
		tuning.Enabled = row.Enabled
		if row.RewardAmount > 0 {
			tuning.RewardAmount = row.RewardAmount
		}
		if row.DailyLimit > 0 {
			tuning.DailyLimit = row.DailyLimit
		}
		if row.CooldownSeconds > 0 {
			tuning.CooldownSeconds = row.CooldownSeconds
		}
	}

	s.configs.Set(tier, tuning, configCacheTTL)
	return tuning, nil
}

func newAdID(now time.Time) (string, error) {
	buf := make([]byte, adIDSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = adIDSuffixCharset[int(b)%len(adIDSuffixCharset)]
	}
	return fmt.Sprintf("ad-%d-%s", now.UnixMilli(), buf), nil
}

func parseAdID(adID string) (time.Time, error) {
	match := adIDPattern.FindStringSubmatch(adID)
	if match == nil {
		return time.Time{}, adrewarddomain.ErrInvalidAdID
	}
	ms, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return time.Time{}, adrewarddomain.ErrInvalidAdID
	}
	return time.UnixMilli(ms), nil
}
