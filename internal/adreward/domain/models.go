package domain

import (
	"context"
	"errors"
	"time"

	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
)

// Config is the per-tier ad reward tuning row. Absent rows fall back to
// the tier's feature table and the process configuration.
type Config struct {
	Tier            membershipdomain.Tier `gorm:"primaryKey"`
	Enabled         bool
	RewardAmount    int
	DailyLimit      int
	CooldownSeconds int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Config) TableName() string {
	return "ad_configs"
}

type WatchRequest struct {
	UserID      string                    `json:"user_id"`
	Tier        membershipdomain.Tier     `json:"tier"`
	TestAccount bool                      `json:"test_account"`
	Resource    membershipdomain.Resource `json:"resource"`
	CharacterID string                    `json:"character_id"`
}

// WatchGrant is issued before the client plays the ad. The AdID must
// come back in the claim before ExpiresAt.
type WatchGrant struct {
	AdID            string    `json:"ad_id"`
	ExpiresAt       time.Time `json:"expires_at"`
	RewardAmount    int       `json:"reward_amount"`
	DailyLimit      int       `json:"daily_limit"`
	CooldownSeconds int       `json:"cooldown_seconds"`
}

type ClaimRequest struct {
	WatchRequest
	AdID string `json:"ad_id"`
}

type ClaimResult struct {
	AdID            string `json:"ad_id"`
	Granted         int    `json:"granted"`
	BonusRemaining  int    `json:"bonus_remaining"`
	AdsWatchedToday int    `json:"ads_watched_today"`
}

type Service interface {
	// RequestWatch validates that the tier earns ad rewards and issues a
	// short-lived ad identifier.
	RequestWatch(ctx context.Context, req WatchRequest) (*WatchGrant, error)
	// ClaimReward verifies the ad identifier and credits the bonus
	// allowance exactly once per identifier.
	ClaimReward(ctx context.Context, req ClaimRequest) (*ClaimResult, error)
	ClearCache()
}

// Daily-cap and cooldown failures surface the ledger's own errors
// unchanged.
var (
	ErrInvalidAdID     = errors.New("invalid_ad_id")
	ErrAdExpired       = errors.New("ad_expired")
	ErrAdsNotAvailable = errors.New("ads_not_available")
)
