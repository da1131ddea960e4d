package domain

import (
	"context"
	"errors"
	"time"

	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
)

// Request identifies one ledger entry together with the caller's
// membership context. Tier and TestAccount come from the authenticated
// identity (auth is an external collaborator).
type Request struct {
	UserID      string                    `json:"user_id"`
	Resource    membershipdomain.Resource `json:"resource"`
	CharacterID string                    `json:"character_id"`
	Tier        membershipdomain.Tier     `json:"tier"`
	TestAccount bool                      `json:"test_account"`
}

// Decision is the outcome of a read-only allowance check.
type Decision struct {
	Allowed         bool                  `json:"allowed"`
	Used            int                   `json:"used"`
	Limit           int                   `json:"limit"`
	Bonus           int                   `json:"bonus"`
	Remaining       int                   `json:"remaining"`
	Unlimited       bool                  `json:"unlimited"`
	PermanentUnlock bool                  `json:"permanent_unlock"`
	UnlockedUntil   *time.Time            `json:"unlocked_until,omitempty"`
	Tier            membershipdomain.Tier `json:"tier"`
}

// UseResult reports the ledger state after a recorded (or rolled back) use.
type UseResult struct {
	Count     int `json:"count"`
	Limit     int `json:"limit"`
	Bonus     int `json:"bonus"`
	Remaining int `json:"remaining"`
}

type AdUnlockRequest struct {
	Request
	// Amount of extra uses granted by one ad. Zero means "use the tier's
	// configured per-ad grant".
	Amount        int           `json:"amount"`
	DailyAdLimit  int           `json:"daily_ad_limit"`
	Cooldown      time.Duration `json:"-"`
}

type AdUnlockResult struct {
	Granted         int    `json:"granted"`
	BonusRemaining  int    `json:"bonus_remaining"`
	AdsWatchedToday int    `json:"ads_watched_today"`
	AdWatchDate     string `json:"ad_watch_date"`
}

type PermanentUnlockRequest struct {
	Request
	DurationDays int `json:"duration_days"`
}

type PermanentUnlockResult struct {
	UnlockedUntil time.Time `json:"unlocked_until"`
}

// Stats is the read-only aggregate for display.
type Stats struct {
	Decision
	StandardLimit   int         `json:"standard_limit"`
	TestAccount     bool        `json:"test_account"`
	LifetimeUsed    int         `json:"lifetime_used"`
	AdsWatchedToday int         `json:"ads_watched_today"`
	LastResetAt     *time.Time  `json:"last_reset_at,omitempty"`
	ResetPolicy     ResetPolicy `json:"reset_policy"`
}

// AllStats is the per-character breakdown for a per-character resource.
type AllStats struct {
	Tier       membershipdomain.Tier `json:"tier"`
	Limit      int                   `json:"limit_per_character"`
	Unlimited  bool                  `json:"unlimited"`
	Characters map[string]Stats      `json:"characters"`
}

type Service interface {
	// CanUse never writes: a due reset is reflected in the returned view
	// only, and persisted by the next mutating call.
	CanUse(ctx context.Context, req Request) (*Decision, error)
	// RecordUse re-checks reset and limit inside the transaction before
	// incrementing; a prior CanUse result is never trusted.
	RecordUse(ctx context.Context, req Request) (*UseResult, error)
	// DecrementUse rolls back one recorded use after a failed downstream
	// operation. The count never goes below zero.
	DecrementUse(ctx context.Context, req Request) (*UseResult, error)
	UnlockByAd(ctx context.Context, req AdUnlockRequest) (*AdUnlockResult, error)
	UnlockPermanently(ctx context.Context, req PermanentUnlockRequest) (*PermanentUnlockResult, error)
	// Reset force-zeroes the counter regardless of policy (admin).
	Reset(ctx context.Context, req Request) error
	GetStats(ctx context.Context, req Request) (*Stats, error)
	GetAllStats(ctx context.Context, req Request) (*AllStats, error)
}

var (
	ErrLimitExceeded       = errors.New("limit_exceeded")
	ErrDailyAdCapReached   = errors.New("daily_ad_cap_reached")
	ErrAdCooldown          = errors.New("ad_cooldown")
	ErrTransactionConflict = errors.New("transaction_conflict")
	ErrNotFound            = errors.New("not_found")
	ErrInvalidResource     = errors.New("invalid_resource")
	ErrCharacterRequired   = errors.New("character_required")
	ErrGuestNotAllowed     = errors.New("guest_not_allowed")
)
