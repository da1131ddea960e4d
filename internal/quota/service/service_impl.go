package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lumichat/lumichat/internal/clock"
	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
	obsmetrics "github.com/lumichat/lumichat/internal/observability/metrics"
	quotadomain "github.com/lumichat/lumichat/internal/quota/domain"
	pkgdb "github.com/lumichat/lumichat/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxTxRetries = 3
	txTimeout    = 5 * time.Second
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          quotadomain.Repository
	MembershipSvc membershipdomain.Service
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    quotadomain.Repository
	svc     membershipdomain.Service
	metrics *obsmetrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("quota.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		svc:     p.MembershipSvc,
		metrics: p.Metrics,
	}
}

var _ quotadomain.Service = (*Service)(nil)

func (s *Service) CanUse(ctx context.Context, req quotadomain.Request) (*quotadomain.Decision, error) {
	req, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	res, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	entry, err := s.repo.Get(ctx, req.UserID, req.Resource, req.CharacterID)
	if err != nil {
		return nil, err
	}

	decision := s.decide(entry, res, req.Resource)
	return &decision, nil
}

func (s *Service) RecordUse(ctx context.Context, req quotadomain.Request) (*quotadomain.UseResult, error) {
	req, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	res, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	var result quotadomain.UseResult
	err = s.inTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		entry, err := s.lockOrCreate(ctx, repo, req)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		policy := quotadomain.PolicyFor(req.Resource)
		if quotadomain.ShouldReset(entry.LastResetAt, policy, now) {
			entry.ApplyReset(now)
		}

		// The allowance is re-checked under the row lock: a concurrent
		// request may have consumed the last slot since any prior CanUse.
		decision := s.decideLocked(entry, res, now)
		if !decision.Allowed {
			if s.metrics != nil {
				s.metrics.QuotaDenials.WithLabelValues(string(req.Resource), "limit_exceeded").Inc()
			}
			return quotadomain.ErrLimitExceeded
		}

		entry.Count++
		entry.LifetimeCount++
		used := now
		entry.LastUsedAt = &used

		if err := repo.Save(ctx, entry); err != nil {
			return err
		}

		result = quotadomain.UseResult{
			Count:     entry.Count,
			Limit:     res.Limit,
			Bonus:     entry.BonusRemaining,
			Remaining: remaining(entry.Count, res.Limit, entry.BonusRemaining, res.Unlimited),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.QuotaUses.WithLabelValues(string(req.Resource)).Inc()
	}
	return &result, nil
}

func (s *Service) DecrementUse(ctx context.Context, req quotadomain.Request) (*quotadomain.UseResult, error) {
	req, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	res, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	var result quotadomain.UseResult
	err = s.inTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		entry, err := s.lockOrCreate(ctx, repo, req)
		if err != nil {
			return err
		}

		if entry.Count > 0 {
			entry.Count--
		}
		if entry.LifetimeCount > 0 {
			entry.LifetimeCount--
		}

		if err := repo.Save(ctx, entry); err != nil {
			return err
		}

		result = quotadomain.UseResult{
			Count:     entry.Count,
			Limit:     res.Limit,
			Bonus:     entry.BonusRemaining,
			Remaining: remaining(entry.Count, res.Limit, entry.BonusRemaining, res.Unlimited),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Service) UnlockByAd(ctx context.Context, req quotadomain.AdUnlockRequest) (*quotadomain.AdUnlockResult, error) {
	base, err := s.validate(req.Request)
	if err != nil {
		return nil, err
	}
	req.Request = base

	features, err := s.svc.Features(ctx, effectiveTier(req.Tier))
	if err != nil {
		return nil, err
	}

	amount := req.Amount
	if amount <= 0 {
		amount = features.UnlockedMessagesPerAd
	}
	if amount <= 0 {
		return nil, quotadomain.ErrLimitExceeded
	}
	dailyLimit := req.DailyAdLimit
	if dailyLimit <= 0 {
		dailyLimit = features.DailyAdLimit
	}

	var result quotadomain.AdUnlockResult
	err = s.inTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		entry, err := s.lockOrCreate(ctx, repo, req.Request)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		policy := quotadomain.PolicyFor(req.Resource)
		if quotadomain.ShouldReset(entry.LastResetAt, policy, now) {
			entry.ApplyReset(now)
		}

		// The daily ad counter is account-wide: watching on another
		// character or resource draws from the same allowance. It rolls
		// over at the calendar-day boundary independently of the
		// resource's own reset policy.
		watch, err := s.lockOrCreateAdWatch(ctx, repo, req.UserID)
		if err != nil {
			return err
		}
		today := quotadomain.DayKey(now)
		if watch.Date != today {
			watch.Date = today
			watch.Count = 0
		}

		if req.Cooldown > 0 && watch.LastWatchAt != nil &&
			now.Sub(*watch.LastWatchAt) < req.Cooldown {
			return quotadomain.ErrAdCooldown
		}

		if dailyLimit > 0 && watch.Count >= dailyLimit {
			if s.metrics != nil {
				s.metrics.QuotaDenials.WithLabelValues(string(req.Resource), "daily_ad_cap").Inc()
			}
			return quotadomain.ErrDailyAdCapReached
		}

		entry.BonusRemaining += amount
		watch.Count++
		watched := now
		watch.LastWatchAt = &watched

		if err := repo.Save(ctx, entry); err != nil {
			return err
		}
		if err := repo.SaveAdWatch(ctx, watch); err != nil {
			return err
		}

		result = quotadomain.AdUnlockResult{
			Granted:         amount,
			BonusRemaining:  entry.BonusRemaining,
			AdsWatchedToday: watch.Count,
			AdWatchDate:     watch.Date,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.AdUnlocks.WithLabelValues(string(req.Resource)).Inc()
	}
	return &result, nil
}

func (s *Service) UnlockPermanently(ctx context.Context, req quotadomain.PermanentUnlockRequest) (*quotadomain.PermanentUnlockResult, error) {
	base, err := s.validate(req.Request)
	if err != nil {
		return nil, err
	}
	req.Request = base
	if req.DurationDays <= 0 {
		req.DurationDays = 7
	}

	var until time.Time
	err = s.inTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		until, txErr = s.applyPermanentUnlock(ctx, tx, req.Request, req.DurationDays)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return &quotadomain.PermanentUnlockResult{UnlockedUntil: until}, nil
}

// UnlockPermanentlyTx applies a conversation unlock for a character inside
// an existing transaction. The entitlement service uses it so a spent
// character card and the unlock it buys commit atomically.
func (s *Service) UnlockPermanentlyTx(ctx context.Context, tx *gorm.DB, userID, characterID string, durationDays int) (time.Time, error) {
	if durationDays <= 0 {
		durationDays = 7
	}
	req := quotadomain.Request{
		UserID:      userID,
		Resource:    membershipdomain.ResourceConversation,
		CharacterID: characterID,
	}
	return s.applyPermanentUnlock(ctx, tx, req, durationDays)
}

func (s *Service) applyPermanentUnlock(ctx context.Context, tx *gorm.DB, req quotadomain.Request, durationDays int) (time.Time, error) {
	repo := s.repo.WithTrx(tx)
	entry, err := s.lockOrCreate(ctx, repo, req)
	if err != nil {
		return time.Time{}, err
	}

	until := s.clock.Now().Add(time.Duration(durationDays) * 24 * time.Hour)
	entry.UnlockedUntil = &until

	if err := repo.Save(ctx, entry); err != nil {
		return time.Time{}, err
	}

	s.log.Info("permanent unlock applied",
		zap.String("user_id", req.UserID),
		zap.String("character_id", req.CharacterID),
		zap.Time("unlocked_until", until),
	)
	return until, nil
}

func (s *Service) Reset(ctx context.Context, req quotadomain.Request) error {
	req, err := s.validate(req)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		entry, err := s.lockOrCreate(ctx, repo, req)
		if err != nil {
			return err
		}

		entry.ApplyReset(s.clock.Now())
		entry.UnlockedUntil = nil

		if err := repo.Save(ctx, entry); err != nil {
			return err
		}

		// A support reset clears the account-wide daily ad counter too.
		watch, err := repo.GetAdWatchForUpdate(ctx, req.UserID)
		if err != nil || watch == nil {
			return err
		}
		watch.Count = 0
		return repo.SaveAdWatch(ctx, watch)
	})
}

func (s *Service) GetStats(ctx context.Context, req quotadomain.Request) (*quotadomain.Stats, error) {
	req, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	res, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	entry, err := s.repo.Get(ctx, req.UserID, req.Resource, req.CharacterID)
	if err != nil {
		return nil, err
	}

	watch, err := s.repo.GetAdWatch(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	stats := s.buildStats(entry, watch, res, req.Resource)
	return &stats, nil
}

func (s *Service) GetAllStats(ctx context.Context, req quotadomain.Request) (*quotadomain.AllStats, error) {
	if !req.Resource.Valid() {
		return nil, quotadomain.ErrInvalidResource
	}
	if !req.Resource.PerCharacter() {
		return nil, quotadomain.ErrInvalidResource
	}

	res, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	entries, err := s.repo.ListByUser(ctx, req.UserID, req.Resource)
	if err != nil {
		return nil, err
	}

	watch, err := s.repo.GetAdWatch(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	characters := make(map[string]quotadomain.Stats, len(entries))
	for _, entry := range entries {
		characters[entry.CharacterID] = s.buildStats(entry, watch, res, req.Resource)
	}

	return &quotadomain.AllStats{
		Tier:       res.Tier,
		Limit:      res.Limit,
		Unlimited:  res.Unlimited,
		Characters: characters,
	}, nil
}

func (s *Service) validate(req quotadomain.Request) (quotadomain.Request, error) {
	if req.UserID == "" {
		return req, quotadomain.ErrNotFound
	}
	if !req.Resource.Valid() {
		return req, quotadomain.ErrInvalidResource
	}
	if req.Resource.PerCharacter() {
		if req.CharacterID == "" {
			return req, quotadomain.ErrCharacterRequired
		}
	} else {
		req.CharacterID = ""
	}
	if req.Tier == membershipdomain.TierGuest && !req.Resource.GuestAllowed() {
		return req, quotadomain.ErrGuestNotAllowed
	}
	return req, nil
}

func (s *Service) resolve(ctx context.Context, req quotadomain.Request) (membershipdomain.Resolution, error) {
	return s.svc.ResolveLimit(ctx, membershipdomain.ResolveRequest{
		UserID:      req.UserID,
		Tier:        req.Tier,
		Resource:    req.Resource,
		TestAccount: req.TestAccount,
	})
}

// decide builds a read-only decision. A due reset is applied to the view
// without writing; persistence happens in the next mutating call.
func (s *Service) decide(entry *quotadomain.Entry, res membershipdomain.Resolution, resource membershipdomain.Resource) quotadomain.Decision {
	now := s.clock.Now()
	view := quotadomain.Entry{}
	if entry != nil {
		view = *entry
	}
	if quotadomain.ShouldReset(view.LastResetAt, quotadomain.PolicyFor(resource), now) {
		view.Count = 0
		view.BonusRemaining = 0
	}
	return s.decideLocked(&view, res, now)
}

func (s *Service) decideLocked(entry *quotadomain.Entry, res membershipdomain.Resolution, now time.Time) quotadomain.Decision {
	decision := quotadomain.Decision{
		Used:          entry.Count,
		Limit:         res.Limit,
		Bonus:         entry.BonusRemaining,
		Unlimited:     res.Unlimited,
		Tier:          res.Tier,
		UnlockedUntil: entry.UnlockedUntil,
	}

	switch {
	case entry.PermanentlyUnlocked(now):
		decision.Allowed = true
		decision.PermanentUnlock = true
		decision.Remaining = remaining(entry.Count, res.Limit, entry.BonusRemaining, res.Unlimited)
	case res.Unlimited:
		decision.Allowed = true
		decision.Remaining = membershipdomain.Unlimited
	default:
		decision.Allowed = entry.Count < res.Limit+entry.BonusRemaining
		decision.Remaining = remaining(entry.Count, res.Limit, entry.BonusRemaining, res.Unlimited)
	}
	return decision
}

func (s *Service) buildStats(entry *quotadomain.Entry, watch *quotadomain.AdWatch, res membershipdomain.Resolution, resource membershipdomain.Resource) quotadomain.Stats {
	stats := quotadomain.Stats{
		Decision:      s.decide(entry, res, resource),
		StandardLimit: res.StandardLimit,
		TestAccount:   res.TestAccount,
		ResetPolicy:   quotadomain.PolicyFor(resource),
	}
	if entry != nil {
		stats.LifetimeUsed = entry.LifetimeCount
		stats.LastResetAt = entry.LastResetAt
	}
	if watch != nil && watch.Date == quotadomain.DayKey(s.clock.Now()) {
		stats.AdsWatchedToday = watch.Count
	}
	return stats
}

func (s *Service) lockOrCreate(ctx context.Context, repo quotadomain.Repository, req quotadomain.Request) (*quotadomain.Entry, error) {
	entry, err := repo.GetForUpdate(ctx, req.UserID, req.Resource, req.CharacterID)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		return entry, nil
	}

	// The period starts at first use; without this stamp the entry would
	// never be considered due for a reset.
	start := s.clock.Now()
	entry = &quotadomain.Entry{
		ID:          s.genID.Generate(),
		UserID:      req.UserID,
		Resource:    req.Resource,
		CharacterID: req.CharacterID,
		LastResetAt: &start,
	}
	// A concurrent first use may insert the same identity; the unique
	// index turns that into a retryable conflict.
	if err := repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) lockOrCreateAdWatch(ctx context.Context, repo quotadomain.Repository, userID string) (*quotadomain.AdWatch, error) {
	watch, err := repo.GetAdWatchForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if watch != nil {
		return watch, nil
	}

	watch = &quotadomain.AdWatch{UserID: userID}
	if err := repo.CreateAdWatch(ctx, watch); err != nil {
		return nil, err
	}
	return watch, nil
}

// inTx runs fn inside a bounded transaction, retrying the whole
// read-check-write on transient conflicts. A timed-out transaction is a
// failure, never "probably applied".
func (s *Service) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	var err error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn)
		if err == nil || !pkgdb.IsRetryableTxErr(err) {
			return err
		}
		if s.metrics != nil {
			s.metrics.TxRetries.Inc()
		}
		s.log.Debug("ledger transaction conflict, retrying", zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("%w: %v", quotadomain.ErrTransactionConflict, err)
}

func effectiveTier(tier membershipdomain.Tier) membershipdomain.Tier {
	if !tier.Valid() {
		return membershipdomain.TierFree
	}
	return tier
}

func remaining(count, limit, bonus int, unlimited bool) int {
	if unlimited {
		return membershipdomain.Unlimited
	}
	left := limit + bonus - count
	if left < 0 {
		return 0
	}
	return left
}
