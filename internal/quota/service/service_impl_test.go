package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/lumichat/lumichat/internal/clock"
	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
	membershipservice "github.com/lumichat/lumichat/internal/membership/service"
	quotadomain "github.com/lumichat/lumichat/internal/quota/domain"
	"github.com/lumichat/lumichat/internal/quota/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupQuotaService(t *testing.T, clk clock.Clock) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	require.NoError(t, db.Exec("PRAGMA busy_timeout = 5000").Error)

	require.NoError(t, db.AutoMigrate(&quotadomain.Entry{}, &quotadomain.AdWatch{}, &membershipdomain.TierConfig{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	membership := membershipservice.New(membershipservice.Params{
		DB:  db,
		Log: zap.NewNop(),
	})

	svc := New(Params{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clk,
		Repo:          repository.Provide(db),
		MembershipSvc: membership,
	})
	return svc, db
}

func freeConversation(userID, characterID string) quotadomain.Request {
	return quotadomain.Request{
		UserID:      userID,
		Resource:    membershipdomain.ResourceConversation,
		CharacterID: characterID,
		Tier:        membershipdomain.TierFree,
	}
}

func TestRecordUseUntilLimit(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()
	req := freeConversation("u1", "char-1")

	// Free tier allows 10 messages per character per day.
	for i := 1; i <= 10; i++ {
		use, err := svc.RecordUse(ctx, req)
		require.NoError(t, err)
		require.Equal(t, i, use.Count)
		require.Equal(t, 10-i, use.Remaining)
	}

	_, err := svc.RecordUse(ctx, req)
	require.ErrorIs(t, err, quotadomain.ErrLimitExceeded)

	decision, err := svc.CanUse(ctx, req)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, 10, decision.Used)
}

func TestCanUseDoesNotWrite(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	svc, db := setupQuotaService(t, clk)
	ctx := context.Background()

	decision, err := svc.CanUse(ctx, freeConversation("u1", "char-1"))
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, 0, decision.Used)
	require.Equal(t, 10, decision.Remaining)

	var count int64
	require.NoError(t, db.Model(&quotadomain.Entry{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestDailyResetRollsOver(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()
	req := freeConversation("u1", "char-1")

	for i := 0; i < 10; i++ {
		_, err := svc.RecordUse(ctx, req)
		require.NoError(t, err)
	}
	_, err := svc.RecordUse(ctx, req)
	require.ErrorIs(t, err, quotadomain.ErrLimitExceeded)

	// Next calendar day: the counter is fresh again, visible without any
	// write having happened.
	clk.Advance(2 * time.Hour)

	decision, err := svc.CanUse(ctx, req)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, 0, decision.Used)

	use, err := svc.RecordUse(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 1, use.Count)

	// Lifetime count survives the reset.
	stats, err := svc.GetStats(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 11, stats.LifetimeUsed)
}

func TestResetForfeitsBonus(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()
	req := freeConversation("u1", "char-1")

	_, err := svc.RecordUse(ctx, req)
	require.NoError(t, err)

	unlock, err := svc.UnlockByAd(ctx, quotadomain.AdUnlockRequest{Request: req, Amount: 5})
	require.NoError(t, err)
	require.Equal(t, 5, unlock.BonusRemaining)

	clk.Advance(24 * time.Hour)

	decision, err := svc.CanUse(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 0, decision.Bonus)
	require.Equal(t, 10, decision.Remaining)
}

func TestBonusExtendsLimit(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()
	req := freeConversation("u1", "char-1")

	for i := 0; i < 10; i++ {
		_, err := svc.RecordUse(ctx, req)
		require.NoError(t, err)
	}

	unlock, err := svc.UnlockByAd(ctx, quotadomain.AdUnlockRequest{Request: req, Amount: 5})
	require.NoError(t, err)
	require.Equal(t, 5, unlock.Granted)

	for i := 0; i < 5; i++ {
		_, err := svc.RecordUse(ctx, req)
		require.NoError(t, err)
	}
	_, err = svc.RecordUse(ctx, req)
	require.ErrorIs(t, err, quotadomain.ErrLimitExceeded)
}

func TestUnlockByAdDailyCapAndCooldown(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()
	req := freeConversation("u1", "char-1")

	adReq := quotadomain.AdUnlockRequest{
		Request:      req,
		Amount:       5,
		DailyAdLimit: 3,
		Cooldown:     time.Minute,
	}

	for i := 1; i <= 3; i++ {
		clk.Advance(2 * time.Minute)
		unlock, err := svc.UnlockByAd(ctx, adReq)
		require.NoError(t, err)
		require.Equal(t, i, unlock.AdsWatchedToday)
	}

	clk.Advance(2 * time.Minute)
	_, err := svc.UnlockByAd(ctx, adReq)
	require.ErrorIs(t, err, quotadomain.ErrDailyAdCapReached)

	// The watch counter resets with the calendar day.
	clk.Advance(24 * time.Hour)
	unlock, err := svc.UnlockByAd(ctx, adReq)
	require.NoError(t, err)
	require.Equal(t, 1, unlock.AdsWatchedToday)

	// Cooldown blocks an immediate follow-up watch.
	clk.Advance(10 * time.Second)
	_, err = svc.UnlockByAd(ctx, adReq)
	require.ErrorIs(t, err, quotadomain.ErrAdCooldown)
}

func TestUnlockByAdDailyCapIsPerUser(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()

	adReq := func(characterID string) quotadomain.AdUnlockRequest {
		return quotadomain.AdUnlockRequest{
			Request:      freeConversation("u1", characterID),
			Amount:       5,
			DailyAdLimit: 3,
		}
	}

	for i := 1; i <= 3; i++ {
		unlock, err := svc.UnlockByAd(ctx, adReq("char-1"))
		require.NoError(t, err)
		require.Equal(t, i, unlock.AdsWatchedToday)
	}

	// The cap counts watches for the whole account, so switching
	// characters must not open a fresh allowance.
	_, err := svc.UnlockByAd(ctx, adReq("char-2"))
	require.ErrorIs(t, err, quotadomain.ErrDailyAdCapReached)

	// The second character never earned a bonus.
	decision, err := svc.CanUse(ctx, freeConversation("u1", "char-2"))
	require.NoError(t, err)
	require.Equal(t, 0, decision.Bonus)

	// Stats report the account-wide count from any character's view.
	stats, err := svc.GetStats(ctx, freeConversation("u1", "char-2"))
	require.NoError(t, err)
	require.Equal(t, 3, stats.AdsWatchedToday)

	// Another account still has its own allowance.
	other := quotadomain.AdUnlockRequest{
		Request:      freeConversation("u2", "char-1"),
		Amount:       5,
		DailyAdLimit: 3,
	}
	unlock, err := svc.UnlockByAd(ctx, other)
	require.NoError(t, err)
	require.Equal(t, 1, unlock.AdsWatchedToday)
}

func TestUnlockPermanentlyBypassesLimit(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()
	req := freeConversation("u1", "char-1")

	for i := 0; i < 10; i++ {
		_, err := svc.RecordUse(ctx, req)
		require.NoError(t, err)
	}
	_, err := svc.RecordUse(ctx, req)
	require.ErrorIs(t, err, quotadomain.ErrLimitExceeded)

	result, err := svc.UnlockPermanently(ctx, quotadomain.PermanentUnlockRequest{Request: req, DurationDays: 7})
	require.NoError(t, err)
	require.Equal(t, clk.Now().Add(7*24*time.Hour), result.UnlockedUntil)

	use, err := svc.RecordUse(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 11, use.Count)

	// Unlock only covers the one character.
	_, err = svc.CanUse(ctx, freeConversation("u1", "char-2"))
	require.NoError(t, err)

	// After expiry the limit applies again.
	clk.Advance(8 * 24 * time.Hour)
	decision, err := svc.CanUse(ctx, req)
	require.NoError(t, err)
	require.False(t, decision.PermanentUnlock)
}

func TestDecrementUseFloorsAtZero(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()
	req := freeConversation("u1", "char-1")

	use, err := svc.DecrementUse(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 0, use.Count)

	_, err = svc.RecordUse(ctx, req)
	require.NoError(t, err)

	use, err = svc.DecrementUse(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 0, use.Count)
	require.Equal(t, 10, use.Remaining)
}

func TestGuestLimits(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()

	req := freeConversation("g1", "char-1")
	req.Tier = membershipdomain.TierGuest

	for i := 0; i < 2; i++ {
		_, err := svc.RecordUse(ctx, req)
		require.NoError(t, err)
	}
	_, err := svc.RecordUse(ctx, req)
	require.ErrorIs(t, err, quotadomain.ErrLimitExceeded)

	photo := quotadomain.Request{
		UserID:   "g1",
		Resource: membershipdomain.ResourcePhoto,
		Tier:     membershipdomain.TierGuest,
	}
	_, err = svc.CanUse(ctx, photo)
	require.ErrorIs(t, err, quotadomain.ErrGuestNotAllowed)
}

func TestTestAccountUnlimited(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()

	req := freeConversation("qa-1", "char-1")
	req.TestAccount = true

	for i := 0; i < 50; i++ {
		_, err := svc.RecordUse(ctx, req)
		require.NoError(t, err)
	}

	decision, err := svc.CanUse(ctx, req)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.True(t, decision.Unlimited)
	require.Equal(t, membershipdomain.Unlimited, decision.Remaining)
}

func TestCharacterRequired(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)

	_, err := svc.CanUse(context.Background(), freeConversation("u1", ""))
	require.ErrorIs(t, err, quotadomain.ErrCharacterRequired)
}

func TestGetAllStats(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.RecordUse(ctx, freeConversation("u1", "char-1"))
		require.NoError(t, err)
	}
	_, err := svc.RecordUse(ctx, freeConversation("u1", "char-2"))
	require.NoError(t, err)

	all, err := svc.GetAllStats(ctx, freeConversation("u1", ""))
	require.NoError(t, err)
	require.Equal(t, membershipdomain.TierFree, all.Tier)
	require.Equal(t, 10, all.Limit)
	require.Len(t, all.Characters, 2)
	require.Equal(t, 3, all.Characters["char-1"].Used)
	require.Equal(t, 1, all.Characters["char-2"].Used)

	// Global resources have no per-character breakdown.
	photo := quotadomain.Request{UserID: "u1", Resource: membershipdomain.ResourcePhoto, Tier: membershipdomain.TierFree}
	_, err = svc.GetAllStats(ctx, photo)
	require.ErrorIs(t, err, quotadomain.ErrInvalidResource)
}

func TestAdminResetClearsEverything(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()
	req := freeConversation("u1", "char-1")

	for i := 0; i < 5; i++ {
		_, err := svc.RecordUse(ctx, req)
		require.NoError(t, err)
	}
	_, err := svc.UnlockPermanently(ctx, quotadomain.PermanentUnlockRequest{Request: req, DurationDays: 7})
	require.NoError(t, err)
	_, err = svc.UnlockByAd(ctx, quotadomain.AdUnlockRequest{Request: req, Amount: 5})
	require.NoError(t, err)

	require.NoError(t, svc.Reset(ctx, req))

	stats, err := svc.GetStats(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Used)
	require.False(t, stats.PermanentUnlock)
	require.Equal(t, 0, stats.AdsWatchedToday)
}

func TestConcurrentRecordUseNeverOverGrants(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, db := setupQuotaService(t, clk)
	ctx := context.Background()
	req := freeConversation("u1", "char-1")

	const workers = 20

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordUse(ctx, req)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	granted, denied := 0, 0
	for err := range results {
		switch {
		case err == nil:
			granted++
		case errors.Is(err, quotadomain.ErrLimitExceeded):
			denied++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 10, granted)
	require.Equal(t, workers-10, denied)

	var entry quotadomain.Entry
	require.NoError(t, db.Where("user_id = ?", "u1").First(&entry).Error)
	require.Equal(t, 10, entry.Count)
}
