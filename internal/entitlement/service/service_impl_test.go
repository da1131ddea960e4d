package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	entitlementdomain "github.com/lumichat/lumichat/internal/entitlement/domain"
	"github.com/lumichat/lumichat/internal/entitlement/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type unlockerStub struct {
	calls []string
	until time.Time
}

func (u *unlockerStub) UnlockPermanentlyTx(ctx context.Context, tx *gorm.DB, userID, characterID string, durationDays int) (time.Time, error) {
	u.calls = append(u.calls, userID+":"+characterID)
	return u.until, nil
}

func setupEntitlement(t *testing.T) (*Service, *gorm.DB, *unlockerStub) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&entitlementdomain.User{}, &entitlementdomain.CardUsage{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	unlocker := &unlockerStub{until: time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)}
	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     repository.Provide(db),
		Unlocker: unlocker,
	})
	return svc, db, unlocker
}

func seedUser(t *testing.T, db *gorm.DB, user entitlementdomain.User) {
	t.Helper()
	require.NoError(t, db.Create(&user).Error)
}

func TestGetBalancePrecedence(t *testing.T) {
	svc, db, _ := setupEntitlement(t)
	ctx := context.Background()

	// Zero in the newest location must not mask cards held in an older
	// one.
	seedUser(t, db, entitlementdomain.User{
		ID:               "u1",
		UnlockTickets:    datatypes.JSONMap{"photo": 0},
		Assets:           datatypes.JSONMap{"photoUnlockCards": 3},
		PhotoUnlockCards: 5,
	})

	balance, err := svc.GetBalance(ctx, "u1", entitlementdomain.CardPhoto)
	require.NoError(t, err)
	require.Equal(t, 3, balance.Count)
	require.Equal(t, entitlementdomain.LocationAssets, balance.Location)
}

func TestGetBalanceTicketsWin(t *testing.T) {
	svc, db, _ := setupEntitlement(t)

	seedUser(t, db, entitlementdomain.User{
		ID:               "u1",
		UnlockTickets:    datatypes.JSONMap{"photo": 2},
		Assets:           datatypes.JSONMap{"photoUnlockCards": 3},
		PhotoUnlockCards: 5,
	})

	balance, err := svc.GetBalance(context.Background(), "u1", entitlementdomain.CardPhoto)
	require.NoError(t, err)
	require.Equal(t, 2, balance.Count)
	require.Equal(t, entitlementdomain.LocationTickets, balance.Location)
}

func TestGetBalanceLegacyFallback(t *testing.T) {
	svc, db, _ := setupEntitlement(t)

	seedUser(t, db, entitlementdomain.User{
		ID:               "u1",
		PhotoUnlockCards: 4,
	})

	balance, err := svc.GetBalance(context.Background(), "u1", entitlementdomain.CardPhoto)
	require.NoError(t, err)
	require.Equal(t, 4, balance.Count)
	require.Equal(t, entitlementdomain.LocationLegacy, balance.Location)
}

func TestGetBalanceEmpty(t *testing.T) {
	svc, db, _ := setupEntitlement(t)

	seedUser(t, db, entitlementdomain.User{ID: "u1"})

	balance, err := svc.GetBalance(context.Background(), "u1", entitlementdomain.CardVoice)
	require.NoError(t, err)
	require.Equal(t, 0, balance.Count)
}

func TestJSONIntHandlesDriverRepresentations(t *testing.T) {
	// Values stored through some drivers scan back as strings or
	// json.Numbers rather than float64s; all must count the same.
	m := datatypes.JSONMap{
		"float":  float64(3),
		"int":    4,
		"int64":  int64(5),
		"number": json.Number("6"),
		"string": "7",
		"junk":   "many",
	}
	require.Equal(t, 3, jsonInt(m, "float"))
	require.Equal(t, 4, jsonInt(m, "int"))
	require.Equal(t, 5, jsonInt(m, "int64"))
	require.Equal(t, 6, jsonInt(m, "number"))
	require.Equal(t, 7, jsonInt(m, "string"))
	require.Equal(t, 0, jsonInt(m, "junk"))
	require.Equal(t, 0, jsonInt(m, "missing"))
	require.Equal(t, 0, jsonInt(nil, "float"))
}

func TestGetBalanceUnknownUser(t *testing.T) {
	svc, _, _ := setupEntitlement(t)

	_, err := svc.GetBalance(context.Background(), "nobody", entitlementdomain.CardPhoto)
	require.ErrorIs(t, err, entitlementdomain.ErrUserNotFound)
}

func TestSpendDebitsWinningLocationOnly(t *testing.T) {
	svc, db, _ := setupEntitlement(t)
	ctx := context.Background()

	seedUser(t, db, entitlementdomain.User{
		ID:               "u1",
		Assets:           datatypes.JSONMap{"photoUnlockCards": 3},
		PhotoUnlockCards: 5,
	})

	result, err := svc.Spend(ctx, entitlementdomain.SpendRequest{
		UserID:   "u1",
		CardType: entitlementdomain.CardPhoto,
	})
	require.NoError(t, err)
	require.True(t, result.Spent)
	require.Equal(t, 2, result.Remaining)
	require.Equal(t, entitlementdomain.LocationAssets, result.Location)
	require.Nil(t, result.UnlockedUntil)

	var user entitlementdomain.User
	require.NoError(t, db.First(&user, "id = ?", "u1").Error)
	require.EqualValues(t, 2, jsonInt(user.Assets, "photoUnlockCards"))
	// Legacy column untouched.
	require.Equal(t, 5, user.PhotoUnlockCards)

	var usages []entitlementdomain.CardUsage
	require.NoError(t, db.Find(&usages).Error)
	require.Len(t, usages, 1)
	require.Equal(t, entitlementdomain.CardPhoto, usages[0].CardType)
	require.Equal(t, 2, usages[0].Remaining)
}

func TestSpendInsufficient(t *testing.T) {
	svc, db, _ := setupEntitlement(t)

	seedUser(t, db, entitlementdomain.User{ID: "u1"})

	_, err := svc.Spend(context.Background(), entitlementdomain.SpendRequest{
		UserID:   "u1",
		CardType: entitlementdomain.CardVideo,
	})
	require.ErrorIs(t, err, entitlementdomain.ErrInsufficientCards)
}

func TestSpendCharacterCardUnlocks(t *testing.T) {
	svc, db, unlocker := setupEntitlement(t)

	seedUser(t, db, entitlementdomain.User{
		ID:            "u1",
		UnlockTickets: datatypes.JSONMap{"character": 1},
	})

	result, err := svc.Spend(context.Background(), entitlementdomain.SpendRequest{
		UserID:      "u1",
		CardType:    entitlementdomain.CardCharacter,
		CharacterID: "char-9",
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.Remaining)
	require.NotNil(t, result.UnlockedUntil)
	require.Equal(t, unlocker.until, *result.UnlockedUntil)
	require.Equal(t, []string{"u1:char-9"}, unlocker.calls)
}

func TestGrantCreditsWinningLocation(t *testing.T) {
	svc, db, _ := setupEntitlement(t)
	ctx := context.Background()

	seedUser(t, db, entitlementdomain.User{
		ID:            "u1",
		UnlockTickets: datatypes.JSONMap{"photo": 2},
	})

	balance, err := svc.Grant(ctx, entitlementdomain.GrantRequest{
		UserID:   "u1",
		CardType: entitlementdomain.CardPhoto,
		Amount:   3,
	})
	require.NoError(t, err)
	require.Equal(t, 5, balance.Count)
	require.Equal(t, entitlementdomain.LocationTickets, balance.Location)
}

func TestGrantFreshBalanceGoesToAssets(t *testing.T) {
	svc, db, _ := setupEntitlement(t)

	seedUser(t, db, entitlementdomain.User{ID: "u1"})

	balance, err := svc.Grant(context.Background(), entitlementdomain.GrantRequest{
		UserID:   "u1",
		CardType: entitlementdomain.CardVoice,
		Amount:   2,
	})
	require.NoError(t, err)
	require.Equal(t, 2, balance.Count)
	require.Equal(t, entitlementdomain.LocationAssets, balance.Location)

	var usage entitlementdomain.CardUsage
	require.NoError(t, db.First(&usage, "user_id = ?", "u1").Error)
	require.Equal(t, entitlementdomain.ActionGrant, usage.Action)
	require.Equal(t, 2, usage.Amount)
	require.Equal(t, 2, usage.Remaining)
}

func TestHistoryPagination(t *testing.T) {
	svc, db, _ := setupEntitlement(t)
	ctx := context.Background()

	seedUser(t, db, entitlementdomain.User{
		ID:            "u1",
		UnlockTickets: datatypes.JSONMap{"photo": 10},
	})

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := svc.Spend(ctx, entitlementdomain.SpendRequest{
			UserID:   "u1",
			CardType: entitlementdomain.CardPhoto,
		})
		require.NoError(t, err)
		// Distinct created_at values so cursor pagination has a stable
		// order to walk.
		require.NoError(t, db.Model(&entitlementdomain.CardUsage{}).
			Where("remaining = ?", 9-i).
			Update("created_at", base.Add(time.Duration(i)*time.Minute)).Error)
	}

	page, err := svc.History(ctx, entitlementdomain.HistoryRequest{UserID: "u1", PageSize: 3})
	require.NoError(t, err)
	require.Len(t, page.Usages, 3)
	require.NotEmpty(t, page.NextPageToken)
	// Newest first.
	require.Equal(t, 5, page.Usages[0].Remaining)

	next, err := svc.History(ctx, entitlementdomain.HistoryRequest{
		UserID:    "u1",
		PageSize:  3,
		PageToken: page.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, next.Usages, 2)
	require.Empty(t, next.NextPageToken)
}

func TestInTxExhaustedRetriesReportConflict(t *testing.T) {
	svc, _, _ := setupEntitlement(t)

	attempts := 0
	hasDeadline := false
	err := svc.inTx(context.Background(), func(tx *gorm.DB) error {
		attempts++
		// Transactions must carry a bounded deadline.
		_, hasDeadline = tx.Statement.Context.Deadline()
		return gorm.ErrDuplicatedKey
	})
	require.ErrorIs(t, err, entitlementdomain.ErrTransactionConflict)
	require.Equal(t, maxTxRetries, attempts)
	require.True(t, hasDeadline)
}
