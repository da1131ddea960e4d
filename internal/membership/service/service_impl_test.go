package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupMembership(t *testing.T) (membershipdomain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&membershipdomain.TierConfig{}))

	return New(Params{DB: db, Log: zap.NewNop()}), db
}

func TestResolveLimitPerTier(t *testing.T) {
	svc, _ := setupMembership(t)
	ctx := context.Background()

	cases := []struct {
		tier     membershipdomain.Tier
		resource membershipdomain.Resource
		limit    int
	}{
		{membershipdomain.TierGuest, membershipdomain.ResourceConversation, 2},
		{membershipdomain.TierFree, membershipdomain.ResourceConversation, 10},
		{membershipdomain.TierFree, membershipdomain.ResourceVoice, 10},
		{membershipdomain.TierFree, membershipdomain.ResourcePhoto, 3},
		{membershipdomain.TierVIP, membershipdomain.ResourceConversation, 30},
		{membershipdomain.TierVIP, membershipdomain.ResourceVoice, 15},
		{membershipdomain.TierVVIP, membershipdomain.ResourceConversation, 100},
		{membershipdomain.TierVVIP, membershipdomain.ResourceVoice, 50},
	}
	for _, tc := range cases {
		res, err := svc.ResolveLimit(ctx, membershipdomain.ResolveRequest{
			Tier:     tc.tier,
			Resource: tc.resource,
		})
		require.NoError(t, err)
		require.Equal(t, tc.limit, res.Limit, "%s/%s", tc.tier, tc.resource)
	}
}

func TestResolveLimitUnknownTierFallsBack(t *testing.T) {
	svc, _ := setupMembership(t)

	res, err := svc.ResolveLimit(context.Background(), membershipdomain.ResolveRequest{
		Tier:     membershipdomain.Tier("platinum"),
		Resource: membershipdomain.ResourceConversation,
	})
	require.NoError(t, err)
	require.Equal(t, membershipdomain.TierFree, res.Tier)
	require.Equal(t, 10, res.Limit)
}

func TestResolveLimitTestAccount(t *testing.T) {
	svc, _ := setupMembership(t)

	res, err := svc.ResolveLimit(context.Background(), membershipdomain.ResolveRequest{
		Tier:        membershipdomain.TierFree,
		Resource:    membershipdomain.ResourceConversation,
		TestAccount: true,
	})
	require.NoError(t, err)
	require.True(t, res.Unlimited)
	require.Equal(t, membershipdomain.Unlimited, res.Limit)
	// The standard limit is still reported for display.
	require.Equal(t, 10, res.StandardLimit)
}

func TestResolveLimitInvalidResource(t *testing.T) {
	svc, _ := setupMembership(t)

	_, err := svc.ResolveLimit(context.Background(), membershipdomain.ResolveRequest{
		Tier:     membershipdomain.TierFree,
		Resource: membershipdomain.Resource("minigame"),
	})
	require.ErrorIs(t, err, membershipdomain.ErrInvalidResource)
}

func TestFeaturesStoredOverride(t *testing.T) {
	svc, db := setupMembership(t)
	ctx := context.Background()

	// Warm the cache with defaults.
	features, err := svc.Features(ctx, membershipdomain.TierFree)
	require.NoError(t, err)
	require.Equal(t, 10, features.MessagesPerCharacter)

	override := membershipdomain.DefaultTiers[membershipdomain.TierFree]
	override.MessagesPerCharacter = 25
	raw, err := json.Marshal(override)
	require.NoError(t, err)
	require.NoError(t, db.Create(&membershipdomain.TierConfig{
		Tier:   membershipdomain.TierFree,
		Limits: raw,
	}).Error)

	// Cached value still served until invalidated.
	features, err = svc.Features(ctx, membershipdomain.TierFree)
	require.NoError(t, err)
	require.Equal(t, 10, features.MessagesPerCharacter)

	svc.ClearCache(membershipdomain.TierFree)

	features, err = svc.Features(ctx, membershipdomain.TierFree)
	require.NoError(t, err)
	require.Equal(t, 25, features.MessagesPerCharacter)
}

func TestFeaturesTestTier(t *testing.T) {
	svc, _ := setupMembership(t)

	features, err := svc.Features(context.Background(), membershipdomain.TierTest)
	require.NoError(t, err)
	require.Equal(t, membershipdomain.Unlimited, features.MessagesPerCharacter)
}
