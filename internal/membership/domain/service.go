package domain

import (
	"context"
	"errors"
)

type ResolveRequest struct {
	UserID      string   `json:"user_id"`
	Tier        Tier     `json:"tier"`
	Resource    Resource `json:"resource"`
	TestAccount bool     `json:"test_account"`
}

// Resolution is the outcome of limit resolution for one (tier, resource).
type Resolution struct {
	Tier          Tier `json:"tier"`
	Limit         int  `json:"limit"`
	StandardLimit int  `json:"standard_limit"`
	Unlimited     bool `json:"unlimited"`
	TestAccount   bool `json:"test_account"`
}

type Service interface {
	// ResolveLimit maps (tier, resource) to a numeric limit. An unknown
	// tier falls back to the free tier; it never fails on bad input.
	ResolveLimit(ctx context.Context, req ResolveRequest) (Resolution, error)
	// Features returns the effective limit table for a tier, merging any
	// stored override on top of the compiled defaults.
	Features(ctx context.Context, tier Tier) (FeatureLimits, error)
	// ClearCache drops cached tier tables; with no arguments it drops all.
	ClearCache(tiers ...Tier)
}

var (
	ErrInvalidResource = errors.New("invalid_resource")
)
