// Package domain contains the persisted ledger state for usage limits.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
)

// ResetPolicy governs when a counter rolls back to zero.
type ResetPolicy string

const (
	ResetNone    ResetPolicy = "none"
	ResetDaily   ResetPolicy = "daily"
	ResetMonthly ResetPolicy = "monthly"
)

// PolicyFor returns the reset policy applied to a resource. Conversations
// and voice refresh daily; photos and videos are lifetime counters backed
// by consumable cards.
func PolicyFor(resource membershipdomain.Resource) ResetPolicy {
	switch resource {
	case membershipdomain.ResourceConversation, membershipdomain.ResourceVoice:
		return ResetDaily
	default:
		return ResetNone
	}
}

// Entry is the ledger row for one (user, resource[, character]).
// Count is only ever modified inside a transaction that re-evaluates the
// reset policy under the same row lock.
type Entry struct {
	ID          snowflake.ID                `gorm:"primaryKey"`
	UserID      string                      `gorm:"type:text;not null;uniqueIndex:idx_quota_identity,priority:1"`
	Resource    membershipdomain.Resource   `gorm:"type:text;not null;uniqueIndex:idx_quota_identity,priority:2"`
	CharacterID string                      `gorm:"type:text;not null;default:'';uniqueIndex:idx_quota_identity,priority:3"`

	Count          int `gorm:"not null"`
	LifetimeCount  int `gorm:"not null"`
	BonusRemaining int `gorm:"not null"` // ad-funded extra uses for the current period

	LastResetAt   *time.Time
	UnlockedUntil *time.Time // permanent-unlock expiry
	LastUsedAt    *time.Time

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Entry) TableName() string { return "quota_entries" }

// AdWatch is the per-user daily ad counter. The cap and cooldown apply
// to the account as a whole, not per character or per resource.
type AdWatch struct {
	UserID      string `gorm:"primaryKey;type:text"`
	Date        string `gorm:"type:text;not null;default:''"` // YYYY-MM-DD
	Count       int    `gorm:"not null"`
	LastWatchAt *time.Time

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (AdWatch) TableName() string { return "ad_watches" }

// PermanentlyUnlocked reports whether a time-bounded full bypass is active.
func (e *Entry) PermanentlyUnlocked(now time.Time) bool {
	return e.UnlockedUntil != nil && now.Before(*e.UnlockedUntil)
}

// ApplyReset zeroes the periodic counters. BonusRemaining is forfeited
// with the period that granted it.
func (e *Entry) ApplyReset(now time.Time) {
	e.Count = 0
	e.BonusRemaining = 0
	at := now
	e.LastResetAt = &at
}
