// Package domain defines the membership policy vocabulary: tiers,
// limitable resources and the per-tier feature limit tables.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Unlimited is the sentinel limit meaning "no cap".
const Unlimited = -1

type Tier string

const (
	TierGuest Tier = "guest"
	TierFree  Tier = "free"
	TierVIP   Tier = "vip"
	TierVVIP  Tier = "vvip"
	TierTest  Tier = "test"
)

func (t Tier) Valid() bool {
	switch t {
	case TierGuest, TierFree, TierVIP, TierVVIP, TierTest:
		return true
	}
	return false
}

// Paid reports whether the tier is a paying membership.
func (t Tier) Paid() bool {
	return t == TierVIP || t == TierVVIP
}

// Resource is a consumable feature governed by a usage limit.
type Resource string

const (
	ResourceConversation Resource = "conversation"
	ResourceVoice        Resource = "voice"
	ResourcePhoto        Resource = "photo"
	ResourceVideo        Resource = "video"
)

func (r Resource) Valid() bool {
	switch r {
	case ResourceConversation, ResourceVoice, ResourcePhoto, ResourceVideo:
		return true
	}
	return false
}

// PerCharacter reports whether usage is tracked per companion character.
// Photo and video quotas are account-wide.
func (r Resource) PerCharacter() bool {
	return r == ResourceConversation || r == ResourceVoice
}

// GuestAllowed reports whether guests may consume the resource at all.
// Guests get a short conversation trial; everything else requires login.
func (r Resource) GuestAllowed() bool {
	return r == ResourceConversation
}

// FeatureLimits is the per-tier limit table.
type FeatureLimits struct {
	MessagesPerCharacter int `json:"messagesPerCharacter"`
	VoicesPerCharacter   int `json:"voicesPerCharacter"`
	PhotosTotal          int `json:"photosTotal"`
	VideosTotal          int `json:"videosTotal"`

	UnlockedMessagesPerAd int `json:"unlockedMessagesPerAd"`
	DailyAdLimit          int `json:"dailyAdLimit"`

	UnlimitedChats bool `json:"unlimitedChats"`
	RequireAds     bool `json:"requireAds"`
}

// LimitFor returns the tier's base limit for a resource.
func (f FeatureLimits) LimitFor(resource Resource) int {
	if resource == ResourceConversation && f.UnlimitedChats {
		return Unlimited
	}
	switch resource {
	case ResourceConversation:
		return f.MessagesPerCharacter
	case ResourceVoice:
		return f.VoicesPerCharacter
	case ResourcePhoto:
		return f.PhotosTotal
	case ResourceVideo:
		return f.VideosTotal
	}
	return 0
}

// DefaultTiers is the compiled-in limit table. A TierConfig row may
// override any tier at runtime.
var DefaultTiers = map[Tier]FeatureLimits{
	TierGuest: {
		MessagesPerCharacter:  2,
		VoicesPerCharacter:    0,
		PhotosTotal:           0,
		VideosTotal:           0,
		UnlockedMessagesPerAd: 0,
		DailyAdLimit:          0,
	},
	TierFree: {
		MessagesPerCharacter:  10,
		VoicesPerCharacter:    10,
		PhotosTotal:           3,
		VideosTotal:           0,
		UnlockedMessagesPerAd: 5,
		DailyAdLimit:          10,
		RequireAds:            true,
	},
	TierVIP: {
		MessagesPerCharacter:  30,
		VoicesPerCharacter:    15,
		PhotosTotal:           0,
		VideosTotal:           0,
		UnlockedMessagesPerAd: 8,
		DailyAdLimit:          10,
	},
	TierVVIP: {
		MessagesPerCharacter:  100,
		VoicesPerCharacter:    50,
		PhotosTotal:           0,
		VideosTotal:           0,
		UnlockedMessagesPerAd: 10,
		DailyAdLimit:          10,
	},
}

// TestAccountLimits overrides every tier limit for accounts flagged as
// test accounts, so QA can exercise limit behavior with small numbers.
var TestAccountLimits = FeatureLimits{
	MessagesPerCharacter:  Unlimited,
	VoicesPerCharacter:    Unlimited,
	PhotosTotal:           100,
	VideosTotal:           100,
	UnlockedMessagesPerAd: 5,
	DailyAdLimit:          999,
}

// TierConfig is a stored override of a tier's limit table.
type TierConfig struct {
	Tier      Tier           `gorm:"primaryKey;type:text"`
	Limits    datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (TierConfig) TableName() string { return "tier_configs" }
