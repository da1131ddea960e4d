package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
	"gorm.io/datatypes"
)

// CardType is a spendable unlock card. Cards bypass the quota ledger for
// a single use (or, for character cards, buy a timed conversation unlock).
type CardType string

const (
	CardCharacter CardType = "character"
	CardPhoto     CardType = "photo"
	CardVideo     CardType = "video"
	CardVoice     CardType = "voice"
)

func (c CardType) Valid() bool {
	switch c {
	case CardCharacter, CardPhoto, CardVideo, CardVoice:
		return true
	}
	return false
}

// CardForResource maps a quota resource to the card type that can cover
// an over-limit use of it.
func CardForResource(r membershipdomain.Resource) (CardType, bool) {
	switch r {
	case membershipdomain.ResourceConversation:
		return CardCharacter, true
	case membershipdomain.ResourcePhoto:
		return CardPhoto, true
	case membershipdomain.ResourceVideo:
		return CardVideo, true
	case membershipdomain.ResourceVoice:
		return CardVoice, true
	}
	return "", false
}

// User is the profile row that carries card balances. Balances have
// accumulated in three places across account generations; reads resolve
// them in precedence order and writes go to the location that won.
type User struct {
	ID             string                `gorm:"primaryKey"`
	MembershipTier membershipdomain.Tier `gorm:"index"`
	TestAccount    bool

	// Current generation: per-card-type map.
	UnlockTickets datatypes.JSONMap

	// Previous generation: card counts folded into a wider assets blob.
	Assets datatypes.JSONMap

	// Oldest generation: dedicated columns.
	CharacterUnlockCards int
	PhotoUnlockCards     int
	VideoUnlockCards     int
	VoiceUnlockCards     int

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string {
	return "users"
}

// Location names where a balance was found (and therefore where a spend
// must be debited).
type Location string

const (
	LocationTickets Location = "unlock_tickets"
	LocationAssets  Location = "assets"
	LocationLegacy  Location = "legacy"
)

// locations in read precedence order. A zero value at one location does
// not stop the search; older generations may still hold cards.
var Locations = []Location{LocationTickets, LocationAssets, LocationLegacy}

// Balance is a resolved card balance plus where it was found.
type Balance struct {
	Type     CardType `json:"type"`
	Count    int      `json:"count"`
	Location Location `json:"location"`
}

// CardUsageAction distinguishes history entries.
type CardUsageAction string

const (
	ActionSpend CardUsageAction = "spend"
	ActionGrant CardUsageAction = "grant"
)

// CardUsage records one card movement for history and audit.
type CardUsage struct {
	ID          snowflake.ID    `gorm:"primaryKey;autoIncrement:false"`
	UserID      string          `gorm:"index:idx_card_usage_user"`
	CardType    CardType        `gorm:"index:idx_card_usage_user"`
	Action      CardUsageAction `gorm:"default:spend"`
	CharacterID string
	Amount      int
	Location    Location
	Remaining   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (CardUsage) TableName() string {
	return "card_usages"
}

// assetKey and legacyColumn give each card type its per-generation
// storage key.
func (c CardType) TicketKey() string {
	return string(c)
}

func (c CardType) AssetKey() string {
	switch c {
	case CardCharacter:
		return "characterUnlockCards"
	case CardPhoto:
		return "photoUnlockCards"
	case CardVideo:
		return "videoUnlockCards"
	case CardVoice:
		return "voiceUnlockCards"
	}
	return ""
}
