package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type SpendRequest struct {
	UserID      string   `json:"user_id"`
	CardType    CardType `json:"card_type"`
	CharacterID string   `json:"character_id"`
}

type SpendResult struct {
	Spent         bool       `json:"spent"`
	Remaining     int        `json:"remaining"`
	Location      Location   `json:"location"`
	UnlockedUntil *time.Time `json:"unlocked_until,omitempty"`
}

type GrantRequest struct {
	UserID   string   `json:"user_id"`
	CardType CardType `json:"card_type"`
	Amount   int      `json:"amount"`
}

type HistoryRequest struct {
	UserID    string
	CardType  CardType
	PageSize  int
	PageToken string
}

type HistoryPage struct {
	Usages        []CardUsage `json:"usages"`
	NextPageToken string      `json:"next_page_token,omitempty"`
}

type Service interface {
	// GetBalance resolves one card balance across storage generations.
	GetBalance(ctx context.Context, userID string, cardType CardType) (*Balance, error)
	GetAllBalances(ctx context.Context, userID string) (map[CardType]Balance, error)
	// Spend debits one card from the location that holds the balance and,
	// for character cards, unlocks the character's conversations for a
	// fixed period in the same transaction.
	Spend(ctx context.Context, req SpendRequest) (*SpendResult, error)
	Grant(ctx context.Context, req GrantRequest) (*Balance, error)
	History(ctx context.Context, req HistoryRequest) (*HistoryPage, error)
}

// CharacterUnlocker is implemented by the quota ledger. It lets a
// character-card spend and the unlock it buys commit in one transaction.
type CharacterUnlocker interface {
	UnlockPermanentlyTx(ctx context.Context, tx *gorm.DB, userID, characterID string, durationDays int) (time.Time, error)
}

var (
	ErrInsufficientCards   = errors.New("insufficient_cards")
	ErrTransactionConflict = errors.New("transaction_conflict")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCardType     = errors.New("invalid_card_type")
	ErrUserNotFound        = errors.New("user_not_found")
)
