package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/lumichat/lumichat/internal/entitlement/domain"
	obsmetrics "github.com/lumichat/lumichat/internal/observability/metrics"
	pkgdb "github.com/lumichat/lumichat/pkg/db"
	"github.com/lumichat/lumichat/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxTxRetries = 3
	txTimeout    = 5 * time.Second

	// Spending a character card unlocks that character's conversations
	// for this long.
	characterUnlockDays = 7
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     entitlementdomain.Repository
	Unlocker entitlementdomain.CharacterUnlocker
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     entitlementdomain.Repository
	unlocker entitlementdomain.CharacterUnlocker
	metrics  *obsmetrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("entitlement.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		unlocker: p.Unlocker,
		metrics:  p.Metrics,
	}
}

var _ entitlementdomain.Service = (*Service)(nil)

func (s *Service) GetBalance(ctx context.Context, userID string, cardType entitlementdomain.CardType) (*entitlementdomain.Balance, error) {
	if !cardType.Valid() {
		return nil, entitlementdomain.ErrInvalidCardType
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, entitlementdomain.ErrUserNotFound
	}

	balance := resolveBalance(user, cardType)
	return &balance, nil
}

func (s *Service) GetAllBalances(ctx context.Context, userID string) (map[entitlementdomain.CardType]entitlementdomain.Balance, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, entitlementdomain.ErrUserNotFound
	}

	balances := make(map[entitlementdomain.CardType]entitlementdomain.Balance, 4)
	for _, cardType := range []entitlementdomain.CardType{
		entitlementdomain.CardCharacter,
		entitlementdomain.CardPhoto,
		entitlementdomain.CardVideo,
		entitlementdomain.CardVoice,
	} {
		balances[cardType] = resolveBalance(user, cardType)
	}
	return balances, nil
}

func (s *Service) Spend(ctx context.Context, req entitlementdomain.SpendRequest) (*entitlementdomain.SpendResult, error) {
	if !req.CardType.Valid() {
		return nil, entitlementdomain.ErrInvalidCardType
	}

	var result entitlementdomain.SpendResult
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		user, err := repo.GetUserForUpdate(ctx, req.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return entitlementdomain.ErrUserNotFound
		}

		// The balance is resolved again under the row lock so a
		// concurrent spend cannot double-debit the same card.
		balance := resolveBalance(user, req.CardType)
		if balance.Count <= 0 {
			return entitlementdomain.ErrInsufficientCards
		}

		if err := debit(user, req.CardType, balance.Location); err != nil {
			return err
		}
		if err := repo.SaveUser(ctx, user); err != nil {
			return err
		}

		remaining := balance.Count - 1
		usage := &entitlementdomain.CardUsage{
			ID:          s.genID.Generate(),
			UserID:      req.UserID,
			CardType:    req.CardType,
			Action:      entitlementdomain.ActionSpend,
			CharacterID: req.CharacterID,
			Amount:      1,
			Location:    balance.Location,
			Remaining:   remaining,
		}
		if err := repo.CreateUsage(ctx, usage); err != nil {
			return err
		}

		result = entitlementdomain.SpendResult{
			Spent:     true,
			Remaining: remaining,
			Location:  balance.Location,
		}

		if req.CardType == entitlementdomain.CardCharacter && req.CharacterID != "" {
			until, err := s.unlocker.UnlockPermanentlyTx(ctx, tx, req.UserID, req.CharacterID, characterUnlockDays)
			if err != nil {
				return err
			}
			result.UnlockedUntil = &until
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.CardSpends.WithLabelValues(string(req.CardType), string(result.Location)).Inc()
	}
	s.log.Info("card spent",
		zap.String("user_id", req.UserID),
		zap.String("card_type", string(req.CardType)),
		zap.String("location", string(result.Location)),
		zap.Int("remaining", result.Remaining),
	)
	return &result, nil
}

func (s *Service) Grant(ctx context.Context, req entitlementdomain.GrantRequest) (*entitlementdomain.Balance, error) {
	if !req.CardType.Valid() {
		return nil, entitlementdomain.ErrInvalidCardType
	}
	if req.Amount <= 0 {
		return nil, entitlementdomain.ErrInvalidAmount
	}

	var balance entitlementdomain.Balance
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		user, err := repo.GetUserForUpdate(ctx, req.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return entitlementdomain.ErrUserNotFound
		}

		// Credits land where the balance already lives so the grant is
		// visible under read precedence; fresh balances go to assets.
		location := resolveBalance(user, req.CardType).Location
		if err := credit(user, req.CardType, location, req.Amount); err != nil {
			return err
		}
		if err := repo.SaveUser(ctx, user); err != nil {
			return err
		}

		balance = resolveBalance(user, req.CardType)
		return repo.CreateUsage(ctx, &entitlementdomain.CardUsage{
			ID:        s.genID.Generate(),
			UserID:    req.UserID,
			CardType:  req.CardType,
			Action:    entitlementdomain.ActionGrant,
			Amount:    req.Amount,
			Location:  balance.Location,
			Remaining: balance.Count,
		})
	})
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (s *Service) History(ctx context.Context, req entitlementdomain.HistoryRequest) (*entitlementdomain.HistoryPage, error) {
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	usages, err := s.repo.ListUsages(ctx, req)
	if err != nil {
		return nil, err
	}

	info := pagination.BuildCursorPageInfo(usages, req.PageSize, func(u *entitlementdomain.CardUsage) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        u.ID.String(),
			CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		return token
	})

	if len(usages) > req.PageSize {
		usages = usages[:req.PageSize]
	}
	page := &entitlementdomain.HistoryPage{
		Usages: make([]entitlementdomain.CardUsage, 0, len(usages)),
	}
	for _, u := range usages {
		page.Usages = append(page.Usages, *u)
	}
	if info.HasMore {
		page.NextPageToken = info.NextPageToken
	}
	return page, nil
}

// resolveBalance walks the storage generations in precedence order and
// returns the first positive balance. A zero at one location does not
// stop the search. When nothing holds cards the balance reports zero at
// the assets location, which is also where a fresh credit lands.
func resolveBalance(user *entitlementdomain.User, cardType entitlementdomain.CardType) entitlementdomain.Balance {
	for _, location := range entitlementdomain.Locations {
		if count := balanceAt(user, cardType, location); count > 0 {
			return entitlementdomain.Balance{Type: cardType, Count: count, Location: location}
		}
	}
	return entitlementdomain.Balance{Type: cardType, Count: 0, Location: entitlementdomain.LocationAssets}
}

func balanceAt(user *entitlementdomain.User, cardType entitlementdomain.CardType, location entitlementdomain.Location) int {
	switch location {
	case entitlementdomain.LocationTickets:
		return jsonInt(user.UnlockTickets, cardType.TicketKey())
	case entitlementdomain.LocationAssets:
		return jsonInt(user.Assets, cardType.AssetKey())
	case entitlementdomain.LocationLegacy:
		switch cardType {
		case entitlementdomain.CardCharacter:
			return user.CharacterUnlockCards
		case entitlementdomain.CardPhoto:
			return user.PhotoUnlockCards
		case entitlementdomain.CardVideo:
			return user.VideoUnlockCards
		case entitlementdomain.CardVoice:
			return user.VoiceUnlockCards
		}
	}
	return 0
}

func debit(user *entitlementdomain.User, cardType entitlementdomain.CardType, location entitlementdomain.Location) error {
	return adjust(user, cardType, location, -1)
}

func credit(user *entitlementdomain.User, cardType entitlementdomain.CardType, location entitlementdomain.Location, amount int) error {
	return adjust(user, cardType, location, amount)
}

func adjust(user *entitlementdomain.User, cardType entitlementdomain.CardType, location entitlementdomain.Location, delta int) error {
	switch location {
	case entitlementdomain.LocationTickets:
		if user.UnlockTickets == nil {
			user.UnlockTickets = datatypes.JSONMap{}
		}
		next := jsonInt(user.UnlockTickets, cardType.TicketKey()) + delta
		if next < 0 {
			return entitlementdomain.ErrInsufficientCards
		}
		user.UnlockTickets[cardType.TicketKey()] = next
	case entitlementdomain.LocationAssets:
		if user.Assets == nil {
			user.Assets = datatypes.JSONMap{}
		}
		next := jsonInt(user.Assets, cardType.AssetKey()) + delta
		if next < 0 {
			return entitlementdomain.ErrInsufficientCards
		}
		user.Assets[cardType.AssetKey()] = next
	case entitlementdomain.LocationLegacy:
		var col *int
		switch cardType {
		case entitlementdomain.CardCharacter:
			col = &user.CharacterUnlockCards
		case entitlementdomain.CardPhoto:
			col = &user.PhotoUnlockCards
		case entitlementdomain.CardVideo:
			col = &user.VideoUnlockCards
		case entitlementdomain.CardVoice:
			col = &user.VoiceUnlockCards
		default:
			return entitlementdomain.ErrInvalidCardType
		}
		if *col+delta < 0 {
			return entitlementdomain.ErrInsufficientCards
		}
		*col += delta
	default:
		return entitlementdomain.ErrInvalidCardType
	}
	return nil
}

// jsonInt reads an integer out of a JSON map. Values written in-process
// may still be int; decoded JSON numbers come back as float64,
// json.Number, or string depending on the driver's scan path.
func jsonInt(m datatypes.JSONMap, key string) int {
	if m == nil || key == "" {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

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
		s.log.Debug("entitlement transaction conflict, retrying", zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("%w: %v", entitlementdomain.ErrTransactionConflict, err)
}
