package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/lumichat/lumichat/internal/entitlement/domain"
	"github.com/lumichat/lumichat/internal/idempotency"
	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
	quotadomain "github.com/lumichat/lumichat/internal/quota/domain"
)

type consumeRequest struct {
	CharacterID    string `json:"character_id"`
	IdempotencyKey string `json:"idempotency_key"`
	// UseCard spends an unlock card when the quota is exhausted instead
	// of returning a limit error.
	UseCard bool `json:"use_card"`
}

type consumeResponse struct {
	// Source reports what funded the use: "quota" or "card".
	Source string `json:"source"`

	Count     int `json:"count"`
	Limit     int `json:"limit"`
	Bonus     int `json:"bonus"`
	Remaining int `json:"remaining"`

	CardRemaining *int    `json:"card_remaining,omitempty"`
	UnlockedUntil *string `json:"unlocked_until,omitempty"`
}

func (s *Server) quotaRequest(c *gin.Context, characterID string) (quotadomain.Request, error) {
	resource := membershipdomain.Resource(strings.ToLower(strings.TrimSpace(c.Param("resource"))))
	if !resource.Valid() {
		return quotadomain.Request{}, quotadomain.ErrInvalidResource
	}

	userID, tier, testAccount := s.identity(c)
	return quotadomain.Request{
		UserID:      userID,
		Resource:    resource,
		CharacterID: strings.TrimSpace(characterID),
		Tier:        tier,
		TestAccount: testAccount,
	}, nil
}

func (s *Server) CheckQuota(c *gin.Context) {
	req, err := s.quotaRequest(c, c.Query("character_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	decision, err := s.quotaSvc.CanUse(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": decision})
}

func (s *Server) Consume(c *gin.Context) {
	var body consumeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req, err := s.quotaRequest(c, body.CharacterID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	op := func(ctx context.Context) (*consumeResponse, error) {
		return s.consume(ctx, req, body.UseCard)
	}

	var resp *consumeResponse
	if key := strings.TrimSpace(body.IdempotencyKey); key != "" {
		guardKey := "consume:" + req.UserID + ":" + string(req.Resource) + ":" + key
		resp, err = idempotency.Run(ctx, s.guard, guardKey, s.cfg.Idempotency.ConsumeTTL, op)
	} else {
		resp, err = op(ctx)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// consume records one use, falling back to an unlock card when the
// ledger is exhausted and the client opted in. A spent character card
// unlocks the character, so the use is re-recorded against the unlock.
func (s *Server) consume(ctx context.Context, req quotadomain.Request, useCard bool) (*consumeResponse, error) {
	use, err := s.quotaSvc.RecordUse(ctx, req)
	if err == nil {
		return &consumeResponse{
			Source:    "quota",
			Count:     use.Count,
			Limit:     use.Limit,
			Bonus:     use.Bonus,
			Remaining: use.Remaining,
		}, nil
	}
	if !errors.Is(err, quotadomain.ErrLimitExceeded) || !useCard {
		return nil, err
	}

	cardType, ok := entitlementdomain.CardForResource(req.Resource)
	if !ok {
		return nil, err
	}

	spend, err := s.entitlementSvc.Spend(ctx, entitlementdomain.SpendRequest{
		UserID:      req.UserID,
		CardType:    cardType,
		CharacterID: req.CharacterID,
	})
	if err != nil {
		return nil, err
	}

	resp := &consumeResponse{
		Source:        "card",
		CardRemaining: &spend.Remaining,
	}
	if spend.UnlockedUntil != nil {
		until := spend.UnlockedUntil.UTC().Format(time.RFC3339)
		resp.UnlockedUntil = &until
	}

	if cardType == entitlementdomain.CardCharacter {
		use, err := s.quotaSvc.RecordUse(ctx, req)
		if err != nil {
			return nil, err
		}
		resp.Count = use.Count
		resp.Limit = use.Limit
		resp.Bonus = use.Bonus
		resp.Remaining = use.Remaining
	}
	return resp, nil
}

type releaseRequest struct {
	CharacterID string `json:"character_id"`
}

// ReleaseUse rolls back one recorded use after a failed generation.
func (s *Server) ReleaseUse(c *gin.Context) {
	var body releaseRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req, err := s.quotaRequest(c, body.CharacterID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	use, err := s.quotaSvc.DecrementUse(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": use})
}

func (s *Server) QuotaStats(c *gin.Context) {
	req, err := s.quotaRequest(c, c.Query("character_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	stats, err := s.quotaSvc.GetStats(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (s *Server) QuotaStatsAll(c *gin.Context) {
	req, err := s.quotaRequest(c, "")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	stats, err := s.quotaSvc.GetAllStats(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}
