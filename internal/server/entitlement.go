package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/lumichat/lumichat/internal/entitlement/domain"
	"github.com/lumichat/lumichat/internal/idempotency"
)

func cardTypeParam(c *gin.Context) (entitlementdomain.CardType, error) {
	cardType := entitlementdomain.CardType(strings.ToLower(strings.TrimSpace(c.Param("card_type"))))
	if !cardType.Valid() {
		return "", entitlementdomain.ErrInvalidCardType
	}
	return cardType, nil
}

func (s *Server) ListBalances(c *gin.Context) {
	userID, _, _ := s.identity(c)

	balances, err := s.entitlementSvc.GetAllBalances(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": balances})
}

func (s *Server) GetBalance(c *gin.Context) {
	cardType, err := cardTypeParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	userID, _, _ := s.identity(c)
	balance, err := s.entitlementSvc.GetBalance(c.Request.Context(), userID, cardType)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": balance})
}

type spendCardRequest struct {
	CharacterID    string `json:"character_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) SpendCard(c *gin.Context) {
	cardType, err := cardTypeParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var body spendCardRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, _, _ := s.identity(c)
	req := entitlementdomain.SpendRequest{
		UserID:      userID,
		CardType:    cardType,
		CharacterID: strings.TrimSpace(body.CharacterID),
	}
	if req.CardType == entitlementdomain.CardCharacter && req.CharacterID == "" {
		AbortWithError(c, newValidationError("character_id", "character_required", "character id is required"))
		return
	}

	var result *entitlementdomain.SpendResult
	if key := strings.TrimSpace(body.IdempotencyKey); key != "" {
		guardKey := "card-spend:" + userID + ":" + string(cardType) + ":" + key
		result, err = idempotency.Run(c.Request.Context(), s.guard, guardKey, s.cfg.Idempotency.CardTTL,
			func(ctx context.Context) (*entitlementdomain.SpendResult, error) {
				return s.entitlementSvc.Spend(ctx, req)
			})
	} else {
		result, err = s.entitlementSvc.Spend(c.Request.Context(), req)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) CardHistory(c *gin.Context) {
	var query struct {
		CardType  string `form:"card_type"`
		PageSize  int    `form:"page_size"`
		PageToken string `form:"page_token"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	cardType := entitlementdomain.CardType(strings.ToLower(strings.TrimSpace(query.CardType)))
	if cardType != "" && !cardType.Valid() {
		AbortWithError(c, entitlementdomain.ErrInvalidCardType)
		return
	}

	userID, _, _ := s.identity(c)
	page, err := s.entitlementSvc.History(c.Request.Context(), entitlementdomain.HistoryRequest{
		UserID:    userID,
		CardType:  cardType,
		PageSize:  query.PageSize,
		PageToken: strings.TrimSpace(query.PageToken),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": page})
}

type devPurchaseRequest struct {
	CardType string `json:"card_type"`
	Amount   int    `json:"amount"`
}

// DevPurchaseCards stands in for the payment gateway on local builds.
func (s *Server) DevPurchaseCards(c *gin.Context) {
	var body devPurchaseRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, _, _ := s.identity(c)
	balance, err := s.entitlementSvc.Grant(c.Request.Context(), entitlementdomain.GrantRequest{
		UserID:   userID,
		CardType: entitlementdomain.CardType(strings.ToLower(strings.TrimSpace(body.CardType))),
		Amount:   body.Amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": balance})
}
