package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/lumichat/lumichat/internal/entitlement/domain"
	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
	quotadomain "github.com/lumichat/lumichat/internal/quota/domain"
)

type adminQuotaRequest struct {
	UserID      string `json:"user_id"`
	Resource    string `json:"resource"`
	CharacterID string `json:"character_id"`
}

// AdminResetQuota force-zeroes a user's counter for support cases.
func (s *Server) AdminResetQuota(c *gin.Context) {
	var body adminQuotaRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req, err := adminRequest(body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.quotaSvc.Reset(c.Request.Context(), req); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type adminUnlockRequest struct {
	adminQuotaRequest
	DurationDays int `json:"duration_days"`
}

func (s *Server) AdminUnlockCharacter(c *gin.Context) {
	var body adminUnlockRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req, err := adminRequest(body.adminQuotaRequest)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.quotaSvc.UnlockPermanently(c.Request.Context(), quotadomain.PermanentUnlockRequest{
		Request:      req,
		DurationDays: body.DurationDays,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

type adminGrantRequest struct {
	UserID   string `json:"user_id"`
	CardType string `json:"card_type"`
	Amount   int    `json:"amount"`
}

func (s *Server) AdminGrantCards(c *gin.Context) {
	var body adminGrantRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	balance, err := s.entitlementSvc.Grant(c.Request.Context(), entitlementdomain.GrantRequest{
		UserID:   strings.TrimSpace(body.UserID),
		CardType: entitlementdomain.CardType(strings.ToLower(strings.TrimSpace(body.CardType))),
		Amount:   body.Amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": balance})
}

// AdminQuotaStats looks up any user's counters for support cases. With a
// character id (or a non-per-character resource) it returns one entry;
// otherwise the per-character breakdown.
func (s *Server) AdminQuotaStats(c *gin.Context) {
	req, err := adminRequest(adminQuotaRequest{
		UserID:      c.Query("user_id"),
		Resource:    c.Query("resource"),
		CharacterID: c.Query("character_id"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if req.Resource.PerCharacter() && req.CharacterID == "" {
		stats, err := s.quotaSvc.GetAllStats(c.Request.Context(), req)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": stats})
		return
	}

	stats, err := s.quotaSvc.GetStats(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// AdminClearCaches drops the in-process tier and ad config caches after
// a config row change.
func (s *Server) AdminClearCaches(c *gin.Context) {
	s.membershipSvc.ClearCache()
	s.adSvc.ClearCache()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func adminRequest(body adminQuotaRequest) (quotadomain.Request, error) {
	userID := strings.TrimSpace(body.UserID)
	if userID == "" {
		return quotadomain.Request{}, newValidationError("user_id", "required", "user id is required")
	}
	resource := membershipdomain.Resource(strings.ToLower(strings.TrimSpace(body.Resource)))
	if !resource.Valid() {
		return quotadomain.Request{}, newValidationError("resource", "invalid_resource", "invalid resource")
	}
	return quotadomain.Request{
		UserID:      userID,
		Resource:    resource,
		CharacterID: strings.TrimSpace(body.CharacterID),
		// Support operations act on the stored account, not on the
		// caller's own tier; the free tier keeps validation permissive.
		Tier: membershipdomain.TierFree,
	}, nil
}
