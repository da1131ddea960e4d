package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	adrewarddomain "github.com/lumichat/lumichat/internal/adreward/domain"
	membershipdomain "github.com/lumichat/lumichat/internal/membership/domain"
)

type adWatchRequest struct {
	Resource    string `json:"resource"`
	CharacterID string `json:"character_id"`
}

func (s *Server) RequestAdWatch(c *gin.Context) {
	var body adWatchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req, err := s.adRequest(c, body.Resource, body.CharacterID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	grant, err := s.adSvc.RequestWatch(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": grant})
}

type adClaimRequest struct {
	AdID        string `json:"ad_id"`
	Resource    string `json:"resource"`
	CharacterID string `json:"character_id"`
}

func (s *Server) ClaimAdReward(c *gin.Context) {
	var body adClaimRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	watch, err := s.adRequest(c, body.Resource, body.CharacterID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.adSvc.ClaimReward(c.Request.Context(), adrewarddomain.ClaimRequest{
		WatchRequest: watch,
		AdID:         strings.TrimSpace(body.AdID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) adRequest(c *gin.Context, resource, characterID string) (adrewarddomain.WatchRequest, error) {
	res := membershipdomain.Resource(strings.ToLower(strings.TrimSpace(resource)))
	if res == "" {
		res = membershipdomain.ResourceConversation
	}
	if !res.Valid() {
		return adrewarddomain.WatchRequest{}, newValidationError("resource", "invalid_resource", "invalid resource")
	}

	userID, tier, testAccount := s.identity(c)
	return adrewarddomain.WatchRequest{
		UserID:      userID,
		Tier:        tier,
		TestAccount: testAccount,
		Resource:    res,
		CharacterID: strings.TrimSpace(characterID),
	}, nil
}
