package server

import (
	"net/http"
	"strings"

	credsdomain "github.com/baridihq/baridi/internal/credentials/domain"
	"github.com/gin-gonic/gin"
)

type setCredentialsRequest struct {
	Environment    string `json:"environment"`
	Shortcode      string `json:"shortcode"`
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
	Passkey        string `json:"passkey"`
}

// SetCredentials stores or rotates the venue's Daraja credential set. The
// secrets are sealed before they touch storage and are never echoed back.
func (s *Server) SetCredentials(c *gin.Context) {
	var req setCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.credentials.Set(s.requestContext(c), credsdomain.SetInput{
		TenantID:       tenantFromContext(c),
		Environment:    strings.TrimSpace(req.Environment),
		Shortcode:      strings.TrimSpace(req.Shortcode),
		ConsumerKey:    strings.TrimSpace(req.ConsumerKey),
		ConsumerSecret: strings.TrimSpace(req.ConsumerSecret),
		Passkey:        strings.TrimSpace(req.Passkey),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"environment": req.Environment,
		"configured":  true,
	})
}
