package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	stateCookie       = "oauth_state"
	stateCookieMaxAge = 600
)

// handleLogin sends the browser to the consent screen with a one-time state
func (s *Server) handleLogin(c *gin.Context) {
	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, stateCookieMaxAge, "/auth", "", c.Request.TLS != nil, true)
	c.Redirect(http.StatusFound, s.photos.AuthCodeURL(state))
}

func (s *Server) handleCallback(c *gin.Context) {
	if errMsg := c.Query("error"); errMsg != "" {
		badRequest(c, "authorization denied: "+errMsg)
		return
	}

	expected, err := c.Cookie(stateCookie)
	if err != nil || expected == "" || c.Query("state") != expected {
		badRequest(c, "invalid oauth state")
		return
	}
	// state is single use
	c.SetCookie(stateCookie, "", -1, "/auth", "", c.Request.TLS != nil, true)

	account, err := s.accounts.CompleteLogin(c.Request.Context(), c.Query("code"))
	if err != nil {
		writeError(c, err, true)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Account linked",
		"email":     account.Email,
		"accountId": account.ID,
	})
}

// handleAuthStatus always answers 200; lookup failures read as unauthenticated
func (s *Server) handleAuthStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.accounts.Status(c.Request.Context(), c.Query("email")))
}
