package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Context keys set for downstream handlers once a session verifies.
const (
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
	ContextUserName  = "user_name"
)

// Middleware gates a route group behind a valid session cookie. Requests
// without one get a 401 and the stale cookie is cleared.
func Middleware(sessions *Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(CookieName)
		if err != nil || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		user, err := sessions.Verify(token)
		if err != nil {
			ClearCookie(c)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired or invalid"})
			return
		}

		c.Set(ContextUserID, user.ID)
		c.Set(ContextUserEmail, user.Email)
		c.Set(ContextUserName, user.Name)
		c.Next()
	}
}

// CurrentUser reads the verified identity out of the request context.
func CurrentUser(c *gin.Context) (*SessionUser, bool) {
	id := c.GetString(ContextUserID)
	email := c.GetString(ContextUserEmail)
	if id == "" && email == "" {
		return nil, false
	}
	return &SessionUser{
		ID:    id,
		Email: email,
		Name:  c.GetString(ContextUserName),
	}, true
}

// SetCookie installs the session cookie for one day.
func SetCookie(c *gin.Context, token string, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, int(SessionTTL.Seconds()), "/", "", secure, false)
}

// ClearCookie invalidates the session cookie immediately.
func ClearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", false, false)
}
