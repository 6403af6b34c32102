package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/predixa/entitlements/internal/config"
)

const (
	DefaultCookieName = "predixa_session"

	// DefaultMaxAge applies when the token carries no exp claim.
	DefaultMaxAge = 3600
)

// Manager manages the session cookie holding the raw Cognito token.
type Manager struct {
	cookieName string
	secure     bool
}

func NewManager(cfg config.Config) *Manager {
	return &Manager{
		cookieName: DefaultCookieName,
		secure:     cfg.AuthCookieSecure,
	}
}

func (m *Manager) CookieName() string {
	return m.cookieName
}

func (m *Manager) ReadToken(c *gin.Context) (string, bool) {
	token, err := c.Cookie(m.cookieName)
	if err != nil {
		return "", false
	}
	if strings.TrimSpace(token) == "" {
		return "", false
	}
	return token, true
}

// Set stores token for maxAge seconds. A non-positive maxAge clears the
// cookie instead of issuing one that lives for the browser session.
func (m *Manager) Set(c *gin.Context, token string, maxAge int) {
	if maxAge <= 0 {
		m.Clear(c)
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(m.cookieName, token, maxAge, "/", "", m.secure, true)
}

func (m *Manager) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(m.cookieName, "", -1, "/", "", m.secure, true)
}

// MaxAge returns the cookie lifetime for token: seconds until its exp claim,
// or DefaultMaxAge when the claim is absent or unreadable. A result <= 0
// means the token has already expired. The signature is not checked here;
// callers verify the token first.
func MaxAge(token string, now time.Time) int {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return DefaultMaxAge
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return DefaultMaxAge
	}
	return int(exp.Sub(now).Seconds())
}
