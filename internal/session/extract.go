package session

import (
	"net/http"
	"strings"
)

const cognitoCookiePrefix = "CognitoIdentityServiceProvider."

// TokenSource names where a token was found.
type TokenSource string

const (
	SourceNone          TokenSource = ""
	SourceBearer        TokenSource = "bearer"
	SourceSessionCookie TokenSource = "session_cookie"
	SourceCognitoCookie TokenSource = "cognito_cookie"
)

// ExtractToken looks for a token in this order: Authorization bearer header,
// the session cookie, the Cognito id token cookie for clientID, then any
// Cognito id token cookie.
func ExtractToken(r *http.Request, clientID string) (string, TokenSource) {
	if token := BearerToken(r); token != "" {
		return token, SourceBearer
	}
	if c, err := r.Cookie(DefaultCookieName); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value), SourceSessionCookie
	}

	cookies := r.Cookies()
	if clientID != "" {
		name := cognitoCookiePrefix + clientID + ".idToken"
		for _, c := range cookies {
			if c.Name == name && strings.TrimSpace(c.Value) != "" {
				return strings.TrimSpace(c.Value), SourceCognitoCookie
			}
		}
	}
	for _, c := range cookies {
		if strings.HasPrefix(c.Name, cognitoCookiePrefix) && strings.HasSuffix(c.Name, ".idToken") &&
			strings.TrimSpace(c.Value) != "" {
			return strings.TrimSpace(c.Value), SourceCognitoCookie
		}
	}
	return "", SourceNone
}

func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
