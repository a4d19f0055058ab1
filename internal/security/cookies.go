package security

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	AccessTokenCookie = "access_token"
	// TokenQueryParam is accepted on the chat socket, where browsers cannot set headers.
	TokenQueryParam = "token"
)

// GetTokenFromCookie retrieves a token from cookies
func GetTokenFromCookie(c echo.Context, cookieName string) string {
	cookie, err := c.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func GetAccessTokenFromCookie(c echo.Context) string {
	return GetTokenFromCookie(c, AccessTokenCookie)
}

// ExtractToken looks for an access token in the cookie, then the
// Authorization header, then (when allowQuery is set) the query string.
// ok is false when an Authorization header is present but malformed.
func ExtractToken(c echo.Context, allowQuery bool) (token string, ok bool) {
	if token = GetAccessTokenFromCookie(c); token != "" {
		return token, true
	}

	if authHeader := c.Request().Header.Get(echo.HeaderAuthorization); authHeader != "" {
		token = strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader || token == "" {
			return "", false
		}
		return token, true
	}

	if allowQuery {
		return c.QueryParam(TokenQueryParam), true
	}
	return "", true
}
