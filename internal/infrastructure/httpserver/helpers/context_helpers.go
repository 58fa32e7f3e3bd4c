package helpers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
)

func GetIdentityFromContext(c echo.Context) (quota.Identity, error) {
	id, ok := GetIdentityRaw(c)
	if !ok {
		return quota.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid identity context")
	}
	return id, nil
}

func GetJWTTokenFromContext(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "empty token")
	}
	return token, nil
}

// SourceKey is the rate limit key of the request: the client address echo resolves
// from X-Forwarded-For / X-Real-IP or the socket.
func SourceKey(c echo.Context) string {
	return c.RealIP()
}
