package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/quota-admission/internal/core/ports"
	"github.com/avatarctic/quota-admission/internal/infrastructure/httpserver/helpers"
)

// JWTMiddleware authenticates bearer tokens. The token subject is the identity id.
type JWTMiddleware struct {
	secret   []byte
	issuer   string
	resolver ports.IdentityResolver
	logger   *logrus.Logger
}

func NewJWTMiddleware(secret, issuer string, resolver ports.IdentityResolver, logger *logrus.Logger) *JWTMiddleware {
	return &JWTMiddleware{secret: []byte(secret), issuer: issuer, resolver: resolver, logger: logger}
}

// RequireJWT validates the token and stores the resolved identity in the context
func (m *JWTMiddleware) RequireJWT() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString, err := helpers.GetJWTTokenFromContext(c)
			if err != nil {
				return err
			}

			id, err := m.subject(tokenString)
			if err != nil {
				if m.logger != nil {
					m.logger.WithFields(logrus.Fields{"ip": c.RealIP(), "path": c.Request().URL.Path, "error": err.Error()}).Warn("JWT validation failed")
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			identity := m.resolver.Resolve(c.Request().Context(), id, time.Now())
			helpers.SetIdentity(c, identity)

			if m.logger != nil {
				m.logger.WithFields(logrus.Fields{"identity_id": identity.ID, "timezone_offset": identity.TimezoneOffset}).Debug("jwt validated and identity context set")
			}
			return next(c)
		}
	}
}

func (m *JWTMiddleware) subject(tokenString string) (uuid.UUID, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// HMAC only, to prevent alg confusion
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, opts...)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("subject is not an identity id: %w", err)
	}
	return id, nil
}
