// Package auth resolves the requesting account from a bearer token. Token
// issuance belongs to the account service; this package only verifies.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

// AccountIDKey stores the authenticated account id on the request context.
const AccountIDKey contextKey = "account_id"

// DevAccountHeader names the header DevAuthMiddleware trusts.
const DevAccountHeader = "X-Account-ID"

// JWTConfig selects how tokens are verified. SigningKey (HS256) wins over
// JWKSURL (RS256).
type JWTConfig struct {
	Issuer     string
	Audience   string
	JWKSURL    string
	SigningKey []byte
}

// JWTMiddleware requires a valid bearer token and stores its subject as
// the account id.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var jwks *JWKSCache
	if len(cfg.SigningKey) == 0 && cfg.JWKSURL != "" {
		jwks = NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL)
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if len(cfg.SigningKey) > 0 {
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			scheme, tokenStr, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || tokenStr == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			var keyFunc jwt.Keyfunc
			switch {
			case len(cfg.SigningKey) > 0:
				keyFunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
			case jwks != nil:
				keyFunc = jwks.Keyfunc(c.Request().Context())
			default:
				return echo.NewHTTPError(http.StatusInternalServerError, "token verification is not configured")
			}

			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid || claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			setAccount(c, claims.Subject)
			return next(c)
		}
	}
}

// DevAuthMiddleware trusts the X-Account-ID header. Development only.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			acct := strings.TrimSpace(c.Request().Header.Get(DevAccountHeader))
			if acct == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing "+DevAccountHeader+" header")
			}
			setAccount(c, acct)
			return next(c)
		}
	}
}

func setAccount(c echo.Context, acct string) {
	c.Set("account_id", acct)
	c.SetRequest(c.Request().WithContext(WithAccountID(c.Request().Context(), acct)))
}

// WithAccountID returns a context carrying acct.
func WithAccountID(ctx context.Context, acct string) context.Context {
	return context.WithValue(ctx, AccountIDKey, acct)
}

// AccountIDFromContext returns the authenticated account id, or "".
func AccountIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(AccountIDKey).(string)
	return v
}

// RequireAccount returns the authenticated account id, or a 401 error when
// the request carries none.
func RequireAccount(c echo.Context) (string, error) {
	acct := AccountIDFromContext(c.Request().Context())
	if acct == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return acct, nil
}
