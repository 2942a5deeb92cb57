// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/telekom/admission-gateway/pkg/metrics"
)

const (
	AuthHeaderKey = "Authorization"
	bearerPrefix  = "Bearer "
)

var (
	ErrNoToken      = errors.New("no bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// AuthConfig selects how bearer tokens are verified. With neither HMACSecret
// nor JWKSURL set every caller is anonymous.
type AuthConfig struct {
	HMACSecret string
	JWKSURL    string
	// JWKSRefreshInterval defaults to one hour.
	JWKSRefreshInterval time.Duration
	Issuer              string
	Audience            string
	// RoleClaim defaults to "role".
	RoleClaim string
}

// Authenticator verifies bearer tokens and derives the caller context.
type Authenticator struct {
	cfg     AuthConfig
	jwks    *keyfunc.JWKS
	keyFunc jwt.Keyfunc
	methods []string
	log     *zap.SugaredLogger
}

// NewAuthenticator builds an authenticator. When JWKSURL is set the key set
// is fetched immediately and refreshed in the background until Close.
func NewAuthenticator(cfg AuthConfig, log *zap.SugaredLogger) (*Authenticator, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = "role"
	}
	a := &Authenticator{cfg: cfg, log: log}

	switch {
	case cfg.JWKSURL != "":
		interval := cfg.JWKSRefreshInterval
		if interval <= 0 {
			interval = time.Hour
		}
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			RefreshInterval: interval,
			RefreshTimeout:  10 * time.Second,
			RefreshErrorHandler: func(err error) {
				log.Errorf("failed to refresh JWKS configuration: %v", err)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("could not get JWKS from %s: %w", cfg.JWKSURL, err)
		}
		a.jwks = jwks
		a.keyFunc = jwks.Keyfunc
		a.methods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "PS256", "PS384", "PS512", "EdDSA"}
	case cfg.HMACSecret != "":
		secret := []byte(cfg.HMACSecret)
		a.keyFunc = func(*jwt.Token) (interface{}, error) { return secret, nil }
		a.methods = []string{"HS256", "HS384", "HS512"}
	}
	return a, nil
}

// Enabled reports whether tokens are verified at all.
func (a *Authenticator) Enabled() bool {
	return a != nil && a.keyFunc != nil
}

// Close stops the JWKS background refresh.
func (a *Authenticator) Close() {
	if a != nil && a.jwks != nil {
		a.jwks.EndBackground()
	}
}

// Authenticate verifies the Authorization header value. The returned caller
// has no Identity set; the pipeline fills it from the client address.
func (a *Authenticator) Authenticate(header string) (CallerContext, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return CallerContext{Role: RoleAnonymous}, ErrNoToken
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if raw == "" {
		return CallerContext{Role: RoleAnonymous}, ErrNoToken
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods(a.methods))
	token, err := parser.ParseWithClaims(raw, claims, a.keyFunc)
	if err != nil {
		return CallerContext{Role: RoleAnonymous}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return CallerContext{Role: RoleAnonymous}, ErrInvalidToken
	}
	if a.cfg.Issuer != "" && !claims.VerifyIssuer(a.cfg.Issuer, true) {
		return CallerContext{Role: RoleAnonymous}, fmt.Errorf("%w: unexpected issuer", ErrInvalidToken)
	}
	if a.cfg.Audience != "" && !claims.VerifyAudience(a.cfg.Audience, true) {
		return CallerContext{Role: RoleAnonymous}, fmt.Errorf("%w: unexpected audience", ErrInvalidToken)
	}

	return CallerContext{
		Subject:       subjectOf(claims),
		Role:          roleOf(claims, a.cfg.RoleClaim),
		Authenticated: true,
	}, nil
}

// Middleware stores the caller context in the gin context under CallerKey.
// Missing or invalid tokens never abort the request; the caller is treated as
// anonymous and the admission policy decides what that means for the route.
// identityFn supplies the rate-limit identity for the request.
func (a *Authenticator) Middleware(identityFn func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := identityFn(c)
		caller := Anonymous(identity)

		if a.Enabled() {
			authenticated, err := a.Authenticate(c.GetHeader(AuthHeaderKey))
			switch {
			case err == nil:
				caller = authenticated
				caller.Identity = identity
			case errors.Is(err, ErrNoToken):
			default:
				metrics.AuthTokenFailures.WithLabelValues(failureReason(err)).Inc()
				a.log.Warnw("Rejected bearer token, treating caller as anonymous",
					"identity", identity, "path", c.Request.URL.Path, "error", err)
			}
		}

		c.Set(CallerKey, caller)
		if caller.Subject != "" {
			c.Set(UsernameKey, caller.Subject)
		}
		c.Set(RoleKey, string(caller.Role))
		c.Next()
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case strings.Contains(err.Error(), "issuer"), strings.Contains(err.Error(), "audience"):
		return "claims"
	default:
		return "other"
	}
}

func subjectOf(claims jwt.MapClaims) string {
	for _, k := range []string{"sub", "email", "preferred_username"} {
		if v, ok := claims[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// roleOf reads the role claim. A list claim yields its first non-empty entry.
func roleOf(claims jwt.MapClaims, claim string) Role {
	switch v := claims[claim].(type) {
	case string:
		return ParseRole(v)
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				return ParseRole(s)
			}
		}
	}
	return RoleNone
}
