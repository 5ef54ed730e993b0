// Package auth is the credential-verification boundary of the realtime
// core. Token minting lives elsewhere; the core only needs to turn a
// presented token into an authenticated user id during the session
// handshake, so the package exposes a single TokenVerifier interface
// plus JWT-backed implementations (shared-secret HS256 and JWKS-backed
// RS256).
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// ErrInvalidToken covers malformed, unsigned, or badly signed tokens.
var ErrInvalidToken = errors.New("auth: invalid token")

// ErrTokenExpired indicates a structurally valid but expired token.
var ErrTokenExpired = errors.New("auth: token expired")

// Claims is the identity extracted from a verified token.
type Claims struct {
	// UserID is the subject of the token.
	UserID string

	// Username is the preferred display name, when the token carries one.
	Username string

	// ExpiresAt is the token expiry, zero if the token never expires.
	ExpiresAt time.Time
}

// TokenVerifier validates a presented token and returns the identity it
// asserts. Implementations must be safe for concurrent use: every
// session handshake calls Verify.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

type jwtClaims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

func claimsFrom(jc *jwtClaims) (*Claims, error) {
	if jc.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	c := &Claims{
		UserID:   jc.Subject,
		Username: jc.Username,
	}
	if jc.ExpiresAt != nil {
		c.ExpiresAt = jc.ExpiresAt.Time
	}
	return c, nil
}

func translateJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}

// HS256Verifier verifies tokens signed with a shared secret. Suitable
// for single-tenant deployments and tests.
type HS256Verifier struct {
	parser *jwt.Parser
	secret []byte
}

// NewHS256Verifier creates a verifier for HS256 tokens signed with secret.
func NewHS256Verifier(secret []byte) *HS256Verifier {
	return &HS256Verifier{
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
		secret: secret,
	}
}

// Verify implements TokenVerifier.
func (v *HS256Verifier) Verify(_ context.Context, token string) (*Claims, error) {
	var jc jwtClaims
	parsed, err := v.parser.ParseWithClaims(token, &jc, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, translateJWTError(err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claimsFrom(&jc)
}

// JWKSVerifier verifies RS256 tokens against a remote JWKS endpoint,
// for deployments where an external identity provider mints tokens.
type JWKSVerifier struct {
	parser   *jwt.Parser
	jwks     *keyfunc.JWKS
	audience string
	issuer   string
}

// JWKSOptions configures a JWKSVerifier.
type JWKSOptions struct {
	// RefreshInterval is how often the key set is refreshed.
	// Default: 15 minutes.
	RefreshInterval time.Duration

	// Audience, when set, must match the token's aud claim.
	Audience string

	// Issuer, when set, must match the token's iss claim.
	Issuer string
}

// NewJWKSVerifier creates a verifier that fetches signing keys from the
// given JWKS URL and keeps them refreshed in the background.
func NewJWKSVerifier(jwksURL string, opts JWKSOptions) (*JWKSVerifier, error) {
	refresh := opts.RefreshInterval
	if refresh <= 0 {
		refresh = 15 * time.Minute
	}
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   refresh,
		RefreshRateLimit:  time.Minute,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: fetching jwks: %w", err)
	}

	return &JWKSVerifier{
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		jwks:     jwks,
		audience: opts.Audience,
		issuer:   opts.Issuer,
	}, nil
}

// checkRegistered enforces the configured audience and issuer. The
// parser validates signature and expiry; aud and iss are checked here
// after parse.
func (v *JWKSVerifier) checkRegistered(jc *jwtClaims) error {
	if v.audience != "" && !jc.VerifyAudience(v.audience, true) {
		return fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
	}
	if v.issuer != "" && !jc.VerifyIssuer(v.issuer, true) {
		return fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	return nil
}

// Verify implements TokenVerifier.
func (v *JWKSVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	var jc jwtClaims
	parsed, err := v.parser.ParseWithClaims(token, &jc, v.jwks.Keyfunc)
	if err != nil {
		return nil, translateJWTError(err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := v.checkRegistered(&jc); err != nil {
		return nil, err
	}
	return claimsFrom(&jc)
}

// Close releases the background JWKS refresh goroutine.
func (v *JWKSVerifier) Close() {
	v.jwks.EndBackground()
}

// StaticVerifier maps literal token strings to claims. Test helper.
type StaticVerifier map[string]*Claims

// Verify implements TokenVerifier.
func (v StaticVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	claims, ok := v[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	if !claims.ExpiresAt.IsZero() && time.Now().After(claims.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}
