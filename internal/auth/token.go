package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL applies when neither the caller nor the issuer config sets a lifetime.
const DefaultTokenTTL = 15 * time.Minute

var (
	// ErrUnauthenticated is returned for any token that cannot prove who the caller is.
	ErrUnauthenticated = errors.New("could not validate credentials")
	// ErrTokenExpired is wrapped together with ErrUnauthenticated for expired tokens.
	ErrTokenExpired = errors.New("token expired")
)

// TokenManager issues and verifies HMAC signed bearer tokens carrying a username.
type TokenManager struct {
	secret     []byte
	method     jwt.SigningMethod
	defaultTTL time.Duration
	now        func() time.Time
}

// NewTokenManager builds a manager for the given HMAC algorithm (HS256, HS384 or HS512).
func NewTokenManager(secret, algorithm string, defaultTTL time.Duration) (*TokenManager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported token algorithm %q", algorithm)
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTokenTTL
	}
	return &TokenManager{
		secret:     []byte(secret),
		method:     method,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}, nil
}

// Issue signs a token for username valid for ttl, or for the manager default when ttl <= 0.
func (m *TokenManager) Issue(username string, ttl time.Duration) (string, error) {
	if username == "" {
		return "", errors.New("username is required")
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify returns the username carried by a valid token.
func (m *TokenManager) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: %w", ErrUnauthenticated, ErrTokenExpired)
		}
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrUnauthenticated
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
