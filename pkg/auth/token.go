package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/eventfold/userd/pkg/domain"
)

// Scopes gate the HTTP surface.
const (
	ScopeUserCreate = "user:create"
	ScopeUserRead   = "user:read"
	ScopeUserUpdate = "user:update"
	ScopeUserDelete = "user:delete"
)

// ErrInvalidToken covers expired, forged, and malformed tokens alike; the
// edge maps it to 401 without detail.
var ErrInvalidToken = errors.New("invalid token")

// ScopesForRole returns the scopes a role grants.
func ScopesForRole(role domain.Role) []string {
	switch role {
	case domain.RoleAdmin:
		return []string{ScopeUserCreate, ScopeUserRead, ScopeUserUpdate, ScopeUserDelete}
	default:
		return []string{ScopeUserRead, ScopeUserUpdate}
	}
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID uuid.UUID
	Role   domain.Role
	Scopes []string
}

// HasScope reports whether the principal carries the scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal has the admin role.
func (p *Principal) IsAdmin() bool {
	return p.Role == domain.RoleAdmin
}

type claims struct {
	Role   string   `json:"role"`
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 access tokens.
type Tokens struct {
	secret   []byte
	lifetime time.Duration
}

// NewTokens creates a token issuer with the given signing secret and access
// token lifetime.
func NewTokens(secret string, lifetime time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), lifetime: lifetime}
}

// Issue signs a token for the user.
func (t *Tokens) Issue(userID uuid.UUID, role domain.Role) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:   string(role),
		Scopes: ScopesForRole(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.lifetime)),
		},
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates the token and returns its principal.
func (t *Tokens) Verify(tokenString string) (*Principal, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}

	return &Principal{
		UserID: userID,
		Role:   domain.Role(c.Role),
		Scopes: c.Scopes,
	}, nil
}
