// internal/common/auth/tokens.go
package auth

import (
	"fmt"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the caller's access level.
type Role string

const (
	RoleSuperAdmin Role = "SUPERADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleUser       Role = "USER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleUser:
		return true
	}
	return false
}

// Principal is the authenticated caller of an API request.
type Principal struct {
	UserID   string `json:"sub"`
	ClientID string `json:"clientId,omitempty"`
	Role     Role   `json:"role"`
	Email    string `json:"email"`
}

// IsSuperAdmin reports whether the principal may act on every tenant.
func (p Principal) IsSuperAdmin() bool {
	return p.Role == RoleSuperAdmin
}

// CanAccessClient reports whether the principal may read or write rows of clientID.
func (p Principal) CanAccessClient(clientID string) bool {
	return p.IsSuperAdmin() || (p.ClientID != "" && p.ClientID == clientID)
}

// CanManageClient reports whether the principal may administer clientID.
func (p Principal) CanManageClient(clientID string) bool {
	return p.IsSuperAdmin() || (p.Role == RoleAdmin && p.ClientID == clientID)
}

type claims struct {
	ClientID string `json:"clientId,omitempty"`
	Role     Role   `json:"role"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 API tokens.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret, issuer string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a token for p and returns it with its expiry.
func (s *TokenService) Issue(p Principal) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		ClientID: p.ClientID,
		Role:     p.Role,
		Email:    p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses a token and returns its principal.
func (s *TokenService) Verify(raw string) (*Principal, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errors.NewUnauthorizedError(err.Error())
	}

	if c.Subject == "" || !c.Role.Valid() {
		return nil, errors.NewUnauthorizedError("token is missing subject or role")
	}
	if c.Role != RoleSuperAdmin && c.ClientID == "" {
		return nil, errors.NewUnauthorizedError("tenant token without client")
	}

	return &Principal{
		UserID:   c.Subject,
		ClientID: c.ClientID,
		Role:     c.Role,
		Email:    c.Email,
	}, nil
}
