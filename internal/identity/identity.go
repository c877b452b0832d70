// Package identity resolves the authenticated caller for a request and
// carries the role information the scheduling facade authorizes against.
package identity

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bookline/bookline/libs/auth"
)

const (
	RoleClient       = "client"
	RoleProfessional = "professional"
	RoleAdmin        = "admin"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Caller is the verified identity attached to an operation.
type Caller struct {
	ID         string
	BusinessID string
	Role       string
}

// Staff reports whether the caller manages appointments rather than owning
// them as a client.
func (c Caller) Staff() bool {
	return c.Role == RoleProfessional || c.Role == RoleAdmin
}

// Provider extracts the caller from an incoming request.
type Provider interface {
	CallerFromRequest(r *http.Request) (Caller, error)
}

// JWTProvider verifies HS256 bearer tokens minted by the identity service.
type JWTProvider struct {
	Secret string
}

func (p JWTProvider) CallerFromRequest(r *http.Request) (Caller, error) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return Caller{}, ErrUnauthenticated
	}
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok {
		return Caller{}, ErrUnauthenticated
	}
	claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(token), p.Secret)
	if err != nil {
		return Caller{}, ErrUnauthenticated
	}
	role := claims.Role
	if role == "" {
		role = RoleClient
	}
	return Caller{ID: claims.Sub, BusinessID: claims.BusinessID, Role: role}, nil
}

// Static returns a fixed caller; test wiring only.
type Static struct {
	Caller Caller
	Err    error
}

func (s Static) CallerFromRequest(*http.Request) (Caller, error) {
	if s.Err != nil {
		return Caller{}, s.Err
	}
	return s.Caller, nil
}
