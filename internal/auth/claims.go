package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for the internal surface.
//
// Multi-tenant invariant: TenantID scopes the token to one tenant. It is empty
// only for platform-wide operators, which rbac restricts to the platform role.
type Claims struct {
	jwt.RegisteredClaims

	ActorID   string    `json:"actor_id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
