package models

import "github.com/golang-jwt/jwt/v5"

// LoginRequest holds the OAuth2 password-flow form fields. The username field
// accepts either an email address or a username.
type LoginRequest struct {
	Username string `form:"username" validate:"required"`
	Password string `form:"password" validate:"required"`
}

// TokenResponse returns the issued bearer token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// RegisterRequest holds the self-registration payload.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Username string `json:"username" validate:"omitempty,min=3,max=50"`
	FullName string `json:"full_name" validate:"omitempty,max=100"`
}

// RequestMeta carries client metadata for audit trails.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// AccessClaims is the JWT payload for access tokens. Subject carries the user
// id and ID carries the jti used as the revocation key.
type AccessClaims struct {
	jwt.RegisteredClaims
}

// RevocationKey returns the identifier under which this token is revoked.
// Tokens without a jti fall back to the subject id, which widens revocation
// to every jti-less token of that user.
func (c *AccessClaims) RevocationKey() string {
	if c.ID != "" {
		return c.ID
	}
	return c.Subject
}
