package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Account represents an internal account linked to an external identity subject.
// The passkey ceremony itself happens at the identity provider; we only ever see
// the subject it hands us inside a signed token.
type Account struct {
	ID              string    `json:"id" db:"id"`
	ExternalSubject string    `json:"external_subject,omitempty" db:"external_subject"`
	Email           string    `json:"email,omitempty" db:"email"`
	Phone           string    `json:"phone,omitempty" db:"phone"`
	DisplayName     string    `json:"display_name,omitempty" db:"display_name"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// TokenClaims represents the JWT token claims issued by the identity boundary
type TokenClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Type    string `json:"type"` // "access" or "refresh"
	Exp     int64  `json:"exp"`
	Iat     int64  `json:"iat"`
}

// GetExpirationTime implements jwt.Claims interface
func (c *TokenClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Exp, 0)), nil
}

// GetIssuedAt implements jwt.Claims interface
func (c *TokenClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Iat, 0)), nil
}

// GetNotBefore implements jwt.Claims interface
func (c *TokenClaims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

// GetIssuer implements jwt.Claims interface
func (c *TokenClaims) GetIssuer() (string, error) {
	return "", nil
}

// GetSubject implements jwt.Claims interface
func (c *TokenClaims) GetSubject() (string, error) {
	return c.Subject, nil
}

// GetAudience implements jwt.Claims interface
func (c *TokenClaims) GetAudience() (jwt.ClaimStrings, error) {
	return nil, nil
}
