package models

import "time"

// InvitationTTL bounds the validity window of a code. Fixed at creation,
// never extended.
const InvitationTTL = 7 * 24 * time.Hour

// Invitation is a time-boxed, single-use code that lets a second account
// join a couple. There is no stored state column: an invitation is ACTIVE
// while redeemed_at is null and expires_at is in the future, and terminal
// otherwise. Expiry is computed at read time.
type Invitation struct {
	ID         string     `json:"id" db:"id"`
	Code       string     `json:"code" db:"code"`
	CoupleID   string     `json:"couple_id" db:"couple_id"`
	CreatedBy  string     `json:"created_by" db:"created_by"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty" db:"redeemed_at"`
	RedeemedBy *string    `json:"redeemed_by,omitempty" db:"redeemed_by"`
}

// IsExpired reports whether the validity window has passed.
func (inv *Invitation) IsExpired(now time.Time) bool {
	return !now.Before(inv.ExpiresAt)
}

// IsActive reports whether the code can still be redeemed.
func (inv *Invitation) IsActive(now time.Time) bool {
	return inv.RedeemedAt == nil && !inv.IsExpired(now)
}
