package models

import "time"

// DefaultCoupleName is used when a couple is created without a display name.
const DefaultCoupleName = "Our couple"

// MaxCoupleMembers is the hard cap on memberships per couple.
const MaxCoupleMembers = 2

// Couple is the pairing entity joining one or two accounts
type Couple struct {
	ID          string    `json:"id" db:"id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Membership relates an account to its one couple
type Membership struct {
	ID        string    `json:"id" db:"id"`
	CoupleID  string    `json:"couple_id" db:"couple_id"`
	AccountID string    `json:"account_id" db:"account_id"`
	JoinedAt  time.Time `json:"joined_at" db:"joined_at"`
}

// CoupleStatus is the pairing status returned to a client
type CoupleStatus struct {
	InCouple    bool   `json:"in_couple"`
	CoupleID    string `json:"couple_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	MemberCount int    `json:"member_count"`
}
