package models

import "errors"

// Domain error taxonomy. The storage layer returns these sentinels so that
// every backend (Postgres, Supabase REST, local files) surfaces the same
// outcome and the handlers can map them to HTTP statuses in one place.
// ErrStorageUnavailable is the only error a caller may retry.
var (
	ErrInvalidSubject     = errors.New("invalid identity subject")
	ErrAccountNotFound    = errors.New("account not found")
	ErrCoupleNotFound     = errors.New("couple not found")
	ErrNotAMember         = errors.New("not a member of couple")
	ErrAlreadyPaired      = errors.New("account already in a couple")
	ErrCoupleFull         = errors.New("couple already has two members")
	ErrActiveInviteExists = errors.New("couple already has an active invitation")
	ErrInviteNotFound     = errors.New("invitation code not found")
	ErrInviteExpired      = errors.New("invitation code expired")
	ErrInviteRedeemed     = errors.New("invitation code already redeemed")
	ErrSelfRedemption     = errors.New("cannot redeem own invitation code")
	ErrPartnerNotFound    = errors.New("partner account not found")
	ErrCodeTaken          = errors.New("invitation code already in use")
	ErrNotFound           = errors.New("not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
