package handlers

import (
	"errors"
	"net/http"

	"couple-sync-backend/pkg/models"
	"couple-sync-backend/pkg/utils"
)

// writeDomainError 将领域错误映射为HTTP响应
// Every pairing handler funnels its error through here so the wire contract
// stays in one place. Unrecognized errors are treated as a storage outage and
// reported as retryable.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidSubject):
		utils.WriteBadRequestResponse(w, "A valid subject identifier is required")
	case errors.Is(err, models.ErrAlreadyPaired):
		utils.WriteErrorResponseWithCode(w, http.StatusConflict, "ALREADY_PAIRED", "Account already belongs to a couple", "")
	case errors.Is(err, models.ErrCoupleFull):
		utils.WriteErrorResponseWithCode(w, http.StatusConflict, "COUPLE_FULL", "This couple already has two members", "")
	case errors.Is(err, models.ErrActiveInviteExists):
		utils.WriteErrorResponseWithCode(w, http.StatusConflict, "ACTIVE_INVITATION_EXISTS", "An active invitation already exists for this couple", "")
	case errors.Is(err, models.ErrInviteNotFound):
		utils.WriteErrorResponseWithCode(w, http.StatusNotFound, "INVALID_CODE", "Invitation code not found", "")
	case errors.Is(err, models.ErrInviteExpired):
		utils.WriteErrorResponseWithCode(w, http.StatusGone, "INVITATION_EXPIRED", "Invitation code has expired", "")
	case errors.Is(err, models.ErrInviteRedeemed):
		utils.WriteErrorResponseWithCode(w, http.StatusConflict, "ALREADY_REDEEMED", "Invitation code has already been redeemed", "")
	case errors.Is(err, models.ErrSelfRedemption):
		utils.WriteErrorResponseWithCode(w, http.StatusBadRequest, "SELF_REDEMPTION", "You cannot pair with yourself", "")
	case errors.Is(err, models.ErrPartnerNotFound):
		utils.WriteErrorResponseWithCode(w, http.StatusNotFound, "PARTNER_NOT_FOUND", "No account found for that contact", "")
	case errors.Is(err, models.ErrNotAMember):
		utils.WriteForbiddenResponse(w, "You are not a member of a couple")
	case errors.Is(err, models.ErrCoupleNotFound), errors.Is(err, models.ErrAccountNotFound), errors.Is(err, models.ErrNotFound):
		utils.WriteNotFoundResponse(w, "Resource not found")
	default:
		utils.WriteServiceUnavailableResponse(w, "Storage temporarily unavailable, please retry")
	}
}
