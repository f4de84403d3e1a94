package handlers

import (
	"errors"
	"net/http"

	"couple-sync-backend/pkg/config"
	"couple-sync-backend/pkg/models"
	"couple-sync-backend/pkg/pairing"
	"couple-sync-backend/pkg/utils"
)

// InvitationsHandler 邀请码相关接口
type InvitationsHandler struct {
	config *config.Config
	svc    *pairing.Service
	shared *CouplesHandler
}

func NewInvitationsHandler(cfg *config.Config, svc *pairing.Service, shared *CouplesHandler) *InvitationsHandler {
	return &InvitationsHandler{config: cfg, svc: svc, shared: shared}
}

// POST /api/invitations
// 签发邀请码。同一情侣空间同时只能有一个有效码。
func (h *InvitationsHandler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.shared.resolveAccount(w, r)
	if !ok {
		return
	}

	inv, err := h.svc.CreateInvitation(acct.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	utils.WriteCreatedResponse(w, map[string]interface{}{
		"code":       inv.Code,
		"expires_at": inv.ExpiresAt,
	})
}

// GET /api/invitations/active
// 查询当前有效的邀请码，没有则返回404。
func (h *InvitationsHandler) GetActiveInvitation(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.shared.resolveAccount(w, r)
	if !ok {
		return
	}

	inv, err := h.svc.ActiveInvitation(acct.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			utils.WriteNotFoundResponse(w, "No active invitation")
			return
		}
		writeDomainError(w, err)
		return
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"code":       inv.Code,
		"created_at": inv.CreatedAt,
		"expires_at": inv.ExpiresAt,
	})
}

// POST /api/invitations/redeem
// 兑换邀请码并加入对方的情侣空间。
func (h *InvitationsHandler) RedeemInvitation(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.shared.resolveAccount(w, r)
	if !ok {
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}

	couple, err := h.svc.Redeem(acct.ID, req.Code)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{"couple": couple})
}
