package handlers

import (
	"net/http"
	"strings"

	"couple-sync-backend/pkg/config"
	"couple-sync-backend/pkg/middleware"
	"couple-sync-backend/pkg/models"
	"couple-sync-backend/pkg/pairing"
	"couple-sync-backend/pkg/utils"
)

// CouplesHandler 情侣空间相关接口
type CouplesHandler struct {
	config *config.Config
	svc    *pairing.Service
}

func NewCouplesHandler(cfg *config.Config, svc *pairing.Service) *CouplesHandler {
	return &CouplesHandler{config: cfg, svc: svc}
}

// resolveAccount 从请求身份解析本地账户（不存在则创建）
func (h *CouplesHandler) resolveAccount(w http.ResponseWriter, r *http.Request) (*models.Account, bool) {
	identity, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return nil, false
	}
	acct, err := h.svc.ResolveAccount(identity.Subject, identity.Email)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return acct, true
}

// POST /api/couples
// action=create 创建空间；action=link 通过邮箱/手机号直接配对
func (h *CouplesHandler) HandleCoupleAction(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	var req struct {
		Action      string `json:"action"`
		DisplayName string `json:"display_name"`
		Contact     string `json:"contact"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}

	switch strings.TrimSpace(req.Action) {
	case "", "create":
		couple, err := h.svc.CreateCouple(acct.ID, req.DisplayName)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		utils.WriteCreatedResponse(w, map[string]interface{}{"couple": couple})
	case "link":
		couple, err := h.svc.LinkByContact(acct.ID, req.Contact, req.DisplayName)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		utils.WriteCreatedResponse(w, map[string]interface{}{"couple": couple})
	default:
		utils.WriteValidationErrorResponse(w, "Unknown action", "action must be create or link")
	}
}

// GET /api/couples/status
func (h *CouplesHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	status, err := h.svc.Status(acct.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, status)
}
