package handlers

import (
	"net/http"
	"strings"
	"time"

	chiRoute "github.com/go-chi/chi/v5"

	"couple-sync-backend/pkg/config"
	"couple-sync-backend/pkg/database"
	"couple-sync-backend/pkg/models"
	"couple-sync-backend/pkg/pairing"
	"couple-sync-backend/pkg/utils"
)

// DatePlansHandler 约会计划接口
type DatePlansHandler struct {
	config *config.Config
	db     database.DatabaseInterface
	svc    *pairing.Service
	shared *CouplesHandler
}

func NewDatePlansHandler(cfg *config.Config, db database.DatabaseInterface, svc *pairing.Service, shared *CouplesHandler) *DatePlansHandler {
	return &DatePlansHandler{config: cfg, db: db, svc: svc, shared: shared}
}

func (h *DatePlansHandler) requireCoupleContext(w http.ResponseWriter, r *http.Request) (*models.Account, *models.Membership, bool) {
	acct, ok := h.shared.resolveAccount(w, r)
	if !ok {
		return nil, nil, false
	}
	membership, err := h.svc.RequireMembership(acct.ID)
	if err != nil {
		writeDomainError(w, err)
		return nil, nil, false
	}
	return acct, membership, true
}

// POST /api/dates
func (h *DatePlansHandler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	acct, membership, ok := h.requireCoupleContext(w, r)
	if !ok {
		return
	}

	var req struct {
		Title       string     `json:"title"`
		Description string     `json:"description"`
		Location    string     `json:"location"`
		ScheduledAt *time.Time `json:"scheduled_at"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		utils.WriteValidationErrorResponse(w, "Title required", "title must not be empty")
		return
	}

	plan := &models.DatePlan{
		CoupleID:    membership.CoupleID,
		CreatedBy:   acct.ID,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		ScheduledAt: req.ScheduledAt,
		Status:      models.DatePlanned,
	}
	if err := h.db.CreateDatePlan(plan); err != nil {
		writeDomainError(w, err)
		return
	}

	utils.WriteCreatedResponse(w, map[string]interface{}{"plan": plan})
}

// GET /api/dates
func (h *DatePlansHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	_, membership, ok := h.requireCoupleContext(w, r)
	if !ok {
		return
	}

	plans, err := h.db.ListDatePlans(membership.CoupleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// 可选按状态过滤
	if status := utils.GetQueryParam(r, "status", ""); status != "" {
		filtered := plans[:0]
		for _, p := range plans {
			if string(p.Status) == status {
				filtered = append(filtered, p)
			}
		}
		plans = filtered
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{"plans": plans})
}

func (h *DatePlansHandler) getScopedPlan(w http.ResponseWriter, r *http.Request, coupleID string) (*models.DatePlan, bool) {
	planID := chiRoute.URLParam(r, "id")
	if strings.TrimSpace(planID) == "" {
		utils.WriteBadRequestResponse(w, "plan id required")
		return nil, false
	}

	plan, err := h.db.GetDatePlan(planID)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	if plan.CoupleID != coupleID {
		utils.WriteNotFoundResponse(w, "Resource not found")
		return nil, false
	}
	return plan, true
}

// GET /api/dates/{id}
func (h *DatePlansHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	_, membership, ok := h.requireCoupleContext(w, r)
	if !ok {
		return
	}
	plan, ok := h.getScopedPlan(w, r, membership.CoupleID)
	if !ok {
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"plan": plan})
}

// PUT /api/dates/{id}
func (h *DatePlansHandler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	_, membership, ok := h.requireCoupleContext(w, r)
	if !ok {
		return
	}
	plan, ok := h.getScopedPlan(w, r, membership.CoupleID)
	if !ok {
		return
	}

	var req struct {
		Title       *string    `json:"title"`
		Description *string    `json:"description"`
		Location    *string    `json:"location"`
		ScheduledAt *time.Time `json:"scheduled_at"`
		Status      *string    `json:"status"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}

	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			utils.WriteValidationErrorResponse(w, "Title required", "title must not be empty")
			return
		}
		plan.Title = *req.Title
	}
	if req.Description != nil {
		plan.Description = *req.Description
	}
	if req.Location != nil {
		plan.Location = *req.Location
	}
	if req.ScheduledAt != nil {
		plan.ScheduledAt = req.ScheduledAt
	}
	if req.Status != nil {
		switch models.DatePlanStatus(*req.Status) {
		case models.DatePlanned, models.DateDone, models.DateCanceled:
			plan.Status = models.DatePlanStatus(*req.Status)
		default:
			utils.WriteValidationErrorResponse(w, "Invalid status", "status must be planned, done or canceled")
			return
		}
	}

	if err := h.db.UpdateDatePlan(plan); err != nil {
		writeDomainError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"plan": plan})
}

// DELETE /api/dates/{id}
func (h *DatePlansHandler) DeletePlan(w http.ResponseWriter, r *http.Request) {
	_, membership, ok := h.requireCoupleContext(w, r)
	if !ok {
		return
	}
	plan, ok := h.getScopedPlan(w, r, membership.CoupleID)
	if !ok {
		return
	}

	if err := h.db.DeleteDatePlan(plan.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"deleted": true})
}
