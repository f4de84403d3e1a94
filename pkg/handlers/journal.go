package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	chiRoute "github.com/go-chi/chi/v5"

	"couple-sync-backend/pkg/config"
	"couple-sync-backend/pkg/database"
	"couple-sync-backend/pkg/models"
	"couple-sync-backend/pkg/pairing"
	"couple-sync-backend/pkg/utils"
)

// JournalHandler 共同日记接口
// Every operation is scoped to the caller's couple; entries from other couples
// are indistinguishable from missing ones.
type JournalHandler struct {
	config *config.Config
	db     database.DatabaseInterface
	svc    *pairing.Service
	shared *CouplesHandler
}

func NewJournalHandler(cfg *config.Config, db database.DatabaseInterface, svc *pairing.Service, shared *CouplesHandler) *JournalHandler {
	return &JournalHandler{config: cfg, db: db, svc: svc, shared: shared}
}

// requireCoupleContext 解析账户并确认其已配对
func (h *JournalHandler) requireCoupleContext(w http.ResponseWriter, r *http.Request) (*models.Account, *models.Membership, bool) {
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

// POST /api/journal
func (h *JournalHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	acct, membership, ok := h.requireCoupleContext(w, r)
	if !ok {
		return
	}

	var req struct {
		Title     string `json:"title"`
		Body      string `json:"body"`
		EntryDate string `json:"entry_date"`
		PhotoURL  string `json:"photo_url"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		utils.WriteValidationErrorResponse(w, "Title required", "title must not be empty")
		return
	}
	if req.EntryDate != "" {
		if _, err := time.Parse("2006-01-02", req.EntryDate); err != nil {
			utils.WriteValidationErrorResponse(w, "Invalid entry_date", "expected YYYY-MM-DD")
			return
		}
	}

	entry := &models.JournalEntry{
		CoupleID:  membership.CoupleID,
		AuthorID:  acct.ID,
		Title:     req.Title,
		Body:      req.Body,
		EntryDate: req.EntryDate,
		PhotoURL:  req.PhotoURL,
	}
	if err := h.db.CreateJournalEntry(entry); err != nil {
		writeDomainError(w, err)
		return
	}

	utils.WriteCreatedResponse(w, map[string]interface{}{"entry": entry})
}

// GET /api/journal
// 支持分页和弱ETag缓存。
func (h *JournalHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	_, membership, ok := h.requireCoupleContext(w, r)
	if !ok {
		return
	}

	entries, err := h.db.ListJournalEntries(membership.CoupleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	etag := journalETag(entries)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	page, perPage := parsePagination(r)
	total := len(entries)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	w.Header().Set("ETag", etag)
	utils.WritePaginatedResponse(w, entries[start:end], page, perPage, total)
}

// journalETag 基于条数和最近更新时间生成弱ETag
func journalETag(entries []models.JournalEntry) string {
	var latest time.Time
	for _, e := range entries {
		if e.UpdatedAt.After(latest) {
			latest = e.UpdatedAt
		}
	}
	return fmt.Sprintf(`W/"%d-%d"`, len(entries), latest.Unix())
}

// parsePagination 读取page/per_page查询参数
func parsePagination(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(utils.GetQueryParam(r, "page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ = strconv.Atoi(utils.GetQueryParam(r, "per_page", "20"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage
}

// getScopedEntry 获取日记并校验属于呼叫者的情侣空间
func (h *JournalHandler) getScopedEntry(w http.ResponseWriter, r *http.Request, coupleID string) (*models.JournalEntry, bool) {
	entryID := chiRoute.URLParam(r, "id")
	if strings.TrimSpace(entryID) == "" {
		utils.WriteBadRequestResponse(w, "entry id required")
		return nil, false
	}

	entry, err := h.db.GetJournalEntry(entryID)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	if entry.CoupleID != coupleID {
		utils.WriteNotFoundResponse(w, "Resource not found")
		return nil, false
	}
	return entry, true
}

// GET /api/journal/{id}
func (h *JournalHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	_, membership, ok := h.requireCoupleContext(w, r)
	if !ok {
		return
	}
	entry, ok := h.getScopedEntry(w, r, membership.CoupleID)
	if !ok {
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"entry": entry})
}

// PUT /api/journal/{id}
func (h *JournalHandler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	_, membership, ok := h.requireCoupleContext(w, r)
	if !ok {
		return
	}
	entry, ok := h.getScopedEntry(w, r, membership.CoupleID)
	if !ok {
		return
	}

	var req struct {
		Title     *string `json:"title"`
		Body      *string `json:"body"`
		EntryDate *string `json:"entry_date"`
		PhotoURL  *string `json:"photo_url"`
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
		entry.Title = *req.Title
	}
	if req.Body != nil {
		entry.Body = *req.Body
	}
	if req.EntryDate != nil {
		if *req.EntryDate != "" {
			if _, err := time.Parse("2006-01-02", *req.EntryDate); err != nil {
				utils.WriteValidationErrorResponse(w, "Invalid entry_date", "expected YYYY-MM-DD")
				return
			}
		}
		entry.EntryDate = *req.EntryDate
	}
	if req.PhotoURL != nil {
		entry.PhotoURL = *req.PhotoURL
	}

	if err := h.db.UpdateJournalEntry(entry); err != nil {
		writeDomainError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"entry": entry})
}

// DELETE /api/journal/{id}
// 软删除，列表中不再出现。
func (h *JournalHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	_, membership, ok := h.requireCoupleContext(w, r)
	if !ok {
		return
	}
	entry, ok := h.getScopedEntry(w, r, membership.CoupleID)
	if !ok {
		return
	}

	if err := h.db.DeleteJournalEntry(entry.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"deleted": true})
}
