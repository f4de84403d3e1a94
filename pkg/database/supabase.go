package database

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"couple-sync-backend/pkg/models"
)

// SupabaseDatabase Supabase数据库实现
// Race-sensitive operations (couple creation, invitation creation, redemption)
// go through /rest/v1/rpc SQL functions so their atomicity lives in PostgreSQL;
// everything else is plain PostgREST. There is deliberately no application-side
// fallback query path: an RPC failure surfaces as-is.
type SupabaseDatabase struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewSupabaseDatabase 创建Supabase数据库实例
// The key is the service-role key: this handle bypasses row-level security and
// must never leak past the storage layer.
func NewSupabaseDatabase(rawURL, key string) DatabaseInterface {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "https://" + rawURL
	}

	return &SupabaseDatabase{
		baseURL: rawURL,
		apiKey:  key,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// makeRequest 发送HTTP请求到Supabase
func (db *SupabaseDatabase) makeRequest(method, endpoint string, body interface{}) ([]byte, error) {
	var reqBody io.Reader

	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, db.baseURL+"/rest/v1"+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("apikey", db.apiKey)
	req.Header.Set("Authorization", "Bearer "+db.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := db.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: status %d: %s", models.ErrStorageUnavailable, resp.StatusCode, string(respBody))
		}
		if domainErr := mapSupabaseError(respBody); domainErr != nil {
			return nil, domainErr
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// mapSupabaseError 将RPC异常消息映射为领域错误
// The SQL functions in scripts/init_db.sql raise exceptions whose message is a
// fixed tag; unique violations come back with the usual Postgres wording.
func mapSupabaseError(body []byte) error {
	var perr struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(body, &perr); err != nil {
		return nil
	}
	switch {
	case strings.Contains(perr.Message, "ALREADY_PAIRED"):
		return models.ErrAlreadyPaired
	case strings.Contains(perr.Message, "COUPLE_FULL"):
		return models.ErrCoupleFull
	case strings.Contains(perr.Message, "ACTIVE_INVITE_EXISTS"):
		return models.ErrActiveInviteExists
	case strings.Contains(perr.Message, "INVITE_NOT_FOUND"):
		return models.ErrInviteNotFound
	case strings.Contains(perr.Message, "INVITE_EXPIRED"):
		return models.ErrInviteExpired
	case strings.Contains(perr.Message, "INVITE_REDEEMED"):
		return models.ErrInviteRedeemed
	case strings.Contains(perr.Message, "SELF_REDEMPTION"):
		return models.ErrSelfRedemption
	case strings.Contains(perr.Message, "COUPLE_NOT_FOUND"):
		return models.ErrCoupleNotFound
	case perr.Code == "23505", strings.Contains(perr.Message, "duplicate key"):
		return models.ErrCodeTaken
	}
	return nil
}

// ================= Accounts =================

func (db *SupabaseDatabase) CreateAccount(acct *models.Account) error {
	payload := map[string]interface{}{
		"display_name": acct.DisplayName,
	}
	if acct.ExternalSubject != "" {
		payload["external_subject"] = acct.ExternalSubject
	}
	if acct.Email != "" {
		payload["email"] = acct.Email
	}
	if acct.Phone != "" {
		payload["phone"] = acct.Phone
	}

	body, err := db.makeRequest("POST", "/accounts", payload)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	var rows []models.Account
	if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
		return fmt.Errorf("unexpected create account response: %s", string(body))
	}
	*acct = rows[0]
	return nil
}

func (db *SupabaseDatabase) GetAccountBySubject(subject string) (*models.Account, error) {
	return db.getAccount("external_subject=eq." + url.QueryEscape(subject))
}

func (db *SupabaseDatabase) GetAccountByID(id string) (*models.Account, error) {
	return db.getAccount("id=eq." + url.QueryEscape(id))
}

func (db *SupabaseDatabase) FindAccountByContact(contact string) (*models.Account, error) {
	esc := url.QueryEscape(contact)
	acct, err := db.getAccount(fmt.Sprintf("or=(email.ilike.%s,phone.eq.%s)", esc, esc))
	if err != nil {
		if err == models.ErrAccountNotFound {
			return nil, models.ErrPartnerNotFound
		}
		return nil, err
	}
	return acct, nil
}

func (db *SupabaseDatabase) getAccount(filter string) (*models.Account, error) {
	body, err := db.makeRequest("GET", "/accounts?"+filter+"&limit=1", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	var rows []models.Account
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse account response: %w", err)
	}
	if len(rows) == 0 {
		return nil, models.ErrAccountNotFound
	}
	return &rows[0], nil
}

func (db *SupabaseDatabase) UpdateAccount(acct *models.Account) error {
	patch := map[string]interface{}{
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if acct.Email != "" {
		patch["email"] = acct.Email
	}
	if acct.Phone != "" {
		patch["phone"] = acct.Phone
	}
	if acct.DisplayName != "" {
		patch["display_name"] = acct.DisplayName
	}
	_, err := db.makeRequest("PATCH", "/accounts?id=eq."+url.QueryEscape(acct.ID), patch)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

// ================= Couples & memberships =================

func (db *SupabaseDatabase) CreateCouple(couple *models.Couple, creatorID string) error {
	body, err := db.makeRequest("POST", "/rpc/create_couple", map[string]interface{}{
		"p_display_name": couple.DisplayName,
		"p_creator_id":   creatorID,
	})
	if err != nil {
		return err
	}
	return unmarshalRPCRow(body, couple)
}

func (db *SupabaseDatabase) GetCouple(coupleID string) (*models.Couple, error) {
	body, err := db.makeRequest("GET", "/couples?id=eq."+url.QueryEscape(coupleID)+"&limit=1", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get couple: %w", err)
	}
	var rows []models.Couple
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse couple response: %w", err)
	}
	if len(rows) == 0 {
		return nil, models.ErrCoupleNotFound
	}
	return &rows[0], nil
}

func (db *SupabaseDatabase) GetMembership(accountID string) (*models.Membership, error) {
	body, err := db.makeRequest("GET", "/couple_memberships?account_id=eq."+url.QueryEscape(accountID)+"&limit=1", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	var rows []models.Membership
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse membership response: %w", err)
	}
	if len(rows) == 0 {
		return nil, models.ErrNotFound
	}
	return &rows[0], nil
}

func (db *SupabaseDatabase) ListCoupleMembers(coupleID string) ([]models.Membership, error) {
	body, err := db.makeRequest("GET", "/couple_memberships?couple_id=eq."+url.QueryEscape(coupleID)+"&order=joined_at.asc", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	var rows []models.Membership
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse members response: %w", err)
	}
	return rows, nil
}

func (db *SupabaseDatabase) AddCoupleMember(coupleID, accountID string) (*models.Membership, error) {
	body, err := db.makeRequest("POST", "/rpc/join_couple", map[string]interface{}{
		"p_couple_id":  coupleID,
		"p_account_id": accountID,
	})
	if err != nil {
		return nil, err
	}
	var m models.Membership
	if err := unmarshalRPCRow(body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ================= Invitations =================

func (db *SupabaseDatabase) InsertInvitation(inv *models.Invitation) error {
	body, err := db.makeRequest("POST", "/rpc/create_invitation", map[string]interface{}{
		"p_couple_id":  inv.CoupleID,
		"p_created_by": inv.CreatedBy,
		"p_code":       strings.ToUpper(inv.Code),
		"p_expires_at": inv.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return unmarshalRPCRow(body, inv)
}

func (db *SupabaseDatabase) GetActiveInvitation(coupleID string) (*models.Invitation, error) {
	now := url.QueryEscape(time.Now().UTC().Format(time.RFC3339))
	endpoint := "/couple_invitations?couple_id=eq." + url.QueryEscape(coupleID) +
		"&redeemed_at=is.null&expires_at=gt." + now + "&order=created_at.desc&limit=1"
	body, err := db.makeRequest("GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get active invitation: %w", err)
	}
	var rows []models.Invitation
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse invitation response: %w", err)
	}
	if len(rows) == 0 {
		return nil, models.ErrNotFound
	}
	return &rows[0], nil
}

func (db *SupabaseDatabase) GetInvitationByCode(code string) (*models.Invitation, error) {
	endpoint := "/couple_invitations?code=eq." + url.QueryEscape(strings.ToUpper(code)) + "&limit=1"
	body, err := db.makeRequest("GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	var rows []models.Invitation
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse invitation response: %w", err)
	}
	if len(rows) == 0 {
		return nil, models.ErrInviteNotFound
	}
	return &rows[0], nil
}

func (db *SupabaseDatabase) RedeemInvitation(code, redeemerID string) (*models.Couple, error) {
	body, err := db.makeRequest("POST", "/rpc/redeem_invitation", map[string]interface{}{
		"p_code":        strings.ToUpper(code),
		"p_redeemer_id": redeemerID,
	})
	if err != nil {
		return nil, err
	}
	var c models.Couple
	if err := unmarshalRPCRow(body, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// unmarshalRPCRow decodes an RPC response that returns either a row object or
// a single-row array, depending on the function's return type.
func unmarshalRPCRow(body []byte, v interface{}) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		raw := []json.RawMessage{}
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return fmt.Errorf("failed to parse RPC response: %w", err)
		}
		if len(raw) == 0 {
			return fmt.Errorf("empty RPC response")
		}
		trimmed = raw[0]
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("failed to parse RPC response: %w", err)
	}
	return nil
}

// ================= Journal =================

func (db *SupabaseDatabase) CreateJournalEntry(e *models.JournalEntry) error {
	payload := map[string]interface{}{
		"couple_id": e.CoupleID,
		"author_id": e.AuthorID,
		"title":     e.Title,
		"body":      e.Body,
		"photo_url": e.PhotoURL,
	}
	if e.EntryDate != "" {
		payload["entry_date"] = e.EntryDate
	}
	body, err := db.makeRequest("POST", "/journal_entries", payload)
	if err != nil {
		return fmt.Errorf("failed to create journal entry: %w", err)
	}
	var rows []models.JournalEntry
	if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
		return fmt.Errorf("unexpected journal entry response: %s", string(body))
	}
	*e = rows[0]
	return nil
}

func (db *SupabaseDatabase) ListJournalEntries(coupleID string) ([]models.JournalEntry, error) {
	endpoint := "/journal_entries?couple_id=eq." + url.QueryEscape(coupleID) +
		"&deleted_at=is.null&order=created_at.desc"
	body, err := db.makeRequest("GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	var rows []models.JournalEntry
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse journal response: %w", err)
	}
	return rows, nil
}

func (db *SupabaseDatabase) GetJournalEntry(id string) (*models.JournalEntry, error) {
	endpoint := "/journal_entries?id=eq." + url.QueryEscape(id) + "&deleted_at=is.null&limit=1"
	body, err := db.makeRequest("GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}
	var rows []models.JournalEntry
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse journal response: %w", err)
	}
	if len(rows) == 0 {
		return nil, models.ErrNotFound
	}
	return &rows[0], nil
}

func (db *SupabaseDatabase) UpdateJournalEntry(e *models.JournalEntry) error {
	patch := map[string]interface{}{
		"title":      e.Title,
		"body":       e.Body,
		"photo_url":  e.PhotoURL,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if e.EntryDate != "" {
		patch["entry_date"] = e.EntryDate
	}
	endpoint := "/journal_entries?id=eq." + url.QueryEscape(e.ID) + "&deleted_at=is.null"
	body, err := db.makeRequest("PATCH", endpoint, patch)
	if err != nil {
		return fmt.Errorf("failed to update journal entry: %w", err)
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err == nil && len(rows) == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *SupabaseDatabase) DeleteJournalEntry(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	endpoint := "/journal_entries?id=eq." + url.QueryEscape(id) + "&deleted_at=is.null"
	body, err := db.makeRequest("PATCH", endpoint, map[string]interface{}{
		"deleted_at": now,
		"updated_at": now,
	})
	if err != nil {
		return fmt.Errorf("failed to delete journal entry: %w", err)
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err == nil && len(rows) == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ================= Date plans =================

func (db *SupabaseDatabase) CreateDatePlan(p *models.DatePlan) error {
	if p.Status == "" {
		p.Status = models.DatePlanned
	}
	payload := map[string]interface{}{
		"couple_id":   p.CoupleID,
		"created_by":  p.CreatedBy,
		"title":       p.Title,
		"description": p.Description,
		"location":    p.Location,
		"status":      string(p.Status),
	}
	if p.ScheduledAt != nil {
		payload["scheduled_at"] = p.ScheduledAt.UTC().Format(time.RFC3339)
	}
	body, err := db.makeRequest("POST", "/date_plans", payload)
	if err != nil {
		return fmt.Errorf("failed to create date plan: %w", err)
	}
	var rows []models.DatePlan
	if err := json.Unmarshal(body, &rows); err != nil || len(rows) == 0 {
		return fmt.Errorf("unexpected date plan response: %s", string(body))
	}
	*p = rows[0]
	return nil
}

func (db *SupabaseDatabase) ListDatePlans(coupleID string) ([]models.DatePlan, error) {
	endpoint := "/date_plans?couple_id=eq." + url.QueryEscape(coupleID) + "&order=scheduled_at.asc.nullslast"
	body, err := db.makeRequest("GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list date plans: %w", err)
	}
	var rows []models.DatePlan
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse date plan response: %w", err)
	}
	return rows, nil
}

func (db *SupabaseDatabase) GetDatePlan(id string) (*models.DatePlan, error) {
	body, err := db.makeRequest("GET", "/date_plans?id=eq."+url.QueryEscape(id)+"&limit=1", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get date plan: %w", err)
	}
	var rows []models.DatePlan
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse date plan response: %w", err)
	}
	if len(rows) == 0 {
		return nil, models.ErrNotFound
	}
	return &rows[0], nil
}

func (db *SupabaseDatabase) UpdateDatePlan(p *models.DatePlan) error {
	patch := map[string]interface{}{
		"title":       p.Title,
		"description": p.Description,
		"location":    p.Location,
		"status":      string(p.Status),
		"updated_at":  time.Now().UTC().Format(time.RFC3339),
	}
	if p.ScheduledAt != nil {
		patch["scheduled_at"] = p.ScheduledAt.UTC().Format(time.RFC3339)
	}
	body, err := db.makeRequest("PATCH", "/date_plans?id=eq."+url.QueryEscape(p.ID), patch)
	if err != nil {
		return fmt.Errorf("failed to update date plan: %w", err)
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err == nil && len(rows) == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *SupabaseDatabase) DeleteDatePlan(id string) error {
	body, err := db.makeRequest("DELETE", "/date_plans?id=eq."+url.QueryEscape(id), nil)
	if err != nil {
		return fmt.Errorf("failed to delete date plan: %w", err)
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err == nil && len(rows) == 0 {
		return models.ErrNotFound
	}
	return nil
}

// HealthCheck 健康检查
func (db *SupabaseDatabase) HealthCheck() error {
	_, err := db.makeRequest("GET", "/accounts?limit=1", nil)
	return err
}

// Close 关闭连接（REST客户端无需关闭）
func (db *SupabaseDatabase) Close() error {
	return nil
}
