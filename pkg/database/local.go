package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"couple-sync-backend/pkg/models"

	"github.com/google/uuid"
)

// LocalDatabase 本地文件数据库实现
// A single process-wide mutex makes the multi-step operations (create couple,
// redeem invitation) atomic in-process, which is all the development store
// needs to honor the same contract as the SQL backends.
type LocalDatabase struct {
	dataDir string
	mu      sync.Mutex
}

// NewLocalDatabase 创建本地数据库实例
func NewLocalDatabase() DatabaseInterface {
	// 在Vercel等只读文件系统中，使用临时目录
	dataDir := "./data"

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		fmt.Printf("Warning: Failed to create data directory: %v\n", err)
		dataDir = "/tmp/couplesync-data"
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			fmt.Printf("Warning: Failed to create temp data directory: %v\n", err)
			dataDir = "."
		}
	}

	return &LocalDatabase{dataDir: dataDir}
}

// NewLocalDatabaseAt 在指定目录创建本地数据库实例（测试用）
func NewLocalDatabaseAt(dataDir string) DatabaseInterface {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		panic(fmt.Sprintf("failed to create data directory %s: %v", dataDir, err))
	}
	return &LocalDatabase{dataDir: dataDir}
}

func (db *LocalDatabase) load(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(db.dataDir, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // empty collection
		}
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s.json: %w", name, err)
	}
	return nil
}

func (db *LocalDatabase) save(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(db.dataDir, name+".json"), data, 0644); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

// ================= Accounts =================

func (db *LocalDatabase) CreateAccount(acct *models.Account) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var accounts []models.Account
	if err := db.load("accounts", &accounts); err != nil {
		return err
	}
	if acct.ExternalSubject != "" {
		for _, a := range accounts {
			if a.ExternalSubject == acct.ExternalSubject {
				return fmt.Errorf("account with subject already exists")
			}
		}
	}
	if acct.ID == "" {
		acct.ID = uuid.New().String()
	}
	acct.CreatedAt = time.Now()
	acct.UpdatedAt = acct.CreatedAt
	accounts = append(accounts, *acct)
	return db.save("accounts", accounts)
}

func (db *LocalDatabase) GetAccountBySubject(subject string) (*models.Account, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.findAccount(func(a *models.Account) bool { return a.ExternalSubject == subject })
}

func (db *LocalDatabase) GetAccountByID(id string) (*models.Account, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.findAccount(func(a *models.Account) bool { return a.ID == id })
}

func (db *LocalDatabase) FindAccountByContact(contact string) (*models.Account, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	acct, err := db.findAccount(func(a *models.Account) bool {
		return (a.Email != "" && strings.EqualFold(a.Email, contact)) || (a.Phone != "" && a.Phone == contact)
	})
	if err != nil {
		return nil, models.ErrPartnerNotFound
	}
	return acct, nil
}

// findAccount assumes db.mu is held.
func (db *LocalDatabase) findAccount(match func(*models.Account) bool) (*models.Account, error) {
	var accounts []models.Account
	if err := db.load("accounts", &accounts); err != nil {
		return nil, err
	}
	for i := range accounts {
		if match(&accounts[i]) {
			a := accounts[i]
			return &a, nil
		}
	}
	return nil, models.ErrAccountNotFound
}

func (db *LocalDatabase) UpdateAccount(acct *models.Account) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var accounts []models.Account
	if err := db.load("accounts", &accounts); err != nil {
		return err
	}
	for i := range accounts {
		if accounts[i].ID == acct.ID {
			acct.UpdatedAt = time.Now()
			accounts[i] = *acct
			return db.save("accounts", accounts)
		}
	}
	return models.ErrAccountNotFound
}

// ================= Couples & memberships =================

func (db *LocalDatabase) CreateCouple(couple *models.Couple, creatorID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var memberships []models.Membership
	if err := db.load("memberships", &memberships); err != nil {
		return err
	}
	for _, m := range memberships {
		if m.AccountID == creatorID {
			return models.ErrAlreadyPaired
		}
	}

	var couples []models.Couple
	if err := db.load("couples", &couples); err != nil {
		return err
	}
	if couple.ID == "" {
		couple.ID = uuid.New().String()
	}
	couple.CreatedAt = time.Now()
	couple.UpdatedAt = couple.CreatedAt
	couples = append(couples, *couple)
	if err := db.save("couples", couples); err != nil {
		return err
	}

	memberships = append(memberships, models.Membership{
		ID:        uuid.New().String(),
		CoupleID:  couple.ID,
		AccountID: creatorID,
		JoinedAt:  time.Now(),
	})
	return db.save("memberships", memberships)
}

func (db *LocalDatabase) GetCouple(coupleID string) (*models.Couple, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.getCouple(coupleID)
}

// getCouple assumes db.mu is held.
func (db *LocalDatabase) getCouple(coupleID string) (*models.Couple, error) {
	var couples []models.Couple
	if err := db.load("couples", &couples); err != nil {
		return nil, err
	}
	for i := range couples {
		if couples[i].ID == coupleID {
			c := couples[i]
			return &c, nil
		}
	}
	return nil, models.ErrCoupleNotFound
}

func (db *LocalDatabase) GetMembership(accountID string) (*models.Membership, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var memberships []models.Membership
	if err := db.load("memberships", &memberships); err != nil {
		return nil, err
	}
	for i := range memberships {
		if memberships[i].AccountID == accountID {
			m := memberships[i]
			return &m, nil
		}
	}
	return nil, models.ErrNotFound
}

func (db *LocalDatabase) ListCoupleMembers(coupleID string) ([]models.Membership, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.listMembers(coupleID)
}

// listMembers assumes db.mu is held.
func (db *LocalDatabase) listMembers(coupleID string) ([]models.Membership, error) {
	var memberships []models.Membership
	if err := db.load("memberships", &memberships); err != nil {
		return nil, err
	}
	var result []models.Membership
	for _, m := range memberships {
		if m.CoupleID == coupleID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (db *LocalDatabase) AddCoupleMember(coupleID, accountID string) (*models.Membership, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.addMember(coupleID, accountID)
}

// addMember assumes db.mu is held.
func (db *LocalDatabase) addMember(coupleID, accountID string) (*models.Membership, error) {
	if _, err := db.getCouple(coupleID); err != nil {
		return nil, err
	}

	var memberships []models.Membership
	if err := db.load("memberships", &memberships); err != nil {
		return nil, err
	}
	count := 0
	for _, m := range memberships {
		if m.AccountID == accountID {
			return nil, models.ErrAlreadyPaired
		}
		if m.CoupleID == coupleID {
			count++
		}
	}
	if count >= models.MaxCoupleMembers {
		return nil, models.ErrCoupleFull
	}

	m := models.Membership{
		ID:        uuid.New().String(),
		CoupleID:  coupleID,
		AccountID: accountID,
		JoinedAt:  time.Now(),
	}
	memberships = append(memberships, m)
	if err := db.save("memberships", memberships); err != nil {
		return nil, err
	}
	return &m, nil
}

// ================= Invitations =================

func (db *LocalDatabase) InsertInvitation(inv *models.Invitation) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.getCouple(inv.CoupleID); err != nil {
		return err
	}

	var invitations []models.Invitation
	if err := db.load("invitations", &invitations); err != nil {
		return err
	}
	now := time.Now()
	for i := range invitations {
		if invitations[i].CoupleID == inv.CoupleID && invitations[i].IsActive(now) {
			return models.ErrActiveInviteExists
		}
		if strings.EqualFold(invitations[i].Code, inv.Code) {
			return models.ErrCodeTaken
		}
	}

	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	inv.Code = strings.ToUpper(inv.Code)
	invitations = append(invitations, *inv)
	return db.save("invitations", invitations)
}

func (db *LocalDatabase) GetActiveInvitation(coupleID string) (*models.Invitation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var invitations []models.Invitation
	if err := db.load("invitations", &invitations); err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range invitations {
		if invitations[i].CoupleID == coupleID && invitations[i].IsActive(now) {
			inv := invitations[i]
			return &inv, nil
		}
	}
	return nil, models.ErrNotFound
}

func (db *LocalDatabase) GetInvitationByCode(code string) (*models.Invitation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var invitations []models.Invitation
	if err := db.load("invitations", &invitations); err != nil {
		return nil, err
	}
	for i := range invitations {
		if strings.EqualFold(invitations[i].Code, code) {
			inv := invitations[i]
			return &inv, nil
		}
	}
	return nil, models.ErrInviteNotFound
}

func (db *LocalDatabase) RedeemInvitation(code, redeemerID string) (*models.Couple, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var invitations []models.Invitation
	if err := db.load("invitations", &invitations); err != nil {
		return nil, err
	}

	idx := -1
	for i := range invitations {
		if strings.EqualFold(invitations[i].Code, code) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, models.ErrInviteNotFound
	}

	inv := &invitations[idx]
	now := time.Now()
	if inv.RedeemedAt != nil {
		return nil, models.ErrInviteRedeemed
	}
	if inv.IsExpired(now) {
		return nil, models.ErrInviteExpired
	}
	if inv.CreatedBy == redeemerID {
		return nil, models.ErrSelfRedemption
	}

	// Membership first: it carries the already-paired and couple-full checks,
	// and nothing is persisted for the invitation until it succeeds.
	if _, err := db.addMember(inv.CoupleID, redeemerID); err != nil {
		return nil, err
	}

	inv.RedeemedAt = &now
	inv.RedeemedBy = &redeemerID
	if err := db.save("invitations", invitations); err != nil {
		return nil, err
	}

	return db.getCouple(inv.CoupleID)
}

// ================= Journal =================

func (db *LocalDatabase) CreateJournalEntry(e *models.JournalEntry) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var entries []models.JournalEntry
	if err := db.load("journal", &entries); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	entries = append(entries, *e)
	return db.save("journal", entries)
}

func (db *LocalDatabase) ListJournalEntries(coupleID string) ([]models.JournalEntry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var entries []models.JournalEntry
	if err := db.load("journal", &entries); err != nil {
		return nil, err
	}
	var result []models.JournalEntry
	for _, e := range entries {
		if e.CoupleID == coupleID && e.DeletedAt == nil {
			result = append(result, e)
		}
	}
	return result, nil
}

func (db *LocalDatabase) GetJournalEntry(id string) (*models.JournalEntry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var entries []models.JournalEntry
	if err := db.load("journal", &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ID == id && entries[i].DeletedAt == nil {
			e := entries[i]
			return &e, nil
		}
	}
	return nil, models.ErrNotFound
}

func (db *LocalDatabase) UpdateJournalEntry(e *models.JournalEntry) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var entries []models.JournalEntry
	if err := db.load("journal", &entries); err != nil {
		return err
	}
	for i := range entries {
		if entries[i].ID == e.ID && entries[i].DeletedAt == nil {
			e.CreatedAt = entries[i].CreatedAt
			e.UpdatedAt = time.Now()
			entries[i] = *e
			return db.save("journal", entries)
		}
	}
	return models.ErrNotFound
}

func (db *LocalDatabase) DeleteJournalEntry(id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var entries []models.JournalEntry
	if err := db.load("journal", &entries); err != nil {
		return err
	}
	for i := range entries {
		if entries[i].ID == id && entries[i].DeletedAt == nil {
			now := time.Now()
			entries[i].DeletedAt = &now
			entries[i].UpdatedAt = now
			return db.save("journal", entries)
		}
	}
	return models.ErrNotFound
}

// ================= Date plans =================

func (db *LocalDatabase) CreateDatePlan(p *models.DatePlan) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var plans []models.DatePlan
	if err := db.load("dates", &plans); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = models.DatePlanned
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	plans = append(plans, *p)
	return db.save("dates", plans)
}

func (db *LocalDatabase) ListDatePlans(coupleID string) ([]models.DatePlan, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var plans []models.DatePlan
	if err := db.load("dates", &plans); err != nil {
		return nil, err
	}
	var result []models.DatePlan
	for _, p := range plans {
		if p.CoupleID == coupleID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (db *LocalDatabase) GetDatePlan(id string) (*models.DatePlan, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var plans []models.DatePlan
	if err := db.load("dates", &plans); err != nil {
		return nil, err
	}
	for i := range plans {
		if plans[i].ID == id {
			p := plans[i]
			return &p, nil
		}
	}
	return nil, models.ErrNotFound
}

func (db *LocalDatabase) UpdateDatePlan(p *models.DatePlan) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var plans []models.DatePlan
	if err := db.load("dates", &plans); err != nil {
		return err
	}
	for i := range plans {
		if plans[i].ID == p.ID {
			p.CreatedAt = plans[i].CreatedAt
			p.UpdatedAt = time.Now()
			plans[i] = *p
			return db.save("dates", plans)
		}
	}
	return models.ErrNotFound
}

func (db *LocalDatabase) DeleteDatePlan(id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var plans []models.DatePlan
	if err := db.load("dates", &plans); err != nil {
		return err
	}
	for i := range plans {
		if plans[i].ID == id {
			plans = append(plans[:i], plans[i+1:]...)
			return db.save("dates", plans)
		}
	}
	return models.ErrNotFound
}

// HealthCheck 健康检查
func (db *LocalDatabase) HealthCheck() error {
	if _, err := os.Stat(db.dataDir); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

// Close 关闭连接（本地存储无需关闭）
func (db *LocalDatabase) Close() error {
	return nil
}
