package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"couple-sync-backend/pkg/models"

	"github.com/lib/pq"
)

// PostgresDatabase PostgreSQL数据库实现
type PostgresDatabase struct {
	db *sql.DB
}

// NewPostgresDatabase 创建PostgreSQL数据库实例
func NewPostgresDatabase(dsn string) DatabaseInterface {
	// 尝试多种连接策略来解决Vercel Lambda的IPv6问题
	// Sanitize DSN to avoid stray CR/LF from env values
	dsn = strings.TrimSpace(dsn)
	strategies := []string{
		addConnectionParams(dsn, "prefer_simple_protocol=true"),
		addConnectionParams(dsn, "prefer_simple_protocol=true&connect_timeout=10"),
		addConnectionParams(dsn, "sslmode=require&prefer_simple_protocol=true"),
		dsn, // 最后尝试原始DSN
	}

	var db *sql.DB
	var err error

	for i, strategy := range strategies {
		fmt.Printf("🔄 Trying connection strategy %d...\n", i+1)

		db, err = sql.Open("postgres", strategy)
		if err != nil {
			fmt.Printf("❌ Strategy %d failed to open: %v\n", i+1, err)
			continue
		}

		// 设置连接池参数，适合无服务器环境
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err = db.Ping(); err != nil {
			fmt.Printf("❌ Strategy %d failed to ping: %v\n", i+1, err)
			db.Close()
			continue
		}

		fmt.Printf("✅ PostgreSQL connection established successfully with strategy %d\n", i+1)
		return &PostgresDatabase{db: db}
	}

	panic(fmt.Sprintf("Failed to connect to PostgreSQL with all strategies. Last error: %v", err))
}

// addConnectionParams 添加连接参数到DSN
func addConnectionParams(dsn, params string) string {
	if params == "" {
		return dsn
	}

	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}

	return dsn + separator + params
}

// isUniqueViolation reports whether err is a Postgres 23505 on the given
// constraint (any constraint when name is empty).
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// ================= Accounts =================

func (db *PostgresDatabase) CreateAccount(acct *models.Account) error {
	query := `
		INSERT INTO accounts (external_subject, email, phone, display_name, created_at, updated_at)
		VALUES (NULLIF($1,''), NULLIF($2,''), NULLIF($3,''), $4, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := db.db.QueryRow(query, acct.ExternalSubject, acct.Email, acct.Phone, acct.DisplayName).
		Scan(&acct.ID, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (db *PostgresDatabase) GetAccountBySubject(subject string) (*models.Account, error) {
	return db.getAccount(`WHERE external_subject = $1`, subject)
}

func (db *PostgresDatabase) GetAccountByID(id string) (*models.Account, error) {
	return db.getAccount(`WHERE id = $1`, id)
}

func (db *PostgresDatabase) FindAccountByContact(contact string) (*models.Account, error) {
	acct, err := db.getAccount(`WHERE lower(email) = lower($1) OR phone = $1`, contact)
	if errors.Is(err, models.ErrAccountNotFound) {
		return nil, models.ErrPartnerNotFound
	}
	return acct, err
}

func (db *PostgresDatabase) getAccount(where string, arg interface{}) (*models.Account, error) {
	query := `
		SELECT id, COALESCE(external_subject,''), COALESCE(email,''), COALESCE(phone,''),
		       COALESCE(display_name,''), created_at, updated_at
		FROM accounts ` + where
	var a models.Account
	err := db.db.QueryRow(query, arg).Scan(
		&a.ID, &a.ExternalSubject, &a.Email, &a.Phone, &a.DisplayName, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

func (db *PostgresDatabase) UpdateAccount(acct *models.Account) error {
	if acct.ID == "" {
		return fmt.Errorf("account ID is required for update")
	}
	_, err := db.db.Exec(`
		UPDATE accounts
		SET email = COALESCE(NULLIF($1,''), email),
		    phone = COALESCE(NULLIF($2,''), phone),
		    display_name = COALESCE(NULLIF($3,''), display_name),
		    updated_at = NOW()
		WHERE id = $4
	`, acct.Email, acct.Phone, acct.DisplayName, acct.ID)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

// ================= Couples & memberships =================

func (db *PostgresDatabase) CreateCouple(couple *models.Couple, creatorID string) error {
	tx, err := db.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRow(`
		INSERT INTO couples (display_name, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, couple.DisplayName).Scan(&couple.ID, &couple.CreatedAt, &couple.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create couple: %w", err)
	}

	// creator membership; unique index on account_id enforces one couple per account
	_, err = tx.Exec(`
		INSERT INTO couple_memberships (couple_id, account_id, joined_at)
		VALUES ($1, $2, NOW())
	`, couple.ID, creatorID)
	if err != nil {
		if isUniqueViolation(err, "") {
			return models.ErrAlreadyPaired
		}
		return fmt.Errorf("failed to add creator membership: %w", err)
	}

	return tx.Commit()
}

func (db *PostgresDatabase) GetCouple(coupleID string) (*models.Couple, error) {
	var c models.Couple
	err := db.db.QueryRow(`
		SELECT id, display_name, created_at, updated_at FROM couples WHERE id = $1
	`, coupleID).Scan(&c.ID, &c.DisplayName, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrCoupleNotFound
		}
		return nil, fmt.Errorf("failed to get couple: %w", err)
	}
	return &c, nil
}

func (db *PostgresDatabase) GetMembership(accountID string) (*models.Membership, error) {
	var m models.Membership
	err := db.db.QueryRow(`
		SELECT id, couple_id, account_id, joined_at FROM couple_memberships WHERE account_id = $1
	`, accountID).Scan(&m.ID, &m.CoupleID, &m.AccountID, &m.JoinedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &m, nil
}

func (db *PostgresDatabase) ListCoupleMembers(coupleID string) ([]models.Membership, error) {
	rows, err := db.db.Query(`
		SELECT id, couple_id, account_id, joined_at
		FROM couple_memberships
		WHERE couple_id = $1
		ORDER BY joined_at ASC
	`, coupleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()
	var result []models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.ID, &m.CoupleID, &m.AccountID, &m.JoinedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (db *PostgresDatabase) AddCoupleMember(coupleID, accountID string) (*models.Membership, error) {
	tx, err := db.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	m, err := addMemberTx(tx, coupleID, accountID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit membership: %w", err)
	}
	return m, nil
}

// addMemberTx locks the couple row, checks the member cap and inserts the
// membership. Callers own the transaction.
func addMemberTx(tx *sql.Tx, coupleID, accountID string) (*models.Membership, error) {
	var lockedID string
	err := tx.QueryRow(`SELECT id FROM couples WHERE id = $1 FOR UPDATE`, coupleID).Scan(&lockedID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrCoupleNotFound
		}
		return nil, fmt.Errorf("failed to lock couple: %w", err)
	}

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM couple_memberships WHERE couple_id = $1`, coupleID).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count members: %w", err)
	}
	if count >= models.MaxCoupleMembers {
		return nil, models.ErrCoupleFull
	}

	var m models.Membership
	err = tx.QueryRow(`
		INSERT INTO couple_memberships (couple_id, account_id, joined_at)
		VALUES ($1, $2, NOW())
		RETURNING id, couple_id, account_id, joined_at
	`, coupleID, accountID).Scan(&m.ID, &m.CoupleID, &m.AccountID, &m.JoinedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return nil, models.ErrAlreadyPaired
		}
		return nil, fmt.Errorf("failed to insert membership: %w", err)
	}
	return &m, nil
}

// ================= Invitations =================

func (db *PostgresDatabase) InsertInvitation(inv *models.Invitation) error {
	tx, err := db.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	// Lock the couple row so two concurrent creates serialize here instead of
	// both observing "no active invitation".
	var lockedID string
	err = tx.QueryRow(`SELECT id FROM couples WHERE id = $1 FOR UPDATE`, inv.CoupleID).Scan(&lockedID)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.ErrCoupleNotFound
		}
		return fmt.Errorf("failed to lock couple: %w", err)
	}

	var activeExists bool
	err = tx.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM couple_invitations
			WHERE couple_id = $1 AND redeemed_at IS NULL AND expires_at > NOW()
		)
	`, inv.CoupleID).Scan(&activeExists)
	if err != nil {
		return fmt.Errorf("failed to check active invitation: %w", err)
	}
	if activeExists {
		return models.ErrActiveInviteExists
	}

	err = tx.QueryRow(`
		INSERT INTO couple_invitations (code, couple_id, created_by, created_at, expires_at)
		VALUES (upper($1), $2, $3, $4, $5)
		RETURNING id, code
	`, inv.Code, inv.CoupleID, inv.CreatedBy, inv.CreatedAt, inv.ExpiresAt).Scan(&inv.ID, &inv.Code)
	if err != nil {
		if isUniqueViolation(err, "") {
			return models.ErrCodeTaken
		}
		return fmt.Errorf("failed to insert invitation: %w", err)
	}

	return tx.Commit()
}

func (db *PostgresDatabase) GetActiveInvitation(coupleID string) (*models.Invitation, error) {
	inv, err := db.scanInvitation(db.db.QueryRow(`
		SELECT id, code, couple_id, created_by, created_at, expires_at, redeemed_at, redeemed_by
		FROM couple_invitations
		WHERE couple_id = $1 AND redeemed_at IS NULL AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`, coupleID))
	if errors.Is(err, models.ErrInviteNotFound) {
		return nil, models.ErrNotFound
	}
	return inv, err
}

func (db *PostgresDatabase) GetInvitationByCode(code string) (*models.Invitation, error) {
	return db.scanInvitation(db.db.QueryRow(`
		SELECT id, code, couple_id, created_by, created_at, expires_at, redeemed_at, redeemed_by
		FROM couple_invitations
		WHERE code = upper($1)
	`, code))
}

func (db *PostgresDatabase) scanInvitation(row *sql.Row) (*models.Invitation, error) {
	var inv models.Invitation
	err := row.Scan(&inv.ID, &inv.Code, &inv.CoupleID, &inv.CreatedBy,
		&inv.CreatedAt, &inv.ExpiresAt, &inv.RedeemedAt, &inv.RedeemedBy)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrInviteNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return &inv, nil
}

func (db *PostgresDatabase) RedeemInvitation(code, redeemerID string) (*models.Couple, error) {
	tx, err := db.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var inv models.Invitation
	err = tx.QueryRow(`
		SELECT id, code, couple_id, created_by, created_at, expires_at, redeemed_at, redeemed_by
		FROM couple_invitations
		WHERE code = upper($1)
		FOR UPDATE
	`, code).Scan(&inv.ID, &inv.Code, &inv.CoupleID, &inv.CreatedBy,
		&inv.CreatedAt, &inv.ExpiresAt, &inv.RedeemedAt, &inv.RedeemedBy)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrInviteNotFound
		}
		return nil, fmt.Errorf("failed to lock invitation: %w", err)
	}

	if inv.RedeemedAt != nil {
		return nil, models.ErrInviteRedeemed
	}
	if inv.IsExpired(time.Now()) {
		return nil, models.ErrInviteExpired
	}
	if inv.CreatedBy == redeemerID {
		return nil, models.ErrSelfRedemption
	}

	// Conditional update: a concurrent redeemer that slipped past the row lock
	// can never flip redeemed_at twice.
	res, err := tx.Exec(`
		UPDATE couple_invitations
		SET redeemed_at = NOW(), redeemed_by = $1
		WHERE id = $2 AND redeemed_at IS NULL
	`, redeemerID, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to redeem invitation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, models.ErrInviteRedeemed
	}

	if _, err := addMemberTx(tx, inv.CoupleID, redeemerID); err != nil {
		return nil, err
	}

	var c models.Couple
	err = tx.QueryRow(`
		SELECT id, display_name, created_at, updated_at FROM couples WHERE id = $1
	`, inv.CoupleID).Scan(&c.ID, &c.DisplayName, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load couple: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit redemption: %w", err)
	}
	fmt.Printf("💞 Invitation %s redeemed by %s (couple %s)\n", inv.Code, redeemerID, c.ID)
	return &c, nil
}

// ================= Journal =================

func (db *PostgresDatabase) CreateJournalEntry(e *models.JournalEntry) error {
	query := `
		INSERT INTO journal_entries (couple_id, author_id, title, body, entry_date, photo_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5,'')::date, $6, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := db.db.QueryRow(query, e.CoupleID, e.AuthorID, e.Title, e.Body, e.EntryDate, e.PhotoURL).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create journal entry: %w", err)
	}
	return nil
}

func (db *PostgresDatabase) ListJournalEntries(coupleID string) ([]models.JournalEntry, error) {
	rows, err := db.db.Query(`
		SELECT id, couple_id, author_id, title, COALESCE(body,''), COALESCE(entry_date::text,''),
		       COALESCE(photo_url,''), created_at, updated_at, deleted_at
		FROM journal_entries
		WHERE couple_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`, coupleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	defer rows.Close()
	var list []models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		if err := rows.Scan(&e.ID, &e.CoupleID, &e.AuthorID, &e.Title, &e.Body, &e.EntryDate,
			&e.PhotoURL, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func (db *PostgresDatabase) GetJournalEntry(id string) (*models.JournalEntry, error) {
	var e models.JournalEntry
	err := db.db.QueryRow(`
		SELECT id, couple_id, author_id, title, COALESCE(body,''), COALESCE(entry_date::text,''),
		       COALESCE(photo_url,''), created_at, updated_at, deleted_at
		FROM journal_entries
		WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(&e.ID, &e.CoupleID, &e.AuthorID, &e.Title, &e.Body, &e.EntryDate,
		&e.PhotoURL, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}
	return &e, nil
}

func (db *PostgresDatabase) UpdateJournalEntry(e *models.JournalEntry) error {
	res, err := db.db.Exec(`
		UPDATE journal_entries
		SET title = $1, body = $2, entry_date = NULLIF($3,'')::date, photo_url = $4, updated_at = NOW()
		WHERE id = $5 AND deleted_at IS NULL
	`, e.Title, e.Body, e.EntryDate, e.PhotoURL, e.ID)
	if err != nil {
		return fmt.Errorf("failed to update journal entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *PostgresDatabase) DeleteJournalEntry(id string) error {
	// Soft delete, same as the rest of the couple content
	res, err := db.db.Exec(`
		UPDATE journal_entries SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete journal entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ================= Date plans =================

func (db *PostgresDatabase) CreateDatePlan(p *models.DatePlan) error {
	if p.Status == "" {
		p.Status = models.DatePlanned
	}
	query := `
		INSERT INTO date_plans (couple_id, created_by, title, description, location, scheduled_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := db.db.QueryRow(query, p.CoupleID, p.CreatedBy, p.Title, p.Description, p.Location, p.ScheduledAt, string(p.Status)).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create date plan: %w", err)
	}
	return nil
}

func (db *PostgresDatabase) ListDatePlans(coupleID string) ([]models.DatePlan, error) {
	rows, err := db.db.Query(`
		SELECT id, couple_id, created_by, title, COALESCE(description,''), COALESCE(location,''),
		       scheduled_at, status, created_at, updated_at
		FROM date_plans
		WHERE couple_id = $1
		ORDER BY scheduled_at ASC NULLS LAST, created_at ASC
	`, coupleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list date plans: %w", err)
	}
	defer rows.Close()
	var list []models.DatePlan
	for rows.Next() {
		var p models.DatePlan
		var status string
		if err := rows.Scan(&p.ID, &p.CoupleID, &p.CreatedBy, &p.Title, &p.Description, &p.Location,
			&p.ScheduledAt, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Status = models.DatePlanStatus(status)
		list = append(list, p)
	}
	return list, rows.Err()
}

func (db *PostgresDatabase) GetDatePlan(id string) (*models.DatePlan, error) {
	var p models.DatePlan
	var status string
	err := db.db.QueryRow(`
		SELECT id, couple_id, created_by, title, COALESCE(description,''), COALESCE(location,''),
		       scheduled_at, status, created_at, updated_at
		FROM date_plans WHERE id = $1
	`, id).Scan(&p.ID, &p.CoupleID, &p.CreatedBy, &p.Title, &p.Description, &p.Location,
		&p.ScheduledAt, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get date plan: %w", err)
	}
	p.Status = models.DatePlanStatus(status)
	return &p, nil
}

func (db *PostgresDatabase) UpdateDatePlan(p *models.DatePlan) error {
	res, err := db.db.Exec(`
		UPDATE date_plans
		SET title = $1, description = $2, location = $3, scheduled_at = $4, status = $5, updated_at = NOW()
		WHERE id = $6
	`, p.Title, p.Description, p.Location, p.ScheduledAt, string(p.Status), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update date plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *PostgresDatabase) DeleteDatePlan(id string) error {
	res, err := db.db.Exec(`DELETE FROM date_plans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete date plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// HealthCheck 健康检查
func (db *PostgresDatabase) HealthCheck() error {
	return db.db.Ping()
}

// Close 关闭连接
func (db *PostgresDatabase) Close() error {
	return db.db.Close()
}
