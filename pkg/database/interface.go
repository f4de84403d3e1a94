package database

import (
	"fmt"
	"os"

	"couple-sync-backend/pkg/models"
)

// DatabaseInterface 定义数据库访问接口
type DatabaseInterface interface {
	// Accounts
	CreateAccount(acct *models.Account) error
	GetAccountBySubject(subject string) (*models.Account, error)
	GetAccountByID(id string) (*models.Account, error)
	FindAccountByContact(contact string) (*models.Account, error)
	UpdateAccount(acct *models.Account) error

	// Couples & memberships
	// CreateCouple atomically creates the couple and the creator's membership.
	// Returns models.ErrAlreadyPaired if the creator already has one.
	CreateCouple(couple *models.Couple, creatorID string) error
	GetCouple(coupleID string) (*models.Couple, error)
	// GetMembership returns models.ErrNotFound when the account is unpaired.
	GetMembership(accountID string) (*models.Membership, error)
	ListCoupleMembers(coupleID string) ([]models.Membership, error)
	// AddCoupleMember enforces the two-member cap and the one-couple-per-account
	// invariant inside a single conditional write, never read-then-write.
	AddCoupleMember(coupleID, accountID string) (*models.Membership, error)

	// Invitations
	// InsertInvitation fails with models.ErrActiveInviteExists when the couple
	// already has a live code, and models.ErrCodeTaken on a code collision.
	InsertInvitation(inv *models.Invitation) error
	GetActiveInvitation(coupleID string) (*models.Invitation, error)
	GetInvitationByCode(code string) (*models.Invitation, error)
	// RedeemInvitation validates and consumes the code and creates the
	// redeemer's membership in one transaction. Both writes commit or neither.
	RedeemInvitation(code, redeemerID string) (*models.Couple, error)

	// Journal
	CreateJournalEntry(e *models.JournalEntry) error
	ListJournalEntries(coupleID string) ([]models.JournalEntry, error)
	GetJournalEntry(id string) (*models.JournalEntry, error)
	UpdateJournalEntry(e *models.JournalEntry) error
	DeleteJournalEntry(id string) error

	// Date plans
	CreateDatePlan(p *models.DatePlan) error
	ListDatePlans(coupleID string) ([]models.DatePlan, error)
	GetDatePlan(id string) (*models.DatePlan, error)
	UpdateDatePlan(p *models.DatePlan) error
	DeleteDatePlan(id string) error

	// 健康检查
	HealthCheck() error

	// 关闭连接
	Close() error
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	UseLocalDB  bool
	PostgresDSN string
	SupabaseURL string
	SupabaseKey string
	Debug       bool
}

// NewDatabase 根据环境与配置选择数据库实现
func NewDatabase(config DatabaseConfig) DatabaseInterface {
	// 是否在 Vercel 生产环境
	isVercelProduction := IsVercelEnvironment()

	if isVercelProduction {
		fmt.Printf("🧭 Detected Vercel production environment\n")

		// Vercel 优先使用 Supabase（避免 IPv6）
		if config.SupabaseURL != "" && config.SupabaseKey != "" {
			fmt.Printf("🚀  Using Supabase REST API (Vercel optimized)\n")
			return NewSupabaseDatabase(config.SupabaseURL, config.SupabaseKey)
		}

		if config.PostgresDSN != "" {
			fmt.Printf("🌐  Using PostgreSQL in Vercel (may have IPv6 issues)\n")
			return NewPostgresDatabase(config.PostgresDSN)
		}

		panic("No valid database configured for Vercel environment. Please set SUPABASE_URL+SUPABASE_SERVICE_KEY or POSTGRES_DSN")
	}

	// 非 Vercel 环境：PostgreSQL > Supabase > 本地文件
	if config.PostgresDSN != "" {
		fmt.Printf("🗄️  Using PostgreSQL database\n")
		return NewPostgresDatabase(config.PostgresDSN)
	}

	if config.SupabaseURL != "" && config.SupabaseKey != "" {
		fmt.Printf("🧰  Using Supabase REST API\n")
		return NewSupabaseDatabase(config.SupabaseURL, config.SupabaseKey)
	}

	if config.UseLocalDB {
		fmt.Printf("📁  Using local file database (development only)\n")
		return NewLocalDatabase()
	}

	panic("No valid database configuration found. Please configure POSTGRES_DSN, SUPABASE_URL+SUPABASE_SERVICE_KEY, or USE_LOCAL_DB=true")
}

// IsVercelEnvironment 检查是否在 Vercel / Lambda 环境中
func IsVercelEnvironment() bool {
	vercelEnv := os.Getenv("VERCEL_ENV")
	vercelURL := os.Getenv("VERCEL_URL")
	awsLambda := os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
	return vercelEnv != "" || vercelURL != "" || awsLambda != ""
}
