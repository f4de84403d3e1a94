package database

import (
	"fmt"
	"sync"
	"time"
)

// connectionPool 进程内数据库连接缓存
// Serverless invocations reuse the warm instance between requests, so a single
// cached connection per process is enough. Recreated when the config changes,
// the connection goes stale, or a health check fails.
type connectionPool struct {
	instance DatabaseInterface
	config   DatabaseConfig
	lastUsed time.Time
}

var (
	pool   *connectionPool
	poolMu sync.Mutex
)

const connectionMaxIdle = 30 * time.Minute

// GetDatabase 获取数据库连接（单例 + 按需重建）
func GetDatabase(config DatabaseConfig) DatabaseInterface {
	poolMu.Lock()
	defer poolMu.Unlock()

	if pool != nil && !shouldRecreate(pool, config) {
		pool.lastUsed = time.Now()
		if config.Debug {
			fmt.Printf("♻️  Reusing existing database connection\n")
		}
		return pool.instance
	}

	fmt.Printf("🔄 Creating new database connection\n")
	if pool != nil && pool.instance != nil {
		pool.instance.Close()
	}

	pool = &connectionPool{
		instance: NewDatabase(config),
		config:   config,
		lastUsed: time.Now(),
	}
	return pool.instance
}

// shouldRecreate 判断是否需要重新创建连接
func shouldRecreate(p *connectionPool, newConfig DatabaseConfig) bool {
	if p.instance == nil {
		return true
	}

	if p.config != newConfig {
		fmt.Printf("🔄 Database configuration changed, recreating connection\n")
		return true
	}

	if time.Since(p.lastUsed) > connectionMaxIdle {
		fmt.Printf("⏰ Database connection expired, recreating\n")
		return true
	}

	if err := p.instance.HealthCheck(); err != nil {
		fmt.Printf("❌ Database health check failed, recreating: %v\n", err)
		return true
	}

	return false
}

// CloseDatabase 关闭缓存的连接（测试和优雅停机用）
func CloseDatabase() {
	poolMu.Lock()
	defer poolMu.Unlock()

	if pool != nil && pool.instance != nil {
		pool.instance.Close()
	}
	pool = nil
}

// GetConnectionStats 获取连接池统计信息（调试端点用）
func GetConnectionStats() map[string]interface{} {
	poolMu.Lock()
	defer poolMu.Unlock()

	if pool == nil {
		return map[string]interface{}{
			"status":    "no_connection",
			"last_used": nil,
		}
	}

	return map[string]interface{}{
		"status":    "connected",
		"last_used": pool.lastUsed.Format(time.RFC3339),
		"age":       time.Since(pool.lastUsed).String(),
		"vercel":    IsVercelEnvironment(),
		"config": map[string]interface{}{
			"use_local_db": pool.config.UseLocalDB,
			"has_postgres": pool.config.PostgresDSN != "",
			"has_supabase": pool.config.SupabaseURL != "",
		},
	}
}
