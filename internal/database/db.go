package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PoolConfig は接続プールの設定。
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig はAPIサーバーとワーカーで共通の既定値を返す。
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Option はOpenの挙動を変更する。
type Option func(*PoolConfig)

// WithPool はプール設定を差し替える。
func WithPool(p PoolConfig) Option {
	return func(c *PoolConfig) { *c = p }
}

// Open はPostgreSQLの*sql.DBを生成しプールを設定する。
// sql.Openは接続を試行しないので疎通確認はConnectかPingContextで行う。
func Open(databaseURL string, opts ...Option) (*sql.DB, error) {
	pool := DefaultPoolConfig()
	for _, opt := range opts {
		opt(&pool)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	return db, nil
}

// Connect はOpenしたうえでctxの期限内に疎通を確認する。
// 失敗した場合は接続を閉じてから返す。
func Connect(ctx context.Context, databaseURL string, opts ...Option) (*sql.DB, error) {
	db, err := Open(databaseURL, opts...)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
