package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool 连接池接口（生产环境为 pgxpool.Pool，测试用 pgxmock 替代）
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// DB 数据库连接池封装
type DB struct {
	Pool PgxPool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateMileageRecords,
		migrationCreateAuditEntries,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateMileageRecords = `
CREATE TABLE IF NOT EXISTS mileage_records (
    id BIGSERIAL PRIMARY KEY,
    record_date DATE NOT NULL UNIQUE,
    start_odometer DOUBLE PRECISION NOT NULL,
    end_odometer DOUBLE PRECISION,
    distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
    source VARCHAR(10) NOT NULL DEFAULT 'manual',
    gps_enabled BOOLEAN NOT NULL DEFAULT false,
    session_id VARCHAR(36),
    state VARCHAR(20) NOT NULL DEFAULT 'not_started',
    is_complete BOOLEAN NOT NULL DEFAULT false,
    quality JSONB,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_mileage_records_record_date ON mileage_records(record_date);
`

const migrationCreateAuditEntries = `
CREATE TABLE IF NOT EXISTS audit_entries (
    id BIGSERIAL PRIMARY KEY,
    record_id BIGINT NOT NULL REFERENCES mileage_records(id),
    action VARCHAR(32) NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    old_value DOUBLE PRECISION,
    new_value DOUBLE PRECISION,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_record_id ON audit_entries(record_id);
CREATE INDEX IF NOT EXISTS idx_audit_entries_created_at ON audit_entries(created_at);
`
