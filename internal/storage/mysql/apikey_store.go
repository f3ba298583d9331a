package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"

	"github.com/Spruked/promethean-echo/internal/auth"
)

// APIKeyStore 使用 MySQL 持久化 API Key,实现 auth.Store 与 auth.SeedWriter。
type APIKeyStore struct {
	db *sql.DB
}

// NewAPIKeyStore 打开数据库连接并初始化 api_keys 表。
func NewAPIKeyStore(ctx context.Context, cfg Config) (*APIKeyStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store := &APIKeyStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *APIKeyStore) initSchema(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS api_keys (
        digest CHAR(64) PRIMARY KEY,
        name VARCHAR(128) NOT NULL,
        disabled TINYINT(1) NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL DEFAULT 0,
        UNIQUE KEY uk_api_key_name (name)
)`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("初始化 api_keys 表失败: %w", err)
	}
	return nil
}

// FindKeyByDigest 按摘要查询密钥。
func (s *APIKeyStore) FindKeyByDigest(ctx context.Context, digest string) (*auth.APIKey, error) {
	const stmt = `SELECT digest, name, disabled FROM api_keys WHERE digest = ?`

	var key auth.APIKey
	var disabled int
	err := s.db.QueryRowContext(ctx, stmt, digest).Scan(&key.Digest, &key.Name, &disabled)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrInvalidKey
		}
		return nil, fmt.Errorf("查询 API Key 失败: %w", err)
	}
	key.Disabled = disabled != 0
	return &key, nil
}

// ApplySeed 以 name 为幂等键写入启动时注入的密钥。
func (s *APIKeyStore) ApplySeed(ctx context.Context, seed auth.Seed) error {
	if strings.TrimSpace(seed.Key) == "" {
		return fmt.Errorf("种子密钥不能为空")
	}
	name := strings.TrimSpace(seed.Name)
	if name == "" {
		return fmt.Errorf("种子密钥名称不能为空")
	}

	const stmt = `INSERT INTO api_keys (digest, name, disabled, created_at)
        VALUES (?, ?, ?, UNIX_TIMESTAMP())
        ON DUPLICATE KEY UPDATE digest = VALUES(digest), disabled = VALUES(disabled)`

	disabled := 0
	if seed.Disabled {
		disabled = 1
	}
	if _, err := s.db.ExecContext(ctx, stmt, auth.DigestKey(seed.Key), name, disabled); err != nil {
		return fmt.Errorf("写入种子密钥失败: %w", err)
	}
	return nil
}

// Close 释放数据库连接。
func (s *APIKeyStore) Close() error {
	return s.db.Close()
}

var (
	_ auth.Store      = (*APIKeyStore)(nil)
	_ auth.SeedWriter = (*APIKeyStore)(nil)
)
