package ledger

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "github.com/Spruked/promethean-echo/internal/errors"
	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 持久化铸造记录。
type MySQLStore struct {
	db *sql.DB
}

// MySQLConfig 描述台账数据库的连接与连接池参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 20
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 10
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 10 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS mint_records (
        id VARCHAR(64) PRIMARY KEY,
        title VARCHAR(255) NOT NULL,
        author VARCHAR(255) DEFAULT '',
        recipient VARCHAR(64) DEFAULT '',
        chain VARCHAR(64) DEFAULT '',
        status VARCHAR(32) NOT NULL,
        last_error TEXT,
        error_code VARCHAR(64) DEFAULT '',
        error_stage VARCHAR(32) DEFAULT '',
        token_id BIGINT UNSIGNED NOT NULL DEFAULT 0,
        metadata_uri VARCHAR(255) DEFAULT '',
        tx_hash VARCHAR(66) DEFAULT '',
        block_number BIGINT UNSIGNED NOT NULL DEFAULT 0,
        gas_used BIGINT UNSIGNED NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_mint_status (status),
        INDEX idx_mint_updated (updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 mint_records 表失败")
	}
	return nil
}

// Create 插入新的铸造记录。
func (s *MySQLStore) Create(ctx context.Context, record *Record) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	if strings.TrimSpace(record.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录 ID 不能为空")
	}

	now := time.Now().Unix()
	if record.CreatedAt == 0 {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = StatusPending
	}

	const stmt = `INSERT INTO mint_records
        (id, title, author, recipient, chain, status, last_error, error_code, error_stage, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, '', '', '', ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		record.ID,
		record.Title,
		record.Author,
		record.Recipient,
		record.Chain,
		record.Status,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrRecordConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入铸造记录失败")
	}
	return nil
}

// Get 查询指定记录。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Record, error) {
	const stmt = `SELECT id, title, author, recipient, chain, status, last_error, error_code, error_stage,
        token_id, metadata_uri, tx_hash, block_number, gas_used, created_at, updated_at
        FROM mint_records WHERE id = ?`

	record, err := scanRecord(s.db.QueryRowContext(ctx, stmt, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询铸造记录失败")
	}
	return record, nil
}

// MarkSucceeded 记录链上确认的结果。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, outcome Outcome) error {
	const stmt = `UPDATE mint_records SET status = ?, token_id = ?, metadata_uri = ?, tx_hash = ?,
        block_number = ?, gas_used = ?, last_error = '', error_code = '', error_stage = '', updated_at = ?
        WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		StatusSucceeded,
		outcome.TokenID,
		outcome.MetadataURI,
		outcome.TxHash,
		outcome.BlockNumber,
		outcome.GasUsed,
		time.Now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新铸造记录失败")
	}
	return requireAffected(res)
}

// MarkFailed 标记铸造失败并记录失败环节。
func (s *MySQLStore) MarkFailed(ctx context.Context, id, code, stage, lastError string) error {
	const stmt = `UPDATE mint_records SET status = ?, last_error = ?, error_code = ?, error_stage = ?, updated_at = ?
        WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		StatusFailed,
		lastError,
		code,
		stage,
		time.Now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新铸造记录失败")
	}
	return requireAffected(res)
}

// List 返回符合过滤条件的记录。
func (s *MySQLStore) List(ctx context.Context, opts ...ListOption) ([]*Record, error) {
	options := buildListOptions(opts)

	var builder strings.Builder
	builder.WriteString(`SELECT id, title, author, recipient, chain, status, last_error, error_code, error_stage,
        token_id, metadata_uri, tx_hash, block_number, gas_used, created_at, updated_at
        FROM mint_records`)

	where, args := buildFilterClause(options)
	builder.WriteString(where)

	if options.Order == SortByUpdatedAsc {
		builder.WriteString(" ORDER BY updated_at ASC, id ASC")
	} else {
		builder.WriteString(" ORDER BY updated_at DESC, id DESC")
	}
	builder.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, options.Limit, options.Offset)

	rows, err := s.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询铸造记录失败")
	}
	defer rows.Close()

	records := make([]*Record, 0, options.Limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析铸造记录失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历铸造记录失败")
	}
	return records, nil
}

// Stats 统计符合过滤条件的记录数量与更新时间范围。
func (s *MySQLStore) Stats(ctx context.Context, opts ...ListOption) (MintStats, error) {
	options := buildListOptions(opts)

	var builder strings.Builder
	builder.WriteString(`SELECT COUNT(*),
        COALESCE(SUM(status = 'pending'), 0),
        COALESCE(SUM(status = 'succeeded'), 0),
        COALESCE(SUM(status = 'failed'), 0),
        COALESCE(MIN(updated_at), 0),
        COALESCE(MAX(updated_at), 0)
        FROM mint_records`)

	where, args := buildFilterClause(options)
	builder.WriteString(where)

	var stats MintStats
	row := s.db.QueryRowContext(ctx, builder.String(), args...)
	if err := row.Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return MintStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计铸造记录失败")
	}
	return stats, nil
}

// Close 释放数据库连接。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func buildFilterClause(options ListOptions) (string, []any) {
	var conditions []string
	var args []any

	if len(options.Statuses) > 0 {
		placeholders := make([]string, len(options.Statuses))
		for i, status := range options.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if options.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, options.UpdatedGTE)
	}
	if options.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, options.UpdatedLTE)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var outcome Outcome
	var lastError sql.NullString

	if err := row.Scan(
		&record.ID,
		&record.Title,
		&record.Author,
		&record.Recipient,
		&record.Chain,
		&record.Status,
		&lastError,
		&record.ErrorCode,
		&record.ErrorStage,
		&outcome.TokenID,
		&outcome.MetadataURI,
		&outcome.TxHash,
		&outcome.BlockNumber,
		&outcome.GasUsed,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}

	record.LastError = lastError.String
	if outcome.TxHash != "" || outcome.MetadataURI != "" {
		record.Outcome = &outcome
	}
	return &record, nil
}

var _ Store = (*MySQLStore)(nil)
