package ledger

import (
	xerrors "github.com/Spruked/promethean-echo/internal/errors"
)

// Status 表示铸造请求在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome 保存一次成功铸造的链上结果。
type Outcome struct {
	TokenID     uint64 `json:"token_id"`
	MetadataURI string `json:"metadata_uri"`
	TxHash      string `json:"transaction_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
}

// Record 描述一条铸造台账记录,从请求受理到链上确认的全程都会更新它。
type Record struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Author     string   `json:"author"`
	Recipient  string   `json:"recipient,omitempty"`
	Chain      string   `json:"chain,omitempty"`
	Status     Status   `json:"status"`
	LastError  string   `json:"last_error,omitempty"`
	ErrorCode  string   `json:"error_code,omitempty"`
	ErrorStage string   `json:"error_stage,omitempty"`
	Outcome    *Outcome `json:"outcome,omitempty"`
	CreatedAt  int64    `json:"created_at"`
	UpdatedAt  int64    `json:"updated_at"`
}

var (
	// ErrRecordNotFound 表示指定的铸造记录不存在。
	ErrRecordNotFound = xerrors.New(CodeRecordNotFound, "mint record not found")
	// ErrRecordConflict 表示同一请求 ID 的记录已经存在。
	ErrRecordConflict = xerrors.New(CodeRecordConflict, "mint record conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeRecordNotFound xerrors.Code = "MINT_RECORD_NOT_FOUND"
	CodeRecordConflict xerrors.Code = "MINT_RECORD_CONFLICT"
)

func init() {
	xerrors.Register(CodeRecordNotFound, xerrors.Attributes{
		Message:  "mint record not found",
		Severity: xerrors.SeverityInfo,
		Alert:    false,
	})
	xerrors.Register(CodeRecordConflict, xerrors.Attributes{
		Message:  "mint record conflict",
		Severity: xerrors.SeverityWarning,
		Alert:    false,
	})
}

// IsValidStatus 检查给定的记录状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneRecord(record *Record) *Record {
	clone := *record
	if record.Outcome != nil {
		outcomeCopy := *record.Outcome
		clone.Outcome = &outcomeCopy
	}
	return &clone
}
