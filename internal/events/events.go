package events

import (
	"context"
	"time"
)

// 铸造生命周期事件类型。
const (
	TypeMintSucceeded = "mint.succeeded"
	TypeMintFailed    = "mint.failed"
)

// Event 描述一次铸造的最终结果,供下游系统(索引、通知、对账)消费。
type Event struct {
	Type        string    `json:"type"`
	RequestID   string    `json:"request_id"`
	Title       string    `json:"title"`
	Author      string    `json:"author,omitempty"`
	Chain       string    `json:"chain,omitempty"`
	TokenID     uint64    `json:"token_id,omitempty"`
	MetadataURI string    `json:"metadata_uri,omitempty"`
	TxHash      string    `json:"transaction_hash,omitempty"`
	ErrorCode   string    `json:"error_code,omitempty"`
	ErrorStage  string    `json:"error_stage,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher 定义了发布铸造事件的统一接口。发布失败不应阻断铸造流程,
// 由调用方决定记录日志还是告警。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
