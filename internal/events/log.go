package events

import (
	"context"

	"github.com/Spruked/promethean-echo/pkg/logger"
)

// LogPublisher 把铸造事件写入结构化日志,是未接入消息队列时的默认实现。
type LogPublisher struct{}

// NewLogPublisher 创建日志事件发布器。
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

// Publish 以结构化日志形式记录事件。
func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	logger.L().Info("mint event",
		"type", event.Type,
		"request_id", event.RequestID,
		"chain", event.Chain,
		"token_id", event.TokenID,
		"metadata_uri", event.MetadataURI,
		"transaction_hash", event.TxHash,
		"error_code", event.ErrorCode,
		"error_stage", event.ErrorStage,
	)
	return nil
}

// Close 对日志发布器无需操作。
func (p *LogPublisher) Close() error { return nil }

var _ Publisher = (*LogPublisher)(nil)
