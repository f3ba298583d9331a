package ledger

import "context"

// Store 抽象了铸造台账的持久化接口。
type Store interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	MarkSucceeded(ctx context.Context, id string, outcome Outcome) error
	MarkFailed(ctx context.Context, id, code, stage, lastError string) error
	List(ctx context.Context, opts ...ListOption) ([]*Record, error)
	Stats(ctx context.Context, opts ...ListOption) (MintStats, error)
	Close() error
}
