package mint

import (
	"context"
	"fmt"
	"time"

	"github.com/Spruked/promethean-echo/internal/chain"
	xerrors "github.com/Spruked/promethean-echo/internal/errors"
	"github.com/Spruked/promethean-echo/internal/events"
	"github.com/Spruked/promethean-echo/internal/ipfs"
	"github.com/Spruked/promethean-echo/internal/ledger"
	"github.com/Spruked/promethean-echo/internal/metadata"
	"github.com/Spruked/promethean-echo/pkg/logger"

	"github.com/google/uuid"
)

// ChainResolver 按名字解析链客户端,provider.Registry 满足该接口。
type ChainResolver interface {
	DefaultClient() (chain.Client, error)
	Client(name string) (chain.Client, bool)
}

// Coordinator 串联一次铸造的完整流水线:
// 校验 -> 元数据生成 -> 上传存储 -> 链上铸造 -> 记账与事件。
type Coordinator struct {
	generator metadata.Generator
	uploader  ipfs.Uploader
	chains    ChainResolver
	store     ledger.Store
	publisher events.Publisher
	newID     func() string
	now       func() time.Time
}

// NewCoordinator 组装铸造协调器。publisher 可以为 nil,此时不发布事件。
func NewCoordinator(
	generator metadata.Generator,
	uploader ipfs.Uploader,
	chains ChainResolver,
	store ledger.Store,
	publisher events.Publisher,
) *Coordinator {
	return &Coordinator{
		generator: generator,
		uploader:  uploader,
		chains:    chains,
		store:     store,
		publisher: publisher,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Submit 受理一次铸造请求并同步执行到链上确认。
// 校验失败的请求不会触达任何下游依赖。
func (c *Coordinator) Submit(ctx context.Context, req Request) (*Result, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	requestID := c.newID()
	record := &ledger.Record{
		ID:        requestID,
		Title:     req.Title,
		Author:    req.Author,
		Recipient: req.RecipientAddress,
		Chain:     req.Chain,
		Status:    ledger.StatusPending,
	}
	if err := c.store.Create(ctx, record); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入铸造台账失败")
	}

	doc, err := c.generator.Generate(ctx, metadata.Request{
		Title:       req.Title,
		Description: req.Description,
		Author:      req.Author,
		Tags:        req.Tags,
	})
	if err != nil {
		return nil, c.fail(ctx, req, requestID, StageMetadata, "生成元数据失败", err)
	}

	encoded, err := doc.Encode()
	if err != nil {
		return nil, c.fail(ctx, req, requestID, StageMetadata, "编码元数据失败", err)
	}

	metadataURI, err := c.uploader.Upload(ctx, requestID, encoded)
	if err != nil {
		return nil, c.fail(ctx, req, requestID, StageStorage, "上传元数据失败", err)
	}

	client, err := c.resolveChain(req.Chain)
	if err != nil {
		return nil, c.fail(ctx, req, requestID, StageChain, "解析链客户端失败", err)
	}

	receipt, err := client.Mint(ctx, req.RecipientAddress, metadataURI)
	if err != nil {
		return nil, c.fail(ctx, req, requestID, StageChain, "链上铸造失败", err)
	}

	outcome := ledger.Outcome{
		TokenID:     receipt.TokenID,
		MetadataURI: metadataURI,
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
	}
	if err := c.store.MarkSucceeded(ctx, requestID, outcome); err != nil {
		logger.L().Error("failed to persist mint outcome",
			"request_id", requestID, "error", err)
	}

	c.publish(ctx, events.Event{
		Type:        events.TypeMintSucceeded,
		RequestID:   requestID,
		Title:       req.Title,
		Author:      req.Author,
		Chain:       req.Chain,
		TokenID:     receipt.TokenID,
		MetadataURI: metadataURI,
		TxHash:      receipt.TxHash,
		OccurredAt:  c.now().UTC(),
	})

	logger.L().Info("mint succeeded",
		"request_id", requestID,
		"token_id", receipt.TokenID,
		"transaction_hash", receipt.TxHash,
		"block_number", receipt.BlockNumber,
	)

	return &Result{
		RequestID:   requestID,
		TokenID:     receipt.TokenID,
		MetadataURI: metadataURI,
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
		Status:      string(ledger.StatusSucceeded),
		CreatedAt:   c.now().UTC().Unix(),
	}, nil
}

func (c *Coordinator) resolveChain(name string) (chain.Client, error) {
	if name == "" {
		return c.chains.DefaultClient()
	}
	client, ok := c.chains.Client(name)
	if !ok {
		return nil, fmt.Errorf("未知的链 %q", name)
	}
	return client, nil
}

// fail 统一处理流水线失败:更新台账、发布失败事件并返回带阶段标记的错误。
func (c *Coordinator) fail(ctx context.Context, req Request, requestID, stage, message string, cause error) error {
	wrapped := xerrors.Wrap(xerrors.CodeUpstreamFailure, cause, message, xerrors.WithStage(stage))

	if err := c.store.MarkFailed(ctx, requestID, string(xerrors.CodeOf(wrapped)), stage, cause.Error()); err != nil {
		logger.L().Error("failed to persist mint failure",
			"request_id", requestID, "error", err)
	}

	c.publish(ctx, events.Event{
		Type:       events.TypeMintFailed,
		RequestID:  requestID,
		Title:      req.Title,
		Author:     req.Author,
		Chain:      req.Chain,
		ErrorCode:  string(xerrors.CodeOf(wrapped)),
		ErrorStage: stage,
		OccurredAt: c.now().UTC(),
	})

	logger.L().Warn("mint failed",
		"request_id", requestID,
		"stage", stage,
		"error", cause,
	)
	return wrapped
}

func (c *Coordinator) publish(ctx context.Context, event events.Event) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, event); err != nil {
		logger.L().Warn("failed to publish mint event",
			"request_id", event.RequestID, "type", event.Type, "error", err)
	}
}
