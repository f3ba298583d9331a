package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Spruked/promethean-echo/internal/api"
	"github.com/Spruked/promethean-echo/internal/auth"
	"github.com/Spruked/promethean-echo/internal/chain/provider"
	"github.com/Spruked/promethean-echo/internal/config"
	"github.com/Spruked/promethean-echo/internal/events"
	"github.com/Spruked/promethean-echo/internal/ipfs"
	"github.com/Spruked/promethean-echo/internal/ipfs/web3storage"
	"github.com/Spruked/promethean-echo/internal/ledger"
	"github.com/Spruked/promethean-echo/internal/metadata"
	"github.com/Spruked/promethean-echo/internal/metadata/openai"
	"github.com/Spruked/promethean-echo/internal/mint"
	"github.com/Spruked/promethean-echo/internal/ratelimit"
	"github.com/Spruked/promethean-echo/internal/storage/mysql"
	"github.com/Spruked/promethean-echo/pkg/logger"
)

// main 是铸造守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("mintd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("PROMETHEAN_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "promethean.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	authSvc, closeAuth, err := createAuthService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAuth()

	globalLimiter, mintLimiter, err := createLimiters(ctx, cfg)
	if err != nil {
		return err
	}

	generator, err := createGenerator(cfg)
	if err != nil {
		return err
	}

	uploader, err := createUploader(cfg)
	if err != nil {
		return err
	}

	registry, err := provider.NewRegistry(ctx, cfg.Chain)
	if err != nil {
		return err
	}
	defer registry.Close()

	store, err := createLedgerStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	publisher, err := createPublisher(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				logger.L().Warn("关闭事件发布器失败", "error", err)
			}
		}
	}()

	coordinator := mint.NewCoordinator(generator, uploader, registry, store, publisher)

	server := api.NewServer(api.Options{
		Addr:        cfg.Server.Address,
		Coordinator: coordinator,
		Store:       store,
		Chains:      registry,
		Auth:        authSvc,
		Limiter:     globalLimiter,
		MintLimiter: mintLimiter,
	})

	logger.L().Info("铸造服务启动", "address", cfg.Server.Address)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createAuthService 根据配置组装 API Key 校验服务,返回的清理函数负责释放后端连接。
func createAuthService(ctx context.Context, cfg *config.Config) (*auth.Service, func(), error) {
	noop := func() {}
	if auth.Mode(cfg.Auth.Mode) == auth.ModeDisabled {
		return nil, noop, nil
	}

	seeds := make([]auth.Seed, 0, len(cfg.Auth.Keys))
	for _, seed := range cfg.Auth.Keys {
		key, err := config.RequireSecret(seed.Key, seed.KeyEnv, fmt.Sprintf("API Key %q", seed.Name))
		if err != nil {
			return nil, noop, err
		}
		seeds = append(seeds, auth.Seed{Name: seed.Name, Key: key, Disabled: seed.Disabled})
	}

	authCfg := auth.Config{
		Mode:              auth.Mode(cfg.Auth.Mode),
		MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
		BlockDuration:     time.Duration(cfg.Auth.BlockMinutes) * time.Minute,
		Seeds:             seeds,
	}

	switch cfg.Auth.Driver {
	case "", "memory":
		svc, err := auth.NewService(ctx, authCfg, auth.NewMemoryStore())
		return svc, noop, err
	case "mysql":
		keyStore, err := mysql.NewAPIKeyStore(ctx, mysql.Config{DSN: cfg.Auth.DSN})
		if err != nil {
			return nil, noop, err
		}
		svc, err := auth.NewService(ctx, authCfg, keyStore)
		if err != nil {
			_ = keyStore.Close()
			return nil, noop, err
		}
		return svc, func() { _ = keyStore.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("未知的认证存储驱动: %s", cfg.Auth.Driver)
	}
}

// createLimiters 返回全局限流器与铸造专用限流器。
func createLimiters(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, ratelimit.Limiter, error) {
	switch cfg.RateLimit.Driver {
	case "", "memory":
		global := ratelimit.NewMapLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
		mintOnly := ratelimit.NewMapLimiter(cfg.RateLimit.MintPerMinute, cfg.RateLimit.Burst)
		return global, mintOnly, nil
	case "redis":
		global, err := ratelimit.NewRedisLimiter(ctx, ratelimit.RedisConfig{
			Address:   cfg.RateLimit.Redis.Address,
			Password:  cfg.RateLimit.Redis.Password,
			DB:        cfg.RateLimit.Redis.DB,
			Prefix:    cfg.RateLimit.Redis.Prefix,
			PerMinute: cfg.RateLimit.RequestsPerMinute,
		})
		if err != nil {
			return nil, nil, err
		}
		mintOnly, err := ratelimit.NewRedisLimiter(ctx, ratelimit.RedisConfig{
			Address:   cfg.RateLimit.Redis.Address,
			Password:  cfg.RateLimit.Redis.Password,
			DB:        cfg.RateLimit.Redis.DB,
			Prefix:    cfg.RateLimit.Redis.Prefix + ":mint",
			PerMinute: cfg.RateLimit.MintPerMinute,
		})
		if err != nil {
			return nil, nil, err
		}
		return global, mintOnly, nil
	default:
		return nil, nil, fmt.Errorf("未知的限流驱动: %s", cfg.RateLimit.Driver)
	}
}

// createGenerator 根据配置选择元数据生成方式。
func createGenerator(cfg *config.Config) (metadata.Generator, error) {
	switch cfg.Metadata.Provider {
	case "", "static":
		return metadata.NewStaticGenerator(), nil
	case "openai":
		apiKey, err := config.RequireSecret(cfg.Metadata.OpenAI.APIKey, cfg.Metadata.OpenAI.APIKeyEnv, "OpenAI api_key")
		if err != nil {
			return nil, err
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.Metadata.OpenAI.BaseURL,
			Model:   cfg.Metadata.OpenAI.Model,
			Timeout: cfg.Metadata.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的元数据 provider: %s", cfg.Metadata.Provider)
	}
}

// createUploader 组装去中心化存储上传客户端。
func createUploader(cfg *config.Config) (ipfs.Uploader, error) {
	switch cfg.Storage.Provider {
	case "", "web3storage":
		token, err := config.RequireSecret(cfg.Storage.Web3Storage.Token, cfg.Storage.Web3Storage.TokenEnv, "web3.storage token")
		if err != nil {
			return nil, err
		}
		return web3storage.NewClient(web3storage.Config{
			Token:   token,
			BaseURL: cfg.Storage.Web3Storage.BaseURL,
			Timeout: cfg.Storage.Web3Storage.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的存储 provider: %s", cfg.Storage.Provider)
	}
}

// createLedgerStore 组装铸造台账存储。
func createLedgerStore(cfg *config.Config) (ledger.Store, error) {
	switch cfg.Ledger.Driver {
	case "", "memory":
		return ledger.NewMemoryStore(), nil
	case "mysql":
		return ledger.NewMySQLStore(ledger.MySQLConfig{
			DSN:             cfg.Ledger.DSN,
			MaxOpenConns:    cfg.Ledger.MaxOpenConns,
			MaxIdleConns:    cfg.Ledger.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Ledger.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Ledger.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的台账驱动: %s", cfg.Ledger.Driver)
	}
}

// createPublisher 组装铸造事件发布器。
func createPublisher(cfg *config.Config) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case "", "log":
		return events.NewLogPublisher(), nil
	case "rabbitmq":
		return events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:        cfg.Events.RabbitMQ.URL,
			Queue:      cfg.Events.RabbitMQ.Queue,
			Durable:    cfg.Events.RabbitMQ.Durable,
			AutoDelete: cfg.Events.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的事件发布驱动: %s", cfg.Events.Driver)
	}
}
