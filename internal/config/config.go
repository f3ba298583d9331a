package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了铸造服务在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Metadata  MetadataConfig  `json:"metadata"`
	Storage   StorageConfig   `json:"storage"`
	Chain     ChainConfig     `json:"chain"`
	Ledger    LedgerConfig    `json:"ledger"`
	Events    EventsConfig    `json:"events"`
	Logging   LoggingConfig   `json:"logging"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// AuthConfig 配置 API Key 校验与失败封禁策略。
type AuthConfig struct {
	Mode              string       `json:"mode"`
	Driver            string       `json:"driver"`
	DSN               string       `json:"dsn"`
	Keys              []APIKeySeed `json:"keys"`
	MaxFailedAttempts int          `json:"max_failed_attempts"`
	BlockMinutes      int          `json:"block_minutes"`
}

// APIKeySeed 描述一个在启动时注入的 API Key。密钥本体通过环境变量提供。
type APIKeySeed struct {
	Name     string `json:"name"`
	Key      string `json:"key,omitempty"`
	KeyEnv   string `json:"key_env,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// RateLimitConfig 配置请求限流。
type RateLimitConfig struct {
	Driver            string      `json:"driver"`
	RequestsPerMinute int         `json:"requests_per_minute"`
	MintPerMinute     int         `json:"mint_per_minute"`
	Burst             int         `json:"burst"`
	Redis             RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// MetadataConfig 配置元数据合成的调用方式。
type MetadataConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述通过 OpenAI 生成元数据时所需的信息。
type OpenAIConfig struct {
	APIKey         string `json:"api_key,omitempty"`
	APIKeyEnv      string `json:"api_key_env,omitempty"`
	BaseURL        string `json:"base_url,omitempty"`
	Model          string `json:"model,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// Timeout 返回 OpenAI 调用的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StorageConfig 配置去中心化存储上传。
type StorageConfig struct {
	Provider    string            `json:"provider"`
	Web3Storage Web3StorageConfig `json:"web3storage"`
}

// Web3StorageConfig 描述 web3.storage 上传端点的调用信息。
type Web3StorageConfig struct {
	Token          string `json:"token,omitempty"`
	TokenEnv       string `json:"token_env,omitempty"`
	BaseURL        string `json:"base_url,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// Timeout 返回上传调用的超时时间。
func (c Web3StorageConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ChainConfig 包含访问区块链节点与合约所需的信息。
type ChainConfig struct {
	ChainConfig           string `json:"chain_config"`
	DefaultChain          string `json:"default_chain"`
	RPCURL                string `json:"rpc_url"`
	ContractAddress       string `json:"contract_address"`
	PrivateKey            string `json:"private_key,omitempty"`
	PrivateKeyEnv         string `json:"private_key_env,omitempty"`
	MintFunction          string `json:"mint_function"`
	GasLimit              uint64 `json:"gas_limit"`
	ConfirmTimeoutSeconds int    `json:"confirm_timeout_seconds"`
}

// ConfirmTimeout 返回等待交易落块的超时时间。
func (c ChainConfig) ConfirmTimeout() time.Duration {
	if c.ConfirmTimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.ConfirmTimeoutSeconds) * time.Second
}

// LedgerConfig 描述铸造台账的持久化方式。
type LedgerConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// EventsConfig 配置铸造生命周期事件的发布方式。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 事件队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LoggingConfig 配置日志与审计输出。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "api_key"
	}
	if c.Auth.Driver == "" {
		c.Auth.Driver = "memory"
	}
	if c.Auth.MaxFailedAttempts <= 0 {
		c.Auth.MaxFailedAttempts = 5
	}
	if c.Auth.BlockMinutes <= 0 {
		c.Auth.BlockMinutes = 15
	}

	if c.RateLimit.Driver == "" {
		c.RateLimit.Driver = "memory"
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 60
	}
	if c.RateLimit.MintPerMinute <= 0 {
		c.RateLimit.MintPerMinute = 5
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 10
	}
	if c.RateLimit.Redis.Prefix == "" {
		c.RateLimit.Redis.Prefix = "promethean:ratelimit"
	}

	if c.Metadata.Provider == "" {
		c.Metadata.Provider = "static"
	}

	if c.Storage.Provider == "" {
		c.Storage.Provider = "web3storage"
	}

	if c.Chain.MintFunction == "" {
		c.Chain.MintFunction = "mintKnowledgeNFT"
	}
	if c.Chain.ChainConfig != "" && !filepath.IsAbs(c.Chain.ChainConfig) {
		c.Chain.ChainConfig = filepath.Join(baseDir, c.Chain.ChainConfig)
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "log"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "promethean.mints"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
