package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Spruked/promethean-echo/pkg/logger"
)

const (
	defaultMaxFailedAttempts = 5
	defaultBlockDuration     = 15 * time.Minute
)

// Service 负责 API Key 校验以及针对暴力尝试的临时封禁。
type Service struct {
	mode  Mode
	store Store
	audit *slog.Logger

	maxFailedAttempts int
	blockDuration     time.Duration

	mu      sync.Mutex
	clients map[string]*clientState
	trail   *securityTrail
	now     func() time.Time
}

// clientState 记录单个来源 IP 的失败次数与封禁期限。
type clientState struct {
	failures     int
	blockedUntil time.Time
}

// NewService 构造身份认证服务实例并应用启动时的种子密钥。
func NewService(ctx context.Context, cfg Config, store Store) (*Service, error) {
	mode := Mode(strings.ToLower(string(cfg.Mode)))
	if mode == "" {
		mode = ModeAPIKey
	}

	svc := &Service{
		mode:              mode,
		store:             store,
		audit:             logger.Audit(),
		maxFailedAttempts: cfg.MaxFailedAttempts,
		blockDuration:     cfg.BlockDuration,
		clients:           make(map[string]*clientState),
		trail:             newSecurityTrail(defaultTrailCapacity),
		now:               time.Now,
	}
	if svc.maxFailedAttempts <= 0 {
		svc.maxFailedAttempts = defaultMaxFailedAttempts
	}
	if svc.blockDuration <= 0 {
		svc.blockDuration = defaultBlockDuration
	}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeAPIKey:
		if store == nil {
			return nil, errors.New("api_key 模式需要配置密钥存储")
		}
	default:
		return nil, fmt.Errorf("不支持的认证模式: %s", cfg.Mode)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if len(cfg.Seeds) > 0 {
		if writer, ok := store.(SeedWriter); ok {
			for _, seed := range cfg.Seeds {
				if err := writer.ApplySeed(ctx, seed); err != nil {
					return nil, fmt.Errorf("应用种子密钥 %s 失败: %w", seed.Name, err)
				}
			}
		}
	}
	return svc, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// VerifyKey 校验 API Key。连续失败超过阈值的来源 IP 会被临时封禁,
// 封禁期间的请求直接拒绝,不查询密钥存储。
func (s *Service) VerifyKey(ctx context.Context, key, clientIP string) (*APIKey, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}

	if s.isBlocked(clientIP) {
		s.recordEvent(EventBlockedRequest, clientIP, "warning")
		return nil, ErrBlocked
	}

	key = strings.TrimSpace(key)
	if key == "" {
		s.recordEvent(EventMissingKey, clientIP, "info")
		s.registerFailure(clientIP)
		return nil, ErrMissingKey
	}

	digest := DigestKey(key)
	record, err := s.store.FindKeyByDigest(ctx, digest)
	if err != nil || record == nil {
		s.recordEvent(EventInvalidKey, clientIP, "info")
		s.registerFailure(clientIP)
		return nil, ErrInvalidKey
	}
	if subtle.ConstantTimeCompare([]byte(record.Digest), []byte(digest)) != 1 {
		s.recordEvent(EventInvalidKey, clientIP, "info")
		s.registerFailure(clientIP)
		return nil, ErrInvalidKey
	}
	if record.Disabled {
		s.recordEvent(EventKeyRevoked, clientIP, "warning")
		s.registerFailure(clientIP)
		return nil, ErrKeyRevoked
	}

	s.clearFailures(clientIP)
	return record, nil
}

func (s *Service) isBlocked(clientIP string) bool {
	if clientIP == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.clients[clientIP]
	if !ok {
		return false
	}
	if state.blockedUntil.IsZero() {
		return false
	}
	if s.now().After(state.blockedUntil) {
		delete(s.clients, clientIP)
		return false
	}
	return true
}

func (s *Service) registerFailure(clientIP string) {
	if clientIP == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.clients[clientIP]
	if !ok {
		state = &clientState{}
		s.clients[clientIP] = state
	}
	state.failures++
	if state.failures >= s.maxFailedAttempts {
		state.blockedUntil = s.now().Add(s.blockDuration)
		state.failures = 0
		s.recordEvent(EventClientBlocked, clientIP, "warning")
		s.audit.Warn("client_blocked",
			"client_ip", clientIP,
			"blocked_until", state.blockedUntil,
		)
	}
}

// recordEvent 将安全事件写入内存审计轨迹,供 /security/audit 查询。
func (s *Service) recordEvent(event, clientIP, severity string) {
	if s == nil || s.trail == nil {
		return
	}
	s.trail.record(SecurityEvent{
		Type:       event,
		ClientIP:   clientIP,
		Severity:   severity,
		OccurredAt: s.now().UTC(),
	})
}

// RecentSecurityEvents 返回最近的安全事件,新事件在前。
func (s *Service) RecentSecurityEvents(limit int) []SecurityEvent {
	if s == nil || s.trail == nil {
		return nil
	}
	return s.trail.recent(limit)
}

func (s *Service) clearFailures(clientIP string) {
	if clientIP == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, clientIP)
}
