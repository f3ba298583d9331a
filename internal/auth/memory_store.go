package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// MemoryStore 以内存方式保存 API Key,适合测试与单机部署。
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*APIKey)}
}

// FindKeyByDigest 实现 Store 接口。
func (m *MemoryStore) FindKeyByDigest(_ context.Context, digest string) (*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[digest]
	if !ok {
		return nil, ErrInvalidKey
	}
	clone := *key
	return &clone, nil
}

// ApplySeed 写入启动时注入的密钥。
func (m *MemoryStore) ApplySeed(_ context.Context, seed Seed) error {
	if strings.TrimSpace(seed.Key) == "" {
		return errors.New("种子密钥不能为空")
	}
	name := strings.TrimSpace(seed.Name)
	if name == "" {
		return errors.New("种子密钥名称不能为空")
	}

	digest := DigestKey(seed.Key)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[digest] = &APIKey{
		Name:     name,
		Digest:   digest,
		Disabled: seed.Disabled,
	}
	return nil
}

var (
	_ Store      = (*MemoryStore)(nil)
	_ SeedWriter = (*MemoryStore)(nil)
)
