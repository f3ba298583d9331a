package auth

import (
	"sync"
	"time"
)

// 安全事件类型,与审计日志中的事件名保持一致。
const (
	EventMissingKey     = "missing_key"
	EventInvalidKey     = "invalid_key"
	EventKeyRevoked     = "key_revoked"
	EventBlockedRequest = "blocked_request"
	EventClientBlocked  = "client_blocked"
)

// SecurityEvent 是保留在内存中的安全事件,按时间倒序供 /security/audit 查询。
// 完整的审计流仍然落到滚动审计日志,这里只保留最近的窗口。
type SecurityEvent struct {
	Type       string    `json:"type"`
	ClientIP   string    `json:"client_ip,omitempty"`
	Severity   string    `json:"severity"`
	OccurredAt time.Time `json:"occurred_at"`
}

const defaultTrailCapacity = 256

// securityTrail 是固定容量的环形缓冲,写满后覆盖最旧的事件。
type securityTrail struct {
	mu     sync.Mutex
	events []SecurityEvent
	next   int
	filled bool
}

func newSecurityTrail(capacity int) *securityTrail {
	if capacity <= 0 {
		capacity = defaultTrailCapacity
	}
	return &securityTrail{events: make([]SecurityEvent, capacity)}
}

func (t *securityTrail) record(event SecurityEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[t.next] = event
	t.next++
	if t.next == len(t.events) {
		t.next = 0
		t.filled = true
	}
}

// recent 返回最近的事件,新的在前。
func (t *securityTrail) recent(limit int) []SecurityEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := t.next
	if t.filled {
		total = len(t.events)
	}
	if limit <= 0 || limit > total {
		limit = total
	}

	result := make([]SecurityEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (t.next - i + len(t.events)) % len(t.events)
		result = append(result, t.events[idx])
	}
	return result
}
