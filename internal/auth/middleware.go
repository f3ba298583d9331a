package auth

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	xerrors "github.com/Spruked/promethean-echo/internal/errors"
	loggerpkg "github.com/Spruked/promethean-echo/pkg/logger"
)

// APIKeyHeader 是客户端提交密钥的请求头。
const APIKeyHeader = "X-API-Key"

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	// AuditEvent 指定记录审计日志时使用的事件名称。
	AuditEvent string
}

// Middleware 返回一个 HTTP 中间件,用于校验 X-API-Key 并记录审计日志。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			setSecurityHeaders(w)

			if s == nil || s.mode == ModeDisabled {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := ClientIP(r)
			key, err := s.VerifyKey(r.Context(), r.Header.Get(APIKeyHeader), clientIP)
			if err != nil {
				status := http.StatusUnauthorized
				if err == ErrBlocked {
					status = http.StatusForbidden
				}
				writeAuthError(w, status, err)
				logger := s.audit
				if logger == nil {
					logger = loggerpkg.Audit()
				}
				logger.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"client_ip", clientIP,
					"error", err.Error(),
				)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			ctx := WithAPIKey(r.Context(), key)
			next.ServeHTTP(aw, r.WithContext(ctx))

			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			logger := s.audit
			if logger == nil {
				logger = loggerpkg.Audit()
			}
			logger.Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"api_key", key.Name,
				"client_ip", clientIP,
			)
		})
	}
}

// ClientIP 解析请求来源 IP,优先使用反向代理传递的 X-Forwarded-For。
func ClientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		if idx := strings.IndexByte(forwarded, ','); idx > 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func setSecurityHeaders(w http.ResponseWriter) {
	header := w.Header()
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("X-Frame-Options", "DENY")
	header.Set("Cache-Control", "no-store")
}

func writeAuthError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "failed",
		"code":    string(xerrors.CodeAuthFailure),
		"message": err.Error(),
	})
}

// auditWriter 是一个包装了 http.ResponseWriter 的结构体,用于捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
