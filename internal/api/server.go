package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Spruked/promethean-echo/internal/auth"
	xerrors "github.com/Spruked/promethean-echo/internal/errors"
	"github.com/Spruked/promethean-echo/internal/ledger"
	"github.com/Spruked/promethean-echo/internal/mint"
	"github.com/Spruked/promethean-echo/internal/observability/metrics"
	"github.com/Spruked/promethean-echo/internal/ratelimit"
	"github.com/Spruked/promethean-echo/pkg/logger"
)

// Options 汇总 API 服务的依赖。
type Options struct {
	Addr        string
	Coordinator *mint.Coordinator
	Store       ledger.Store
	Chains      mint.ChainResolver
	Auth        *auth.Service
	Limiter     ratelimit.Limiter
	MintLimiter ratelimit.Limiter
}

// Server 负责暴露 REST 接口,供外部提交铸造请求并查询台账。
type Server struct {
	addr        string
	coordinator *mint.Coordinator
	store       ledger.Store
	chains      mint.ChainResolver
	authSvc     *auth.Service
	limiter     ratelimit.Limiter
	mintLimiter ratelimit.Limiter
}

// NewServer 构造 API 服务实例。
func NewServer(opts Options) *Server {
	return &Server{
		addr:        opts.Addr,
		coordinator: opts.Coordinator,
		store:       opts.Store,
		chains:      opts.Chains,
		authSvc:     opts.Auth,
		limiter:     opts.Limiter,
		mintLimiter: opts.MintLimiter,
	}
}

// Start 启动 HTTP 服务,直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 组装路由与中间件,便于测试直接驱动。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.instrument("health", s.handleHealth))

	protect := func(event string, handler http.HandlerFunc) http.Handler {
		var wrapped http.Handler = handler
		if s.authSvc != nil {
			wrapped = s.authSvc.Middleware(auth.MiddlewareConfig{AuditEvent: event})(wrapped)
		}
		return wrapped
	}

	mux.Handle("/mint", protect("mint", s.instrument("mint", s.handleMint)))
	mux.Handle("/metrics", protect("metrics", metrics.Handler().ServeHTTP))
	mux.Handle("/api/v1/mints", protect("list_mints", s.instrument("list_mints", s.handleListMints)))
	mux.Handle("/api/v1/mints/", protect("get_mint", s.instrument("get_mint", s.handleGetMint)))
	mux.Handle("/api/v1/stats", protect("stats", s.instrument("stats", s.handleStats)))
	mux.Handle("/security/audit", protect("security_audit", s.instrument("security_audit", s.handleSecurityAudit)))

	return mux
}

// instrument 记录请求指标并应用全局限流。
func (s *Server) instrument(handler string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if handler != "health" && !s.allow(r, s.limiter) {
			writeError(w, xerrors.New(xerrors.CodeRateLimited, "请求过于频繁,请稍后重试"))
			metrics.ObserveHTTPRequest(handler, r.Method, http.StatusTooManyRequests, 0)
			return
		}

		start := time.Now()
		mw := &metricsWriter{ResponseWriter: w, status: http.StatusOK}
		next(mw, r)
		metrics.ObserveHTTPRequest(handler, r.Method, mw.status, time.Since(start))
	}
}

// allow 以 API Key 摘要(未认证时退化为来源 IP)作为限流键。
func (s *Server) allow(r *http.Request, limiter ratelimit.Limiter) bool {
	if limiter == nil {
		return true
	}
	key := auth.ClientIP(r)
	if apiKey := auth.APIKeyFromContext(r.Context()); apiKey != nil {
		key = apiKey.Digest
	}
	ok, err := limiter.Allow(r.Context(), key)
	if err != nil {
		logger.L().Warn("rate limiter unavailable", "error", err)
		return true
	}
	return ok
}

// handleMint 受理铸造请求并同步返回链上结果。
func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 POST"))
		return
	}
	if s.coordinator == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "铸造协调器未初始化"))
		return
	}

	// 铸造有独立于全局限流的更严预算。
	if !s.allow(r, s.mintLimiter) {
		writeError(w, xerrors.New(xerrors.CodeRateLimited, "铸造请求超出配额,请稍后重试"))
		return
	}

	var req mint.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}

	result, err := s.coordinator.Submit(r.Context(), req)
	if err != nil {
		metrics.ObserveMintOutcome("failed", xerrors.StageOf(err))
		writeError(w, err)
		return
	}

	metrics.ObserveMintOutcome("succeeded", "")
	respondJSON(w, http.StatusCreated, result)
}

// handleHealth 报告服务与默认链的可用性。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}

	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if s.chains != nil {
		if client, err := s.chains.DefaultClient(); err == nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if snapshot, err := client.FetchChainSnapshot(ctx); err == nil {
				body["chain"] = map[string]string{
					"chain_id":     snapshot.ChainID,
					"block_number": snapshot.BlockNumber,
				}
			} else {
				body["status"] = "degraded"
				body["chain_error"] = err.Error()
			}
		}
	}
	respondJSON(w, http.StatusOK, body)
}

// handleListMints 返回最近的铸造记录。
func (s *Server) handleListMints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}

	var opts []ledger.ListOption
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, ledger.WithLimit(parsed))
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, ledger.WithOffset(parsed))
		}
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		opts = append(opts, ledger.WithStatuses(ledger.Status(raw)))
	}

	records, err := s.store.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// handleGetMint 按请求 ID 返回单条铸造记录。
func (s *Server) handleGetMint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/mints/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "非法的请求 ID"))
		return
	}

	record, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, record)
}

// handleStats 返回铸造台账的聚合统计。
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}

	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleSecurityAudit 返回最近的认证安全事件,新事件在前。
func (s *Server) handleSecurityAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events := s.authSvc.RecentSecurityEvents(limit)
	if events == nil {
		events = []auth.SecurityEvent{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"events":    events,
	})
}

// errorBody 是统一的错误响应格式。
type errorBody struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeInvalidArgument, mint.CodeMintValidation:
		status = http.StatusBadRequest
	case xerrors.CodeAuthFailure:
		status = http.StatusUnauthorized
	case xerrors.CodeRateLimited:
		status = http.StatusTooManyRequests
	case xerrors.CodeNotFound, ledger.CodeRecordNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict, ledger.CodeRecordConflict:
		status = http.StatusConflict
	case xerrors.CodeUpstreamFailure:
		status = http.StatusBadGateway
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}

	message := err.Error()
	if typed, ok := xerrors.From(err); ok {
		message = typed.Message()
	}

	respondJSON(w, status, errorBody{
		Status:  "failed",
		Code:    string(code),
		Message: message,
		Stage:   xerrors.StageOf(err),
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// metricsWriter 捕获响应状态码以便记录指标。
type metricsWriter struct {
	http.ResponseWriter
	status int
}

func (w *metricsWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
