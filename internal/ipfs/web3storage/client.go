package web3storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Spruked/promethean-echo/internal/ipfs"
)

const (
	defaultBaseURL = "https://api.web3.storage"
	defaultTimeout = 30 * time.Second
)

// Config 描述了调用 web3.storage 上传接口所需的信息。
type Config struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

// Client 通过 web3.storage 的 HTTP API 上传元数据。
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient 根据配置创建 web3.storage 客户端。
func NewClient(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("未提供 web3.storage 访问令牌")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		token:   token,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Upload 上传一段内容并返回 ipfs://CID 地址。
func (c *Client) Upload(ctx context.Context, name string, content []byte) (string, error) {
	if len(content) == 0 {
		return "", errors.New("上传内容为空")
	}

	endpoint := c.baseURL + "/upload"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("构建上传请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")
	if name = strings.TrimSpace(name); name != "" {
		httpReq.Header.Set("X-NAME", name)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("上传到 web3.storage 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("web3.storage 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		CID string `json:"cid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("解析 web3.storage 响应失败: %w", err)
	}

	cid := strings.TrimSpace(decoded.CID)
	if cid == "" {
		return "", errors.New("web3.storage 响应中缺少 cid")
	}

	uri := ipfs.URIScheme + cid
	if !ipfs.ValidURI(uri) {
		return "", fmt.Errorf("web3.storage 返回了非法的 cid: %q", cid)
	}
	return uri, nil
}
