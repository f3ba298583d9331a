package openai

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

	"github.com/Spruked/promethean-echo/internal/metadata"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 为铸造请求润色元数据。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}, nil
}

// Generate 调用 OpenAI 生成润色后的元数据文档。模型返回的内容无法解析
// 为结构化 JSON 时,会退化为把原始回复当作描述,保证铸造流程不中断。
func (c *Client) Generate(ctx context.Context, req metadata.Request) (*metadata.Document, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("OpenAI 响应内容为空")
	}

	var structured struct {
		Description string               `json:"description"`
		Attributes  []metadata.Attribute `json:"attributes"`
	}
	if err := json.Unmarshal([]byte(content), &structured); err != nil {
		structured.Description = content
		structured.Attributes = nil
	}
	if strings.TrimSpace(structured.Description) == "" {
		structured.Description = req.Description
	}

	doc := &metadata.Document{
		Name:        req.Title,
		Description: structured.Description,
		Author:      req.Author,
		Tags:        append([]string(nil), req.Tags...),
		Attributes:  structured.Attributes,
		CreatedAt:   c.now().UTC(),
	}
	for _, tag := range req.Tags {
		doc.Attributes = append(doc.Attributes, metadata.Attribute{TraitType: "tag", Value: tag})
	}
	return doc, nil
}

func (c *Client) buildPayload(req metadata.Request) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	messages := []message{
		{
			Role:    "system",
			Content: systemPrompt,
		},
		{
			Role:    "user",
			Content: buildUserPrompt(req),
		},
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": 0.2,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}

const systemPrompt = "" +
	"You are a curator writing NFT metadata. " +
	"Always respond with a compact JSON object: " +
	"{\"description\": string, \"attributes\": [{\"trait_type\": string, \"value\": string}]}. " +
	"Polish the creator's description into collector-facing copy without inventing facts."

func buildUserPrompt(req metadata.Request) string {
	var builder strings.Builder
	builder.WriteString("## 作品信息\n")
	builder.WriteString(fmt.Sprintf("标题: %s\n", strings.TrimSpace(req.Title)))
	builder.WriteString(fmt.Sprintf("描述: %s\n", strings.TrimSpace(req.Description)))
	if author := strings.TrimSpace(req.Author); author != "" {
		builder.WriteString(fmt.Sprintf("作者: %s\n", author))
	}
	if len(req.Tags) > 0 {
		builder.WriteString(fmt.Sprintf("标签: %s\n", strings.Join(req.Tags, ", ")))
	}
	builder.WriteString("\n请润色描述并补充展示属性。")
	return builder.String()
}
