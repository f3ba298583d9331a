package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Request 描述需要生成元数据的作品信息。
type Request struct {
	Title       string
	Description string
	Author      string
	Tags        []string
}

// Attribute 是 NFT 元数据中的一条展示属性。
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Document 是最终写入去中心化存储的元数据文档,字段布局与主流
// NFT 市场的展示约定保持一致。
type Document struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Author      string      `json:"author,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	Attributes  []Attribute `json:"attributes,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Encode 将元数据文档序列化为上传所需的 JSON 字节。
func (d *Document) Encode() ([]byte, error) {
	encoded, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("序列化元数据失败: %w", err)
	}
	return encoded, nil
}

// Generator 定义了元数据合成的统一接口。
type Generator interface {
	Generate(ctx context.Context, req Request) (*Document, error)
}
