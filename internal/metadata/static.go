package metadata

import (
	"context"
	"time"
)

// StaticGenerator 不依赖任何外部模型,直接按请求内容组装元数据。
// 适合离线环境或不希望引入 AI 依赖的部署。
type StaticGenerator struct {
	now func() time.Time
}

// NewStaticGenerator 创建静态元数据生成器。
func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{now: time.Now}
}

// Generate 按请求原样组装元数据文档。
func (g *StaticGenerator) Generate(_ context.Context, req Request) (*Document, error) {
	doc := &Document{
		Name:        req.Title,
		Description: req.Description,
		Author:      req.Author,
		Tags:        append([]string(nil), req.Tags...),
		CreatedAt:   g.now().UTC(),
	}
	for _, tag := range req.Tags {
		doc.Attributes = append(doc.Attributes, Attribute{TraitType: "tag", Value: tag})
	}
	return doc, nil
}
