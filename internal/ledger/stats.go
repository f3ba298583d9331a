package ledger

// MintStats 聚合了铸造记录的统计信息,常用于仪表盘或健康检查。
type MintStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}
