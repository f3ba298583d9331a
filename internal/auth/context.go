package auth

import "context"

// apiKeyKey 是上下文中存储 APIKey 的键类型。
type apiKeyKey struct{}

// WithAPIKey 将通过校验的 API Key 信息存储到上下文中。
func WithAPIKey(ctx context.Context, key *APIKey) context.Context {
	if key == nil {
		return ctx
	}
	return context.WithValue(ctx, apiKeyKey{}, key)
}

// APIKeyFromContext 从上下文中提取通过校验的 API Key 信息。
func APIKeyFromContext(ctx context.Context) *APIKey {
	if ctx == nil {
		return nil
	}
	if key, ok := ctx.Value(apiKeyKey{}).(*APIKey); ok {
		return key
	}
	return nil
}
