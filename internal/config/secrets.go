package config

import (
	"fmt"
	"os"
)

// ResolveSecret 按优先级解析敏感配置:配置文件内联值优先,其次读取环境变量。
// 两者都为空时返回空字符串,由调用方决定是否报错。
func ResolveSecret(inline, envKey string) string {
	if inline != "" {
		return inline
	}
	if envKey == "" {
		return ""
	}
	return os.Getenv(envKey)
}

// RequireSecret 与 ResolveSecret 类似,但解析结果为空时返回错误。
func RequireSecret(inline, envKey, what string) (string, error) {
	value := ResolveSecret(inline, envKey)
	if value == "" {
		if envKey != "" {
			return "", fmt.Errorf("缺少 %s:请设置环境变量 %s 或在配置中填写", what, envKey)
		}
		return "", fmt.Errorf("缺少 %s", what)
	}
	return value, nil
}
