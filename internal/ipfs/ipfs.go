package ipfs

import (
	"context"
	"strings"
)

// URIScheme 是内容寻址存储返回地址的统一前缀。
const URIScheme = "ipfs://"

// Uploader 定义了把元数据内容上传到去中心化存储的统一接口。
// 返回值是 ipfs://CID 形式的内容地址。
type Uploader interface {
	Upload(ctx context.Context, name string, content []byte) (string, error)
}

// ValidURI 判断一个地址是否是合法的 ipfs:// 内容地址。
func ValidURI(uri string) bool {
	if !strings.HasPrefix(uri, URIScheme) {
		return false
	}
	return strings.TrimPrefix(uri, URIScheme) != ""
}
