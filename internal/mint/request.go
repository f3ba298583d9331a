package mint

import (
	"regexp"
	"strings"

	xerrors "github.com/Spruked/promethean-echo/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// 校验边界,与铸造合约及市场展示的约定保持一致。
const (
	titleMinLen       = 3
	titleMaxLen       = 100
	descriptionMinLen = 10
	descriptionMaxLen = 2000
	maxTags           = 10
	tagMinLen         = 2
	tagMaxLen         = 32
)

// 铸造流水线的阶段名,用于标记失败发生在哪个环节。
const (
	StageMetadata = "metadata"
	StageStorage  = "storage"
	StageChain    = "chain"
)

const (
	CodeMintValidation xerrors.Code = "MINT_VALIDATION_FAILED"
)

func init() {
	xerrors.Register(CodeMintValidation, xerrors.Attributes{
		Message:  "mint request validation failed",
		Severity: xerrors.SeverityInfo,
		Alert:    false,
	})
}

var titlePattern = regexp.MustCompile(`^[\p{L}\p{N}\s\-_.,:;!?'"()]+$`)

// Request 是一次 NFT 铸造请求。
type Request struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Tags             []string `json:"tags,omitempty"`
	Author           string   `json:"author,omitempty"`
	RecipientAddress string   `json:"recipient_address,omitempty"`
	Chain            string   `json:"chain,omitempty"`
}

// Result 是一次成功铸造的最终结果。
type Result struct {
	RequestID   string `json:"request_id"`
	TokenID     uint64 `json:"token_id"`
	MetadataURI string `json:"metadata_uri"`
	TxHash      string `json:"transaction_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
}

// Normalize 去除请求字段的首尾空白并丢弃空标签。
func (r *Request) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.Author = strings.TrimSpace(r.Author)
	r.RecipientAddress = strings.TrimSpace(r.RecipientAddress)
	r.Chain = strings.TrimSpace(r.Chain)

	if len(r.Tags) == 0 {
		return
	}
	tags := make([]string, 0, len(r.Tags))
	for _, tag := range r.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	r.Tags = tags
}

// Validate 检查请求是否满足铸造要求,返回的错误均带有校验错误码。
func (r *Request) Validate() error {
	if r.Title == "" {
		return xerrors.New(CodeMintValidation, "标题不能为空")
	}
	if titleLen := len([]rune(r.Title)); titleLen < titleMinLen || titleLen > titleMaxLen {
		return xerrors.New(CodeMintValidation, "标题长度必须在 3 到 100 个字符之间")
	}
	if !titlePattern.MatchString(r.Title) {
		return xerrors.New(CodeMintValidation, "标题包含不支持的字符")
	}

	if r.Description == "" {
		return xerrors.New(CodeMintValidation, "描述不能为空")
	}
	if descLen := len([]rune(r.Description)); descLen < descriptionMinLen || descLen > descriptionMaxLen {
		return xerrors.New(CodeMintValidation, "描述长度必须在 10 到 2000 个字符之间")
	}

	if len(r.Tags) > maxTags {
		return xerrors.New(CodeMintValidation, "标签数量不能超过 10 个")
	}
	for _, tag := range r.Tags {
		if tagLen := len([]rune(tag)); tagLen < tagMinLen || tagLen > tagMaxLen {
			return xerrors.New(CodeMintValidation, "标签长度必须在 2 到 32 个字符之间")
		}
	}

	if r.RecipientAddress != "" && !common.IsHexAddress(r.RecipientAddress) {
		return xerrors.New(CodeMintValidation, "接收地址不是合法的以太坊地址")
	}
	return nil
}
