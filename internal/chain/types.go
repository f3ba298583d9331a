package chain

import "context"

// ChainSnapshot represents summarized network metadata for health reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// MintReceipt captures the on-chain outcome of a successful mint.
type MintReceipt struct {
	TokenID     uint64
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}

// Client defines the common interface that any chain implementation must
// provide so the coordinator can mint against different networks uniformly.
type Client interface {
	Mint(ctx context.Context, recipient, tokenURI string) (*MintReceipt, error)
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}
