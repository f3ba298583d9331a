package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/Spruked/promethean-echo/internal/chain"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const (
	defaultMintFunction   = "mintKnowledgeNFT"
	defaultGasLimit       = uint64(300000)
	defaultConfirmTimeout = 5 * time.Minute
	receiptPollInterval   = 500 * time.Millisecond
)

// transferTopic is the keccak hash of the ERC-721 Transfer event signature,
// used to recover the minted token id from the receipt logs.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Config describes how to construct an EVM mint client.
type Config struct {
	Name            string
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	MintFunction    string
	GasLimit        uint64
	ConfirmTimeout  time.Duration
	Notes           string
}

// Backend mirrors the subset of ethclient methods the mint flow needs, so
// tests can substitute a simulated chain.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Client implements the chain.Client interface for EVM compatible chains.
type Client struct {
	name           string
	notes          string
	rpcClient      *gethrpc.Client
	backend        Backend
	contract       common.Address
	privateKey     *ecdsa.PrivateKey
	from           common.Address
	mintABI        abi.ABI
	mintFunction   string
	gasLimit       uint64
	confirmTimeout time.Duration
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	client, err := newClient(ethclient.NewClient(rpcClient), cfg)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.rpcClient = rpcClient
	return client, nil
}

// NewBackendClient wraps an existing backend, typically a go-ethereum
// simulated chain, for testing purposes.
func NewBackendClient(backend Backend, cfg Config) (*Client, error) {
	return newClient(backend, cfg)
}

func newClient(backend Backend, cfg Config) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("非法的合约地址: %q", cfg.ContractAddress)
	}

	keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x")
	if keyHex == "" {
		return nil, errors.New("未提供铸造账户私钥")
	}
	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("解析铸造账户私钥失败: %w", err)
	}

	mintFunction := strings.TrimSpace(cfg.MintFunction)
	if mintFunction == "" {
		mintFunction = defaultMintFunction
	}
	mintABI, err := buildMintABI(mintFunction)
	if err != nil {
		return nil, err
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}
	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = defaultConfirmTimeout
	}

	return &Client{
		name:           cfg.Name,
		notes:          cfg.Notes,
		backend:        backend,
		contract:       common.HexToAddress(cfg.ContractAddress),
		privateKey:     privateKey,
		from:           crypto.PubkeyToAddress(privateKey.PublicKey),
		mintABI:        mintABI,
		mintFunction:   mintFunction,
		gasLimit:       gasLimit,
		confirmTimeout: confirmTimeout,
	}, nil
}

func buildMintABI(mintFunction string) (abi.ABI, error) {
	definition := fmt.Sprintf(`[{"name":%q,"type":"function","stateMutability":"nonpayable",`+
		`"inputs":[{"name":"to","type":"address"},{"name":"tokenURI","type":"string"}],`+
		`"outputs":[{"name":"tokenId","type":"uint256"}]}]`, mintFunction)
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("构建铸造 ABI 失败: %w", err)
	}
	return parsed, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// SignerAddress returns the address transactions are sent from.
func (c *Client) SignerAddress() common.Address {
	return c.from
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (chain.ChainSnapshot, error) {
	if c == nil || c.backend == nil {
		return chain.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}

	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return chain.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return chain.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return chain.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// Mint sends the mint transaction and waits until it lands in a block.
// When recipient is empty the token is minted to the signer's own address.
func (c *Client) Mint(ctx context.Context, recipient, tokenURI string) (*chain.MintReceipt, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	if strings.TrimSpace(tokenURI) == "" {
		return nil, errors.New("tokenURI 不能为空")
	}

	to := c.from
	if recipient = strings.TrimSpace(recipient); recipient != "" {
		if !common.IsHexAddress(recipient) {
			return nil, fmt.Errorf("非法的接收地址: %q", recipient)
		}
		to = common.HexToAddress(recipient)
	}

	data, err := c.mintABI.Pack(c.mintFunction, to, tokenURI)
	if err != nil {
		return nil, fmt.Errorf("编码铸造调用失败: %w", err)
	}

	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("获取账户 nonce 失败: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 gas 价格失败: %w", err)
	}

	// 估算失败时回退到配置的 gas 上限,成功时留出 20% 余量。
	gasLimit := c.gasLimit
	if estimated, err := c.backend.EstimateGas(ctx, gethcore.CallMsg{
		From: c.from,
		To:   &c.contract,
		Data: data,
	}); err == nil && estimated > 0 {
		gasLimit = estimated + estimated/5
	}

	tx := coretypes.NewTransaction(nonce, c.contract, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("签名铸造交易失败: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("发送铸造交易失败: %w", err)
	}

	receipt, err := c.waitReceipt(ctx, signedTx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("铸造交易 %s 在链上执行失败", signedTx.Hash().Hex())
	}

	return &chain.MintReceipt{
		TokenID:     tokenIDFromLogs(c.contract, receipt.Logs),
		TxHash:      signedTx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}

func (c *Client) waitReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	deadline, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(deadline, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, fmt.Errorf("查询交易回执失败: %w", err)
		}

		select {
		case <-deadline.Done():
			return nil, fmt.Errorf("等待交易 %s 落块超时: %w", txHash.Hex(), deadline.Err())
		case <-ticker.C:
		}
	}
}

// tokenIDFromLogs recovers the minted token id from an ERC-721 Transfer
// event emitted by the mint contract itself. Transfers from other contracts
// in the same transaction (fee tokens, hooks) are ignored; contracts that
// emit no such event yield token id zero.
func tokenIDFromLogs(contract common.Address, logs []*coretypes.Log) uint64 {
	for _, entry := range logs {
		if entry == nil || entry.Address != contract || len(entry.Topics) != 4 {
			continue
		}
		if entry.Topics[0] != transferTopic {
			continue
		}
		return entry.Topics[3].Big().Uint64()
	}
	return 0
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
