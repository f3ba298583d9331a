package ethereum

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
)

const testContract = "0x00000000000000000000000000000000000000aa"

func newSimClient(t *testing.T) (*Client, *simulated.Backend) {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	balance := new(big.Int).Mul(big.NewInt(10), big.NewInt(params.Ether))
	sim := simulated.NewBackend(coretypes.GenesisAlloc{
		addr: {Balance: balance},
	})
	t.Cleanup(func() { _ = sim.Close() })

	client, err := NewBackendClient(sim.Client(), Config{
		Name:            "simulated",
		ContractAddress: testContract,
		PrivateKey:      hex.EncodeToString(crypto.FromECDSA(key)),
		ConfirmTimeout:  15 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return client, sim
}

// commitLoop keeps sealing blocks so pending transactions get receipts.
func commitLoop(t *testing.T, sim *simulated.Backend) {
	t.Helper()
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				sim.Commit()
			}
		}
	}()
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewBackendClient(nil, Config{ContractAddress: "not-an-address", PrivateKey: "ab"}); err == nil {
		t.Fatalf("expected error for malformed contract address")
	}
	if _, err := NewBackendClient(nil, Config{ContractAddress: testContract}); err == nil {
		t.Fatalf("expected error when private key is missing")
	}
}

func TestMintLandsOnChain(t *testing.T) {
	client, sim := newSimClient(t)
	commitLoop(t, sim)

	receipt, err := client.Mint(context.Background(), "", "ipfs://bafybeigdyrzt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.TxHash == "" {
		t.Fatalf("expected transaction hash, got empty string")
	}
	if receipt.BlockNumber == 0 {
		t.Fatalf("expected transaction to land in a block")
	}
	if receipt.GasUsed == 0 {
		t.Fatalf("expected gas usage to be recorded")
	}
}

func TestMintToExplicitRecipient(t *testing.T) {
	client, sim := newSimClient(t)
	commitLoop(t, sim)

	receipt, err := client.Mint(context.Background(), "0x000000000000000000000000000000000000dEaD", "ipfs://bafybeigdyrzt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.TxHash == "" {
		t.Fatalf("expected transaction hash, got empty string")
	}
}

func TestMintRejectsBadInput(t *testing.T) {
	client, _ := newSimClient(t)

	if _, err := client.Mint(context.Background(), "", ""); err == nil {
		t.Fatalf("expected error for empty token uri")
	}
	if _, err := client.Mint(context.Background(), "not-an-address", "ipfs://x"); err == nil {
		t.Fatalf("expected error for malformed recipient")
	}
}

func TestFetchChainSnapshot(t *testing.T) {
	client, sim := newSimClient(t)
	sim.Commit()

	snapshot, err := client.FetchChainSnapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.ChainID == "" || snapshot.ChainID == "0x0" {
		t.Fatalf("unexpected chain id: %q", snapshot.ChainID)
	}
	if snapshot.BlockNumber == "" {
		t.Fatalf("block number missing")
	}
}

func TestTokenIDFromLogs(t *testing.T) {
	contract := common.HexToAddress(testContract)
	feeToken := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	logs := []*coretypes.Log{
		nil,
		{Address: contract, Topics: []common.Hash{transferTopic}},
		{
			// 同一笔交易里其它合约发出的 Transfer 不是铸造结果。
			Address: feeToken,
			Topics: []common.Hash{
				transferTopic,
				common.Hash{},
				common.Hash{},
				common.BigToHash(big.NewInt(7)),
			},
		},
		{
			Address: contract,
			Topics: []common.Hash{
				transferTopic,
				common.Hash{},
				common.Hash{},
				common.BigToHash(big.NewInt(42)),
			},
		},
	}
	if got := tokenIDFromLogs(contract, logs); got != 42 {
		t.Fatalf("expected token id 42, got %d", got)
	}
	if got := tokenIDFromLogs(contract, nil); got != 0 {
		t.Fatalf("expected token id 0 for empty logs, got %d", got)
	}
}
