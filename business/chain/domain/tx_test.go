package domain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func transferLog(token, from, to common.Address, amount int64) *types.Log {
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
	}
}

func TestReceipt_TransferredTo(t *testing.T) {
	token := common.HexToAddress("0x01")
	other := common.HexToAddress("0x02")
	pool := common.HexToAddress("0xaa")
	router := common.HexToAddress("0xbb")

	r := &Receipt{
		Status: types.ReceiptStatusSuccessful,
		Logs: []*types.Log{
			transferLog(token, router, pool, 40),
			transferLog(token, router, pool, 2),
			transferLog(token, pool, router, 1000), // outbound
			transferLog(other, router, pool, 7),    // different token
			{Address: token, Topics: []common.Hash{TransferTopic}},
		},
	}

	if got := r.TransferredTo(token, pool); got.Int64() != 42 {
		t.Fatalf("expected 42, got %s", got)
	}
	if !r.Succeeded() {
		t.Fatal("expected success")
	}
}

func TestNewAccount(t *testing.T) {
	// Well-known test key (hardhat account #0).
	acc, err := NewAccount("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", 8453)
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	want := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	if acc.Address() != want {
		t.Fatalf("expected %s, got %s", want.Hex(), acc.Address().Hex())
	}
	if acc.String() != want.Hex() {
		t.Fatalf("String must be the address only, got %s", acc.String())
	}

	if _, err := NewAccount("not-a-key", 1); err == nil {
		t.Fatal("expected parse error")
	}
}
