package app

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/token-distributor/business/chain/domain"
	"github.com/fd1az/token-distributor/internal/apperror"
)

var (
	usdc   = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	router = common.HexToAddress("0x6A000F20005980200259B80c5102003040001068")
)

func TestChainService_Reads(t *testing.T) {
	node := newFakeNode()
	node.balance = big.NewInt(1_500_000)
	node.decimals = 18
	svc := newTestService(node, &fakeGas{estimate: 50_000}, Config{})
	ctx := context.Background()

	bal, err := svc.BalanceOf(ctx, usdc, svc.Pool().Address())
	if err != nil || bal.Int64() != 1_500_000 {
		t.Fatalf("BalanceOf = %v, %v", bal, err)
	}
	dec, err := svc.Decimals(ctx, usdc)
	if err != nil || dec != 18 {
		t.Fatalf("Decimals = %d, %v", dec, err)
	}

	node.callErr = errors.New("execution reverted")
	if _, err := svc.BalanceOf(ctx, usdc, svc.Pool().Address()); !apperror.HasCode(err, apperror.CodeContractCallFailed) {
		t.Fatalf("expected CONTRACT_CALL_FAILED, got %v", err)
	}
}

func TestChainService_SendUsesGasFallback(t *testing.T) {
	node := newFakeNode()
	svc := newTestService(node, &fakeGas{estimateErr: errors.New("execution reverted")}, Config{FallbackGasLimit: 600_000})
	ctx := context.Background()

	if _, err := svc.Send(ctx, domain.TxRequest{To: router, Data: []byte{1}, GasHint: 321_000}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := svc.Send(ctx, domain.TxRequest{To: router, Data: []byte{1}}); err != nil {
		t.Fatalf("send: %v", err)
	}

	if node.sent[0].Gas() != 321_000 {
		t.Fatalf("expected provider gas hint, got %d", node.sent[0].Gas())
	}
	if node.sent[1].Gas() != 600_000 {
		t.Fatalf("expected fallback gas, got %d", node.sent[1].Gas())
	}
	if node.sent[0].GasFeeCap().Int64() != 100 || node.sent[0].GasTipCap().Int64() != 1 {
		t.Fatalf("unexpected fees on %s", node.sent[0].Hash().Hex())
	}
}

func TestChainService_TransferWaitsForReceipt(t *testing.T) {
	node := newFakeNode()
	svc := newTestService(node, &fakeGas{estimate: 60_000}, Config{PollInterval: time.Millisecond, ReceiptTimeout: time.Second})

	recipient := common.HexToAddress("0xbeef")
	hash, receipt, err := svc.Transfer(context.Background(), usdc, recipient, big.NewInt(50))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !receipt.Succeeded() || receipt.TxHash != hash {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	method, _ := erc20ABI.MethodById(node.sent[0].Data())
	args, _ := method.Inputs.Unpack(node.sent[0].Data()[4:])
	if method.Name != "transfer" || args[0].(common.Address) != recipient || args[1].(*big.Int).Int64() != 50 {
		t.Fatalf("unexpected calldata: %s %v", method.Name, args)
	}
}

func TestChainService_ReceiptTimeoutKeepsHash(t *testing.T) {
	node := newFakeNode()
	node.mine = false
	svc := newTestService(node, &fakeGas{estimate: 60_000}, Config{PollInterval: 5 * time.Millisecond, ReceiptTimeout: 30 * time.Millisecond})

	hash, receipt, err := svc.SendAndWait(context.Background(), domain.TxRequest{To: router, Data: []byte{1}})
	if !apperror.HasCode(err, apperror.CodeReceiptTimeout) {
		t.Fatalf("expected RECEIPT_TIMEOUT, got %v", err)
	}
	if receipt != nil {
		t.Fatal("expected no receipt")
	}
	if hash != node.sent[0].Hash() {
		t.Fatalf("expected broadcast hash to be returned, got %s", hash.Hex())
	}
}

func TestChainService_ReceiptTimeoutResyncsNonce(t *testing.T) {
	node := newFakeNode()
	node.mine = false
	node.pending = 5
	svc := newTestService(node, &fakeGas{estimate: 60_000}, Config{PollInterval: 5 * time.Millisecond, ReceiptTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	// The node never mines or keeps these, so its pending count stays at 5.
	for i := 0; i < 2; i++ {
		if _, _, err := svc.Transfer(ctx, usdc, common.HexToAddress("0xbeef"), big.NewInt(1)); !apperror.HasCode(err, apperror.CodeReceiptTimeout) {
			t.Fatalf("expected RECEIPT_TIMEOUT, got %v", err)
		}
	}
	if got := node.sentNonces(); len(got) != 2 || got[0] != 5 || got[1] != 5 {
		t.Fatalf("expected dropped nonce 5 to be reused, got %v", got)
	}
}

func TestAllowanceManager(t *testing.T) {
	ctx := context.Background()
	needed := big.NewInt(1_000_000)

	t.Run("sufficient allowance is a no-op", func(t *testing.T) {
		node := newFakeNode()
		node.allowance = big.NewInt(2_000_000)
		svc := newTestService(node, &fakeGas{estimate: 50_000}, Config{PollInterval: time.Millisecond})

		approved, err := NewAllowanceManager(svc, &mockLogger{}).EnsureAllowance(ctx, usdc, router, needed)
		if err != nil || approved {
			t.Fatalf("expected no-op, got approved=%v err=%v", approved, err)
		}
		if len(node.sent) != 0 {
			t.Fatalf("expected no transactions, got %d", len(node.sent))
		}
	})

	t.Run("insufficient allowance approves max", func(t *testing.T) {
		node := newFakeNode()
		svc := newTestService(node, &fakeGas{estimate: 50_000}, Config{PollInterval: time.Millisecond})

		approved, err := NewAllowanceManager(svc, &mockLogger{}).EnsureAllowance(ctx, usdc, router, needed)
		if err != nil || !approved {
			t.Fatalf("expected approval, got approved=%v err=%v", approved, err)
		}
		if node.allowance.Cmp(MaxUint256) != 0 {
			t.Fatalf("expected max approval, got %s", node.allowance)
		}
		if *node.sent[0].To() != usdc {
			t.Fatalf("approve must target the token, got %s", node.sent[0].To().Hex())
		}
	})

	t.Run("reverted approval fails", func(t *testing.T) {
		node := newFakeNode()
		node.revert = true
		svc := newTestService(node, &fakeGas{estimate: 50_000}, Config{PollInterval: time.Millisecond})

		_, err := NewAllowanceManager(svc, &mockLogger{}).EnsureAllowance(ctx, usdc, router, needed)
		if !apperror.HasCode(err, apperror.CodeAllowanceFailed) {
			t.Fatalf("expected ALLOWANCE_FAILED, got %v", err)
		}
	})

	t.Run("unmined approval fails", func(t *testing.T) {
		node := newFakeNode()
		node.mine = false
		svc := newTestService(node, &fakeGas{estimate: 50_000}, Config{PollInterval: time.Millisecond, ReceiptTimeout: 10 * time.Millisecond})

		_, err := NewAllowanceManager(svc, &mockLogger{}).EnsureAllowance(ctx, usdc, router, needed)
		if !apperror.HasCode(err, apperror.CodeAllowanceFailed) {
			t.Fatalf("expected ALLOWANCE_FAILED, got %v", err)
		}
	})
}
