package app

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/fd1az/token-distributor/business/chain/domain"
	"github.com/fd1az/token-distributor/internal/logger"
)

// hardhat account #0
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, args ...any)              {}
func (m *mockLogger) Info(ctx context.Context, msg string, args ...any)               {}
func (m *mockLogger) Warn(ctx context.Context, msg string, args ...any)               {}
func (m *mockLogger) Error(ctx context.Context, msg string, args ...any)              {}
func (m *mockLogger) Debugc(ctx context.Context, caller int, msg string, args ...any) {}
func (m *mockLogger) Infoc(ctx context.Context, caller int, msg string, args ...any)  {}
func (m *mockLogger) Warnc(ctx context.Context, caller int, msg string, args ...any)  {}
func (m *mockLogger) Errorc(ctx context.Context, caller int, msg string, args ...any) {}

var _ logger.LoggerInterface = (*mockLogger)(nil)

// fakeNode is an in-memory chain: ERC-20 reads are answered from maps and
// sent transactions are mined immediately unless mine is false.
type fakeNode struct {
	mu sync.Mutex

	pending   uint64
	sendErrs  []error
	sent      []*types.Transaction
	receipts  map[common.Hash]*domain.Receipt
	allowance *big.Int
	balance   *big.Int
	decimals  uint8
	mine      bool
	revert    bool
	callErr   error
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		receipts:  map[common.Hash]*domain.Receipt{},
		allowance: new(big.Int),
		balance:   new(big.Int),
		decimals:  6,
		mine:      true,
	}
}

func (f *fakeNode) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeNode) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, tx)

	if !f.mine {
		return nil
	}
	status := types.ReceiptStatusSuccessful
	if f.revert {
		status = types.ReceiptStatusFailed
	} else if method, err := erc20ABI.MethodById(tx.Data()); err == nil && method.Name == "approve" {
		args, _ := method.Inputs.Unpack(tx.Data()[4:])
		f.allowance = args[1].(*big.Int)
	}
	f.receipts[tx.Hash()] = &domain.Receipt{TxHash: tx.Hash(), Status: status, BlockNumber: 1}
	return nil
}

func (f *fakeNode) Receipt(_ context.Context, hash common.Hash) (*domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receipts[hash], nil
}

func (f *fakeNode) Call(_ context.Context, _ common.Address, data []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.callErr != nil {
		return nil, f.callErr
	}
	method, err := erc20ABI.MethodById(data)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "allowance":
		return method.Outputs.Pack(f.allowance)
	case "balanceOf":
		return method.Outputs.Pack(f.balance)
	case "decimals":
		return method.Outputs.Pack(f.decimals)
	}
	return nil, errors.New("unsupported call " + method.Name)
}

func (f *fakeNode) sentNonces() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	nonces := make([]uint64, len(f.sent))
	for i, tx := range f.sent {
		nonces[i] = tx.Nonce()
	}
	return nonces
}

type fakeGas struct {
	estimateErr error
	estimate    uint64
}

func (g *fakeGas) Fees(context.Context) (*domain.Fees, error) {
	return &domain.Fees{TipCap: big.NewInt(1), FeeCap: big.NewInt(100), BaseFee: big.NewInt(49)}, nil
}

func (g *fakeGas) EstimateGas(context.Context, common.Address, domain.TxRequest) (uint64, error) {
	if g.estimateErr != nil {
		return 0, g.estimateErr
	}
	return g.estimate, nil
}

func newTestService(node *fakeNode, gas *fakeGas, cfg Config) *ChainService {
	account, err := domain.NewAccount(testKey, 8453)
	if err != nil {
		panic(err)
	}
	pool := NewPoolAccount(account, node, &mockLogger{})
	svc, err := NewChainService(pool, node, gas, cfg, &mockLogger{})
	if err != nil {
		panic(err)
	}
	return svc
}
