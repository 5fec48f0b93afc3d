package app

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	aggApp "github.com/fd1az/token-distributor/business/aggregator/app"
	aggDomain "github.com/fd1az/token-distributor/business/aggregator/domain"
	chainDomain "github.com/fd1az/token-distributor/business/chain/domain"
	"github.com/fd1az/token-distributor/business/distribution/domain"
	"github.com/fd1az/token-distributor/internal/apperror"
	"github.com/fd1az/token-distributor/internal/asset"
	"github.com/fd1az/token-distributor/internal/logger"
)

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

var (
	usdc = asset.MustNewToken(asset.ChainIDBase, common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), "USDC", 6)
	tgt  = asset.MustNewToken(asset.ChainIDBase, common.HexToAddress("0x00000000000000000000000000000000000000b2"), "TGT", 18)

	testPair  = Pair{Source: usdc, Target: tgt}
	poolAddr  = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	recipient = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

	swapSelector = []byte{0xde, 0xad, 0xbe, 0xef}
)

func units(token *asset.Token, s string) asset.Amount {
	a, err := asset.ParseString(token, s)
	if err != nil {
		panic(err)
	}
	return a
}

// fakeAdapter prices TGT at a fixed number of tokens per whole USDC. Built
// swaps encode the amount the fake chain will deliver.
type fakeAdapter struct {
	mu sync.Mutex

	provider aggDomain.Provider
	router   common.Address
	buy      bool
	// perUSDC is the raw TGT quoted for one whole USDC.
	perUSDC *big.Int
	// deliverBps scales what the swap actually delivers; 10000 is the quote.
	deliverBps int64

	quoteErr error
	buildErr error
	calls    *[]string

	quotes     []aggDomain.QuoteRequest
	builds     []*aggDomain.RouteQuote
	buildCount int
}

func newFakeAdapter(p aggDomain.Provider, perUSDC string, calls *[]string) *fakeAdapter {
	return &fakeAdapter{
		provider:   p,
		router:     common.BytesToAddress([]byte("router-" + string(p))),
		perUSDC:    units(tgt, perUSDC).Raw(),
		deliverBps: 10_000,
		calls:      calls,
	}
}

func (f *fakeAdapter) Provider() aggDomain.Provider { return f.provider }

func (f *fakeAdapter) Supports(mode aggDomain.Mode) bool {
	return mode == aggDomain.SellExactIn || f.buy
}

func (f *fakeAdapter) Quote(_ context.Context, req aggDomain.QuoteRequest) (*aggDomain.RouteQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.quotes = append(f.quotes, req)
	f.log("quote", req.Mode)
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}

	one := big.NewInt(1_000_000)
	var in, out *big.Int
	switch req.Mode {
	case aggDomain.SellExactIn:
		in = req.Amount
		out = new(big.Int).Div(new(big.Int).Mul(req.Amount, f.perUSDC), one)
	case aggDomain.BuyExactOut:
		out = req.Amount
		num := new(big.Int).Mul(req.Amount, one)
		in, _ = new(big.Int).QuoRem(num, f.perUSDC, new(big.Int))
		in.Add(in, big.NewInt(1))
	}
	return aggDomain.NewRouteQuote(f.provider, req, in, out, f.router, 150_000, []byte(`{"opaque":true}`)), nil
}

func (f *fakeAdapter) Build(_ context.Context, route *aggDomain.RouteQuote, sender, recipient common.Address, _ int) (*aggDomain.BuiltTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buildCount++
	f.builds = append(f.builds, route)
	f.log("build", route.Mode)
	if f.buildErr != nil {
		return nil, f.buildErr
	}

	deliver := new(big.Int).Mul(route.AmountOut, big.NewInt(f.deliverBps))
	deliver.Div(deliver, big.NewInt(10_000))
	data := append(append([]byte{}, swapSelector...), common.LeftPadBytes(deliver.Bytes(), 32)...)
	data = append(data, recipient.Bytes()...)
	return &aggDomain.BuiltTx{To: f.router, Data: data, Value: new(big.Int), Gas: 250_000}, nil
}

func (f *fakeAdapter) log(op string, mode aggDomain.Mode) {
	if f.calls != nil {
		*f.calls = append(*f.calls, fmt.Sprintf("%s:%s:%s", f.provider, op, mode))
	}
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.quotes) + f.buildCount
}

func (f *fakeAdapter) buyBuilds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.builds {
		if r.Mode == aggDomain.BuyExactOut {
			n++
		}
	}
	return n
}

var _ aggApp.Adapter = (*fakeAdapter)(nil)

type fakeProviders []aggApp.Adapter

func (p fakeProviders) Preferred() aggApp.Adapter { return p[0] }
func (p fakeProviders) Ordered() []aggApp.Adapter { return p }

// fakeChain mines everything instantly. Swaps decode their delivery from
// the fake calldata and emit a TGT Transfer log to the encoded recipient.
type fakeChain struct {
	mu sync.Mutex

	sourceBalance *big.Int
	targetBalance *big.Int
	nonce         uint64

	revertSwaps    bool
	transferErr    error
	transferHash   common.Hash
	transferRevert bool
	receipts       map[common.Hash]*chainDomain.Receipt

	swaps     []chainDomain.TxRequest
	transfers []*big.Int
	nonces    []uint64
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		sourceBalance: units(usdc, "1000000").Raw(),
		targetBalance: new(big.Int),
		receipts:      map[common.Hash]*chainDomain.Receipt{},
	}
}

func (c *fakeChain) PoolAddress() common.Address { return poolAddr }

func (c *fakeChain) BalanceOf(_ context.Context, token, _ common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token == usdc.Address() {
		return new(big.Int).Set(c.sourceBalance), nil
	}
	return new(big.Int).Set(c.targetBalance), nil
}

func (c *fakeChain) nextHash() common.Hash {
	c.nonces = append(c.nonces, c.nonce)
	c.nonce++
	return common.BigToHash(new(big.Int).SetUint64(0xf000 + c.nonce))
}

func (c *fakeChain) SendAndWait(_ context.Context, req chainDomain.TxRequest) (common.Hash, *chainDomain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.swaps = append(c.swaps, req)
	hash := c.nextHash()
	if c.revertSwaps {
		return hash, &chainDomain.Receipt{TxHash: hash, Status: types.ReceiptStatusFailed}, nil
	}

	delivered := new(big.Int).SetBytes(req.Data[4:36])
	to := common.BytesToAddress(req.Data[36:56])
	c.targetBalance.Add(c.targetBalance, delivered)

	log := &types.Log{
		Address: tgt.Address(),
		Topics: []common.Hash{
			chainDomain.TransferTopic,
			common.BytesToHash(req.To.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(delivered.Bytes(), 32),
	}
	return hash, &chainDomain.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{log}}, nil
}

func (c *fakeChain) Transfer(_ context.Context, token, _ common.Address, amount *big.Int) (common.Hash, *chainDomain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token != tgt.Address() {
		return common.Hash{}, nil, fmt.Errorf("unexpected token %s", token.Hex())
	}
	if c.transferErr != nil {
		return c.transferHash, nil, c.transferErr
	}
	hash := c.nextHash()
	c.transfers = append(c.transfers, new(big.Int).Set(amount))
	status := types.ReceiptStatusSuccessful
	if c.transferRevert {
		status = types.ReceiptStatusFailed
	}
	return hash, &chainDomain.Receipt{TxHash: hash, Status: status}, nil
}

func (c *fakeChain) Receipt(_ context.Context, hash common.Hash) (*chainDomain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receipts[hash], nil
}

func (c *fakeChain) transferCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transfers)
}

type fakeAllowances struct {
	err   error
	calls int
}

func (f *fakeAllowances) EnsureAllowance(context.Context, common.Address, common.Address, *big.Int) (bool, error) {
	f.calls++
	return false, f.err
}

// memLedger is an in-memory ledger.
type memLedger struct {
	mu      sync.Mutex
	records map[string]domain.TransactionRecord
	getErr  error
	updates []domain.RecordUpdate
}

func newMemLedger() *memLedger {
	return &memLedger{records: map[string]domain.TransactionRecord{}}
}

func (l *memLedger) Get(_ context.Context, id string) (*domain.TransactionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.getErr != nil {
		return nil, l.getErr
	}
	rec, ok := l.records[id]
	if !ok {
		return nil, apperror.New(apperror.CodeRecordNotFound, apperror.WithContext(id))
	}
	return &rec, nil
}

func (l *memLedger) Update(_ context.Context, id string, u domain.RecordUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, u)
	rec, ok := l.records[id]
	if !ok {
		rec = domain.TransactionRecord{TransactionID: id}
	}
	l.records[id] = rec.Apply(u)
	return nil
}

func (l *memLedger) record(id string) domain.TransactionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records[id]
}

type harness struct {
	ledger     *memLedger
	chain      *fakeChain
	allowances *fakeAllowances
	adapters   []*fakeAdapter
	calls      []string
	sleeps     []time.Duration
	orch       *Orchestrator
}

func testConfig() Config {
	return Config{
		Policy:      domain.DefaultPolicy(),
		SettleDelay: 3 * time.Second,
		SlippageBps: 50,
		ProbeAmount: units(usdc, "1"),
	}
}

// newHarness wires an orchestrator over fake adapters that all quote 50 TGT
// per USDC. configure runs before the orchestrator is built.
func newHarness(configure func(h *harness)) *harness {
	h := &harness{
		ledger:     newMemLedger(),
		chain:      newFakeChain(),
		allowances: &fakeAllowances{},
	}
	for _, p := range []aggDomain.Provider{aggDomain.Paraswap, aggDomain.KyberSwap, aggDomain.OneInch, aggDomain.Odos} {
		h.adapters = append(h.adapters, newFakeAdapter(p, "50", &h.calls))
	}
	h.adapters[0].buy = true
	if configure != nil {
		configure(h)
	}

	providers := make(fakeProviders, len(h.adapters))
	for i, a := range h.adapters {
		providers[i] = a
	}

	orch, err := NewOrchestrator(h.ledger, h.chain, h.allowances, providers, testPair, testConfig(), &mockLogger{},
		WithSleep(func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		}))
	if err != nil {
		panic(err)
	}
	h.orch = orch
	return h
}

func (h *harness) adapterCalls() int {
	n := 0
	for _, a := range h.adapters {
		n += a.callCount()
	}
	return n
}

func request(id, amount, source string) domain.DistributionRequest {
	req, err := domain.NewDistributionRequest(id, recipient, amount, source)
	if err != nil {
		panic(err)
	}
	return req
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
