package app

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	aggDomain "github.com/fd1az/token-distributor/business/aggregator/domain"
	chainDomain "github.com/fd1az/token-distributor/business/chain/domain"
	"github.com/fd1az/token-distributor/business/distribution/domain"
	"github.com/fd1az/token-distributor/business/distribution/infra/ledger"
	"github.com/fd1az/token-distributor/internal/apperror"
)

func quoteUnavailable(p string) error {
	return apperror.New(apperror.CodeQuoteUnavailable, apperror.WithContext(p+": no route"))
}

func TestDistribute_SingleSwapWithOverride(t *testing.T) {
	h := newHarness(nil)

	res, err := h.orch.Distribute(context.Background(), request("tx-a", "50", "1"))
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}

	if res.Status != domain.StatusCompleted || !res.Success() {
		t.Fatalf("status = %s, success = %v", res.Status, res.Success())
	}
	if len(h.chain.swaps) != 1 {
		t.Errorf("swaps = %d, want 1", len(h.chain.swaps))
	}
	if len(h.chain.transfers) != 1 || h.chain.transfers[0].Cmp(units(tgt, "50").Raw()) != 0 {
		t.Errorf("transfers = %v, want one of 50 TGT", h.chain.transfers)
	}
	if res.AmountSent != "50" {
		t.Errorf("AmountSent = %q, want 50", res.AmountSent)
	}
	if len(h.sleeps) != 1 {
		t.Errorf("settle waits = %d, want 1", len(h.sleeps))
	}

	rec := h.ledger.record("tx-a")
	if rec.Status != domain.StatusCompleted || rec.TxHash != res.TxHash || rec.CompletedAt == nil {
		t.Errorf("ledger record = %+v", rec)
	}
	if rec.ErrorMessage != "" {
		t.Errorf("completed record has error message %q", rec.ErrorMessage)
	}
}

func TestDistribute_BuyExactOnPreferred(t *testing.T) {
	h := newHarness(nil)

	res, err := h.orch.Distribute(context.Background(), request("tx-buy", "50", ""))
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("status = %s", res.Status)
	}
	if got := h.adapters[0].buyBuilds(); got != 1 {
		t.Errorf("buy builds = %d, want 1", got)
	}
	if len(res.Swaps) != 1 || res.Swaps[0].Phase != domain.PhaseBuyExact {
		t.Errorf("swaps = %+v", res.Swaps)
	}
}

func TestDistribute_LargeOrderIsChunked(t *testing.T) {
	h := newHarness(nil)

	res, err := h.orch.Distribute(context.Background(), request("tx-b", "1078", ""))
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("status = %s (%s)", res.Status, res.ErrorMessage)
	}

	if len(res.Swaps) < 3 {
		t.Fatalf("swaps = %d, want at least 3 chunks", len(res.Swaps))
	}
	sum := new(big.Int)
	for i, s := range res.Swaps {
		if s.Phase != domain.PhaseChunked {
			t.Errorf("swap %d ran in phase %s, want chunked", i, s.Phase)
		}
		if !s.Success {
			t.Errorf("swap %d failed: %v", i, s.Err)
		}
		sum.Add(sum, s.AmountOut.Raw())
	}

	target := units(tgt, "1078").Raw()
	if sum.Cmp(target) < 0 {
		t.Errorf("chunks delivered %s, want at least %s", sum, target)
	}
	if len(h.chain.transfers) != 1 || h.chain.transfers[0].Cmp(target) != 0 {
		t.Errorf("transfer = %v, want exactly %s", h.chain.transfers, target)
	}
	if res.AmountSent != "1078" {
		t.Errorf("AmountSent = %q, want 1078", res.AmountSent)
	}
	if got := h.adapters[0].buyBuilds(); got != 0 {
		t.Errorf("large order executed %d buys", got)
	}
}

func TestDistribute_ChunkingStopsOnceCovered(t *testing.T) {
	h := newHarness(func(h *harness) {
		for _, a := range h.adapters {
			a.deliverBps = 15_000
		}
	})

	res, err := h.orch.Distribute(context.Background(), request("tx-early", "1078", ""))
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}

	planned := domain.DefaultPolicy().ChunkCount(mustDecimal("1078"))
	if len(res.Swaps) >= planned {
		t.Errorf("swaps = %d, want fewer than the %d planned chunks", len(res.Swaps), planned)
	}
	if h.chain.transfers[0].Cmp(units(tgt, "1078").Raw()) != 0 {
		t.Errorf("transfer = %s, want capped at 1078", h.chain.transfers[0])
	}
}

func TestDistribute_AllQuotesUnavailable(t *testing.T) {
	h := newHarness(func(h *harness) {
		for _, a := range h.adapters {
			a.quoteErr = quoteUnavailable(string(a.provider))
		}
	})

	res, err := h.orch.Distribute(context.Background(), request("tx-c", "50", ""))
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperror.HasCode(err, apperror.CodeInsufficientPoolBalance) {
		t.Errorf("code = %s, want INSUFFICIENT_POOL_BALANCE", apperror.GetCode(err))
	}
	if res.Success() || res.Status != domain.StatusPending || res.ErrorMessage == "" {
		t.Errorf("result = %+v", res)
	}
	if n := h.chain.transferCount(); n != 0 {
		t.Errorf("transfers = %d, want none", n)
	}
	if len(h.chain.swaps) != 0 {
		t.Errorf("swaps broadcast = %d, want none", len(h.chain.swaps))
	}

	rec := h.ledger.record("tx-c")
	if rec.Status != domain.StatusPending || rec.ErrorMessage == "" || rec.TxHash != "" {
		t.Errorf("ledger record = %+v", rec)
	}
	if len(h.sleeps) != 0 {
		t.Errorf("settled without any swap")
	}
}

func TestDistribute_ExistingTxHashShortCircuits(t *testing.T) {
	for _, status := range []domain.Status{domain.StatusCompleted, domain.StatusPending} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(nil)
			h.ledger.records["tx-d"] = domain.TransactionRecord{
				TransactionID: "tx-d",
				Status:        status,
				TxHash:        "0xabc",
				AmountSent:    "50",
			}

			res, err := h.orch.Distribute(context.Background(), request("tx-d", "50", ""))
			if err != nil {
				t.Fatalf("Distribute() error = %v", err)
			}
			if !res.Success() || res.TxHash != "0xabc" || !res.Replayed {
				t.Errorf("result = %+v", res)
			}
			if n := h.adapterCalls(); n != 0 {
				t.Errorf("adapter calls = %d, want 0", n)
			}
			if h.chain.transferCount() != 0 || len(h.chain.swaps) != 0 {
				t.Errorf("chain activity on replay")
			}
		})
	}
}

func TestDistribute_IdempotentAfterCompletion(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()

	first, err := h.orch.Distribute(ctx, request("tx-i", "50", "1"))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	calls := h.adapterCalls()

	second, err := h.orch.Distribute(ctx, request("tx-i", "50", "1"))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.TxHash != first.TxHash || second.Status != domain.StatusCompleted {
		t.Errorf("second = %+v, first = %+v", second, first)
	}
	if h.adapterCalls() != calls {
		t.Errorf("adapter calls grew from %d to %d", calls, h.adapterCalls())
	}
	if h.chain.transferCount() != 1 {
		t.Errorf("transfers = %d, want 1", h.chain.transferCount())
	}
}

func TestDistribute_AmountNeverExceedsTarget(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		override   string
		deliverBps int64
	}{
		{"override overshoots", "50", "3", 10_000},
		{"favorable slippage", "50", "", 13_000},
		{"chunked overshoot", "777", "", 12_500},
		{"exact buy", "120", "", 10_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(func(h *harness) {
				for _, a := range h.adapters {
					a.deliverBps = tt.deliverBps
				}
			})

			res, err := h.orch.Distribute(context.Background(), request("tx-cap", tt.amount, tt.override))
			if err != nil {
				t.Fatalf("Distribute() error = %v", err)
			}
			target := units(tgt, tt.amount).Raw()
			if len(h.chain.transfers) != 1 {
				t.Fatalf("transfers = %d", len(h.chain.transfers))
			}
			if h.chain.transfers[0].Cmp(target) > 0 {
				t.Errorf("transferred %s > target %s", h.chain.transfers[0], target)
			}
			if res.Status != domain.StatusCompleted {
				t.Errorf("status = %s", res.Status)
			}
		})
	}
}

func TestDistribute_FallsBackToNextProvider(t *testing.T) {
	h := newHarness(func(h *harness) {
		h.adapters[0].quoteErr = quoteUnavailable("paraswap")
	})

	res, err := h.orch.Distribute(context.Background(), request("tx-f", "50", ""))
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("status = %s", res.Status)
	}

	if len(h.calls) == 0 || !strings.HasPrefix(h.calls[0], "paraswap:") {
		t.Fatalf("first call = %v, want preferred provider first", h.calls)
	}
	var winner *domain.SwapOutcome
	for i := range res.Swaps {
		if res.Swaps[i].Success {
			winner = &res.Swaps[i]
		}
	}
	if winner == nil || winner.Provider != aggDomain.KyberSwap {
		t.Fatalf("winning swap = %+v, want kyberswap", winner)
	}

	// Within the estimated sell, the preferred provider is tried before the next.
	var prefSell, nextSell = -1, -1
	for i, c := range h.calls {
		if c == "paraswap:quote:sell_exact_in" && prefSell < 0 {
			prefSell = i
		}
		if c == "kyberswap:build:sell_exact_in" && nextSell < 0 {
			nextSell = i
		}
	}
	if prefSell < 0 || nextSell < 0 || prefSell > nextSell {
		t.Errorf("calls out of fallback order: %v", h.calls)
	}
}

func TestDistribute_FallsBackOnBuildFailure(t *testing.T) {
	h := newHarness(func(h *harness) {
		h.adapters[0].buildErr = apperror.New(apperror.CodeBuildFailed, apperror.WithContext("rejected"))
		h.adapters[1].buildErr = apperror.New(apperror.CodeBuildFailed, apperror.WithContext("rejected"))
	})

	res, err := h.orch.Distribute(context.Background(), request("tx-fb", "50", ""))
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}
	last := res.Swaps[len(res.Swaps)-1]
	if !last.Success || last.Provider != aggDomain.OneInch {
		t.Errorf("last swap = %+v, want oneinch success", last)
	}
	for _, s := range res.Swaps[:len(res.Swaps)-1] {
		if s.Code() != apperror.CodeBuildFailed {
			t.Errorf("swap %s code = %s, want BUILD_FAILED", s.Provider, s.Code())
		}
	}
}

func TestDistribute_NoBuyAfterSellSucceeds(t *testing.T) {
	h := newHarness(func(h *harness) {
		// The override sale falls short, forcing a top-up.
		for _, a := range h.adapters {
			a.deliverBps = 8_000
		}
	})

	res, err := h.orch.Distribute(context.Background(), request("tx-nd", "50", "1"))
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}
	for _, a := range h.adapters {
		if n := a.buyBuilds(); n != 0 {
			t.Errorf("%s executed %d buys after a sell", a.provider, n)
		}
	}
	phases := []domain.Phase{}
	for _, s := range res.Swaps {
		phases = append(phases, s.Phase)
	}
	if len(phases) != 2 || phases[0] != domain.PhaseSellOverride || phases[1] != domain.PhaseTopUp {
		t.Errorf("phases = %v, want [sell_override top_up]", phases)
	}
}

func TestDistribute_TopUpShortLeavesPending(t *testing.T) {
	h := newHarness(func(h *harness) {
		for _, a := range h.adapters {
			a.deliverBps = 4_000
		}
	})

	res, err := h.orch.Distribute(context.Background(), request("tx-short", "50", "1"))
	if !apperror.HasCode(err, apperror.CodeInsufficientPoolBalance) {
		t.Fatalf("error = %v, want INSUFFICIENT_POOL_BALANCE", err)
	}
	if h.chain.transferCount() != 0 {
		t.Error("partial amount transferred")
	}
	topUps := 0
	for _, s := range res.Swaps {
		if s.Phase == domain.PhaseTopUp {
			topUps++
		}
	}
	if topUps != 1 {
		t.Errorf("top-ups = %d, want 1", topUps)
	}
	if rec := h.ledger.record("tx-short"); rec.Status != domain.StatusPending || !strings.Contains(rec.ErrorMessage, "INSUFFICIENT_POOL_BALANCE") {
		t.Errorf("ledger record = %+v", rec)
	}
}

func TestDistribute_InvalidRecipientIsTerminal(t *testing.T) {
	h := newHarness(nil)
	req := request("tx-bad", "50", "")
	req.Recipient = "0x1234"

	res, err := h.orch.Distribute(context.Background(), req)
	if !apperror.IsTerminal(err) {
		t.Fatalf("error = %v, want terminal", err)
	}
	if res.Status != domain.StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if h.adapterCalls() != 0 || h.chain.transferCount() != 0 {
		t.Error("work done for an invalid recipient")
	}
	if rec := h.ledger.record("tx-bad"); rec.Status != domain.StatusFailed {
		t.Errorf("ledger status = %s", rec.Status)
	}
}

func TestDistribute_OverrideWithTooManyDecimals(t *testing.T) {
	h := newHarness(nil)
	req := request("tx-dec", "50", "0.0000001")

	_, err := h.orch.Distribute(context.Background(), req)
	if !apperror.HasCode(err, apperror.CodeInvalidAmount) {
		t.Fatalf("error = %v, want INVALID_AMOUNT", err)
	}
	if h.adapterCalls() != 0 {
		t.Error("adapters called for an invalid amount")
	}
}

func TestDistribute_LedgerUnavailableAbortsBeforeSwaps(t *testing.T) {
	h := newHarness(nil)
	h.ledger.getErr = errors.New("connection refused")

	res, err := h.orch.Distribute(context.Background(), request("tx-l", "50", "1"))
	if !apperror.HasCode(err, apperror.CodeLedgerUnavailable) {
		t.Fatalf("error = %v, want LEDGER_UNAVAILABLE", err)
	}
	if res.Status != domain.StatusPending {
		t.Errorf("status = %s", res.Status)
	}
	if h.adapterCalls() != 0 || len(h.chain.swaps) != 0 {
		t.Error("swaps attempted without an idempotency answer")
	}
	if len(h.ledger.updates) != 0 {
		t.Errorf("ledger written without a read: %+v", h.ledger.updates)
	}
}

// downStore fails every read and write while down is set.
type downStore struct {
	*memLedger
	down bool
}

func (s *downStore) Get(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	if s.down {
		return nil, apperror.New(apperror.CodeLedgerUnavailable, apperror.WithCause(errors.New("connection refused")))
	}
	return s.memLedger.Get(ctx, id)
}

func (s *downStore) Update(ctx context.Context, id string, u domain.RecordUpdate) error {
	if s.down {
		return apperror.New(apperror.CodeLedgerUnavailable, apperror.WithCause(errors.New("connection refused")))
	}
	return s.memLedger.Update(ctx, id, u)
}

func TestDistribute_LedgerOutageKeepsStoredHash(t *testing.T) {
	ctx := context.Background()
	hash := common.HexToHash("0xfeed").Hex()

	mem := newMemLedger()
	mem.records["tx-o"] = domain.TransactionRecord{
		TransactionID: "tx-o",
		Status:        domain.StatusPending,
		TxHash:        hash,
		TargetAmount:  "50",
		Recipient:     recipient,
	}
	store := &downStore{memLedger: mem, down: true}
	resilient := ledger.NewResilientLedger(store, &mockLogger{})

	h := newHarness(nil)
	orch, err := NewOrchestrator(resilient, h.chain, h.allowances, fakeProviders{h.adapters[0]}, testPair, testConfig(), &mockLogger{},
		WithSleep(func(context.Context, time.Duration) error { return nil }))
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		res, err := orch.Distribute(ctx, request("tx-o", "50", "1"))
		if !apperror.HasCode(err, apperror.CodeLedgerUnavailable) {
			t.Fatalf("run %d: error = %v, want LEDGER_UNAVAILABLE", i, err)
		}
		if res.Status != domain.StatusPending || res.TxHash != "" {
			t.Errorf("run %d: result = %+v", i, res)
		}
	}
	if len(h.chain.swaps) != 0 || h.chain.transferCount() != 0 {
		t.Fatalf("paid during outage: swaps %d, transfers %d", len(h.chain.swaps), h.chain.transferCount())
	}
	if n := resilient.Pending(); n != 0 {
		t.Errorf("buffered writes = %d, want 0", n)
	}

	store.down = false
	if err := resilient.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got := mem.record("tx-o").TxHash; got != hash {
		t.Fatalf("stored hash = %q, want %q", got, hash)
	}

	// Back up, the stored hash is reconciled instead of paid again.
	res, err := orch.Distribute(ctx, request("tx-o", "50", "1"))
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}
	if !res.Replayed || res.TxHash != hash || h.chain.transferCount() != 0 {
		t.Errorf("result = %+v, transfers = %d", res, h.chain.transferCount())
	}
}

func TestDistribute_TransferFailures(t *testing.T) {
	t.Run("reverted", func(t *testing.T) {
		h := newHarness(nil)
		h.chain.transferRevert = true

		res, err := h.orch.Distribute(context.Background(), request("tx-rv", "50", "1"))
		if !apperror.HasCode(err, apperror.CodeTransferFailed) {
			t.Fatalf("error = %v, want TRANSFER_FAILED", err)
		}
		rec := h.ledger.record("tx-rv")
		if rec.Status != domain.StatusPending || rec.TxHash != "" || res.TxHash != "" {
			t.Errorf("record = %+v, result = %+v", rec, res)
		}
	})

	t.Run("unconfirmed keeps hash", func(t *testing.T) {
		h := newHarness(nil)
		h.chain.transferHash = common.HexToHash("0xfeed")
		h.chain.transferErr = apperror.New(apperror.CodeReceiptTimeout)

		res, err := h.orch.Distribute(context.Background(), request("tx-uc", "50", "1"))
		if !apperror.HasCode(err, apperror.CodeTransferUnconfirmed) {
			t.Fatalf("error = %v, want TRANSFER_UNCONFIRMED", err)
		}
		rec := h.ledger.record("tx-uc")
		if rec.Status != domain.StatusPending || rec.TxHash != h.chain.transferHash.Hex() || rec.ErrorMessage == "" {
			t.Errorf("record = %+v", rec)
		}
		if res.Success() {
			t.Error("unconfirmed transfer reported as success")
		}

		// The receipt shows up later; a retry promotes the record without paying again.
		h.chain.transferErr = nil
		h.chain.receipts[h.chain.transferHash] = &chainDomain.Receipt{TxHash: h.chain.transferHash, Status: 1}
		swaps := len(h.chain.swaps)

		res, err = h.orch.Distribute(context.Background(), request("tx-uc", "50", "1"))
		if err != nil {
			t.Fatalf("retry error = %v", err)
		}
		if res.Status != domain.StatusCompleted || h.ledger.record("tx-uc").Status != domain.StatusCompleted {
			t.Errorf("retry result = %+v", res)
		}
		if len(h.chain.swaps) != swaps || h.chain.transferCount() != 0 {
			t.Error("retry repeated on-chain work")
		}
	})

	t.Run("reconciled revert clears hash", func(t *testing.T) {
		h := newHarness(nil)
		hash := common.HexToHash("0xbad")
		h.ledger.records["tx-rr"] = domain.TransactionRecord{TransactionID: "tx-rr", Status: domain.StatusPending, TxHash: hash.Hex()}
		h.chain.receipts[hash] = &chainDomain.Receipt{TxHash: hash, Status: 0}

		_, err := h.orch.Distribute(context.Background(), request("tx-rr", "50", "1"))
		if !apperror.HasCode(err, apperror.CodeTransferFailed) {
			t.Fatalf("error = %v, want TRANSFER_FAILED", err)
		}
		if rec := h.ledger.record("tx-rr"); rec.TxHash != "" || rec.Status != domain.StatusPending {
			t.Errorf("record = %+v", rec)
		}
	})
}

func TestDistribute_SwapRevertFallsThroughToChunks(t *testing.T) {
	h := newHarness(nil)
	h.chain.revertSwaps = true

	res, err := h.orch.Distribute(context.Background(), request("tx-rev", "50", ""))
	if !apperror.HasCode(err, apperror.CodeInsufficientPoolBalance) {
		t.Fatalf("error = %v", err)
	}
	seen := map[domain.Phase]bool{}
	for _, s := range res.Swaps {
		seen[s.Phase] = true
		if s.Success {
			t.Errorf("reverted swap counted as success")
		}
	}
	for _, p := range []domain.Phase{domain.PhaseBuyExact, domain.PhaseSellEstimated, domain.PhaseChunked, domain.PhaseTopUp} {
		if !seen[p] {
			t.Errorf("phase %s never attempted", p)
		}
	}
}

func TestDistribute_ConcurrentSameTransactionPaysOnce(t *testing.T) {
	h := newHarness(nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.orch.Distribute(context.Background(), request("tx-par", "50", "1"))
		}()
	}
	wg.Wait()

	if n := h.chain.transferCount(); n != 1 {
		t.Errorf("transfers = %d, want 1", n)
	}
}
