package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	aggApp "github.com/fd1az/token-distributor/business/aggregator/app"
	aggDomain "github.com/fd1az/token-distributor/business/aggregator/domain"
	chainDomain "github.com/fd1az/token-distributor/business/chain/domain"
	"github.com/fd1az/token-distributor/business/distribution/domain"
	"github.com/fd1az/token-distributor/internal/apperror"
	"github.com/fd1az/token-distributor/internal/asset"
	"github.com/fd1az/token-distributor/internal/logger"
)

const tracerName = "github.com/fd1az/token-distributor/business/distribution/app"

// Pair is the stablecoin sold and the token distributed.
type Pair struct {
	Source *asset.Token
	Target *asset.Token
}

// Executor runs one swap against one provider: quote, allowance, build, send
// and wait. It never returns an error; failures are reported in the outcome.
type Executor struct {
	chain       Chain
	allowances  Allowances
	pair        Pair
	slippageBps int
	logger      logger.LoggerInterface
	tracer      trace.Tracer
}

func NewExecutor(chain Chain, allowances Allowances, pair Pair, slippageBps int, log logger.LoggerInterface) *Executor {
	return &Executor{
		chain:       chain,
		allowances:  allowances,
		pair:        pair,
		slippageBps: slippageBps,
		logger:      log,
		tracer:      otel.Tracer(tracerName),
	}
}

// ExecuteSell sells exactly sourceAmount of the stablecoin, sending the
// output to recipient.
func (e *Executor) ExecuteSell(ctx context.Context, adapter aggApp.Adapter, sourceAmount asset.Amount, recipient common.Address) domain.SwapOutcome {
	return e.execute(ctx, adapter, aggDomain.SellExactIn, sourceAmount, recipient)
}

// ExecuteBuy buys exactly targetAmount. The stablecoin spent is read from the
// provider's route.
func (e *Executor) ExecuteBuy(ctx context.Context, adapter aggApp.Adapter, targetAmount asset.Amount, recipient common.Address) domain.SwapOutcome {
	return e.execute(ctx, adapter, aggDomain.BuyExactOut, targetAmount, recipient)
}

func (e *Executor) execute(ctx context.Context, adapter aggApp.Adapter, mode aggDomain.Mode, amount asset.Amount, recipient common.Address) domain.SwapOutcome {
	provider := adapter.Provider()
	ctx, span := e.tracer.Start(ctx, "distribution.swap",
		trace.WithAttributes(
			attribute.String("provider", string(provider)),
			attribute.String("mode", string(mode)),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	out := domain.SwapOutcome{
		Provider:  provider,
		Mode:      mode,
		AmountIn:  asset.Zero(e.pair.Source),
		AmountOut: asset.Zero(e.pair.Target),
	}
	fail := func(err error) domain.SwapOutcome {
		out.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperror.GetCode(err)))
		e.logger.Warn(ctx, "swap attempt failed",
			"provider", provider,
			"mode", mode,
			"code", apperror.GetCode(err),
			"tx_hash", hashOrEmpty(out.TxHash),
			"error", err)
		return out
	}

	if !adapter.Supports(mode) {
		return fail(apperror.New(apperror.CodeUnsupportedMode, apperror.WithContext(string(provider)+" "+string(mode))))
	}
	if mode == aggDomain.SellExactIn {
		out.AmountIn = amount
	}

	pool := e.chain.PoolAddress()
	route, err := adapter.Quote(ctx, aggDomain.QuoteRequest{
		Source:      e.pair.Source,
		Target:      e.pair.Target,
		Amount:      amount.Raw(),
		Mode:        mode,
		Taker:       pool,
		SlippageBps: e.slippageBps,
	})
	if err != nil {
		return fail(apperror.Wrap(err, apperror.CodeQuoteUnavailable, string(provider)))
	}

	// A buy spends at most the quoted input plus slippage.
	spend := amount
	if mode == aggDomain.BuyExactOut {
		if route.AmountIn == nil || route.AmountIn.Sign() <= 0 {
			return fail(apperror.New(apperror.CodeMalformedResponse, apperror.WithContext(string(provider)+": buy route without amountIn")))
		}
		out.AmountIn = asset.NewAmount(e.pair.Source, route.AmountIn)
		spend = out.AmountIn.AddBps(e.slippageBps)
	}

	balance, err := e.chain.BalanceOf(ctx, e.pair.Source.Address(), pool)
	if err != nil {
		return fail(err)
	}
	if balance.Cmp(spend.Raw()) < 0 {
		return fail(apperror.New(apperror.CodeInsufficientPoolBalance,
			apperror.WithContext("pool holds "+asset.NewAmount(e.pair.Source, balance).String()+", swap needs "+spend.String())))
	}

	if _, err := e.allowances.EnsureAllowance(ctx, e.pair.Source.Address(), route.Spender, spend.Raw()); err != nil {
		return fail(err)
	}

	built, err := adapter.Build(ctx, route, pool, recipient, e.slippageBps)
	if err != nil {
		return fail(apperror.Wrap(err, apperror.CodeBuildFailed, string(provider)))
	}

	hash, receipt, err := e.chain.SendAndWait(ctx, chainDomain.TxRequest{
		To:      built.To,
		Data:    built.Data,
		Value:   built.Value,
		GasHint: built.Gas,
	})
	out.TxHash = hash
	if err != nil {
		return fail(err)
	}
	if !receipt.Succeeded() {
		return fail(apperror.New(apperror.CodeSwapReverted, apperror.WithContext(hash.Hex())))
	}

	received := receipt.TransferredTo(e.pair.Target.Address(), recipient)
	if received.Sign() == 0 {
		if mode == aggDomain.BuyExactOut {
			received = amount.Raw()
		} else {
			received = route.MinAmountOut(e.slippageBps)
		}
		e.logger.Warn(ctx, "no transfer log in swap receipt, using quoted minimum",
			"provider", provider, "tx_hash", hash.Hex(), "amount", received.String())
	}

	out.AmountOut = asset.NewAmount(e.pair.Target, received)
	out.Success = true
	span.SetAttributes(
		attribute.String("tx_hash", hash.Hex()),
		attribute.String("amount_out", out.AmountOut.String()),
	)
	span.SetStatus(codes.Ok, "swapped")

	e.logger.Info(ctx, "swap confirmed",
		"provider", provider,
		"mode", mode,
		"amount_in", out.AmountIn.String(),
		"amount_out", out.AmountOut.String(),
		"tx_hash", hash.Hex())
	return out
}

func hashOrEmpty(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}
