package ethereum

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/token-distributor/business/chain/app"
	"github.com/fd1az/token-distributor/business/chain/domain"
	"github.com/fd1az/token-distributor/internal/apperror"
	"github.com/fd1az/token-distributor/internal/circuitbreaker"
	"github.com/fd1az/token-distributor/internal/logger"
)

var gwei = big.NewInt(1_000_000_000)

// GasOracleConfig holds configuration for the gas oracle.
type GasOracleConfig struct {
	MaxFeeGwei int64 // ceiling on maxFeePerGas
	// EstimateMarginPct is added on top of eth_estimateGas.
	EstimateMarginPct uint64
}

func DefaultGasOracleConfig(maxFeeGwei int64) GasOracleConfig {
	return GasOracleConfig{
		MaxFeeGwei:        maxFeeGwei,
		EstimateMarginPct: 20,
	}
}

type gasOracleMetrics struct {
	feeFetches  metric.Int64Counter
	baseFeeGwei metric.Float64Gauge
	estimateGas metric.Int64Counter
	feeCapped   metric.Int64Counter
}

// GasOracle prices EIP-1559 transactions: tip + 2 * baseFee, capped.
type GasOracle struct {
	config GasOracleConfig
	logger logger.LoggerInterface
	rpc    RPC

	cb *circuitbreaker.CircuitBreaker[*domain.Fees]

	tracer  trace.Tracer
	metrics *gasOracleMetrics
}

var _ app.GasOracle = (*GasOracle)(nil)

func NewGasOracle(cfg GasOracleConfig, rpc RPC, log logger.LoggerInterface) (*GasOracle, error) {
	g := &GasOracle{
		config: cfg,
		logger: log,
		rpc:    rpc,
		cb:     circuitbreaker.New[*domain.Fees](circuitbreaker.DefaultConfig("gas-oracle")),
		tracer: otel.Tracer(tracerName),
	}

	if err := g.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return g, nil
}

func (g *GasOracle) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	g.metrics = &gasOracleMetrics{}

	g.metrics.feeFetches, err = meter.Int64Counter(
		"gas_fee_fetches_total",
		metric.WithDescription("Total fee parameter fetches"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return err
	}

	g.metrics.baseFeeGwei, err = meter.Float64Gauge(
		"gas_base_fee_gwei",
		metric.WithDescription("Latest block base fee in gwei"),
		metric.WithUnit("gwei"),
	)
	if err != nil {
		return err
	}

	g.metrics.estimateGas, err = meter.Int64Counter(
		"gas_estimate_total",
		metric.WithDescription("Total gas estimation calls"),
		metric.WithUnit("{estimate}"),
	)
	if err != nil {
		return err
	}

	g.metrics.feeCapped, err = meter.Int64Counter(
		"gas_fee_capped_total",
		metric.WithDescription("Fee computations clamped to the configured maximum"),
		metric.WithUnit("{fetch}"),
	)
	return err
}

// Fees returns tip and fee caps for the next transaction.
func (g *GasOracle) Fees(ctx context.Context) (*domain.Fees, error) {
	ctx, span := g.tracer.Start(ctx, "gas.fees")
	defer span.End()

	g.metrics.feeFetches.Add(ctx, 1)

	fees, err := g.cb.Execute(func() (*domain.Fees, error) {
		tip, err := g.rpc.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, err
		}
		head, err := g.rpc.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, err
		}
		base := head.BaseFee
		if base == nil {
			base = new(big.Int)
		}
		return &domain.Fees{TipCap: tip, BaseFee: base}, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithCause(err),
			apperror.WithContext("failed to get fee parameters"))
	}

	feeCap := new(big.Int).Mul(fees.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, fees.TipCap)

	if g.config.MaxFeeGwei > 0 {
		maxFee := new(big.Int).Mul(big.NewInt(g.config.MaxFeeGwei), gwei)
		if feeCap.Cmp(maxFee) > 0 {
			g.metrics.feeCapped.Add(ctx, 1)
			g.logger.Warn(ctx, "fee cap exceeds max, clamping", "fee_cap", feeCap.String(), "max", maxFee.String())
			feeCap = maxFee
		}
	}
	tip := new(big.Int).Set(fees.TipCap)
	if tip.Cmp(feeCap) > 0 {
		tip.Set(feeCap)
	}

	baseGwei, _ := new(big.Float).Quo(new(big.Float).SetInt(fees.BaseFee), new(big.Float).SetInt(gwei)).Float64()
	g.metrics.baseFeeGwei.Record(ctx, baseGwei)

	span.SetAttributes(
		attribute.String("tip_cap", tip.String()),
		attribute.String("fee_cap", feeCap.String()),
	)
	span.SetStatus(codes.Ok, "fetched")

	return &domain.Fees{TipCap: tip, FeeCap: feeCap, BaseFee: fees.BaseFee}, nil
}

// EstimateGas estimates gas for req from the given sender plus a margin.
func (g *GasOracle) EstimateGas(ctx context.Context, from common.Address, req domain.TxRequest) (uint64, error) {
	ctx, span := g.tracer.Start(ctx, "gas.estimate",
		trace.WithAttributes(
			attribute.String("to", req.To.Hex()),
			attribute.Int("data_len", len(req.Data)),
		),
	)
	defer span.End()

	g.metrics.estimateGas.Add(ctx, 1)

	to := req.To
	gas, err := g.rpc.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: req.Value,
		Data:  req.Data,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "estimate failed")
		return 0, apperror.New(apperror.CodeGasEstimationFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("failed to estimate gas for %s", req.To.Hex())))
	}

	gas += gas * g.config.EstimateMarginPct / 100

	span.SetAttributes(attribute.Int64("gas", int64(gas)))
	span.SetStatus(codes.Ok, "estimated")
	return gas, nil
}
