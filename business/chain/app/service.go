package app

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/token-distributor/business/chain/domain"
	"github.com/fd1az/token-distributor/internal/apperror"
	"github.com/fd1az/token-distributor/internal/logger"
)

const (
	tracerName = "github.com/fd1az/token-distributor/business/chain/app"
	meterName  = "github.com/fd1az/token-distributor/business/chain/app"
)

// Config bounds calls and receipt waits.
type Config struct {
	ReceiptTimeout   time.Duration
	PollInterval     time.Duration
	CallTimeout      time.Duration
	FallbackGasLimit uint64
}

type chainMetrics struct {
	broadcasts  metric.Int64Counter
	receiptWait metric.Float64Histogram
	reverts     metric.Int64Counter
}

// ChainService reads balances and sends pool transactions.
type ChainService struct {
	pool   *PoolAccount
	node   Node
	gas    GasOracle
	config Config
	logger logger.LoggerInterface

	tracer  trace.Tracer
	metrics *chainMetrics
}

func NewChainService(pool *PoolAccount, node Node, gas GasOracle, cfg Config, log logger.LoggerInterface) (*ChainService, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 90 * time.Second
	}

	s := &ChainService{
		pool:   pool,
		node:   node,
		gas:    gas,
		config: cfg,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
	if err := s.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return s, nil
}

func (s *ChainService) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	s.metrics = &chainMetrics{}

	s.metrics.broadcasts, err = meter.Int64Counter(
		"chain_tx_broadcast_total",
		metric.WithDescription("Transactions broadcast from the pool account"),
		metric.WithUnit("{tx}"),
	)
	if err != nil {
		return err
	}

	s.metrics.receiptWait, err = meter.Float64Histogram(
		"chain_receipt_wait_ms",
		metric.WithDescription("Time spent waiting for receipts"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	s.metrics.reverts, err = meter.Int64Counter(
		"chain_tx_reverted_total",
		metric.WithDescription("Mined transactions with failed status"),
		metric.WithUnit("{tx}"),
	)
	return err
}

// Pool returns the pool account handle.
func (s *ChainService) Pool() *PoolAccount {
	return s.pool
}

func (s *ChainService) PoolAddress() common.Address {
	return s.pool.Address()
}

// Receipt looks a transaction up once. It returns nil, nil while pending.
func (s *ChainService) Receipt(ctx context.Context, hash common.Hash) (*domain.Receipt, error) {
	return s.node.Receipt(ctx, hash)
}

// BalanceOf reads an ERC-20 balance.
func (s *ChainService) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := packBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	out, err := s.call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return unpackUint256("balanceOf", out)
}

// Allowance reads owner's allowance for spender.
func (s *ChainService) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := packAllowance(owner, spender)
	if err != nil {
		return nil, err
	}
	out, err := s.call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return unpackUint256("allowance", out)
}

func (s *ChainService) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := packDecimals()
	if err != nil {
		return 0, err
	}
	out, err := s.call(ctx, token, data)
	if err != nil {
		return 0, err
	}
	return unpackUint8("decimals", out)
}

func (s *ChainService) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if s.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.CallTimeout)
		defer cancel()
	}

	out, err := s.node.Call(ctx, to, data)
	if err != nil {
		return nil, apperror.New(apperror.CodeContractCallFailed,
			apperror.WithCause(err),
			apperror.WithContext(to.Hex()))
	}
	return out, nil
}

// Send prices, signs and broadcasts req from the pool account.
func (s *ChainService) Send(ctx context.Context, req domain.TxRequest) (common.Hash, error) {
	ctx, span := s.tracer.Start(ctx, "chain.send",
		trace.WithAttributes(
			attribute.String("to", req.To.Hex()),
			attribute.Int("data_len", len(req.Data)),
		),
	)
	defer span.End()

	fees, err := s.gas.Fees(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fees")
		return common.Hash{}, err
	}

	gasLimit, err := s.gas.EstimateGas(ctx, s.pool.Address(), req)
	if err != nil {
		gasLimit = req.GasHint
		if gasLimit == 0 {
			gasLimit = s.config.FallbackGasLimit
		}
		s.logger.Warn(ctx, "gas estimation failed, using fallback", "to", req.To.Hex(), "gas", gasLimit, "error", err)
		span.AddEvent("gas_fallback", trace.WithAttributes(attribute.Int64("gas", int64(gasLimit))))
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	chainID := s.pool.account.ChainID()
	to := req.To

	tx, err := s.pool.Broadcast(ctx, func(nonce uint64) *types.Transaction {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: fees.TipCap,
			GasFeeCap: fees.FeeCap,
			Gas:       gasLimit,
			To:        &to,
			Value:     value,
			Data:      req.Data,
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "broadcast")
		s.metrics.broadcasts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", false)))
		return common.Hash{}, err
	}

	s.metrics.broadcasts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", true)))
	span.SetAttributes(
		attribute.String("tx_hash", tx.Hash().Hex()),
		attribute.Int64("nonce", int64(tx.Nonce())),
	)
	span.SetStatus(codes.Ok, "sent")

	s.logger.Info(ctx, "transaction broadcast", "tx_hash", tx.Hash().Hex(), "nonce", tx.Nonce(), "to", req.To.Hex())
	return tx.Hash(), nil
}

// WaitForReceipt polls until hash is mined or the receipt timeout passes.
// A timeout is recoverable and carries the hash in its context.
func (s *ChainService) WaitForReceipt(ctx context.Context, hash common.Hash) (*domain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.ReceiptTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		s.metrics.receiptWait.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.node.Receipt(ctx, hash)
		if err != nil {
			s.logger.Debug(ctx, "receipt poll failed", "tx_hash", hash.Hex(), "error", err)
		} else if receipt != nil {
			if !receipt.Succeeded() {
				s.metrics.reverts.Add(ctx, 1)
			}
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, apperror.New(apperror.CodeReceiptTimeout,
				apperror.WithCause(ctx.Err()),
				apperror.WithContext(hash.Hex()))
		case <-ticker.C:
		}
	}
}

// SendAndWait broadcasts req and waits for its receipt. The hash is returned
// whenever broadcast succeeded, including on receipt timeout. A timeout
// resyncs the pool nonce in case the node dropped the transaction.
func (s *ChainService) SendAndWait(ctx context.Context, req domain.TxRequest) (common.Hash, *domain.Receipt, error) {
	hash, err := s.Send(ctx, req)
	if err != nil {
		return common.Hash{}, nil, err
	}
	receipt, err := s.WaitForReceipt(ctx, hash)
	if apperror.HasCode(err, apperror.CodeReceiptTimeout) {
		s.pool.Resync(ctx)
	}
	return hash, receipt, err
}

// Transfer sends amount of token from the pool to recipient.
func (s *ChainService) Transfer(ctx context.Context, token, recipient common.Address, amount *big.Int) (common.Hash, *domain.Receipt, error) {
	data, err := PackTransfer(recipient, amount)
	if err != nil {
		return common.Hash{}, nil, err
	}
	return s.SendAndWait(ctx, domain.TxRequest{To: token, Data: data})
}
