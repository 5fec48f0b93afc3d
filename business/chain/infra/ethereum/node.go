// Package ethereum implements the chain ports over go-ethereum's RPC client.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/token-distributor/business/chain/app"
	"github.com/fd1az/token-distributor/business/chain/domain"
	"github.com/fd1az/token-distributor/internal/apperror"
	"github.com/fd1az/token-distributor/internal/circuitbreaker"
	"github.com/fd1az/token-distributor/internal/logger"
)

const (
	tracerName = "github.com/fd1az/token-distributor/business/chain/infra/ethereum"
	meterName  = "github.com/fd1az/token-distributor/business/chain/infra/ethereum"
)

// RPC is the subset of *ethclient.Client used here.
type RPC interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// Node implements app.Node. Reads go through a circuit breaker; sends do not,
// since a broadcast error may still have reached the mempool.
type Node struct {
	rpc    RPC
	logger logger.LoggerInterface
	callCB *circuitbreaker.CircuitBreaker[[]byte]
	tracer trace.Tracer
}

var _ app.Node = (*Node)(nil)

func NewNode(rpc RPC, log logger.LoggerInterface) *Node {
	cfg := circuitbreaker.DefaultConfig("eth-call")
	cfg.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn(context.Background(), "circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
	}

	return &Node{
		rpc:    rpc,
		logger: log,
		callCB: circuitbreaker.New[[]byte](cfg),
		tracer: otel.Tracer(tracerName),
	}
}

func (n *Node) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return n.rpc.PendingNonceAt(ctx, account)
}

func (n *Node) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	ctx, span := n.tracer.Start(ctx, "eth.send_transaction",
		trace.WithAttributes(
			attribute.String("tx_hash", tx.Hash().Hex()),
			attribute.Int64("nonce", int64(tx.Nonce())),
		),
	)
	defer span.End()

	if err := n.rpc.SendTransaction(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return err
	}
	span.SetStatus(codes.Ok, "sent")
	return nil
}

func (n *Node) Receipt(ctx context.Context, hash common.Hash) (*domain.Receipt, error) {
	r, err := n.rpc.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("receipt %s", hash.Hex())))
	}
	return domain.NewReceipt(r), nil
}

func (n *Node) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	ctx, span := n.tracer.Start(ctx, "eth.call",
		trace.WithAttributes(attribute.String("to", to.Hex())),
	)
	defer span.End()

	out, err := n.callCB.Execute(func() ([]byte, error) {
		return n.rpc.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "call failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}
