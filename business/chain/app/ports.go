// Package app contains the chain services and their ports.
package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/fd1az/token-distributor/business/chain/domain"
)

// Node is the RPC surface the chain services need.
type Node interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// Receipt returns nil, nil while the transaction is not yet mined.
	Receipt(ctx context.Context, hash common.Hash) (*domain.Receipt, error)

	// Call executes a read-only call against the latest block.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// GasOracle prices and sizes transactions.
type GasOracle interface {
	Fees(ctx context.Context) (*domain.Fees, error)

	// EstimateGas is advisory; callers fall back to a hint on error.
	EstimateGas(ctx context.Context, from common.Address, req domain.TxRequest) (uint64, error)
}
