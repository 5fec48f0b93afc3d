// Package app runs distributions: swap execution, the acquisition state
// machine and the final transfer.
package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	aggApp "github.com/fd1az/token-distributor/business/aggregator/app"
	chainDomain "github.com/fd1az/token-distributor/business/chain/domain"
	"github.com/fd1az/token-distributor/business/distribution/domain"
)

// Ledger is the durable record of distributions. Get returns
// RECORD_NOT_FOUND for unknown ids; Update creates missing records.
type Ledger interface {
	Get(ctx context.Context, transactionID string) (*domain.TransactionRecord, error)
	Update(ctx context.Context, transactionID string, u domain.RecordUpdate) error
}

// Chain is the pool-account surface used by distributions.
type Chain interface {
	PoolAddress() common.Address
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	SendAndWait(ctx context.Context, req chainDomain.TxRequest) (common.Hash, *chainDomain.Receipt, error)
	Transfer(ctx context.Context, token, recipient common.Address, amount *big.Int) (common.Hash, *chainDomain.Receipt, error)

	// Receipt returns nil, nil while the transaction is pending.
	Receipt(ctx context.Context, hash common.Hash) (*chainDomain.Receipt, error)
}

// Allowances approves aggregator spenders.
type Allowances interface {
	EnsureAllowance(ctx context.Context, token, spender common.Address, needed *big.Int) (bool, error)
}

// Providers lists aggregators in fallback order. The first is preferred.
type Providers interface {
	Preferred() aggApp.Adapter
	Ordered() []aggApp.Adapter
}
