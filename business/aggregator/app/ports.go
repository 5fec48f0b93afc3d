// Package app holds the aggregator port and the ordered provider registry.
package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/token-distributor/business/aggregator/domain"
)

// Adapter is one quote/build aggregator. Implementations do not retry;
// Quote returns QUOTE_UNAVAILABLE when there is no route or the provider is
// unreachable, and Build returns BUILD_FAILED.
type Adapter interface {
	Provider() domain.Provider
	Supports(mode domain.Mode) bool
	Quote(ctx context.Context, req domain.QuoteRequest) (*domain.RouteQuote, error)
	Build(ctx context.Context, route *domain.RouteQuote, sender, recipient common.Address, slippageBps int) (*domain.BuiltTx, error)
}
