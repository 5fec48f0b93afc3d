// Package domain contains the quote and route types shared by every aggregator.
package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/token-distributor/internal/asset"
)

// Provider tags an aggregator variant.
type Provider string

const (
	Paraswap  Provider = "paraswap"
	KyberSwap Provider = "kyberswap"
	OneInch   Provider = "oneinch"
	Odos      Provider = "odos"
)

// ParseProvider validates a provider name from config.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case Paraswap, KyberSwap, OneInch, Odos:
		return p, nil
	}
	return "", fmt.Errorf("unknown aggregator %q", s)
}

// Mode is the side of a swap that is fixed.
type Mode string

const (
	SellExactIn Mode = "sell_exact_in"
	BuyExactOut Mode = "buy_exact_out"
)

// QuoteRequest asks for a route. Amount is the input for SellExactIn and the
// desired output for BuyExactOut, in raw token units.
type QuoteRequest struct {
	Source      *asset.Token
	Target      *asset.Token
	Amount      *big.Int
	Mode        Mode
	Taker       common.Address
	SlippageBps int
}

// RouteQuote is a provider route. The payload is opaque and must reach Build
// exactly as the provider returned it.
type RouteQuote struct {
	Provider  Provider
	Mode      Mode
	Source    *asset.Token
	Target    *asset.Token
	AmountIn  *big.Int
	AmountOut *big.Int
	// Spender is the address the source token must be approved to.
	Spender     common.Address
	GasEstimate uint64
	QuotedAt    time.Time

	raw json.RawMessage
}

// NewRouteQuote builds a quote around the provider's raw route payload.
func NewRouteQuote(p Provider, req QuoteRequest, in, out *big.Int, spender common.Address, gas uint64, raw json.RawMessage) *RouteQuote {
	return &RouteQuote{
		Provider:    p,
		Mode:        req.Mode,
		Source:      req.Source,
		Target:      req.Target,
		AmountIn:    in,
		AmountOut:   out,
		Spender:     spender,
		GasEstimate: gas,
		QuotedAt:    time.Now(),
		raw:         raw,
	}
}

// Raw returns the provider payload.
func (q *RouteQuote) Raw() json.RawMessage {
	return q.raw
}

// MinAmountOut is AmountOut less slippageBps, rounded down.
func (q *RouteQuote) MinAmountOut(slippageBps int) *big.Int {
	return asset.NewAmount(q.Target, q.AmountOut).SubBps(slippageBps).Raw()
}

// BuiltTx is calldata ready to be signed by the pool.
type BuiltTx struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}
