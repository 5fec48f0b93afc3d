// Package oneinch implements the 1inch Swap API v6 adapter (sell only).
package oneinch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/fd1az/token-distributor/business/aggregator/app"
	"github.com/fd1az/token-distributor/business/aggregator/domain"
	"github.com/fd1az/token-distributor/business/aggregator/infra/upstream"
	"github.com/fd1az/token-distributor/internal/httpclient"
	"github.com/fd1az/token-distributor/internal/logger"
)

type Config struct {
	Upstream upstream.Config
	ChainID  uint64
	APIKey   string
}

type Adapter struct {
	up     *upstream.Base
	config Config

	spenderGroup singleflight.Group
	spenderMu    sync.RWMutex
	spender      common.Address
}

var _ app.Adapter = (*Adapter)(nil)

func New(cfg Config, log logger.LoggerInterface) (*Adapter, error) {
	cfg.Upstream.Provider = domain.OneInch
	headers := map[string]string{"Accept": "application/json"}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	cfg.Upstream.Headers = headers

	up, err := upstream.New(cfg.Upstream, log)
	if err != nil {
		return nil, err
	}
	return &Adapter{up: up, config: cfg}, nil
}

func (a *Adapter) Provider() domain.Provider { return domain.OneInch }

func (a *Adapter) Supports(m domain.Mode) bool { return m == domain.SellExactIn }

func (a *Adapter) path(op string) string {
	return fmt.Sprintf("/swap/v6.0/%d/%s", a.config.ChainID, op)
}

func (a *Adapter) request() httpclient.Request {
	return a.up.Client.NewRequest(
		httpclient.WithResponseErrorHandler(noRouteHandler),
		httpclient.WithRedactedHeaders("Authorization"),
	)
}

type quoteResponse struct {
	DstAmount string `json:"dstAmount"`
	Gas       any    `json:"gas"`
}

// Quote calls GET /quote and resolves the router spender.
func (a *Adapter) Quote(ctx context.Context, req domain.QuoteRequest) (*domain.RouteQuote, error) {
	return a.up.RunQuote(ctx, req, func(ctx context.Context) (*domain.RouteQuote, error) {
		if req.Mode != domain.SellExactIn {
			return nil, upstream.NoRoute("1inch does not quote %s", req.Mode)
		}

		resp, err := a.request().
			SetQueryParam("src", req.Source.Address().Hex()).
			SetQueryParam("dst", req.Target.Address().Hex()).
			SetQueryParam("amount", req.Amount.String()).
			SetQueryParam("includeGas", "true").
			Get(ctx, a.path("quote"))
		if err != nil {
			return nil, err
		}

		var q quoteResponse
		if err := json.Unmarshal(resp.Body(), &q); err != nil {
			return nil, fmt.Errorf("decode quote: %w", err)
		}
		out, err := upstream.ParseAmount("dstAmount", q.DstAmount)
		if err != nil {
			return nil, err
		}
		if out.Sign() == 0 {
			return nil, upstream.NoRoute("zero dstAmount")
		}

		spender, err := a.Spender(ctx)
		if err != nil {
			return nil, err
		}

		return domain.NewRouteQuote(domain.OneInch, req, req.Amount, out, spender, upstream.ParseGas(q.Gas), resp.Body()), nil
	})
}

// Spender returns the 1inch router allowance target, fetched once.
func (a *Adapter) Spender(ctx context.Context) (common.Address, error) {
	a.spenderMu.RLock()
	cached := a.spender
	a.spenderMu.RUnlock()
	if cached != (common.Address{}) {
		return cached, nil
	}

	v, err, _ := a.spenderGroup.Do("spender", func() (any, error) {
		var resp struct {
			Address string `json:"address"`
		}
		if _, err := a.request().SetResult(&resp).Get(ctx, a.path("approve/spender")); err != nil {
			return common.Address{}, err
		}
		addr, err := upstream.ParseAddress("spender", resp.Address)
		if err != nil {
			return common.Address{}, err
		}

		a.spenderMu.Lock()
		a.spender = addr
		a.spenderMu.Unlock()
		return addr, nil
	})
	if err != nil {
		return common.Address{}, err
	}
	return v.(common.Address), nil
}

type swapResponse struct {
	DstAmount string `json:"dstAmount"`
	Tx        struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
		Gas   any    `json:"gas"`
	} `json:"tx"`
}

// Build calls GET /swap for the quoted amounts. Slippage is sent in percent.
func (a *Adapter) Build(ctx context.Context, route *domain.RouteQuote, sender, recipient common.Address, slippageBps int) (*domain.BuiltTx, error) {
	return a.up.RunBuild(ctx, route, func(ctx context.Context) (*domain.BuiltTx, error) {
		var resp swapResponse
		_, err := a.request().
			SetQueryParam("src", route.Source.Address().Hex()).
			SetQueryParam("dst", route.Target.Address().Hex()).
			SetQueryParam("amount", route.AmountIn.String()).
			SetQueryParam("from", sender.Hex()).
			SetQueryParam("origin", sender.Hex()).
			SetQueryParam("receiver", recipient.Hex()).
			SetQueryParam("slippage", upstream.BpsToPercent(slippageBps)).
			SetQueryParam("disableEstimate", "true").
			SetResult(&resp).
			Get(ctx, a.path("swap"))
		if err != nil {
			return nil, err
		}

		to, err := upstream.ParseAddress("tx.to", resp.Tx.To)
		if err != nil {
			return nil, err
		}
		data, err := upstream.ParseCalldata(resp.Tx.Data)
		if err != nil {
			return nil, err
		}
		value, err := upstream.ParseValue(resp.Tx.Value)
		if err != nil {
			return nil, err
		}
		return &domain.BuiltTx{To: to, Data: data, Value: value, Gas: upstream.ParseGas(resp.Tx.Gas)}, nil
	})
}

// 1inch answers 400 {"description": "insufficient liquidity"} when it cannot route.
func noRouteHandler(status int, body []byte) error {
	if status != http.StatusBadRequest {
		return nil
	}
	var e struct {
		Description string `json:"description"`
		Error       string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Description != "" {
		return upstream.NoRoute("%s", e.Description)
	}
	return nil
}
