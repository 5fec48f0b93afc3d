// Package odos implements the Odos smart order router adapter (sell only).
package odos

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/token-distributor/business/aggregator/app"
	"github.com/fd1az/token-distributor/business/aggregator/domain"
	"github.com/fd1az/token-distributor/business/aggregator/infra/upstream"
	"github.com/fd1az/token-distributor/internal/asset"
	"github.com/fd1az/token-distributor/internal/httpclient"
	"github.com/fd1az/token-distributor/internal/logger"
)

// Odos V2 router deployments; the router is also the allowance spender.
var routers = map[uint64]common.Address{
	asset.ChainIDEthereum: common.HexToAddress("0xCf5540fFFCdC3d510B18bFcA6d2b9987b0772559"),
	asset.ChainIDOptimism: common.HexToAddress("0xCa423977156BB05b13A2BA3b76Bc5419E2fE9680"),
	asset.ChainIDPolygon:  common.HexToAddress("0x4E3288c9ca110bCC82bf38F09A7b425c095d92Bf"),
	asset.ChainIDBase:     common.HexToAddress("0x19cEeAd7105607Cd444F5ad10dd51356436095a1"),
	asset.ChainIDArbitrum: common.HexToAddress("0xa669e7A0d4b3e4Fa48af2dE86BD4CD7126Be4e13"),
}

type Config struct {
	Upstream upstream.Config
	ChainID  uint64
	// Router overrides the built-in router address.
	Router       common.Address
	ReferralCode uint32
}

type Adapter struct {
	up     *upstream.Base
	config Config
	router common.Address
}

var _ app.Adapter = (*Adapter)(nil)

func New(cfg Config, log logger.LoggerInterface) (*Adapter, error) {
	router := cfg.Router
	if router == (common.Address{}) {
		r, ok := routers[cfg.ChainID]
		if !ok {
			return nil, fmt.Errorf("odos: no router known for chain %d", cfg.ChainID)
		}
		router = r
	}

	cfg.Upstream.Provider = domain.Odos
	up, err := upstream.New(cfg.Upstream, log)
	if err != nil {
		return nil, err
	}
	return &Adapter{up: up, config: cfg, router: router}, nil
}

func (a *Adapter) Provider() domain.Provider { return domain.Odos }

func (a *Adapter) Supports(m domain.Mode) bool { return m == domain.SellExactIn }

type tokenAmount struct {
	TokenAddress string `json:"tokenAddress"`
	Amount       string `json:"amount"`
}

type tokenProportion struct {
	TokenAddress string  `json:"tokenAddress"`
	Proportion   float64 `json:"proportion"`
}

type quoteRequest struct {
	ChainID              uint64            `json:"chainId"`
	InputTokens          []tokenAmount     `json:"inputTokens"`
	OutputTokens         []tokenProportion `json:"outputTokens"`
	UserAddr             string            `json:"userAddr"`
	SlippageLimitPercent float64           `json:"slippageLimitPercent"`
	ReferralCode         uint32            `json:"referralCode"`
	Compact              bool              `json:"compact"`
}

type quoteResponse struct {
	PathID      string   `json:"pathId"`
	InAmounts   []string `json:"inAmounts"`
	OutAmounts  []string `json:"outAmounts"`
	GasEstimate float64  `json:"gasEstimate"`
}

// Quote calls POST /sor/quote/v2. Slippage is fixed at quote time on Odos.
func (a *Adapter) Quote(ctx context.Context, req domain.QuoteRequest) (*domain.RouteQuote, error) {
	return a.up.RunQuote(ctx, req, func(ctx context.Context) (*domain.RouteQuote, error) {
		if req.Mode != domain.SellExactIn {
			return nil, upstream.NoRoute("odos does not quote %s", req.Mode)
		}

		resp, err := a.up.Client.NewRequest(httpclient.WithResponseErrorHandler(noRouteHandler)).
			SetBody(quoteRequest{
				ChainID:              a.config.ChainID,
				InputTokens:          []tokenAmount{{TokenAddress: req.Source.Address().Hex(), Amount: req.Amount.String()}},
				OutputTokens:         []tokenProportion{{TokenAddress: req.Target.Address().Hex(), Proportion: 1}},
				UserAddr:             req.Taker.Hex(),
				SlippageLimitPercent: float64(req.SlippageBps) / 100,
				ReferralCode:         a.config.ReferralCode,
				Compact:              true,
			}).
			Post(ctx, "/sor/quote/v2")
		if err != nil {
			return nil, err
		}

		var q quoteResponse
		if err := json.Unmarshal(resp.Body(), &q); err != nil {
			return nil, fmt.Errorf("decode quote: %w", err)
		}
		if q.PathID == "" || len(q.InAmounts) == 0 || len(q.OutAmounts) == 0 {
			return nil, upstream.NoRoute("empty path")
		}
		in, err := upstream.ParseAmount("inAmounts", q.InAmounts[0])
		if err != nil {
			return nil, err
		}
		out, err := upstream.ParseAmount("outAmounts", q.OutAmounts[0])
		if err != nil {
			return nil, err
		}

		return domain.NewRouteQuote(domain.Odos, req, in, out, a.router, uint64(q.GasEstimate), resp.Body()), nil
	})
}

type assembleRequest struct {
	UserAddr string `json:"userAddr"`
	PathID   string `json:"pathId"`
	Simulate bool   `json:"simulate"`
	Receiver string `json:"receiver,omitempty"`
}

type assembleResponse struct {
	Transaction struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
		Gas   any    `json:"gas"`
	} `json:"transaction"`
}

// Build calls POST /sor/assemble with the quoted pathId.
func (a *Adapter) Build(ctx context.Context, route *domain.RouteQuote, sender, recipient common.Address, _ int) (*domain.BuiltTx, error) {
	return a.up.RunBuild(ctx, route, func(ctx context.Context) (*domain.BuiltTx, error) {
		var q quoteResponse
		if err := json.Unmarshal(route.Raw(), &q); err != nil || q.PathID == "" {
			return nil, fmt.Errorf("route has no pathId")
		}

		body := assembleRequest{UserAddr: sender.Hex(), PathID: q.PathID}
		if recipient != sender {
			body.Receiver = recipient.Hex()
		}

		var resp assembleResponse
		if _, err := a.up.Client.NewRequest().SetBody(body).SetResult(&resp).Post(ctx, "/sor/assemble"); err != nil {
			return nil, err
		}

		to, err := upstream.ParseAddress("transaction.to", resp.Transaction.To)
		if err != nil {
			return nil, err
		}
		if to != a.router {
			return nil, fmt.Errorf("assembled tx targets %s, expected router %s", to.Hex(), a.router.Hex())
		}
		data, err := upstream.ParseCalldata(resp.Transaction.Data)
		if err != nil {
			return nil, err
		}
		value, err := upstream.ParseValue(resp.Transaction.Value)
		if err != nil {
			return nil, err
		}
		return &domain.BuiltTx{To: to, Data: data, Value: value, Gas: upstream.ParseGas(resp.Transaction.Gas)}, nil
	})
}

// Odos uses 4xx with {"detail": "..."} for unroutable pairs.
func noRouteHandler(status int, body []byte) error {
	if status < http.StatusBadRequest || status >= http.StatusInternalServerError {
		return nil
	}
	var e struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil && e.Detail != "" {
		return upstream.NoRoute("%s", e.Detail)
	}
	return nil
}
