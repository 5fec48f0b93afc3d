// Package paraswap implements the ParaSwap (Velora) quote/build adapter.
// It is the only adapter that can price exact-output buys.
package paraswap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/token-distributor/business/aggregator/app"
	"github.com/fd1az/token-distributor/business/aggregator/domain"
	"github.com/fd1az/token-distributor/business/aggregator/infra/upstream"
	"github.com/fd1az/token-distributor/internal/httpclient"
	"github.com/fd1az/token-distributor/internal/logger"
)

// Config configures the adapter.
type Config struct {
	Upstream upstream.Config
	ChainID  uint64
	Partner  string
	Version  string
}

// Adapter talks to /prices and /transactions.
type Adapter struct {
	up     *upstream.Base
	config Config
	logger logger.LoggerInterface
}

var _ app.Adapter = (*Adapter)(nil)

func New(cfg Config, log logger.LoggerInterface) (*Adapter, error) {
	cfg.Upstream.Provider = domain.Paraswap
	up, err := upstream.New(cfg.Upstream, log)
	if err != nil {
		return nil, err
	}
	return &Adapter{up: up, config: cfg, logger: log}, nil
}

func (a *Adapter) Provider() domain.Provider { return domain.Paraswap }

func (a *Adapter) Supports(domain.Mode) bool { return true }

type priceRoute struct {
	SrcAmount          string `json:"srcAmount"`
	DestAmount         string `json:"destAmount"`
	TokenTransferProxy string `json:"tokenTransferProxy"`
	ContractAddress    string `json:"contractAddress"`
	GasCost            string `json:"gasCost"`
	Side               string `json:"side"`
}

type pricesResponse struct {
	PriceRoute json.RawMessage `json:"priceRoute"`
	Error      string          `json:"error"`
}

func side(m domain.Mode) string {
	if m == domain.BuyExactOut {
		return "BUY"
	}
	return "SELL"
}

// Quote calls GET /prices.
func (a *Adapter) Quote(ctx context.Context, req domain.QuoteRequest) (*domain.RouteQuote, error) {
	return a.up.RunQuote(ctx, req, func(ctx context.Context) (*domain.RouteQuote, error) {
		var resp pricesResponse
		_, err := a.up.Client.NewRequest(httpclient.WithResponseErrorHandler(noRouteHandler)).
			SetQueryParam("srcToken", req.Source.Address().Hex()).
			SetQueryParam("srcDecimals", strconv.Itoa(int(req.Source.Decimals()))).
			SetQueryParam("destToken", req.Target.Address().Hex()).
			SetQueryParam("destDecimals", strconv.Itoa(int(req.Target.Decimals()))).
			SetQueryParam("amount", req.Amount.String()).
			SetQueryParam("side", side(req.Mode)).
			SetQueryParam("network", strconv.FormatUint(a.config.ChainID, 10)).
			SetQueryParam("version", a.config.Version).
			SetQueryParam("partner", a.config.Partner).
			SetQueryParam("userAddress", req.Taker.Hex()).
			SetResult(&resp).
			Get(ctx, "/prices")
		if err != nil {
			return nil, err
		}
		if resp.Error != "" {
			return nil, upstream.NoRoute("%s", resp.Error)
		}
		if len(resp.PriceRoute) == 0 || string(resp.PriceRoute) == "null" {
			return nil, upstream.NoRoute("empty priceRoute")
		}

		var route priceRoute
		if err := json.Unmarshal(resp.PriceRoute, &route); err != nil {
			return nil, fmt.Errorf("decode priceRoute: %w", err)
		}
		in, err := upstream.ParseAmount("srcAmount", route.SrcAmount)
		if err != nil {
			return nil, err
		}
		out, err := upstream.ParseAmount("destAmount", route.DestAmount)
		if err != nil {
			return nil, err
		}
		spender, err := a.spender(route)
		if err != nil {
			return nil, err
		}

		gas, _ := strconv.ParseUint(route.GasCost, 10, 64)
		return domain.NewRouteQuote(domain.Paraswap, req, in, out, spender, gas, resp.PriceRoute), nil
	})
}

// v6 routes are pulled by Augustus itself; v5 by the TokenTransferProxy.
func (a *Adapter) spender(route priceRoute) (common.Address, error) {
	if strings.HasPrefix(a.config.Version, "5") && route.TokenTransferProxy != "" {
		return upstream.ParseAddress("tokenTransferProxy", route.TokenTransferProxy)
	}
	return upstream.ParseAddress("contractAddress", route.ContractAddress)
}

type transactionRequest struct {
	SrcToken     string          `json:"srcToken"`
	SrcDecimals  uint8           `json:"srcDecimals"`
	DestToken    string          `json:"destToken"`
	DestDecimals uint8           `json:"destDecimals"`
	SrcAmount    string          `json:"srcAmount,omitempty"`
	DestAmount   string          `json:"destAmount,omitempty"`
	PriceRoute   json.RawMessage `json:"priceRoute"`
	Slippage     int             `json:"slippage"`
	UserAddress  string          `json:"userAddress"`
	Receiver     string          `json:"receiver,omitempty"`
	Partner      string          `json:"partner,omitempty"`
}

type transactionResponse struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
	Gas   any    `json:"gas"`
	Error string `json:"error"`
}

// Build calls POST /transactions/{network} with the priceRoute untouched.
func (a *Adapter) Build(ctx context.Context, route *domain.RouteQuote, sender, recipient common.Address, slippageBps int) (*domain.BuiltTx, error) {
	return a.up.RunBuild(ctx, route, func(ctx context.Context) (*domain.BuiltTx, error) {
		body := transactionRequest{
			SrcToken:     route.Source.Address().Hex(),
			SrcDecimals:  route.Source.Decimals(),
			DestToken:    route.Target.Address().Hex(),
			DestDecimals: route.Target.Decimals(),
			PriceRoute:   route.Raw(),
			Slippage:     slippageBps,
			UserAddress:  sender.Hex(),
			Partner:      a.config.Partner,
		}
		if route.Mode == domain.BuyExactOut {
			body.DestAmount = route.AmountOut.String()
		} else {
			body.SrcAmount = route.AmountIn.String()
		}
		if recipient != sender {
			body.Receiver = recipient.Hex()
		}

		var resp transactionResponse
		_, err := a.up.Client.NewRequest().
			SetQueryParam("ignoreChecks", "true").
			SetBody(body).
			SetResult(&resp).
			Post(ctx, fmt.Sprintf("/transactions/%d", a.config.ChainID))
		if err != nil {
			return nil, err
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("paraswap: %s", resp.Error)
		}
		return toBuiltTx(resp)
	})
}

func toBuiltTx(resp transactionResponse) (*domain.BuiltTx, error) {
	to, err := upstream.ParseAddress("to", resp.To)
	if err != nil {
		return nil, err
	}
	data, err := upstream.ParseCalldata(resp.Data)
	if err != nil {
		return nil, err
	}
	value, err := upstream.ParseValue(resp.Value)
	if err != nil {
		return nil, err
	}
	return &domain.BuiltTx{To: to, Data: data, Value: value, Gas: upstream.ParseGas(resp.Gas)}, nil
}

// ParaSwap answers 400 with {"error": "..."} when it cannot route.
func noRouteHandler(status int, body []byte) error {
	if status < http.StatusBadRequest || status >= http.StatusInternalServerError {
		return nil
	}
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return upstream.NoRoute("%s", e.Error)
	}
	return nil
}
