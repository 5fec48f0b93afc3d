// Package kyberswap implements the KyberSwap aggregator adapter (sell only).
package kyberswap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/token-distributor/business/aggregator/app"
	"github.com/fd1az/token-distributor/business/aggregator/domain"
	"github.com/fd1az/token-distributor/business/aggregator/infra/upstream"
	"github.com/fd1az/token-distributor/internal/httpclient"
	"github.com/fd1az/token-distributor/internal/logger"
)

type Config struct {
	Upstream  upstream.Config
	ChainName string
	ClientID  string
}

type Adapter struct {
	up     *upstream.Base
	config Config
}

var _ app.Adapter = (*Adapter)(nil)

func New(cfg Config, log logger.LoggerInterface) (*Adapter, error) {
	cfg.Upstream.Provider = domain.KyberSwap
	if cfg.ClientID != "" {
		headers := map[string]string{"x-client-id": cfg.ClientID}
		for k, v := range cfg.Upstream.Headers {
			headers[k] = v
		}
		cfg.Upstream.Headers = headers
	}

	up, err := upstream.New(cfg.Upstream, log)
	if err != nil {
		return nil, err
	}
	return &Adapter{up: up, config: cfg}, nil
}

func (a *Adapter) Provider() domain.Provider { return domain.KyberSwap }

func (a *Adapter) Supports(m domain.Mode) bool { return m == domain.SellExactIn }

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type routesData struct {
	RouteSummary  json.RawMessage `json:"routeSummary"`
	RouterAddress string          `json:"routerAddress"`
}

type routeSummary struct {
	AmountIn  string `json:"amountIn"`
	AmountOut string `json:"amountOut"`
	Gas       string `json:"gas"`
}

// Quote calls GET /{chain}/api/v1/routes. The routeSummary is kept verbatim.
func (a *Adapter) Quote(ctx context.Context, req domain.QuoteRequest) (*domain.RouteQuote, error) {
	return a.up.RunQuote(ctx, req, func(ctx context.Context) (*domain.RouteQuote, error) {
		if req.Mode != domain.SellExactIn {
			return nil, upstream.NoRoute("kyberswap does not quote %s", req.Mode)
		}

		var resp envelope
		_, err := a.up.Client.NewRequest(httpclient.WithResponseErrorHandler(noRouteHandler)).
			SetQueryParam("tokenIn", req.Source.Address().Hex()).
			SetQueryParam("tokenOut", req.Target.Address().Hex()).
			SetQueryParam("amountIn", req.Amount.String()).
			SetQueryParam("gasInclude", "true").
			SetResult(&resp).
			Get(ctx, fmt.Sprintf("/%s/api/v1/routes", a.config.ChainName))
		if err != nil {
			return nil, err
		}
		if resp.Code != 0 {
			return nil, upstream.NoRoute("code %d: %s", resp.Code, resp.Message)
		}

		var data routesData
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return nil, fmt.Errorf("decode routes data: %w", err)
		}
		if len(data.RouteSummary) == 0 || string(data.RouteSummary) == "null" {
			return nil, upstream.NoRoute("empty routeSummary")
		}

		var summary routeSummary
		if err := json.Unmarshal(data.RouteSummary, &summary); err != nil {
			return nil, fmt.Errorf("decode routeSummary: %w", err)
		}
		in, err := upstream.ParseAmount("amountIn", summary.AmountIn)
		if err != nil {
			return nil, err
		}
		out, err := upstream.ParseAmount("amountOut", summary.AmountOut)
		if err != nil {
			return nil, err
		}
		if out.Sign() == 0 {
			return nil, upstream.NoRoute("zero amountOut")
		}
		router, err := upstream.ParseAddress("routerAddress", data.RouterAddress)
		if err != nil {
			return nil, err
		}

		return domain.NewRouteQuote(domain.KyberSwap, req, in, out, router, upstream.ParseGas(summary.Gas), data.RouteSummary), nil
	})
}

type buildRequest struct {
	RouteSummary      json.RawMessage `json:"routeSummary"`
	Sender            string          `json:"sender"`
	Recipient         string          `json:"recipient"`
	SlippageTolerance int             `json:"slippageTolerance"`
	Source            string          `json:"source,omitempty"`
}

type buildData struct {
	RouterAddress    string `json:"routerAddress"`
	Data             string `json:"data"`
	TransactionValue string `json:"transactionValue"`
	Gas              string `json:"gas"`
}

// Build calls POST /{chain}/api/v1/route/build.
func (a *Adapter) Build(ctx context.Context, route *domain.RouteQuote, sender, recipient common.Address, slippageBps int) (*domain.BuiltTx, error) {
	return a.up.RunBuild(ctx, route, func(ctx context.Context) (*domain.BuiltTx, error) {
		var resp envelope
		_, err := a.up.Client.NewRequest().
			SetBody(buildRequest{
				RouteSummary:      route.Raw(),
				Sender:            sender.Hex(),
				Recipient:         recipient.Hex(),
				SlippageTolerance: slippageBps,
				Source:            a.config.ClientID,
			}).
			SetResult(&resp).
			Post(ctx, fmt.Sprintf("/%s/api/v1/route/build", a.config.ChainName))
		if err != nil {
			return nil, err
		}
		if resp.Code != 0 {
			return nil, fmt.Errorf("kyberswap build code %d: %s", resp.Code, resp.Message)
		}

		var data buildData
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return nil, fmt.Errorf("decode build data: %w", err)
		}
		to, err := upstream.ParseAddress("routerAddress", data.RouterAddress)
		if err != nil {
			return nil, err
		}
		calldata, err := upstream.ParseCalldata(data.Data)
		if err != nil {
			return nil, err
		}
		value, err := upstream.ParseValue(data.TransactionValue)
		if err != nil {
			return nil, err
		}
		return &domain.BuiltTx{To: to, Data: calldata, Value: value, Gas: upstream.ParseGas(data.Gas)}, nil
	})
}

// KyberSwap returns 4xx with a non-zero code (4008 route not found, 4011 token not found).
func noRouteHandler(status int, body []byte) error {
	if status < http.StatusBadRequest || status >= http.StatusInternalServerError {
		return nil
	}
	var e envelope
	if json.Unmarshal(body, &e) == nil && e.Code != 0 {
		return upstream.NoRoute("code %d: %s", e.Code, e.Message)
	}
	return nil
}
