// Package aggregator implements the quote/build adapters for the swap
// aggregators and orders them for fallback.
package aggregator

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/token-distributor/business/aggregator/app"
	aggDI "github.com/fd1az/token-distributor/business/aggregator/di"
	"github.com/fd1az/token-distributor/business/aggregator/domain"
	"github.com/fd1az/token-distributor/business/aggregator/infra/kyberswap"
	"github.com/fd1az/token-distributor/business/aggregator/infra/odos"
	"github.com/fd1az/token-distributor/business/aggregator/infra/oneinch"
	"github.com/fd1az/token-distributor/business/aggregator/infra/paraswap"
	"github.com/fd1az/token-distributor/business/aggregator/infra/upstream"
	"github.com/fd1az/token-distributor/internal/config"
	"github.com/fd1az/token-distributor/internal/di"
	"github.com/fd1az/token-distributor/internal/logger"
	"github.com/fd1az/token-distributor/internal/monolith"
)

// Module implements the aggregator bounded context.
type Module struct{}

func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, aggDI.Registry, func(sr di.ServiceRegistry) *app.Registry {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		registry, err := NewRegistry(cfg, log)
		if err != nil {
			panic("failed to create aggregator registry: " + err.Error())
		}
		return registry
	})
	return nil
}

func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	registry := aggDI.GetRegistry(mono.Services())

	names := make([]string, 0, len(registry.Ordered()))
	for _, a := range registry.Ordered() {
		names = append(names, string(a.Provider()))
	}
	mono.Logger().Info(ctx, "aggregator module started", "order", names, "preferred", string(registry.Preferred().Provider()))
	return nil
}

// NewRegistry builds the adapters named in aggregators.order.
func NewRegistry(cfg *config.Config, log logger.LoggerInterface) (*app.Registry, error) {
	ac := cfg.Aggregators
	upstreamCfg := func(baseURL string) upstream.Config {
		return upstream.Config{
			BaseURL:           baseURL,
			Timeout:           ac.RequestTimeout,
			RequestsPerMinute: ac.RequestsPerMinute,
		}
	}

	order := make([]domain.Provider, 0, len(ac.Order))
	adapters := make([]app.Adapter, 0, len(ac.Order))
	for _, name := range ac.Order {
		p, err := domain.ParseProvider(name)
		if err != nil {
			return nil, err
		}

		var adapter app.Adapter
		switch p {
		case domain.Paraswap:
			adapter, err = paraswap.New(paraswap.Config{
				Upstream: upstreamCfg(ac.Paraswap.BaseURL),
				ChainID:  cfg.Chain.ChainID,
				Partner:  ac.Paraswap.Partner,
				Version:  ac.Paraswap.Version,
			}, log)
		case domain.KyberSwap:
			adapter, err = kyberswap.New(kyberswap.Config{
				Upstream:  upstreamCfg(ac.KyberSwap.BaseURL),
				ChainName: ac.KyberSwap.ChainName,
				ClientID:  ac.KyberSwap.ClientID,
			}, log)
		case domain.OneInch:
			adapter, err = oneinch.New(oneinch.Config{
				Upstream: upstreamCfg(ac.OneInch.BaseURL),
				ChainID:  cfg.Chain.ChainID,
				APIKey:   ac.OneInch.APIKey,
			}, log)
		case domain.Odos:
			var router common.Address
			if ac.Odos.RouterAddress != "" {
				router = common.HexToAddress(ac.Odos.RouterAddress)
			}
			adapter, err = odos.New(odos.Config{
				Upstream:     upstreamCfg(ac.Odos.BaseURL),
				ChainID:      cfg.Chain.ChainID,
				Router:       router,
				ReferralCode: ac.Odos.ReferralCode,
			}, log)
		}
		if err != nil {
			return nil, fmt.Errorf("%s adapter: %w", p, err)
		}

		order = append(order, p)
		adapters = append(adapters, adapter)
	}

	return app.NewRegistry(order, adapters...)
}
