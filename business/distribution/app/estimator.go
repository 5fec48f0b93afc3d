package app

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	aggDomain "github.com/fd1az/token-distributor/business/aggregator/domain"
	"github.com/fd1az/token-distributor/internal/apperror"
	"github.com/fd1az/token-distributor/internal/asset"
	"github.com/fd1az/token-distributor/internal/logger"
)

// Rate is an observed exchange: Source buys Target.
type Rate struct {
	Provider aggDomain.Provider
	Source   asset.Amount
	Target   asset.Amount
}

// SourceFor is the stablecoin needed for target at this rate, rounded up.
func (r Rate) SourceFor(target asset.Amount) (asset.Amount, error) {
	return target.Convert(r.Source, r.Target)
}

// Estimator prices the stablecoin needed for a target amount. Providers
// that can buy exact-out are asked directly; the others are probed with a
// fixed sell and extrapolated linearly.
type Estimator struct {
	providers   Providers
	pair        Pair
	probe       asset.Amount
	slippageBps int
	logger      logger.LoggerInterface
}

func NewEstimator(providers Providers, pair Pair, probe asset.Amount, slippageBps int, log logger.LoggerInterface) *Estimator {
	return &Estimator{
		providers:   providers,
		pair:        pair,
		probe:       probe,
		slippageBps: slippageBps,
		logger:      log,
	}
}

// Estimate returns the first rate obtainable in fallback order. taker is the
// address that will execute the swap.
func (e *Estimator) Estimate(ctx context.Context, target asset.Amount, taker common.Address) (Rate, error) {
	var errs []error
	for _, adapter := range e.providers.Ordered() {
		req := aggDomain.QuoteRequest{
			Source:      e.pair.Source,
			Target:      e.pair.Target,
			Amount:      e.probe.Raw(),
			Mode:        aggDomain.SellExactIn,
			Taker:       taker,
			SlippageBps: e.slippageBps,
		}
		if adapter.Supports(aggDomain.BuyExactOut) {
			req.Amount = target.Raw()
			req.Mode = aggDomain.BuyExactOut
		}

		route, err := adapter.Quote(ctx, req)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if route.AmountIn == nil || route.AmountIn.Sign() <= 0 || route.AmountOut == nil || route.AmountOut.Sign() <= 0 {
			errs = append(errs, apperror.New(apperror.CodeMalformedResponse, apperror.WithContext(string(adapter.Provider())+": empty quote")))
			continue
		}

		rate := Rate{
			Provider: adapter.Provider(),
			Source:   asset.NewAmount(e.pair.Source, route.AmountIn),
			Target:   asset.NewAmount(e.pair.Target, route.AmountOut),
		}
		e.logger.Debug(ctx, "rate estimated",
			"provider", rate.Provider,
			"mode", req.Mode,
			"source", rate.Source.String(),
			"target", rate.Target.String())
		return rate, nil
	}

	return Rate{}, apperror.New(apperror.CodeQuoteUnavailable,
		apperror.WithContext("no provider could price "+target.String()),
		apperror.WithCause(errors.Join(errs...)))
}
