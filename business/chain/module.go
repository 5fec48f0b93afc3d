// Package chain implements the chain bounded context: the pool account,
// ERC-20 reads, allowances and transaction submission.
package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/fd1az/token-distributor/business/chain/app"
	chainDI "github.com/fd1az/token-distributor/business/chain/di"
	"github.com/fd1az/token-distributor/business/chain/domain"
	"github.com/fd1az/token-distributor/business/chain/infra/ethereum"
	"github.com/fd1az/token-distributor/internal/asset"
	"github.com/fd1az/token-distributor/internal/config"
	"github.com/fd1az/token-distributor/internal/di"
	"github.com/fd1az/token-distributor/internal/logger"
	"github.com/fd1az/token-distributor/internal/monolith"
)

// Module implements the chain bounded context.
type Module struct{}

// RegisterServices registers all chain services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, chainDI.Node, func(sr di.ServiceRegistry) app.Node {
		log := sr.Get("logger").(logger.LoggerInterface)
		return ethereum.NewNode(sr.Get("ethClient").(*ethclient.Client), log)
	})

	di.RegisterToken(c, chainDI.GasOracle, func(sr di.ServiceRegistry) app.GasOracle {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		oracle, err := ethereum.NewGasOracle(
			ethereum.DefaultGasOracleConfig(cfg.Chain.MaxFeeGwei),
			sr.Get("ethClient").(*ethclient.Client),
			log,
		)
		if err != nil {
			panic("failed to create gas oracle: " + err.Error())
		}
		return oracle
	})

	di.RegisterToken(c, chainDI.PoolAccount, func(sr di.ServiceRegistry) *app.PoolAccount {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		account, err := domain.NewAccount(cfg.Chain.PrivateKey, cfg.Chain.ChainID)
		if err != nil {
			panic("failed to load pool account: " + err.Error())
		}
		return app.NewPoolAccount(account, chainDI.GetNode(sr), log)
	})

	di.RegisterToken(c, chainDI.ChainService, func(sr di.ServiceRegistry) *app.ChainService {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		svc, err := app.NewChainService(
			chainDI.GetPoolAccount(sr),
			chainDI.GetNode(sr),
			chainDI.GetGasOracle(sr),
			app.Config{
				ReceiptTimeout:   cfg.Chain.ReceiptTimeout,
				PollInterval:     cfg.Chain.ReceiptPollInterval,
				CallTimeout:      cfg.Chain.CallTimeout,
				FallbackGasLimit: cfg.Chain.FallbackGasLimit,
			},
			log,
		)
		if err != nil {
			panic("failed to create chain service: " + err.Error())
		}
		return svc
	})

	di.RegisterToken(c, chainDI.AllowanceManager, func(sr di.ServiceRegistry) *app.AllowanceManager {
		log := sr.Get("logger").(logger.LoggerInterface)
		return app.NewAllowanceManager(chainDI.GetChainService(sr), log)
	})

	return nil
}

// Startup resolves the configured tokens into the asset registry, reading
// decimals on-chain where config leaves them unset.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	cfg := mono.Config()
	log := mono.Logger()
	svc := chainDI.GetChainService(mono.Services())

	for _, tc := range []config.TokenConfig{cfg.Tokens.Source, cfg.Tokens.Target} {
		decimals := tc.Decimals
		if decimals == 0 {
			d, err := svc.Decimals(ctx, tc.AddressHex())
			if err != nil {
				return fmt.Errorf("read decimals of %s: %w", tc.Address, err)
			}
			decimals = d
		}

		token, err := asset.NewToken(cfg.Chain.ChainID, tc.AddressHex(), tc.Symbol, decimals)
		if err != nil {
			return err
		}
		if err := mono.AssetRegistry().Register(token); err != nil {
			return err
		}
	}

	log.Info(ctx, "chain module started",
		"pool", svc.Pool().Address().Hex(),
		"chain_id", cfg.Chain.ChainID,
		"tokens", mono.AssetRegistry().Count())
	return nil
}
