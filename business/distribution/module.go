// Package distribution implements the distribution bounded context: the
// acquisition orchestrator, its work queue, the ledger and the operator API.
package distribution

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	aggDI "github.com/fd1az/token-distributor/business/aggregator/di"
	chainDI "github.com/fd1az/token-distributor/business/chain/di"
	"github.com/fd1az/token-distributor/business/distribution/app"
	distDI "github.com/fd1az/token-distributor/business/distribution/di"
	"github.com/fd1az/token-distributor/business/distribution/domain"
	"github.com/fd1az/token-distributor/business/distribution/infra/api"
	"github.com/fd1az/token-distributor/business/distribution/infra/ledger"
	"github.com/fd1az/token-distributor/internal/asset"
	"github.com/fd1az/token-distributor/internal/config"
	"github.com/fd1az/token-distributor/internal/di"
	"github.com/fd1az/token-distributor/internal/logger"
	"github.com/fd1az/token-distributor/internal/monolith"
)

// Module implements the distribution bounded context.
type Module struct{}

// RegisterServices registers all distribution services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, distDI.Store, func(sr di.ServiceRegistry) *ledger.GormStore {
		log := sr.Get("logger").(logger.LoggerInterface)
		store := ledger.NewGormStore(sr.Get("db").(*gorm.DB), log)
		if err := store.Migrate(context.Background()); err != nil {
			panic("failed to migrate ledger: " + err.Error())
		}
		return store
	})

	di.RegisterToken(c, distDI.Ledger, func(sr di.ServiceRegistry) *ledger.ResilientLedger {
		log := sr.Get("logger").(logger.LoggerInterface)
		return ledger.NewResilientLedger(distDI.GetStore(sr), log)
	})

	di.RegisterToken(c, distDI.Orchestrator, func(sr di.ServiceRegistry) *app.Orchestrator {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		registry := sr.Get("assetRegistry").(*asset.Registry)

		pair := app.Pair{
			Source: registry.MustGet(cfg.Tokens.Source.AddressHex()),
			Target: registry.MustGet(cfg.Tokens.Target.AddressHex()),
		}
		orchCfg, err := OrchestratorConfig(cfg, pair)
		if err != nil {
			panic("invalid distribution config: " + err.Error())
		}

		orch, err := app.NewOrchestrator(
			distDI.GetLedger(sr),
			chainDI.GetChainService(sr),
			chainDI.GetAllowanceManager(sr),
			aggDI.GetRegistry(sr),
			pair,
			orchCfg,
			log,
		)
		if err != nil {
			panic("failed to create orchestrator: " + err.Error())
		}
		return orch
	})

	di.RegisterToken(c, distDI.Dispatcher, func(sr di.ServiceRegistry) *app.Dispatcher {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		return app.NewDispatcher(distDI.GetOrchestrator(sr), cfg.Distribution.Workers, cfg.Distribution.QueueSize, log)
	})

	di.RegisterToken(c, distDI.APIServer, func(sr di.ServiceRegistry) *api.Server {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		return api.NewServer(cfg.API.Port, distDI.GetDispatcher(sr), distDI.GetLedger(sr), log)
	})

	return nil
}

// Startup starts the workers, the ledger flusher and, when enabled, the API.
// Everything stops with ctx except the API server, which the caller shuts down.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	cfg := mono.Config()
	sr := mono.Services()

	orch := distDI.GetOrchestrator(sr)
	l := distDI.GetLedger(sr)
	go l.Run(ctx, cfg.Ledger.FlushInterval)

	distDI.GetDispatcher(sr).Start(ctx)

	if cfg.API.Enabled {
		distDI.GetAPIServer(sr).Start()
	}

	pair := orch.Pair()
	mono.Logger().Info(ctx, "distribution module started",
		"source", pair.Source.Symbol(),
		"target", pair.Target.Symbol(),
		"workers", cfg.Distribution.Workers,
		"api", cfg.API.Enabled)
	return nil
}

// OrchestratorConfig converts the distribution settings for pair.
func OrchestratorConfig(cfg *config.Config, pair app.Pair) (app.Config, error) {
	dc := cfg.Distribution

	parse := func(name, s string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("distribution.%s: %w", name, err)
		}
		return d, nil
	}

	threshold, err := parse("large_order_threshold", dc.LargeOrderThreshold)
	if err != nil {
		return app.Config{}, err
	}
	maxSingle, err := parse("max_single_swap", dc.MaxSingleSwap)
	if err != nil {
		return app.Config{}, err
	}
	ceiling, err := parse("chunk_ceiling", dc.ChunkCeiling)
	if err != nil {
		return app.Config{}, err
	}
	probe, err := asset.ParseString(pair.Source, dc.ProbeAmount)
	if err != nil {
		return app.Config{}, fmt.Errorf("distribution.probe_amount: %w", err)
	}

	return app.Config{
		Policy: domain.Policy{
			BufferBps:           dc.BufferBps,
			LargeOrderBufferBps: dc.LargeOrderBufferBps,
			TopUpBufferBps:      dc.TopUpBufferBps,
			LargeOrderThreshold: threshold,
			MaxSingleSwap:       maxSingle,
			ChunkCeiling:        ceiling,
			MinChunks:           dc.MinChunks,
			MaxChunks:           dc.MaxChunks,
		},
		SettleDelay: dc.SettleDelay,
		SlippageBps: cfg.Aggregators.SlippageBps,
		ProbeAmount: probe,
	}, nil
}
