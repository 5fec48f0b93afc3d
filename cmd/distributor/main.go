// Package main is the entry point for the token distributor.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fd1az/token-distributor/business/aggregator"
	"github.com/fd1az/token-distributor/business/chain"
	"github.com/fd1az/token-distributor/business/distribution"
	distDI "github.com/fd1az/token-distributor/business/distribution/di"
	"github.com/fd1az/token-distributor/business/distribution/domain"
	"github.com/fd1az/token-distributor/internal/apm"
	"github.com/fd1az/token-distributor/internal/config"
	"github.com/fd1az/token-distributor/internal/health"
	"github.com/fd1az/token-distributor/internal/logger"
	"github.com/fd1az/token-distributor/internal/metrics"
	"github.com/fd1az/token-distributor/internal/monolith"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const usage = `usage: distributor [flags] [command]

commands:
  serve        run the queue workers and the HTTP API (default)
  distribute   run one distribution and print the result
               -tx ID -to ADDRESS -amount TARGET [-source-amount USDC]
`

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if *showVersion {
		fmt.Printf("token-distributor %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "", "serve":
		err = serve(ctx, *configPath)
	case "distribute":
		err = distributeOnce(ctx, *configPath, flag.Args()[1:])
	default:
		flag.Usage()
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runtime is the started application shared by both commands.
type runtime struct {
	cfg      *config.Config
	log      *logger.Logger
	mono     monolith.Monolith
	shutdown []func(context.Context) error
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i := len(rt.shutdown) - 1; i >= 0; i-- {
		if err := rt.shutdown[i](ctx); err != nil {
			rt.log.Warn(ctx, "shutdown step failed", "error", err)
		}
	}
}

func start(ctx context.Context, configPath string, withAPI bool) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.API.Enabled = cfg.API.Enabled && withAPI

	out, closeLog := logger.Output(logger.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	log := logger.New(out, logger.ParseLevel(cfg.App.LogLevel), cfg.App.Name, nil)
	rt := &runtime{cfg: cfg, log: log}
	rt.shutdown = append(rt.shutdown, func(context.Context) error { return closeLog() })

	log.Info(ctx, "starting token distributor",
		"version", version,
		"environment", cfg.App.Environment,
	)

	if cfg.Telemetry.Enabled {
		tp, err := apm.NewTraceProvider(log, apm.Provider(cfg.Telemetry.TraceProvider), apm.Settings{
			ServiceName: cfg.Telemetry.ServiceName,
			Endpoint:    cfg.Telemetry.OTLPEndpoint,
			Headers:     cfg.Telemetry.OTLPHeaders,
		})
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
		rt.shutdown = append(rt.shutdown, func(context.Context) error { return tp.Stop() })

		mp, err := metrics.NewMetricProvider(
			metrics.WithServiceName(cfg.Telemetry.ServiceName),
			metrics.WithProviderConfig(metrics.NewPrometheusConfig()),
		)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("failed to init metrics: %w", err)
		}
		rt.shutdown = append(rt.shutdown, mp.Shutdown)

		prom := metrics.NewPrometheusServer(cfg.Telemetry.PrometheusPort)
		go func() {
			if err := prom.Serve(); err != nil {
				log.Error(ctx, "prometheus server failed", "error", err)
			}
		}()
		rt.shutdown = append(rt.shutdown, prom.Shutdown)
		log.Info(ctx, "prometheus metrics server started", "port", cfg.Telemetry.PrometheusPort)
	}

	app, err := monolith.New(ctx, cfg, log)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to create monolith: %w", err)
	}
	rt.mono = app
	rt.shutdown = append(rt.shutdown, func(context.Context) error { return app.Close() })

	// Define modules in dependency order
	modules := []monolith.Module{
		&chain.Module{},        // Must be first - resolves tokens into the asset registry
		&aggregator.Module{},   // Quote/build adapters
		&distribution.Module{}, // Depends on chain and aggregator
	}

	if err := app.RegisterModules(modules...); err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to register modules: %w", err)
	}
	if err := app.StartModules(ctx, modules...); err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to start modules: %w", err)
	}

	sr := app.Services()
	rt.shutdown = append(rt.shutdown, distDI.GetDispatcher(sr).Stop)
	if cfg.API.Enabled {
		rt.shutdown = append(rt.shutdown, distDI.GetAPIServer(sr).Stop)
	}
	return rt, nil
}

func serve(ctx context.Context, configPath string) error {
	rt, err := start(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer rt.close()

	ledger := distDI.GetLedger(rt.mono.Services())
	eth := rt.mono.EthClient()

	healthServer := health.NewServer(rt.cfg.Health.Port, version, rt.log)
	healthServer.RegisterCheck("rpc", func(ctx context.Context) (bool, string) {
		n, err := eth.BlockNumber(ctx)
		if err != nil {
			return false, err.Error()
		}
		return true, fmt.Sprintf("block %d", n)
	})
	healthServer.RegisterCheck("ledger", func(ctx context.Context) (bool, string) {
		if err := ledger.Ping(ctx); err != nil {
			return false, err.Error()
		}
		if n := ledger.Pending(); n > 0 {
			return true, fmt.Sprintf("%d buffered writes", n)
		}
		return true, ""
	})
	healthServer.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		healthServer.Stop(stopCtx)
	}()

	rt.log.Info(ctx, "all modules started, accepting distributions")
	<-ctx.Done()
	rt.log.Info(context.Background(), "shutting down")
	return nil
}

func distributeOnce(ctx context.Context, configPath string, args []string) error {
	fs := flag.NewFlagSet("distribute", flag.ContinueOnError)
	txID := fs.String("tx", "", "Transaction id (idempotency key)")
	to := fs.String("to", "", "Recipient address")
	amount := fs.String("amount", "", "Target token amount")
	sourceAmount := fs.String("source-amount", "", "Stablecoin amount to sell instead of estimating")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := domain.NewDistributionRequest(*txID, *to, *amount, *sourceAmount)
	if err != nil {
		return err
	}

	rt, err := start(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer rt.close()

	result, runErr := distDI.GetOrchestrator(rt.mono.Services()).Distribute(ctx, req)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}
