// Package monolith provides the application container and module interface.
package monolith

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fd1az/token-distributor/internal/asset"
	"github.com/fd1az/token-distributor/internal/config"
	"github.com/fd1az/token-distributor/internal/di"
	"github.com/fd1az/token-distributor/internal/logger"
)

// Monolith is the shared infrastructure handed to every module.
type Monolith interface {
	Config() *config.Config
	Logger() logger.LoggerInterface
	EthClient() *ethclient.Client
	DB() *gorm.DB
	AssetRegistry() *asset.Registry
	Services() di.ServiceRegistry
}

// Module is a bounded context that registers services and starts up.
type Module interface {
	RegisterServices(di.Container) error
	Startup(context.Context, Monolith) error
}

type app struct {
	config        *config.Config
	logger        logger.LoggerInterface
	ethClient     *ethclient.Client
	db            *gorm.DB
	assetRegistry *asset.Registry
	container     di.Container
}

// New dials the RPC endpoint and opens the ledger database.
func New(ctx context.Context, cfg *config.Config, log logger.LoggerInterface) (*app, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Chain.CallTimeout)
	defer cancel()

	ethClient, err := ethclient.DialContext(dialCtx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	db, err := OpenDB(cfg.Ledger)
	if err != nil {
		ethClient.Close()
		return nil, err
	}

	container := di.NewContainer()
	container.Register("config", cfg)
	container.Register("logger", log)
	container.Register("ethClient", ethClient)
	container.Register("db", db)

	registry := asset.NewRegistry(cfg.Chain.ChainID)
	container.Register("assetRegistry", registry)

	return &app{
		config:        cfg,
		logger:        log,
		ethClient:     ethClient,
		db:            db,
		assetRegistry: registry,
		container:     container,
	}, nil
}

// OpenDB opens the ledger database for the configured driver.
func OpenDB(cfg config.LedgerConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	return db, nil
}

func (a *app) Config() *config.Config         { return a.config }
func (a *app) Logger() logger.LoggerInterface { return a.logger }
func (a *app) EthClient() *ethclient.Client   { return a.ethClient }
func (a *app) DB() *gorm.DB                   { return a.db }
func (a *app) AssetRegistry() *asset.Registry { return a.assetRegistry }
func (a *app) Services() di.ServiceRegistry   { return a.container }

// RegisterModules registers every module's services before any starts.
func (a *app) RegisterModules(modules ...Module) error {
	for _, m := range modules {
		if err := m.RegisterServices(a.container); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) StartModules(ctx context.Context, modules ...Module) error {
	for _, m := range modules {
		if err := m.Startup(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the RPC connection and the database pool.
func (a *app) Close() error {
	if a.ethClient != nil {
		a.ethClient.Close()
	}
	if a.db != nil {
		sqlDB, err := a.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
