// Package di contains dependency injection tokens for the distribution context.
package di

import (
	"github.com/fd1az/token-distributor/business/distribution/app"
	"github.com/fd1az/token-distributor/business/distribution/infra/api"
	"github.com/fd1az/token-distributor/business/distribution/infra/ledger"
	"github.com/fd1az/token-distributor/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Orchestrator = di.NewToken[*app.Orchestrator]("distribution.Orchestrator")
	Dispatcher   = di.NewToken[*app.Dispatcher]("distribution.Dispatcher")
	Ledger       = di.NewToken[*ledger.ResilientLedger]("distribution.Ledger")
	APIServer    = di.NewToken[*api.Server]("distribution.APIServer")
)

// Private dependency tokens - internal to the distribution module
var (
	Store = di.NewToken[*ledger.GormStore]("distribution:store")
)

func GetOrchestrator(c di.ServiceRegistry) *app.Orchestrator {
	return di.GetToken(c, Orchestrator)
}

func GetDispatcher(c di.ServiceRegistry) *app.Dispatcher {
	return di.GetToken(c, Dispatcher)
}

func GetLedger(c di.ServiceRegistry) *ledger.ResilientLedger {
	return di.GetToken(c, Ledger)
}

func GetAPIServer(c di.ServiceRegistry) *api.Server {
	return di.GetToken(c, APIServer)
}

func GetStore(c di.ServiceRegistry) *ledger.GormStore {
	return di.GetToken(c, Store)
}
