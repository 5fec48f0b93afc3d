// Package di contains dependency injection tokens for the chain context.
package di

import (
	"github.com/fd1az/token-distributor/business/chain/app"
	"github.com/fd1az/token-distributor/internal/di"
)

// Public service tokens - exposed to other modules
var (
	ChainService     = di.NewToken[*app.ChainService]("chain.ChainService")
	AllowanceManager = di.NewToken[*app.AllowanceManager]("chain.AllowanceManager")
)

// Private dependency tokens - internal to the chain module
var (
	Node        = di.NewToken[app.Node]("chain:node")
	GasOracle   = di.NewToken[app.GasOracle]("chain:gasOracle")
	PoolAccount = di.NewToken[*app.PoolAccount]("chain:poolAccount")
)

func GetChainService(c di.ServiceRegistry) *app.ChainService {
	return di.GetToken(c, ChainService)
}

func GetAllowanceManager(c di.ServiceRegistry) *app.AllowanceManager {
	return di.GetToken(c, AllowanceManager)
}

func GetNode(c di.ServiceRegistry) app.Node {
	return di.GetToken(c, Node)
}

func GetGasOracle(c di.ServiceRegistry) app.GasOracle {
	return di.GetToken(c, GasOracle)
}

func GetPoolAccount(c di.ServiceRegistry) *app.PoolAccount {
	return di.GetToken(c, PoolAccount)
}
