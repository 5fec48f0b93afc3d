// Package di contains dependency injection tokens for the aggregator context.
package di

import (
	"github.com/fd1az/token-distributor/business/aggregator/app"
	"github.com/fd1az/token-distributor/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Registry = di.NewToken[*app.Registry]("aggregator.Registry")
)

func GetRegistry(c di.ServiceRegistry) *app.Registry {
	return di.GetToken(c, Registry)
}
