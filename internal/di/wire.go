//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"SweepTrader/internal/usecase"
	"SweepTrader/pkg/config"
	"SweepTrader/pkg/server"
)

// InitializeApp wires the long-running process: driver, ops API, quote stream
// and trade-close consumers.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		InfraSet,
		EngineSet,

		ProvideDriver,
		ProvideTradeCloseHandler,
		ProvideKafkaConsumer,
		ProvideTradeCloseQueue,

		ProvideSessionsHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return nil, nil, nil
}

// InitializeEngine wires only the state machine, for one-shot commands.
func InitializeEngine(cfg *config.Config) (*usecase.Engine, func(), error) {
	wire.Build(InfraSet, EngineSet)
	return nil, nil, nil
}
