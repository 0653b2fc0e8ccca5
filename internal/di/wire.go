//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"NeuralRoulette/pkg/config"
	"NeuralRoulette/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(ctx context.Context, cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideRedisCache,
		ProvideCache,
		ProvideLocker,

		// Repositories
		ProvideRecorder,
		ProvidePublisher,
		ProvideHistoryStore,
		ProvideSpinFeed,

		// Domain
		ProvideEncoder,
		ProvideModel,
		ProvideEngine,

		// Use cases
		ProvideSession,
		ProvideSpinCollector,
		ProvideReporter,
		ProvideScheduler,

		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
