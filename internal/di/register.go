package di

import "github.com/samber/do/v2"

// RegisterSingletons registers all service providers as singletons.
// Services are registered in dependency order:
// 1. Config (no dependencies)
// 2. Logger (depends on Config)
// 3. Metrics (depends on Config, Logger)
// 4. Limiter (depends on Config, Logger) - follows limit changes on reload
// 5. Breaker (depends on Config, Logger)
// 6. Estimator (depends on Config)
// 7. Sender (depends on Config, Logger)
// 8. Dispatcher (depends on all above services).
func RegisterSingletons(i do.Injector) {
	do.Provide(i, NewConfig)
	do.Provide(i, NewLogger)
	do.Provide(i, NewMetrics)
	do.Provide(i, NewLimiter)
	do.Provide(i, NewBreaker)
	do.Provide(i, NewEstimator)
	do.Provide(i, NewSender)
	do.Provide(i, NewDispatcher)
}
