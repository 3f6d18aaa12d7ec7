// Package di provides dependency injection configuration for the Stacks server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/stacksapp/stacks-server/internal/auth"
	"github.com/stacksapp/stacks-server/internal/config"
	"github.com/stacksapp/stacks-server/internal/di/providers"
	"github.com/stacksapp/stacks-server/internal/enrich"
	"github.com/stacksapp/stacks-server/internal/logger"
	"github.com/stacksapp/stacks-server/internal/progress"
	"github.com/stacksapp/stacks-server/internal/sse"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideAuthKey)
	do.Provide(injector, providers.ProvideTokenService)

	// Job store
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideJanitor)

	// Progress channel
	do.Provide(injector, providers.ProvideHub)
	do.Provide(injector, providers.ProvideTransport)
	do.Provide(injector, providers.ProvideSSEHandler)

	// Metadata providers and resolution
	do.Provide(injector, providers.ProvideOpenLibraryClient)
	do.Provide(injector, providers.ProvideGoogleBooksClient)
	do.Provide(injector, providers.ProvideResolver)
	do.Provide(injector, providers.ProvideOrchestrator)

	// Server
	do.Provide(injector, providers.ProvideRateLimiter)
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and returns handles for lifecycle management.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	// Invoke core services to trigger initialization
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[providers.AuthKey](injector)
	_ = do.MustInvoke[*auth.TokenService](injector)

	// Job store
	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*providers.JanitorHandle](injector)

	// Progress channel
	_ = do.MustInvoke[*progress.Hub](injector)
	_ = do.MustInvoke[progress.Transport](injector)
	_ = do.MustInvoke[*sse.Handler](injector)

	// Metadata providers and resolution
	_ = do.MustInvoke[*providers.OpenLibraryClientHandle](injector)
	_ = do.MustInvoke[*providers.GoogleBooksClientHandle](injector)
	_ = do.MustInvoke[*enrich.Resolver](injector)
	_ = do.MustInvoke[*providers.OrchestratorHandle](injector)

	// Server
	_ = do.MustInvoke[*providers.RateLimiterHandle](injector)
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	return nil
}
