// Package di provides dependency injection configuration for the MediaShelf device.
package di

import (
	"github.com/samber/do/v2"

	"github.com/mediashelf/mediashelf/internal/config"
	"github.com/mediashelf/mediashelf/internal/di/providers"
	"github.com/mediashelf/mediashelf/internal/service"
	"github.com/mediashelf/mediashelf/internal/session"
)

// NewContainer creates and configures the DI container with all providers.
// Services are built lazily, so commands that only touch the store never
// open the transport or the HTTP listener.
func NewContainer(cfg *config.Config) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.ProvideValue(injector, cfg)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideDeviceID)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)

	// Sync layer
	do.Provide(injector, providers.ProvideTransport)
	do.Provide(injector, providers.ProvideSession)
	do.Provide(injector, providers.ProvideSSEManager)

	// Business services
	do.Provide(injector, providers.ProvideLibraryService)
	do.Provide(injector, providers.ProvideSyncService)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)
	do.Provide(injector, providers.ProvideAdvertiser)

	return injector
}

// Bootstrap initializes everything a serving device needs.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.LoggerHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*session.Session](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.SSEManagerHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*service.LibraryService](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*service.SyncService](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.HTTPServerHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.AdvertiserHandle](injector); err != nil {
		return err
	}
	return nil
}
