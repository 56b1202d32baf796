package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/mediashelf/mediashelf/internal/config"
	"github.com/mediashelf/mediashelf/internal/service"
	"github.com/mediashelf/mediashelf/internal/session"
	"github.com/mediashelf/mediashelf/internal/transport"
)

// ProvideLibraryService provides the owner, library and item service.
func ProvideLibraryService(i do.Injector) (*service.LibraryService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*LoggerHandle](i)
	return service.NewLibraryService(storeHandle.RecordStore, log.Logger.Logger), nil
}

// ProvideSyncService provides the sync orchestrator and registers it to
// answer incoming peer sessions.
func ProvideSyncService(i do.Injector) (*service.SyncService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	transportHandle := do.MustInvoke[*TransportHandle](i)
	sess := do.MustInvoke[*session.Session](i)
	libraries := do.MustInvoke[*service.LibraryService](i)

	syncService := service.NewSyncService(
		storeHandle.RecordStore,
		transportHandle.Transport,
		sess,
		libraries,
		service.SyncConfig{
			AppVersion:    cfg.Sync.AppVersion,
			DeviceOwnerID: cfg.Device.OwnerID,
		},
		log.Logger.Logger,
	)

	if acceptor, ok := transportHandle.Transport.(transport.Acceptor); ok {
		err := acceptor.Listen(func(ctx context.Context, ch transport.Channel, peer transport.PeerDevice) {
			if _, err := syncService.Respond(ctx, ch, peer); err != nil {
				log.Warn("Incoming sync ended with error", "peer", peer.Name, "error", err)
			}
		})
		if err != nil {
			return nil, err
		}
	}

	return syncService, nil
}
