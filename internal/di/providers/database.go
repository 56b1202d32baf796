package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/do/v2"

	"github.com/mediashelf/mediashelf/internal/config"
	"github.com/mediashelf/mediashelf/internal/id"
	"github.com/mediashelf/mediashelf/internal/session"
	"github.com/mediashelf/mediashelf/internal/sse"
	"github.com/mediashelf/mediashelf/internal/store"
	"github.com/mediashelf/mediashelf/internal/store/sqlite"
)

// SSEManagerHandle ties the event stream to the session follower goroutine.
type SSEManagerHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SSEManagerHandle) Shutdown() error {
	h.cancel()
	h.Close()
	return nil
}

// ProvideSSEManager provides the event stream, following the sync session.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	log := do.MustInvoke[*LoggerHandle](i)
	sess := do.MustInvoke[*session.Session](i)

	manager := sse.NewManager(log.Logger.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Follow(ctx, sess)

	return &SSEManagerHandle{
		Manager: manager,
		cancel:  cancel,
	}, nil
}

// StoreHandle wraps the record store with shutdown capability.
type StoreHandle struct {
	store.RecordStore
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore opens the configured record store backend.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)

	if err := os.MkdirAll(cfg.Store.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	path := cfg.StoreFile()
	var (
		db  store.RecordStore
		err error
	)
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		db, err = sqlite.Open(path, log.Logger.Logger)
	default:
		db, err = store.New(path, log.Logger.Logger)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Store initialized", "backend", cfg.Store.Backend, "path", path)

	return &StoreHandle{RecordStore: db}, nil
}

// DeviceID is the stable identifier this device advertises to peers.
type DeviceID string

// ProvideDeviceID loads the device id from the data directory, creating it on
// first run.
func ProvideDeviceID(i do.Injector) (DeviceID, error) {
	cfg := do.MustInvoke[*config.Config](i)

	path := filepath.Join(cfg.Store.Path, "device-id")
	data, err := os.ReadFile(path)
	if err == nil {
		if existing := strings.TrimSpace(string(data)); existing != "" {
			return DeviceID(existing), nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	deviceID, err := id.Generate(id.PrefixDevice)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfg.Store.Path, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(deviceID+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write device id: %w", err)
	}
	return DeviceID(deviceID), nil
}
