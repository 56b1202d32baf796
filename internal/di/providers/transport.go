package providers

import (
	"github.com/samber/do/v2"

	"github.com/mediashelf/mediashelf/internal/config"
	"github.com/mediashelf/mediashelf/internal/session"
	"github.com/mediashelf/mediashelf/internal/transport"
	"github.com/mediashelf/mediashelf/internal/transport/memory"
	"github.com/mediashelf/mediashelf/internal/transport/network"
)

// TransportHandle wraps the selected peer transport. Network is nil when the
// loopback transport is in use.
type TransportHandle struct {
	transport.Transport
	Network *network.Transport
	hub     *memory.Hub
}

// Shutdown implements do.Shutdownable.
func (h *TransportHandle) Shutdown() error {
	if h.hub != nil {
		h.hub.Close()
		return nil
	}
	return h.Network.Close()
}

// ProvideTransport selects the peer transport. Auto picks the network
// transport when a multicast interface is up and falls back to loopback.
func ProvideTransport(i do.Injector) (*TransportHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)
	deviceID := do.MustInvoke[DeviceID](i)

	kind := cfg.Transport.Kind
	if kind == config.TransportAuto {
		kind = config.TransportLoopback
		if network.MulticastAvailable() {
			kind = config.TransportNetwork
		}
	}

	if kind == config.TransportLoopback {
		// Loopback keeps the device usable offline. It sees no peers.
		hub := memory.NewHub(cfg.Sync.ChunkSize)
		log.Info("Using loopback transport", "device", cfg.Device.Name)
		return &TransportHandle{Transport: hub.Device(cfg.Device.Name), hub: hub}, nil
	}

	t := network.New(network.Options{
		Self: network.DeviceInfo{
			ID:      string(deviceID),
			Name:    cfg.Device.Name,
			Version: cfg.Sync.AppVersion,
		},
		ChunkSize:       cfg.Sync.ChunkSize,
		ChunksPerSecond: cfg.Sync.ChunksPerSecond,
	}, log.Logger.Logger)

	log.Info("Using network transport",
		"device_id", deviceID,
		"device", cfg.Device.Name,
		"chunk_size", cfg.Sync.ChunkSize,
	)
	return &TransportHandle{Transport: t, Network: t}, nil
}

// ProvideSession provides the single sync session shared by outgoing and
// incoming syncs.
func ProvideSession(i do.Injector) (*session.Session, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)

	retry := transport.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Sync.ConnectAttempts

	return session.New(session.Config{
		ConnectTimeout:   cfg.Sync.ConnectTimeout,
		HandshakeTimeout: cfg.Sync.HandshakeTimeout,
		TransferTimeout:  cfg.Sync.TransferTimeout,
		Retry:            retry,
		Logger:           log.Logger.Logger,
	}), nil
}
