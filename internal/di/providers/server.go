package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/mediashelf/mediashelf/internal/api"
	"github.com/mediashelf/mediashelf/internal/config"
	"github.com/mediashelf/mediashelf/internal/ratelimit"
	"github.com/mediashelf/mediashelf/internal/service"
	"github.com/mediashelf/mediashelf/internal/transport/network"
)

const (
	// Incoming peer connections allowed per remote address.
	peerConnectRate  = 1.0
	peerConnectBurst = 5
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
	limiter *ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	defer h.limiter.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the local HTTP server. It serves the control
// API and, on the network transport, the peer websocket route.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	transportHandle := do.MustInvoke[*TransportHandle](i)

	services := &api.Services{
		Sync:    do.MustInvoke[*service.SyncService](i),
		Library: do.MustInvoke[*service.LibraryService](i),
	}

	limiter := ratelimit.New(peerConnectRate, peerConnectBurst, ratelimit.DefaultIdleTTL)
	opts := api.Options{
		Version:     cfg.Sync.AppVersion,
		PeerLimiter: limiter,
	}
	if transportHandle.Network != nil {
		opts.Peers = transportHandle.Network
	}

	handler := api.NewServer(services, sseHandle.Manager, opts, log.Logger.Logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv, limiter: limiter}, nil
}

// AdvertiserHandle wraps network.Advertiser with Shutdownable.
type AdvertiserHandle struct {
	*network.Advertiser
	started bool
}

// Shutdown implements do.Shutdownable.
func (h *AdvertiserHandle) Shutdown() error {
	if h.started && h.Advertiser != nil {
		h.Stop()
	}
	return nil
}

// ProvideAdvertiser publishes this device over mDNS when the network
// transport is active and advertising is enabled.
func ProvideAdvertiser(i do.Injector) (*AdvertiserHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)
	transportHandle := do.MustInvoke[*TransportHandle](i)
	deviceID := do.MustInvoke[DeviceID](i)

	if !cfg.Server.AdvertiseMDNS {
		log.Info("mDNS advertisement disabled by configuration")
		return &AdvertiserHandle{}, nil
	}
	if transportHandle.Network == nil {
		log.Info("mDNS advertisement skipped on loopback transport")
		return &AdvertiserHandle{}, nil
	}

	advertiser := network.NewAdvertiser(log.Logger.Logger)

	port := 7420
	if _, err := fmt.Sscanf(cfg.Server.Port, "%d", &port); err != nil {
		log.Warn("Failed to parse server port for mDNS, using default", "port", cfg.Server.Port)
	}

	info := network.DeviceInfo{
		ID:      string(deviceID),
		Name:    cfg.Device.Name,
		Version: cfg.Sync.AppVersion,
	}
	if err := advertiser.Start(info, port); err != nil {
		// Non-fatal: peers can still be reached by address.
		log.Warn("mDNS advertisement unavailable", "error", err)
		return &AdvertiserHandle{Advertiser: advertiser}, nil
	}

	return &AdvertiserHandle{Advertiser: advertiser, started: true}, nil
}
