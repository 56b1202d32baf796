package network

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/mediashelf/mediashelf/internal/logger"
	"github.com/mediashelf/mediashelf/internal/transport"
)

const (
	// ServiceType is the mDNS service type MediaShelf devices advertise.
	ServiceType = "_mediashelf._tcp"

	// PeerPath is the HTTP path that upgrades incoming peer connections.
	PeerPath = "/api/v1/sync/peer"
)

// DeviceInfo is what a device advertises about itself.
type DeviceInfo struct {
	ID      string
	Name    string
	Version string
}

func (d DeviceInfo) txtRecords() []string {
	return []string{
		"id=" + d.ID,
		"name=" + d.Name,
		"version=" + d.Version,
	}
}

// Advertiser publishes this device over mDNS.
type Advertiser struct {
	server *mdns.Server
	logger *slog.Logger
	mu     sync.Mutex
}

// NewAdvertiser creates an advertiser. Nothing is published until Start.
func NewAdvertiser(log *slog.Logger) *Advertiser {
	return &Advertiser{logger: logger.OrDiscard(log)}
}

// Start begins advertising the device on port. Restarting replaces the
// previous advertisement. Failures are usually environmental (no multicast
// in containers) and callers may treat them as non-fatal.
func (a *Advertiser) Start(info DeviceInfo, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		_ = a.server.Shutdown()
		a.server = nil
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "mediashelf"
	}
	instance := info.ID
	if instance == "" {
		instance = host
	}

	service, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, nil, info.txtRecords())
	if err != nil {
		return fmt.Errorf("create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("start mDNS server: %w", err)
	}
	a.server = server

	a.logger.Info("mDNS advertisement started",
		"service", ServiceType,
		"port", port,
		"name", info.Name,
		"id", info.ID,
	)
	return nil
}

// Stop stops advertising. Safe to call when not started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		_ = a.server.Shutdown()
		a.server = nil
		a.logger.Info("mDNS advertisement stopped")
	}
}

// scan queries the local network for advertising devices.
func scan(ctx context.Context, timeout time.Duration, selfID string) ([]transport.PeerDevice, error) {
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	queryErr := make(chan error, 1)
	go func() {
		queryErr <- mdns.Query(params)
		close(entries)
	}()

	seen := make(map[string]bool)
	var peers []transport.PeerDevice
	for entry := range entries {
		peer, ok := peerFromEntry(entry)
		if !ok || peer.ID == selfID || seen[peer.ID] {
			continue
		}
		seen[peer.ID] = true
		peers = append(peers, peer)
	}

	if err := <-queryErr; err != nil {
		return peers, fmt.Errorf("mDNS query: %w", err)
	}
	return peers, ctx.Err()
}

// peerFromEntry converts an mDNS answer into a peer, or reports false when
// the answer is not a usable MediaShelf device.
func peerFromEntry(e *mdns.ServiceEntry) (transport.PeerDevice, bool) {
	if e == nil || e.Port == 0 {
		return transport.PeerDevice{}, false
	}
	if !strings.Contains(e.Name, ServiceType) {
		return transport.PeerDevice{}, false
	}

	ip := e.AddrV4
	if ip == nil {
		ip = e.AddrV6
	}
	if ip == nil {
		return transport.PeerDevice{}, false
	}

	txt := parseTXT(e.InfoFields)
	peer := transport.PeerDevice{
		ID:      txt["id"],
		Name:    txt["name"],
		Version: txt["version"],
		Address: PeerURL(net.JoinHostPort(ip.String(), strconv.Itoa(e.Port))),
	}
	if peer.ID == "" {
		peer.ID = e.Name
	}
	if peer.Name == "" {
		peer.Name = e.Host
	}
	return peer, true
}

func parseTXT(fields []string) map[string]string {
	txt := make(map[string]string, len(fields))
	for _, f := range fields {
		if k, v, ok := strings.Cut(f, "="); ok {
			txt[k] = v
		}
	}
	return txt
}

// PeerURL returns the websocket URL for a device listening at hostport.
// A value that already carries a scheme is returned unchanged.
func PeerURL(hostport string) string {
	if strings.HasPrefix(hostport, "ws://") || strings.HasPrefix(hostport, "wss://") {
		return hostport
	}
	return "ws://" + hostport + PeerPath
}
