package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	domainerrors "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/protocol"
	"github.com/mediashelf/mediashelf/internal/transport"
)

// Hub is an in-process rendezvous for devices.
type Hub struct {
	mu        sync.Mutex
	devices   map[string]*Device
	chunkSize int

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub whose pipes use chunkSize (protocol.DefaultChunkSize
// when zero).
func NewHub(chunkSize int) *Hub {
	if chunkSize <= 0 {
		chunkSize = protocol.DefaultChunkSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		devices:   make(map[string]*Device),
		chunkSize: chunkSize,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Device joins the hub under name and returns its transport.
// Joining twice with the same name returns the existing device.
func (h *Hub) Device(name string) *Device {
	h.mu.Lock()
	defer h.mu.Unlock()

	if d, ok := h.devices[name]; ok {
		return d
	}
	d := &Device{hub: h, name: name, granted: true}
	h.devices[name] = d
	return d
}

// Close cancels the contexts handed to accept callbacks and closes every
// open channel.
func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	devices := make([]*Device, 0, len(h.devices))
	for _, d := range h.devices {
		devices = append(devices, d)
	}
	h.mu.Unlock()

	for _, d := range devices {
		_ = d.Disconnect()
	}
}

func (h *Hub) lookup(name string) (*Device, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.devices[name]
	return d, ok
}

// Device is one participant on a Hub. It implements transport.Transport and
// transport.Acceptor.
type Device struct {
	hub  *Hub
	name string

	mu      sync.Mutex
	accept  func(ctx context.Context, ch transport.Channel, peer transport.PeerDevice)
	granted bool
	open    []*End
}

var (
	_ transport.Transport = (*Device)(nil)
	_ transport.Acceptor  = (*Device)(nil)
)

// Name returns the device name peers see.
func (d *Device) Name() string { return d.name }

// SetPermission controls what RequestPermissions reports.
func (d *Device) SetPermission(granted bool) {
	d.mu.Lock()
	d.granted = granted
	d.mu.Unlock()
}

// RequestPermissions reports whether the device may use the transport.
func (d *Device) RequestPermissions(_ context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.granted, nil
}

// Listen registers the callback for incoming connections.
func (d *Device) Listen(accept func(ctx context.Context, ch transport.Channel, peer transport.PeerDevice)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accept = accept
	return nil
}

// StartScanning lists the other listening devices, sorted by name.
func (d *Device) StartScanning(ctx context.Context) ([]transport.PeerDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ok, _ := d.RequestPermissions(ctx); !ok {
		return nil, domainerrors.PermissionDenied("loopback transport not permitted")
	}

	d.hub.mu.Lock()
	defer d.hub.mu.Unlock()

	var peers []transport.PeerDevice
	for name, other := range d.hub.devices {
		if name == d.name || !other.listening() {
			continue
		}
		peers = append(peers, transport.PeerDevice{ID: name, Name: name, Address: "memory://" + name})
	}
	slices.SortFunc(peers, func(a, b transport.PeerDevice) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return peers, nil
}

// Connect opens a pipe to peer and hands the far end to its accept callback.
func (d *Device) Connect(ctx context.Context, peer transport.PeerDevice) (transport.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ok, _ := d.RequestPermissions(ctx); !ok {
		return nil, domainerrors.PermissionDenied("loopback transport not permitted")
	}

	other, ok := d.hub.lookup(peer.ID)
	if !ok || other == d {
		return nil, fmt.Errorf("no device named %q", peer.ID)
	}
	other.mu.Lock()
	accept := other.accept
	other.mu.Unlock()
	if accept == nil {
		return nil, fmt.Errorf("device %q is not accepting connections", peer.ID)
	}

	local, remote := Pipe(d.hub.chunkSize)
	d.track(local)
	other.track(remote)

	go accept(d.hub.ctx, remote, transport.PeerDevice{ID: d.name, Name: d.name, Address: "memory://" + d.name})
	return local, nil
}

// Disconnect closes every channel this device opened or accepted.
func (d *Device) Disconnect() error {
	d.mu.Lock()
	open := d.open
	d.open = nil
	d.mu.Unlock()

	for _, e := range open {
		_ = e.Close()
	}
	return nil
}

func (d *Device) listening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accept != nil
}

// track keeps e open until Disconnect; closing either end untracks it.
func (d *Device) track(e *End) {
	d.mu.Lock()
	d.open = append(d.open, e)
	d.mu.Unlock()
	e.state.onClose(func() { d.untrack(e) })
}

func (d *Device) untrack(e *End) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, open := range d.open {
		if open == e {
			d.open = append(d.open[:i], d.open[i+1:]...)
			return
		}
	}
}

func (d *Device) tracked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.open)
}
