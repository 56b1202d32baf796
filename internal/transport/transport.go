// Package transport defines the message channel and peer transport the sync
// session runs over. Implementations live in the memory and network
// subpackages.
package transport

import (
	"context"
	"errors"
)

// ErrChannelClosed is returned by Send and Receive once either end has
// closed the channel.
var ErrChannelClosed = errors.New("channel closed")

// PeerDevice is a peer found by scanning.
type PeerDevice struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	RSSI    int    `json:"rssi,omitempty"` // Signal strength, when the medium has one
	Version string `json:"version,omitempty"`
}

// Channel is an ordered, reliable, chunked byte pipe between two connected
// peers.
type Channel interface {
	// Send transmits one chunk. Chunks larger than ChunkSize are rejected.
	Send(ctx context.Context, chunk []byte) error

	// Receive blocks for the next chunk.
	Receive(ctx context.Context) ([]byte, error)

	// ChunkSize is the negotiated maximum chunk length.
	ChunkSize() int

	// Close releases the channel. Safe to call more than once.
	Close() error
}

// Transport discovers peers and opens channels to them.
type Transport interface {
	RequestPermissions(ctx context.Context) (bool, error)
	StartScanning(ctx context.Context) ([]PeerDevice, error)
	Connect(ctx context.Context, peer PeerDevice) (Channel, error)
	Disconnect() error
}

// Acceptor is implemented by transports that can also receive sessions.
// accept is called with every incoming channel and owns it.
type Acceptor interface {
	Listen(accept func(ctx context.Context, ch Channel, peer PeerDevice)) error
}
