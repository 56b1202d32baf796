// Package network implements the peer transport over the local network:
// chunks travel as binary websocket messages and peers find each other with
// mDNS.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/mediashelf/mediashelf/internal/transport"
)

// Channel is a transport.Channel over one websocket connection.
type Channel struct {
	conn      *websocket.Conn
	chunkSize int
	limiter   *rate.Limiter // nil disables pacing

	closeOnce sync.Once
	closed    chan struct{}
	onClose   func() // set before the channel is shared
}

var _ transport.Channel = (*Channel)(nil)

// NewChannel wraps conn. chunksPerSecond > 0 paces Send with a token bucket.
func NewChannel(conn *websocket.Conn, chunkSize int, chunksPerSecond float64) *Channel {
	conn.SetReadLimit(int64(chunkSize))

	var limiter *rate.Limiter
	if chunksPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(chunksPerSecond), 1)
	}
	return &Channel{
		conn:      conn,
		chunkSize: chunkSize,
		limiter:   limiter,
		closed:    make(chan struct{}),
	}
}

// Send writes chunk as one binary message.
func (c *Channel) Send(ctx context.Context, chunk []byte) error {
	if len(chunk) > c.chunkSize {
		return fmt.Errorf("chunk of %d bytes exceeds chunk size %d", len(chunk), c.chunkSize)
	}
	if c.isClosed() {
		return transport.ErrChannelClosed
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := c.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
		return c.mapError(ctx, err)
	}
	return nil
}

// Receive reads the next binary message. Text messages are a protocol
// violation and close the channel.
func (c *Channel) Receive(ctx context.Context) ([]byte, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, c.mapError(ctx, err)
	}
	if typ != websocket.MessageBinary {
		_ = c.conn.Close(websocket.StatusUnsupportedData, "binary chunks only")
		return nil, errors.New("peer sent a text frame")
	}
	return data, nil
}

// ChunkSize returns the negotiated chunk size.
func (c *Channel) ChunkSize() int { return c.chunkSize }

// Close sends a normal closure. Safe to call more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close(websocket.StatusNormalClosure, "")
		if websocket.CloseStatus(err) != -1 || errors.Is(err, net.ErrClosed) {
			err = nil
		}
		if c.onClose != nil {
			c.onClose()
		}
	})
	return err
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// mapError reports context errors as they are and anything else as a closed
// channel, keeping the cause.
func (c *Channel) mapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %w", transport.ErrChannelClosed, err)
}
