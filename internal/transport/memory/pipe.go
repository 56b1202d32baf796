// Package memory implements an in-process transport. Two devices in the same
// process (tests, the CLI's loopback mode) find and connect to each other
// through a Hub.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mediashelf/mediashelf/internal/transport"
)

// pipeBuffer is the number of chunks that may be in flight per direction.
const pipeBuffer = 64

type pipeState struct {
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	hooks    []func()
	hooksRan bool
}

func (s *pipeState) close() {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		hooks := s.hooks
		s.hooks, s.hooksRan = nil, true
		s.mu.Unlock()
		for _, fn := range hooks {
			fn()
		}
	})
}

// onClose runs fn once the pipe closes, straight away if it already has.
func (s *pipeState) onClose(fn func()) {
	s.mu.Lock()
	if !s.hooksRan {
		s.hooks = append(s.hooks, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// End is one side of a Pipe.
type End struct {
	in        <-chan []byte
	out       chan<- []byte
	chunkSize int
	state     *pipeState
}

var _ transport.Channel = (*End)(nil)

// Pipe returns two connected channel ends. Closing either end closes both;
// chunks already sent can still be received after the close.
func Pipe(chunkSize int) (*End, *End) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	state := &pipeState{closed: make(chan struct{})}
	return &End{in: ba, out: ab, chunkSize: chunkSize, state: state},
		&End{in: ab, out: ba, chunkSize: chunkSize, state: state}
}

// Send copies chunk to the peer.
func (e *End) Send(ctx context.Context, chunk []byte) error {
	if len(chunk) > e.chunkSize {
		return fmt.Errorf("chunk of %d bytes exceeds chunk size %d", len(chunk), e.chunkSize)
	}
	select {
	case <-e.state.closed:
		return transport.ErrChannelClosed
	default:
	}

	buf := append([]byte(nil), chunk...)
	select {
	case e.out <- buf:
		return nil
	case <-e.state.closed:
		return transport.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next chunk, draining buffered chunks before reporting
// a close.
func (e *End) Receive(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-e.in:
		return chunk, nil
	default:
	}

	select {
	case chunk := <-e.in:
		return chunk, nil
	case <-e.state.closed:
		select {
		case chunk := <-e.in:
			return chunk, nil
		default:
			return nil, transport.ErrChannelClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ChunkSize returns the pipe's chunk size.
func (e *End) ChunkSize() int { return e.chunkSize }

// Close closes both ends.
func (e *End) Close() error {
	e.state.close()
	return nil
}
