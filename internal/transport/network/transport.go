package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	domainerrors "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/http/response"
	"github.com/mediashelf/mediashelf/internal/logger"
	"github.com/mediashelf/mediashelf/internal/protocol"
	"github.com/mediashelf/mediashelf/internal/transport"
)

// Query parameters the dialing side sends with the upgrade request.
const (
	paramChunk   = "chunk"
	paramID      = "id"
	paramName    = "name"
	paramVersion = "version"

	// chunkSizeHeader carries the agreed chunk size back on the upgrade response.
	chunkSizeHeader = "X-Mediashelf-Chunk-Size"
)

// Options configures a network Transport.
type Options struct {
	Self            DeviceInfo
	ChunkSize       int
	ChunksPerSecond float64
	ScanTimeout     time.Duration
	HTTPClient      *http.Client
}

// Transport dials peers over websockets, finds them with mDNS, and accepts
// incoming peers through ServeHTTP.
type Transport struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	open   []*Channel
	accept func(ctx context.Context, ch transport.Channel, peer transport.PeerDevice)

	ctx    context.Context
	cancel context.CancelFunc
}

var (
	_ transport.Transport = (*Transport)(nil)
	_ transport.Acceptor  = (*Transport)(nil)
	_ http.Handler        = (*Transport)(nil)
)

// New creates a network transport.
func New(opts Options, log *slog.Logger) *Transport {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = protocol.DefaultChunkSize
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		opts:   opts,
		logger: logger.OrDiscard(log),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RequestPermissions reports whether a multicast-capable interface is up.
// Without one, discovery cannot work.
func (t *Transport) RequestPermissions(_ context.Context) (bool, error) {
	return MulticastAvailable(), nil
}

// StartScanning browses mDNS for other devices.
func (t *Transport) StartScanning(ctx context.Context) ([]transport.PeerDevice, error) {
	if !MulticastAvailable() {
		return nil, domainerrors.PermissionDenied("no multicast-capable network interface is up")
	}
	peers, err := scan(ctx, t.opts.ScanTimeout, t.opts.Self.ID)
	if err != nil {
		return peers, domainerrors.Wrap(err, domainerrors.CodeConnectionFailed, "scan for peers")
	}
	t.logger.Debug("peer scan finished", "peers", len(peers))
	return peers, nil
}

// Connect dials peer.Address (a ws:// URL or host:port) and negotiates the
// chunk size.
func (t *Transport) Connect(ctx context.Context, peer transport.PeerDevice) (transport.Channel, error) {
	if peer.Address == "" {
		return nil, domainerrors.Validation("peer has no address")
	}

	u, err := url.Parse(PeerURL(peer.Address))
	if err != nil {
		return nil, domainerrors.Validationf("invalid peer address %q", peer.Address)
	}
	q := u.Query()
	q.Set(paramChunk, strconv.Itoa(t.opts.ChunkSize))
	q.Set(paramID, t.opts.Self.ID)
	q.Set(paramName, t.opts.Self.Name)
	q.Set(paramVersion, t.opts.Self.Version)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPClient: t.opts.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}

	chunkSize := t.opts.ChunkSize
	if resp != nil {
		if agreed, err := strconv.Atoi(resp.Header.Get(chunkSizeHeader)); err == nil && agreed > 0 {
			chunkSize = min(chunkSize, agreed)
		}
	}

	ch := NewChannel(conn, chunkSize, t.opts.ChunksPerSecond)
	t.track(ch)
	t.logger.Info("connected to peer", "peer", peer.Name, "address", u.Host, "chunk_size", chunkSize)
	return ch, nil
}

// Disconnect closes every channel opened or accepted by this transport.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	open := t.open
	t.open = nil
	t.mu.Unlock()

	var errs []error
	for _, ch := range open {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close disconnects and cancels sessions accepted through ServeHTTP.
func (t *Transport) Close() error {
	t.cancel()
	return t.Disconnect()
}

// Listen registers the callback for incoming peers.
func (t *Transport) Listen(accept func(ctx context.Context, ch transport.Channel, peer transport.PeerDevice)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accept = accept
	return nil
}

// ServeHTTP upgrades an incoming peer request and runs the accept callback
// for the lifetime of the channel. The chunk size is the smaller of the two
// sides' and is returned to the dialer in a response header.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	accept := t.accept
	t.mu.Unlock()
	if accept == nil {
		response.Error(w, http.StatusServiceUnavailable, domainerrors.CodeConnectionFailed, "not accepting peers", t.logger)
		return
	}

	q := r.URL.Query()
	chunkSize := t.opts.ChunkSize
	if requested, err := strconv.Atoi(q.Get(paramChunk)); err == nil && requested > 0 {
		chunkSize = min(chunkSize, requested)
	}
	w.Header().Set(chunkSizeHeader, strconv.Itoa(chunkSize))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Peers are other devices, not browsers.
	})
	if err != nil {
		t.logger.Warn("peer upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	peer := transport.PeerDevice{
		ID:      q.Get(paramID),
		Name:    q.Get(paramName),
		Version: q.Get(paramVersion),
		Address: r.RemoteAddr,
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer.Address = host
	}

	ch := NewChannel(conn, chunkSize, t.opts.ChunksPerSecond)
	t.track(ch)
	t.logger.Info("peer connected", "peer", peer.Name, "remote", r.RemoteAddr, "chunk_size", chunkSize)

	accept(t.ctx, ch, peer)
	_ = ch.Close()
}

// track keeps ch open until Disconnect; closing ch untracks it.
func (t *Transport) track(ch *Channel) {
	ch.onClose = func() { t.untrack(ch) }
	t.mu.Lock()
	t.open = append(t.open, ch)
	t.mu.Unlock()
}

func (t *Transport) tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

func (t *Transport) untrack(ch *Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range t.open {
		if c == ch {
			t.open = append(t.open[:i], t.open[i+1:]...)
			return
		}
	}
}
