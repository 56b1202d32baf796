// Package session runs one peer sync session: connection, HELLO handshake,
// library selection and the full transfer of both replicas. Reconciling the
// received payload is left to the caller, which then calls Complete.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domainerrors "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/id"
	"github.com/mediashelf/mediashelf/internal/logger"
	"github.com/mediashelf/mediashelf/internal/protocol"
	"github.com/mediashelf/mediashelf/internal/transport"
)

// Default timeouts.
const (
	DefaultConnectTimeout   = 15 * time.Second
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultTransferTimeout  = 60 * time.Second
)

// Config configures a Session.
type Config struct {
	ConnectTimeout   time.Duration // Bound on each connect attempt
	HandshakeTimeout time.Duration // Wait for each handshake message
	TransferTimeout  time.Duration // Idle wait during TRANSFER_ITEMS, reset by every chunk
	Retry            transport.RetryConfig
	Logger           *slog.Logger
}

// Session is the state machine for one sync session at a time. Transitions
// are made by the single goroutine driving the session; Reset and the
// read-only accessors may be called from anywhere.
type Session struct {
	cfg    Config
	logger *slog.Logger

	// commitMu is held while a received payload is applied; Reset waits
	// for it so a session is either aborted before the apply or completed.
	commitMu sync.Mutex

	mu       sync.Mutex
	snap     Snapshot
	gen      uint64 // bumped by Reset and by each new session
	subs     map[int]chan Snapshot
	nextSub  int
	ch       transport.Channel
	inbox    *inbox
	cancel   context.CancelFunc
	group    *errgroup.Group
	runCtx   context.Context
	wireGen  uint64             // generation that owns ch, 0 when detached
	abort    context.CancelFunc // cancels a connect in progress
	abortGen uint64
}

// New creates an idle session.
func New(cfg Config) *Session {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = DefaultTransferTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = transport.DefaultRetryConfig()
	}
	if cfg.Retry.AttemptTimeout <= 0 {
		cfg.Retry.AttemptTimeout = cfg.ConnectTimeout
	}
	s := &Session{
		cfg:    cfg,
		logger: logger.OrDiscard(cfg.Logger),
		subs:   make(map[int]chan Snapshot),
	}
	s.snap = idleSnapshot()
	return s
}

func idleSnapshot() Snapshot {
	return Snapshot{State: StateIdle, Phase: StateIdle.String(), Message: "Ready to sync", UpdatedAt: time.Now()}
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// State returns the current state.
func (s *Session) State() State {
	return s.Snapshot().State
}

// Subscribe returns a stream of snapshots starting with the current one, and
// a function that ends the subscription. A slow subscriber misses
// intermediate snapshots but always receives the latest.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 1)
	ch <- s.snap
	key := s.nextSub
	s.nextSub++
	s.subs[key] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[key]; ok {
				delete(s.subs, key)
				close(ch)
			}
		})
	}
}

// publish must be called with mu held.
func (s *Session) publish() {
	s.snap.UpdatedAt = time.Now()
	for _, ch := range s.subs {
		select {
		case ch <- s.snap:
		default:
			// Replace the stale snapshot the subscriber has not read yet.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s.snap:
			default:
			}
		}
	}
}

// begin starts a new session from Idle. Any other state is BUSY.
func (s *Session) begin(state State, progress int, message string, peer transport.PeerDevice) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.State != StateIdle {
		return 0, domainerrors.Busy("a sync session is already active; reset it first")
	}
	s.gen++
	s.snap = Snapshot{
		SessionID: id.MustGenerate(id.PrefixSession),
		State:     state,
		Phase:     state.String(),
		Message:   message,
		Progress:  progress,
		Peer:      &peer,
	}
	s.publish()
	s.logger.Info("sync session started", "session_id", s.snap.SessionID, "peer", peer.Name, "state", state.String())
	return s.gen, nil
}

// transition moves to state unless the session was reset in the meantime or
// already ended. It reports whether the transition happened.
func (s *Session) transition(gen uint64, state State, progress int, message string, mutate func(*Snapshot)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.snap.State.Terminal() || s.snap.State == StateIdle {
		return false
	}
	s.snap.State = state
	s.snap.Phase = state.String()
	s.snap.Progress = progress
	s.snap.Message = message
	if mutate != nil {
		mutate(&s.snap)
	}
	s.publish()
	return true
}

// report updates the phase, message and progress without changing state.
func (s *Session) report(gen uint64, phase string, progress int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.snap.State.Terminal() || s.snap.State == StateIdle {
		return
	}
	if s.snap.Phase == phase && s.snap.Progress == progress && s.snap.Message == message {
		return
	}
	s.snap.Phase = phase
	s.snap.Progress = progress
	s.snap.Message = message
	s.publish()
}

// Connect opens a channel to peer (retrying failed attempts) and moves the
// session to Handshaking. Each attempt is bounded by the connect timeout and
// Reset aborts the connect. On failure the session is Failed.
func (s *Session) Connect(ctx context.Context, t transport.Transport, peer transport.PeerDevice) error {
	gen, err := s.begin(StateConnecting, progressConnecting, "Connecting to "+peerName(peer), peer)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !s.arm(gen, cancel) {
		return domainerrors.ErrCancelled
	}
	defer s.disarm(gen)

	granted, err := t.RequestPermissions(ctx)
	if err != nil || !granted {
		perr := domainerrors.PermissionDenied("transport permission not granted")
		if err != nil {
			perr = perr.WithCause(err)
		}
		return s.fail(gen, perr)
	}

	ch, err := transport.Connect(ctx, t, peer, s.cfg.Retry)
	if err != nil {
		if ctx.Err() != nil {
			err = domainerrors.Wrap(ctx.Err(), domainerrors.CodeCancelled, "connect cancelled")
		}
		return s.fail(gen, err)
	}

	if err := s.attach(gen, ch); err != nil {
		_ = ch.Close()
		return err
	}
	return nil
}

// Attach starts a session on a channel that is already connected, as the
// accepting side does. The session moves straight to Handshaking.
func (s *Session) Attach(ch transport.Channel, peer transport.PeerDevice) error {
	gen, err := s.begin(StateConnecting, progressConnecting, "Accepting "+peerName(peer), peer)
	if err != nil {
		return err
	}
	return s.attach(gen, ch)
}

// arm registers cancel as the abort for gen's connect.
func (s *Session) arm(gen uint64, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.abort, s.abortGen = cancel, gen
	return true
}

func (s *Session) disarm(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abortGen == gen {
		s.abort, s.abortGen = nil, 0
	}
}

func (s *Session) attach(gen uint64, ch transport.Channel) error {
	s.mu.Lock()
	if gen != s.gen || s.snap.State != StateConnecting {
		s.mu.Unlock()
		return domainerrors.ErrCancelled
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	box := newInbox()

	s.ch = ch
	s.inbox = box
	s.cancel = cancel
	s.group = g
	s.runCtx = gctx
	s.wireGen = gen
	s.mu.Unlock()

	g.Go(func() error { return pump(gctx, ch, box) })

	s.transition(gen, StateHandshaking, progressHandshaking, "Connected, exchanging HELLO", nil)
	return nil
}

// Reconciling marks the transfer as received and the payload being merged.
func (s *Session) Reconciling() {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.report(gen, "reconciling", progressReconciling, "Merging received items")
}

// Active returns CANCELLED once the session that produced remote was reset
// or ended, and nil while it still waits to be completed.
func (s *Session) Active(remote *Remote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(remote.gen)
}

func (s *Session) activeLocked(gen uint64) error {
	if gen != s.gen || s.snap.State != StateTransferring {
		return domainerrors.Wrap(context.Canceled, domainerrors.CodeCancelled, "session was reset")
	}
	return nil
}

// Commit runs apply for the payload in remote and completes the session with
// the summary it returns. Nothing runs when the session was reset first, and
// Reset waits for a commit in progress. An apply error fails the session.
func (s *Session) Commit(remote *Remote, apply func() (protocol.Done, error)) (protocol.Done, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if err := s.Active(remote); err != nil {
		return protocol.Done{}, err
	}
	done, err := apply()
	if err != nil {
		return protocol.Done{}, s.fail(remote.gen, err)
	}
	if err := s.complete(remote.gen, done); err != nil {
		return protocol.Done{}, err
	}
	return done, nil
}

// Complete finishes a session in Transferring with the local summary. The
// summary is also sent to the peer as a courtesy before the channel closes.
func (s *Session) Complete(done protocol.Done) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	gen := s.gen
	state := s.snap.State
	s.mu.Unlock()

	if state != StateTransferring {
		return domainerrors.Internal("cannot complete a session in state " + state.String())
	}
	return s.complete(gen, done)
}

func (s *Session) complete(gen uint64, done protocol.Done) error {
	s.mu.Lock()
	if err := s.activeLocked(gen); err != nil {
		s.mu.Unlock()
		return err
	}
	ch := s.ch
	s.mu.Unlock()

	if ch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := sendMessage(ctx, ch, done); err != nil {
			s.logger.Debug("peer left before DONE", "error", err)
		}
		cancel()
	}

	summary := done
	message := summaryMessage(done)
	if !s.transition(gen, StateDone, progressDone, message, func(snap *Snapshot) { snap.Summary = &summary }) {
		return domainerrors.ErrCancelled
	}
	s.teardown(gen)
	s.logger.Info("sync session complete",
		"added", done.Added,
		"updated", done.Updated,
		"matched", done.Matched,
	)
	return nil
}

// Fail moves a running session to Failed and tears the channel down. It
// returns err, normalised to a coded error, for convenient returns.
func (s *Session) Fail(err error) error {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	return s.fail(gen, err)
}

func (s *Session) fail(gen uint64, err error) error {
	coded := codedError(err)
	code := coded.Code

	failed := s.transition(gen, StateFailed, 0, code.UserMessage(), func(snap *Snapshot) {
		snap.Phase = StateFailed.String()
		snap.ErrorCode = code
		snap.Err = coded
	})
	s.teardown(gen)

	if failed {
		attrs := []any{"code", string(code), "error", coded.Error()}
		if code == domainerrors.CodeMalformedMessage {
			s.logger.Error("sync session failed", append(attrs, "kind", "protocol")...)
		} else {
			s.logger.Warn("sync session failed", attrs...)
		}
	}
	return coded
}

// Reset abandons whatever the session is doing, aborts a connect in
// progress, closes the channel, discards buffered data and returns to Idle.
func (s *Session) Reset() {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	wired := s.wireGen
	abort := s.abort
	s.abort, s.abortGen = nil, 0
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if abort != nil {
		abort()
	}
	s.teardown(wired)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.snap = idleSnapshot()
	s.publish()
	s.logger.Debug("sync session reset")
}

// teardown stops the pump and closes the channel if they still belong to
// gen. A session that was reset and restarted keeps its new channel.
func (s *Session) teardown(gen uint64) {
	s.mu.Lock()
	if s.wireGen == 0 || s.wireGen != gen {
		s.mu.Unlock()
		return
	}
	ch, cancel, g := s.ch, s.cancel, s.group
	s.ch, s.cancel, s.group, s.inbox, s.runCtx = nil, nil, nil, nil, nil
	s.wireGen = 0
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ch != nil {
		_ = ch.Close()
	}
	if g != nil {
		_ = g.Wait()
	}
}

// wire returns the live channel and inbox for gen, or CANCELLED when the
// session was reset.
func (s *Session) wire(gen uint64) (transport.Channel, *inbox, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.wireGen != gen {
		return nil, nil, nil, domainerrors.Wrap(context.Canceled, domainerrors.CodeCancelled, "session was reset")
	}
	return s.ch, s.inbox, s.runCtx, nil
}

func codedError(err error) *domainerrors.Error {
	if err == nil {
		return domainerrors.Internal("session failed without an error")
	}
	var coded *domainerrors.Error
	if domainerrors.As(err, &coded) {
		return coded
	}
	return domainerrors.Wrap(err, domainerrors.CodeInternal, "sync failed")
}

func peerName(p transport.PeerDevice) string {
	switch {
	case p.Name != "":
		return p.Name
	case p.ID != "":
		return p.ID
	default:
		return p.Address
	}
}

func summaryMessage(d protocol.Done) string {
	return fmt.Sprintf("Sync complete: %d added, %d updated, %d unchanged", d.Added, d.Updated, d.Matched)
}
