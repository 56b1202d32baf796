package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	domainerrors "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/protocol"
	"github.com/mediashelf/mediashelf/internal/transport"
	"github.com/mediashelf/mediashelf/internal/validation"
)

// Local is what this device brings to a session.
type Local struct {
	Hello     protocol.Hello
	Libraries []protocol.LibraryInfo

	// SharedGroupID is the library chosen before connecting. The accepting
	// side leaves it empty and follows the peer's selection.
	SharedGroupID string

	// Prepare returns the records to push once the group is agreed. An error
	// fails the session; return a LIBRARY_MISMATCH error when this device
	// holds no library for the group.
	Prepare func(ctx context.Context, sharedGroupID string) (protocol.TransferItems, error)
}

// Remote is what the peer sent during a session.
type Remote struct {
	Hello         protocol.Hello
	Libraries     []protocol.LibraryInfo
	SharedGroupID string
	Diff          *protocol.DiffSummary
	Payload       protocol.TransferItems

	gen uint64 // session generation that received the payload
}

// Exchange runs the handshake, selection and transfer phases on an attached
// session and returns the peer's payload. The session is left in
// Transferring for the caller to reconcile and Complete, or in Failed.
func (s *Session) Exchange(ctx context.Context, local Local) (*Remote, error) {
	s.mu.Lock()
	gen := s.gen
	state := s.snap.State
	s.mu.Unlock()

	if state != StateHandshaking {
		return nil, domainerrors.Internal("exchange requires a connected session, state is " + state.String())
	}
	if local.Prepare == nil {
		return nil, s.fail(gen, domainerrors.Internal("session has no payload source"))
	}

	remote, err := s.exchange(ctx, gen, local)
	if err != nil {
		return nil, s.fail(gen, s.classify(ctx, gen, err))
	}
	return remote, nil
}

func (s *Session) exchange(ctx context.Context, gen uint64, local Local) (*Remote, error) {
	ch, box, runCtx, err := s.wire(gen)
	if err != nil {
		return nil, err
	}
	// Stop waiting when either the caller gives up or the session is reset.
	ctx, cancel := mergeCancel(ctx, runCtx)
	defer cancel()

	remote := &Remote{gen: gen}
	w := &waiter{box: box, remote: remote}

	// HELLO
	if err := sendMessage(ctx, ch, local.Hello); err != nil {
		return nil, err
	}
	msg, err := w.await(ctx, protocol.TypeHello, s.cfg.HandshakeTimeout, false, nil)
	if err != nil {
		return nil, err
	}
	remote.Hello = msg.(protocol.Hello)
	if !Compatible(local.Hello.AppVersion, remote.Hello.AppVersion) {
		return nil, domainerrors.IncompatiblePeerf("peer runs version %s, this device runs %s",
			remote.Hello.AppVersion, local.Hello.AppVersion)
	}
	s.transition(gen, StateHandshaking, progressHandshakeDone, "Handshake complete with "+displayName(remote.Hello), func(snap *Snapshot) {
		snap.PeerOwner = remote.Hello.DisplayName
	})

	// LIST_LIBRARIES is informational; the peer's copy is picked up while
	// waiting for later messages.
	if err := sendMessage(ctx, ch, protocol.ListLibraries{Libraries: local.Libraries}); err != nil {
		return nil, err
	}

	// SELECT_LIBRARY
	groupID, payload, err := s.selectLibrary(ctx, ch, w, local)
	if err != nil {
		return nil, err
	}
	remote.SharedGroupID = groupID
	s.transition(gen, StateLibrarySelected, progressSelected, "Shared library selected", func(snap *Snapshot) {
		snap.SharedGroupID = groupID
	})

	if payload == nil {
		p, err := local.Prepare(ctx, groupID)
		if err != nil {
			return nil, err
		}
		payload = &p
	}

	// DIFF_SUMMARY is informational.
	diff := protocol.DiffSummary{ItemsToSend: len(payload.Items), ItemsToReceive: peerItemCount(remote.Libraries, groupID)}
	if err := sendMessage(ctx, ch, diff); err != nil {
		return nil, err
	}

	// TRANSFER_ITEMS: the peer's pump keeps draining while we push, so both
	// sides can send their full payload at once.
	s.transition(gen, StateTransferring, progressTransferStart, fmt.Sprintf("Sending %d items", len(payload.Items)), nil)
	if err := sendMessage(ctx, ch, *payload); err != nil {
		return nil, err
	}

	onChunk := func(received, expected int) {
		if expected <= 0 {
			return
		}
		pct := progressTransferStart + (progressTransferEnd-progressTransferStart)*received/expected
		s.report(gen, StateTransferring.String(), min(pct, progressTransferEnd), fmt.Sprintf("Receiving items (%d/%d bytes)", received, expected))
	}
	msg, err = w.await(ctx, protocol.TypeTransferItems, s.cfg.TransferTimeout, true, onChunk)
	if err != nil {
		return nil, err
	}
	remote.Payload = msg.(protocol.TransferItems)
	s.report(gen, StateTransferring.String(), progressTransferEnd,
		fmt.Sprintf("Received %d items and %d owners", len(remote.Payload.Items), len(remote.Payload.Owners)))

	return remote, nil
}

// selectLibrary agrees on the shared group. The initiating side sends its
// choice and expects the peer to echo it. The accepting side resolves the
// peer's choice to a local library first, so a mismatch is reported before
// anything is echoed; its payload is returned alongside the group.
func (s *Session) selectLibrary(ctx context.Context, ch transport.Channel, w *waiter, local Local) (string, *protocol.TransferItems, error) {
	if local.SharedGroupID != "" {
		if err := sendMessage(ctx, ch, protocol.SelectLibrary{SharedGroupID: local.SharedGroupID}); err != nil {
			return "", nil, err
		}
		msg, err := w.await(ctx, protocol.TypeSelectLibrary, s.cfg.HandshakeTimeout, false, nil)
		if err != nil {
			// A peer without the group hangs up; its library list says why.
			if errors.Is(err, transport.ErrChannelClosed) && w.sawLibraries && !hasGroup(w.remote.Libraries, local.SharedGroupID) {
				return "", nil, domainerrors.LibraryMismatchf("peer has no library for shared group %s", local.SharedGroupID).WithCause(err)
			}
			return "", nil, err
		}
		if got := msg.(protocol.SelectLibrary).SharedGroupID; got != local.SharedGroupID {
			return "", nil, domainerrors.LibraryMismatchf("peer selected shared group %s, expected %s", got, local.SharedGroupID)
		}
		return local.SharedGroupID, nil, nil
	}

	msg, err := w.await(ctx, protocol.TypeSelectLibrary, s.cfg.HandshakeTimeout, false, nil)
	if err != nil {
		return "", nil, err
	}
	groupID := msg.(protocol.SelectLibrary).SharedGroupID
	payload, err := local.Prepare(ctx, groupID)
	if err != nil {
		return "", nil, err
	}
	if err := sendMessage(ctx, ch, protocol.SelectLibrary{SharedGroupID: groupID}); err != nil {
		return "", nil, err
	}
	return groupID, &payload, nil
}

// classify turns low-level failures into the sync error taxonomy.
func (s *Session) classify(ctx context.Context, gen uint64, err error) error {
	var coded *domainerrors.Error
	if errors.As(err, &coded) {
		return err
	}

	s.mu.Lock()
	reset := gen != s.gen
	s.mu.Unlock()

	switch {
	case reset || errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return domainerrors.Wrap(err, domainerrors.CodeCancelled, "sync cancelled")
	case errors.Is(err, transport.ErrChannelClosed):
		return domainerrors.Wrap(err, domainerrors.CodeConnectionLost, "peer disconnected")
	case errors.Is(err, context.DeadlineExceeded):
		return domainerrors.Wrap(err, domainerrors.CodeTimeout, "sync timed out")
	default:
		return domainerrors.Wrap(err, domainerrors.CodeConnectionLost, "channel failed")
	}
}

// Compatible reports whether two app versions share a semantic major version.
// Invalid versions are never compatible.
func Compatible(local, remote string) bool {
	if !validation.IsSemver(local) || !validation.IsSemver(remote) {
		return false
	}
	return semver.Major("v"+local) == semver.Major("v"+remote)
}

func sendMessage(ctx context.Context, ch transport.Channel, msg protocol.Message) error {
	chunks, err := protocol.Encode(msg, ch.ChunkSize())
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := ch.Send(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func hasGroup(libs []protocol.LibraryInfo, groupID string) bool {
	return slices.ContainsFunc(libs, func(l protocol.LibraryInfo) bool { return l.SharedGroupID == groupID })
}

func peerItemCount(libs []protocol.LibraryInfo, groupID string) int {
	for _, l := range libs {
		if l.SharedGroupID == groupID {
			return l.ItemCount
		}
	}
	return 0
}

func displayName(h protocol.Hello) string {
	if h.DisplayName != "" {
		return h.DisplayName
	}
	return h.OwnerID
}

// mergeCancel returns a context cancelled when either parent is.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(other, func() { cancel(context.Cause(other)) })
	return merged, func() {
		stop()
		cancel(context.Canceled)
	}
}

// inbox buffers everything the pump reads so the pump never blocks on the
// session goroutine.
type inbox struct {
	mu       sync.Mutex
	msgs     []protocol.Message
	err      error
	chunks   int // total chunks received, for idle timeouts
	received int
	expected int
	notify   chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (b *inbox) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// pump reads chunks until the channel fails, reassembling messages into box.
func pump(ctx context.Context, ch transport.Channel, box *inbox) error {
	var asm protocol.Assembler
	for {
		chunk, err := ch.Receive(ctx)
		if err != nil {
			box.mu.Lock()
			box.err = err
			box.mu.Unlock()
			box.signal()
			return err
		}

		msgs, err := asm.Feed(chunk)
		received, expected := asm.Progress()

		box.mu.Lock()
		box.chunks++
		box.received, box.expected = received, expected
		box.msgs = append(box.msgs, msgs...)
		if err != nil {
			box.err = err
		}
		box.mu.Unlock()
		box.signal()

		if err != nil {
			return err
		}
	}
}

type waiter struct {
	box          *inbox
	remote       *Remote
	sawLibraries bool
}

// await returns the next message of type want. Informational messages met on
// the way are recorded on the remote; any other message is a protocol
// violation. With idle set, every received chunk restarts the timeout.
func (w *waiter) await(ctx context.Context, want protocol.MessageType, timeout time.Duration, idle bool, onChunk func(received, expected int)) (protocol.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	lastChunks := -1
	for {
		w.box.mu.Lock()
		var msg protocol.Message
		if len(w.box.msgs) > 0 {
			msg = w.box.msgs[0]
			w.box.msgs = w.box.msgs[1:]
		}
		boxErr := w.box.err
		chunks, received, expected := w.box.chunks, w.box.received, w.box.expected
		w.box.mu.Unlock()

		if msg != nil {
			switch m := msg.(type) {
			case protocol.ListLibraries:
				w.remote.Libraries = m.Libraries
				w.sawLibraries = true
				continue
			case protocol.DiffSummary:
				w.remote.Diff = &m
				continue
			case protocol.Done:
				continue
			}
			if msg.Type() != want {
				return nil, domainerrors.MalformedMessagef("unexpected %s while waiting for %s", msg.Type(), want)
			}
			return msg, nil
		}
		if boxErr != nil {
			return nil, boxErr
		}

		if chunks != lastChunks {
			if idle && lastChunks >= 0 {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(timeout)
			}
			if onChunk != nil && lastChunks >= 0 {
				onChunk(received, expected)
			}
			lastChunks = chunks
		}

		select {
		case <-w.box.notify:
		case <-timer.C:
			return nil, domainerrors.Timeoutf("no %s from peer within %s", want, timeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
