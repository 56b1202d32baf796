package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediashelf/mediashelf/internal/domain"
	domainerrors "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/protocol"
	"github.com/mediashelf/mediashelf/internal/transport"
	"github.com/mediashelf/mediashelf/internal/transport/memory"
)

var feb = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func payload(ids ...string) protocol.TransferItems {
	p := protocol.TransferItems{Owners: []domain.Owner{{OwnerID: "ana", DisplayName: "Ana"}}}
	for _, id := range ids {
		p.Items = append(p.Items, domain.CollectionItem{
			ItemID:        id,
			LibraryID:     "lib-x",
			SharedGroupID: domain.GroupRef("G"),
			OwnerID:       "ana",
			WorkType:      domain.WorkTypeMovie,
			Title:         "Dune " + id,
			Format:        domain.FormatDVD,
			Timestamps:    domain.Timestamps{CreatedAt: feb, UpdatedAt: feb},
		})
	}
	return p
}

func local(owner, version, group string, groups []string, p protocol.TransferItems) Local {
	var libs []protocol.LibraryInfo
	for _, g := range groups {
		libs = append(libs, protocol.LibraryInfo{SharedGroupID: g, Name: "Films", ItemCount: len(p.Items)})
	}
	return Local{
		Hello:         protocol.Hello{OwnerID: owner, DisplayName: owner, AppVersion: version},
		Libraries:     libs,
		SharedGroupID: group,
		Prepare: func(_ context.Context, groupID string) (protocol.TransferItems, error) {
			for _, g := range groups {
				if g == groupID {
					return p, nil
				}
			}
			return protocol.TransferItems{}, domainerrors.LibraryMismatchf("no library for %s", groupID)
		},
	}
}

func fastConfig() Config {
	return Config{HandshakeTimeout: 2 * time.Second, TransferTimeout: 2 * time.Second}
}

type outcome struct {
	remote *Remote
	err    error
}

// runPair runs an initiating and an accepting session against each other.
func runPair(t *testing.T, chunkSize int, a, b Local) (*Session, outcome, *Session, outcome) {
	t.Helper()
	chA, chB := memory.Pipe(chunkSize)

	sa, sb := New(fastConfig()), New(fastConfig())
	require.NoError(t, sa.Attach(chA, transport.PeerDevice{ID: "b", Name: "Den"}))
	require.NoError(t, sb.Attach(chB, transport.PeerDevice{ID: "a", Name: "Living Room"}))

	var wg sync.WaitGroup
	var oa, ob outcome
	wg.Add(2)
	go func() {
		defer wg.Done()
		oa.remote, oa.err = sa.Exchange(context.Background(), a)
	}()
	go func() {
		defer wg.Done()
		ob.remote, ob.err = sb.Exchange(context.Background(), b)
	}()
	wg.Wait()
	return sa, oa, sb, ob
}

func TestExchange_FullPushBothWays(t *testing.T) {
	for _, chunkSize := range []int{64, 512, 1 << 16} {
		pa := payload("x1", "x2")
		pb := payload("y1", "y2", "y3")

		sa, oa, sb, ob := runPair(t, chunkSize,
			local("ana", "1.0.0", "G", []string{"G"}, pa),
			local("ben", "1.4.2", "", []string{"G", "H"}, pb),
		)
		require.NoError(t, oa.err)
		require.NoError(t, ob.err)

		assert.Equal(t, pb, oa.remote.Payload)
		assert.Equal(t, pa, ob.remote.Payload)
		assert.Equal(t, "G", oa.remote.SharedGroupID)
		assert.Equal(t, "G", ob.remote.SharedGroupID)
		assert.Equal(t, "ben", oa.remote.Hello.OwnerID)
		assert.Len(t, oa.remote.Libraries, 2)
		require.NotNil(t, oa.remote.Diff)
		assert.Equal(t, 3, oa.remote.Diff.ItemsToSend)

		snap := sa.Snapshot()
		assert.Equal(t, StateTransferring, snap.State)
		assert.Equal(t, progressTransferEnd, snap.Progress)
		assert.Equal(t, "G", snap.SharedGroupID)
		assert.Equal(t, "ben", snap.PeerOwner)

		sa.Reconciling()
		assert.Equal(t, progressReconciling, sa.Snapshot().Progress)

		require.NoError(t, sa.Complete(protocol.Done{Added: 3}))
		require.NoError(t, sb.Complete(protocol.Done{Added: 2}))

		snap = sa.Snapshot()
		assert.Equal(t, StateDone, snap.State)
		assert.Equal(t, 100, snap.Progress)
		assert.Equal(t, &protocol.Done{Added: 3}, snap.Summary)
	}
}

func TestExchange_IncompatibleVersions(t *testing.T) {
	sa, oa, sb, ob := runPair(t, 512,
		local("ana", "1.0.0", "G", []string{"G"}, payload()),
		local("ben", "2.0.0", "", []string{"G"}, payload()),
	)

	assert.ErrorIs(t, oa.err, domainerrors.ErrIncompatiblePeer)
	assert.ErrorIs(t, ob.err, domainerrors.ErrIncompatiblePeer)
	assert.Equal(t, StateFailed, sa.State())
	assert.Equal(t, StateFailed, sb.State())
	assert.Equal(t, domainerrors.CodeIncompatiblePeer, sa.Snapshot().ErrorCode)
	assert.Zero(t, sa.Snapshot().Progress)
}

func TestExchange_LibraryMismatch(t *testing.T) {
	sa, oa, _, ob := runPair(t, 512,
		local("ana", "1.0.0", "G", []string{"G"}, payload("x1")),
		local("ben", "1.0.0", "", []string{"H"}, payload("y1")),
	)

	assert.ErrorIs(t, ob.err, domainerrors.ErrLibraryMismatch)
	assert.ErrorIs(t, oa.err, domainerrors.ErrLibraryMismatch)
	assert.Equal(t, StateFailed, sa.State())
}

func TestExchange_HandshakeTimeout(t *testing.T) {
	chA, _ := memory.Pipe(512)
	s := New(Config{HandshakeTimeout: 50 * time.Millisecond})
	require.NoError(t, s.Attach(chA, transport.PeerDevice{Name: "silent"}))

	_, err := s.Exchange(context.Background(), local("ana", "1.0.0", "G", []string{"G"}, payload()))
	assert.ErrorIs(t, err, domainerrors.ErrTimeout)
	assert.Equal(t, StateFailed, s.State())
}

// rawPeer scripts the far end of a pipe by hand.
type rawPeer struct {
	t  *testing.T
	ch *memory.End
}

func (p rawPeer) send(msg protocol.Message) {
	p.t.Helper()
	require.NoError(p.t, sendMessage(context.Background(), p.ch, msg))
}

func (p rawPeer) handshake(group string) {
	p.send(protocol.Hello{OwnerID: "ben", AppVersion: "1.0.0"})
	p.send(protocol.ListLibraries{Libraries: []protocol.LibraryInfo{{SharedGroupID: group}}})
	p.send(protocol.SelectLibrary{SharedGroupID: group})
}

func TestExchange_MalformedMessage(t *testing.T) {
	chA, chB := memory.Pipe(512)
	s := New(fastConfig())
	require.NoError(t, s.Attach(chA, transport.PeerDevice{}))

	// A frame announcing 9 bytes of garbage.
	require.NoError(t, chB.Send(context.Background(), []byte{0, 0, 0, 9, '{', 'n', 'o', 'p', 'e', '!', '!', '!', '!'}))

	_, err := s.Exchange(context.Background(), local("ana", "1.0.0", "G", []string{"G"}, payload()))
	assert.ErrorIs(t, err, domainerrors.ErrMalformedMessage)
	assert.Equal(t, domainerrors.CodeMalformedMessage, s.Snapshot().ErrorCode)
}

func TestExchange_UnexpectedMessage(t *testing.T) {
	chA, chB := memory.Pipe(512)
	s := New(fastConfig())
	require.NoError(t, s.Attach(chA, transport.PeerDevice{}))

	rawPeer{t, chB}.send(payload("x1"))

	_, err := s.Exchange(context.Background(), local("ana", "1.0.0", "G", []string{"G"}, payload()))
	assert.ErrorIs(t, err, domainerrors.ErrMalformedMessage)
}

func TestExchange_ConnectionLostDuringTransfer(t *testing.T) {
	chA, chB := memory.Pipe(64)
	s := New(fastConfig())
	require.NoError(t, s.Attach(chA, transport.PeerDevice{}))

	peer := rawPeer{t, chB}
	peer.handshake("G")
	chunks, err := protocol.Encode(payload("y1", "y2"), 64)
	require.NoError(t, err)
	for _, c := range chunks[:len(chunks)/2] {
		require.NoError(t, chB.Send(context.Background(), c))
	}
	// Drain what the session sends so its pushes do not block, then hang up.
	go func() {
		for {
			if _, err := chB.Receive(context.Background()); err != nil {
				return
			}
		}
	}()
	time.AfterFunc(50*time.Millisecond, func() { _ = chB.Close() })

	_, err = s.Exchange(context.Background(), local("ana", "1.0.0", "G", []string{"G"}, payload("x1")))
	assert.ErrorIs(t, err, domainerrors.ErrConnectionLost)
	assert.Equal(t, StateFailed, s.State())
}

func TestExchange_TransferIdleTimeoutResetByChunks(t *testing.T) {
	chA, chB := memory.Pipe(64)
	s := New(Config{HandshakeTimeout: time.Second, TransferTimeout: 150 * time.Millisecond})
	require.NoError(t, s.Attach(chA, transport.PeerDevice{}))

	peer := rawPeer{t, chB}
	peer.handshake("G")
	go func() {
		for {
			if _, err := chB.Receive(context.Background()); err != nil {
				return
			}
		}
	}()

	// Trickle chunks slower than the total budget but faster than the idle timeout.
	chunks, err := protocol.Encode(payload("y1", "y2", "y3"), 64)
	require.NoError(t, err)
	go func() {
		for _, c := range chunks[:8] {
			time.Sleep(40 * time.Millisecond)
			_ = chB.Send(context.Background(), c)
		}
		for _, c := range chunks[8:] {
			_ = chB.Send(context.Background(), c)
		}
	}()

	remote, err := s.Exchange(context.Background(), local("ana", "1.0.0", "G", []string{"G"}, payload()))
	require.NoError(t, err)
	assert.Len(t, remote.Payload.Items, 3)
}

func TestReset_DuringTransfer(t *testing.T) {
	chA, chB := memory.Pipe(64)
	s := New(fastConfig())
	require.NoError(t, s.Attach(chA, transport.PeerDevice{}))

	peer := rawPeer{t, chB}
	peer.handshake("G")
	go func() {
		for {
			if _, err := chB.Receive(context.Background()); err != nil {
				return
			}
		}
	}()

	updates, stop := s.Subscribe()
	defer stop()

	errc := make(chan error, 1)
	go func() {
		_, err := s.Exchange(context.Background(), local("ana", "1.0.0", "G", []string{"G"}, payload("x1")))
		errc <- err
	}()

	require.Eventually(t, func() bool { return s.State() == StateTransferring }, 2*time.Second, 5*time.Millisecond)
	s.Reset()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, domainerrors.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("exchange did not stop after reset")
	}

	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.Snapshot().SharedGroupID)
	assert.Nil(t, s.Snapshot().Peer)

	// The channel was released.
	var err error
	for err == nil {
		_, err = chB.Receive(context.Background())
	}
	assert.ErrorIs(t, err, transport.ErrChannelClosed)

	// The last published snapshot is Idle.
	var last Snapshot
	for {
		select {
		case last = <-updates:
			continue
		default:
		}
		break
	}
	assert.Equal(t, StateIdle, last.State)
}

func TestAttach_Busy(t *testing.T) {
	chA, _ := memory.Pipe(64)
	s := New(Config{})
	require.NoError(t, s.Attach(chA, transport.PeerDevice{}))

	other, _ := memory.Pipe(64)
	assert.ErrorIs(t, s.Attach(other, transport.PeerDevice{}), domainerrors.ErrBusy)

	s.Reset()
	assert.NoError(t, s.Attach(other, transport.PeerDevice{}))
}

func TestComplete_RequiresTransferring(t *testing.T) {
	s := New(Config{})
	assert.Error(t, s.Complete(protocol.Done{}))
}

func TestConnect_ThroughHub(t *testing.T) {
	hub := memory.NewHub(128)
	defer hub.Close()

	den := hub.Device("den")
	accepted := make(chan outcome, 1)
	require.NoError(t, den.Listen(func(ctx context.Context, ch transport.Channel, peer transport.PeerDevice) {
		s := New(fastConfig())
		if err := s.Attach(ch, peer); err != nil {
			accepted <- outcome{err: err}
			return
		}
		remote, err := s.Exchange(ctx, local("ben", "1.0.0", "", []string{"G"}, payload("y1")))
		if err == nil {
			err = s.Complete(protocol.Done{Added: 1})
		}
		accepted <- outcome{remote: remote, err: err}
	}))

	s := New(fastConfig())
	require.NoError(t, s.Connect(context.Background(), hub.Device("living"), transport.PeerDevice{ID: "den", Name: "den"}))
	assert.Equal(t, StateHandshaking, s.State())

	remote, err := s.Exchange(context.Background(), local("ana", "1.0.0", "G", []string{"G"}, payload("x1")))
	require.NoError(t, err)
	assert.Len(t, remote.Payload.Items, 1)
	require.NoError(t, s.Complete(protocol.Done{Added: 1}))

	got := <-accepted
	require.NoError(t, got.err)
	assert.Equal(t, "x1", got.remote.Payload.Items[0].ItemID)
}

func TestConnect_Failures(t *testing.T) {
	hub := memory.NewHub(128)
	defer hub.Close()
	living := hub.Device("living")

	s := New(Config{Retry: transport.RetryConfig{MaxAttempts: 2, InitialWait: time.Millisecond}})
	err := s.Connect(context.Background(), living, transport.PeerDevice{ID: "nobody"})
	assert.ErrorIs(t, err, domainerrors.ErrConnectionFailed)
	assert.Equal(t, StateFailed, s.State())

	s.Reset()
	living.SetPermission(false)
	err = s.Connect(context.Background(), living, transport.PeerDevice{ID: "nobody"})
	assert.ErrorIs(t, err, domainerrors.ErrPermissionDenied)
	assert.True(t, domainerrors.CodePermissionDenied.Recoverable())
}

// hangingTransport accepts the connect call and never completes it.
type hangingTransport struct{}

func (hangingTransport) RequestPermissions(context.Context) (bool, error) { return true, nil }
func (hangingTransport) StartScanning(context.Context) ([]transport.PeerDevice, error) {
	return nil, nil
}
func (hangingTransport) Disconnect() error { return nil }

func (hangingTransport) Connect(ctx context.Context, _ transport.PeerDevice) (transport.Channel, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestConnect_TimesOut(t *testing.T) {
	s := New(Config{
		ConnectTimeout: 50 * time.Millisecond,
		Retry:          transport.RetryConfig{MaxAttempts: 1},
	})

	errc := make(chan error, 1)
	go func() { errc <- s.Connect(context.Background(), hangingTransport{}, transport.PeerDevice{Name: "den"}) }()

	select {
	case err := <-errc:
		assert.Equal(t, domainerrors.CodeTimeout, domainerrors.CodeOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not time out")
	}
	snap := s.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, domainerrors.CodeTimeout, snap.ErrorCode)
}

func TestReset_AbortsConnect(t *testing.T) {
	s := New(Config{ConnectTimeout: time.Hour, Retry: transport.RetryConfig{MaxAttempts: 1}})

	errc := make(chan error, 1)
	go func() { errc <- s.Connect(context.Background(), hangingTransport{}, transport.PeerDevice{Name: "den"}) }()
	require.Eventually(t, func() bool { return s.State() == StateConnecting }, 2*time.Second, 5*time.Millisecond)

	s.Reset()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, domainerrors.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("reset did not abort the connect")
	}
	assert.Equal(t, StateIdle, s.State())

	// The session is free for the next attempt.
	chA, _ := memory.Pipe(64)
	assert.NoError(t, s.Attach(chA, transport.PeerDevice{}))
}

func TestCommit(t *testing.T) {
	t.Run("applies and completes", func(t *testing.T) {
		sa, oa, sb, ob := runPair(t, 512,
			local("ana", "1.0.0", "G", []string{"G"}, payload("x1")),
			local("ben", "1.0.0", "", []string{"G"}, payload("y1")),
		)
		require.NoError(t, oa.err)
		require.NoError(t, ob.err)
		require.NoError(t, sa.Active(oa.remote))

		done, err := sa.Commit(oa.remote, func() (protocol.Done, error) {
			return protocol.Done{Added: 1}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, done.Added)
		assert.Equal(t, StateDone, sa.State())
		sb.Reset()
	})

	t.Run("reset session applies nothing", func(t *testing.T) {
		sa, oa, sb, ob := runPair(t, 512,
			local("ana", "1.0.0", "G", []string{"G"}, payload("x1")),
			local("ben", "1.0.0", "", []string{"G"}, payload("y1")),
		)
		require.NoError(t, oa.err)
		require.NoError(t, ob.err)

		sa.Reset()
		assert.ErrorIs(t, sa.Active(oa.remote), domainerrors.ErrCancelled)

		applied := false
		_, err := sa.Commit(oa.remote, func() (protocol.Done, error) {
			applied = true
			return protocol.Done{}, nil
		})
		assert.ErrorIs(t, err, domainerrors.ErrCancelled)
		assert.False(t, applied)
		assert.Equal(t, StateIdle, sa.State())
		sb.Reset()
	})

	t.Run("apply error fails the session", func(t *testing.T) {
		sa, oa, sb, ob := runPair(t, 512,
			local("ana", "1.0.0", "G", []string{"G"}, payload("x1")),
			local("ben", "1.0.0", "", []string{"G"}, payload("y1")),
		)
		require.NoError(t, oa.err)
		require.NoError(t, ob.err)

		_, err := sa.Commit(oa.remote, func() (protocol.Done, error) {
			return protocol.Done{}, domainerrors.Wrap(assert.AnError, domainerrors.CodeStorage, "apply")
		})
		assert.Equal(t, domainerrors.CodeStorage, domainerrors.CodeOf(err))
		assert.Equal(t, StateFailed, sa.State())
		sb.Reset()
	})
}

func TestSubscribe_SeesProgression(t *testing.T) {
	chA, chB := memory.Pipe(512)
	sa, sb := New(fastConfig()), New(fastConfig())
	require.NoError(t, sb.Attach(chB, transport.PeerDevice{}))

	updates, stop := sa.Subscribe()
	first := <-updates
	assert.Equal(t, StateIdle, first.State)

	var mu sync.Mutex
	var seen []State
	done := make(chan struct{})
	go func() {
		defer close(done)
		for snap := range updates {
			mu.Lock()
			if len(seen) == 0 || seen[len(seen)-1] != snap.State {
				seen = append(seen, snap.State)
			}
			mu.Unlock()
		}
	}()

	require.NoError(t, sa.Attach(chA, transport.PeerDevice{}))
	go func() {
		_, _ = sb.Exchange(context.Background(), local("ben", "1.0.0", "", []string{"G"}, payload("y1")))
	}()
	_, err := sa.Exchange(context.Background(), local("ana", "1.0.0", "G", []string{"G"}, payload("x1")))
	require.NoError(t, err)
	require.NoError(t, sa.Complete(protocol.Done{}))

	stop()
	stop()
	<-done

	mu.Lock()
	defer mu.Unlock()
	// Intermediate states may be coalesced, but order is preserved and the end is Done.
	require.NotEmpty(t, seen)
	assert.Equal(t, StateDone, seen[len(seen)-1])
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1], seen[i])
	}
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		local, remote string
		want          bool
	}{
		{"1.0.0", "1.9.3", true},
		{"1.0.0", "2.0.0", false},
		{"0.3.0", "0.4.0", true},
		{"1.0.0", "", false},
		{"1.0.0", "one", false},
		{"1.0.0", "v1.0.0", false},
		{"1.0.0", "1", false},
		{"1.0.0", "1.0", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Compatible(tt.local, tt.remote), "%s vs %s", tt.local, tt.remote)
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "library_selected", StateLibrarySelected.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateTransferring.Terminal())
}
