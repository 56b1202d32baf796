package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediashelf/mediashelf/internal/domain"
	domainerrors "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/protocol"
	"github.com/mediashelf/mediashelf/internal/session"
	"github.com/mediashelf/mediashelf/internal/store"
	"github.com/mediashelf/mediashelf/internal/transport"
	"github.com/mediashelf/mediashelf/internal/transport/memory"
)

var (
	jan = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
)

const group = "G"

// countingTransport records every call that reaches the transport.
type countingTransport struct {
	transport.Transport
	calls atomic.Int32
}

func (c *countingTransport) RequestPermissions(ctx context.Context) (bool, error) {
	c.calls.Add(1)
	return c.Transport.RequestPermissions(ctx)
}

func (c *countingTransport) Connect(ctx context.Context, peer transport.PeerDevice) (transport.Channel, error) {
	c.calls.Add(1)
	return c.Transport.Connect(ctx, peer)
}

// failingStore rejects every sync batch.
type failingStore struct {
	store.RecordStore
}

func (failingStore) ApplySync(context.Context, store.SyncBatch) error {
	return errors.New("disk full")
}

// resettingStore resets the session on the first item lookup, which happens
// after the transfer and before the batch is applied.
type resettingStore struct {
	store.RecordStore
	reset func()
	once  sync.Once
}

func (r *resettingStore) GetItem(ctx context.Context, itemID string) (*domain.CollectionItem, error) {
	r.once.Do(r.reset)
	return r.RecordStore.GetItem(ctx, itemID)
}

type device struct {
	store   store.RecordStore
	sync    *SyncService
	owner   *domain.Owner
	library *domain.Library
	results chan result
}

type result struct {
	done *protocol.Done
	err  error
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newDevice joins hub as name with one owner and, when groupID is not empty,
// one library in that shared group.
func newDevice(t *testing.T, hub *memory.Hub, name, groupID string, wrap func(store.RecordStore) store.RecordStore) *device {
	t.Helper()
	ctx := context.Background()

	base, err := store.NewInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })

	var rs store.RecordStore = base
	if wrap != nil {
		rs = wrap(base)
	}

	owner := &domain.Owner{OwnerID: "own-" + name, DisplayName: name, PinSecretHash: "secret-" + name}
	owner.InitTimestamps()
	require.NoError(t, base.CreateOwner(ctx, owner))

	lib := &domain.Library{
		LibraryID:     "lib-" + name,
		OwnerID:       owner.OwnerID,
		SharedGroupID: domain.GroupRef(groupID),
		Name:          "Films",
	}
	lib.InitTimestamps()
	require.NoError(t, base.CreateLibrary(ctx, lib))

	dev := hub.Device(name)
	sess := session.New(session.Config{
		HandshakeTimeout: 2 * time.Second,
		TransferTimeout:  2 * time.Second,
		Logger:           testLogger(),
	})
	libraries := NewLibraryService(rs, testLogger())
	svc := NewSyncService(rs, dev, sess, libraries, SyncConfig{
		AppVersion:    "1.2.0",
		DeviceOwnerID: owner.OwnerID,
	}, testLogger())

	d := &device{
		store:   base,
		sync:    svc,
		owner:   owner,
		library: lib,
		results: make(chan result, 1),
	}
	require.NoError(t, dev.Listen(func(ctx context.Context, ch transport.Channel, peer transport.PeerDevice) {
		done, err := svc.Respond(ctx, ch, peer)
		d.results <- result{done: done, err: err}
	}))
	return d
}

func (d *device) addItem(t *testing.T, item domain.CollectionItem) {
	t.Helper()
	item.LibraryID = d.library.LibraryID
	item.SharedGroupID = d.library.SharedGroupID
	if item.OwnerID == "" {
		item.OwnerID = d.owner.OwnerID
	}
	if item.WorkType == "" {
		item.WorkType = domain.WorkTypeMovie
	}
	if item.Format == "" {
		item.Format = domain.FormatBluRay
	}
	require.NoError(t, d.store.CreateItem(context.Background(), &item))
}

func (d *device) response(t *testing.T) result {
	t.Helper()
	select {
	case r := <-d.results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("responder did not finish")
		return result{}
	}
}

func peerOf(name string) transport.PeerDevice {
	return transport.PeerDevice{ID: name, Name: name}
}

func TestPerformSync_NewerRemoteWins(t *testing.T) {
	hub := memory.NewHub(64)
	defer hub.Close()
	a := newDevice(t, hub, "a", group, nil)
	b := newDevice(t, hub, "b", group, nil)

	a.addItem(t, domain.CollectionItem{
		ItemID: "x1", Title: "Dune", Year: domain.IntRef(2021),
		Timestamps: domain.Timestamps{CreatedAt: jan, UpdatedAt: jan},
	})
	b.addItem(t, domain.CollectionItem{
		ItemID: "x1", Title: "Dune", Year: domain.IntRef(2021), Notes: "widescreen",
		OwnerID:    a.owner.OwnerID,
		Timestamps: domain.Timestamps{CreatedAt: jan, UpdatedAt: feb},
	})

	done, err := a.sync.PerformSync(context.Background(), a.owner.OwnerID, a.library.LibraryID, peerOf("b"))
	require.NoError(t, err)
	assert.Equal(t, protocol.Done{Added: 0, Updated: 1, Matched: 0}, *done)

	got, err := a.store.GetItem(context.Background(), "x1")
	require.NoError(t, err)
	assert.Equal(t, "widescreen", got.Notes)
	assert.True(t, got.UpdatedAt.Equal(feb))
	assert.Equal(t, a.library.LibraryID, got.LibraryID)

	// B received A's older copy and kept its own.
	r := b.response(t)
	require.NoError(t, r.err)
	assert.Equal(t, protocol.Done{Matched: 1}, *r.done)

	assert.Equal(t, session.StateDone, a.sync.Session().State())
}

func TestPerformSync_InsertsIntoLocalLibrary(t *testing.T) {
	hub := memory.NewHub(0)
	defer hub.Close()
	a := newDevice(t, hub, "a", group, nil)
	b := newDevice(t, hub, "b", group, nil)

	b.addItem(t, domain.CollectionItem{
		ItemID: "y1", Title: "Dune: Part Two", Year: domain.IntRef(2024),
		Timestamps: domain.Timestamps{CreatedAt: feb, UpdatedAt: feb},
	})

	done, err := a.sync.PerformSync(context.Background(), a.owner.OwnerID, a.library.LibraryID, peerOf("b"))
	require.NoError(t, err)
	assert.Equal(t, protocol.Done{Added: 1}, *done)

	got, err := a.store.GetItem(context.Background(), "y1")
	require.NoError(t, err)
	assert.Equal(t, a.library.LibraryID, got.LibraryID)
	assert.Equal(t, group, got.GroupID())
	assert.Equal(t, b.owner.OwnerID, got.OwnerID)

	// B's owner arrives without its PIN hash; A's own owner keeps its hash.
	bOwner, err := a.store.GetOwner(context.Background(), b.owner.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, "b", bOwner.DisplayName)
	assert.Empty(t, bOwner.PinSecretHash)

	mine, err := a.store.GetOwner(context.Background(), a.owner.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, "secret-a", mine.PinSecretHash)

	// B applies its batch after A returns.
	require.NoError(t, b.response(t).err)
	aOwner, err := b.store.GetOwner(context.Background(), a.owner.OwnerID)
	require.NoError(t, err)
	assert.Empty(t, aOwner.PinSecretHash)
}

func TestPerformSync_NotSharedTouchesNoTransport(t *testing.T) {
	hub := memory.NewHub(0)
	defer hub.Close()
	a := newDevice(t, hub, "a", "", nil)
	newDevice(t, hub, "b", group, nil)

	counting := &countingTransport{Transport: hub.Device("a")}
	a.sync.transport = counting

	_, err := a.sync.PerformSync(context.Background(), a.owner.OwnerID, a.library.LibraryID, peerOf("b"))
	require.Error(t, err)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotShared))
	assert.Zero(t, counting.calls.Load())
	assert.Equal(t, session.StateIdle, a.sync.Session().State())
}

func TestPerformSync_UnknownLibrary(t *testing.T) {
	hub := memory.NewHub(0)
	defer hub.Close()
	a := newDevice(t, hub, "a", group, nil)

	_, err := a.sync.PerformSync(context.Background(), a.owner.OwnerID, "lib-missing", peerOf("b"))
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))
}

func TestPerformSync_SecondRunIsIdempotent(t *testing.T) {
	hub := memory.NewHub(0)
	defer hub.Close()
	a := newDevice(t, hub, "a", group, nil)
	b := newDevice(t, hub, "b", group, nil)

	a.addItem(t, domain.CollectionItem{ItemID: "a1", Title: "Alien", Timestamps: domain.Timestamps{CreatedAt: jan, UpdatedAt: jan}})
	b.addItem(t, domain.CollectionItem{ItemID: "b1", Title: "Blade Runner", Timestamps: domain.Timestamps{CreatedAt: jan, UpdatedAt: jan}})

	ctx := context.Background()
	first, err := a.sync.PerformSync(ctx, a.owner.OwnerID, a.library.LibraryID, peerOf("b"))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Added)
	require.NoError(t, b.response(t).err)

	second, err := a.sync.PerformSync(ctx, a.owner.OwnerID, a.library.LibraryID, peerOf("b"))
	require.NoError(t, err)
	assert.Equal(t, protocol.Done{Matched: 2}, *second)
	r := b.response(t)
	require.NoError(t, r.err)
	assert.Equal(t, protocol.Done{Matched: 2}, *r.done)

	for _, d := range []*device{a, b} {
		items, err := d.store.ListItemsBySharedGroup(ctx, group)
		require.NoError(t, err)
		assert.Len(t, items, 2)
	}
}

func TestPerformSync_ApplyFailureLeavesStoreUntouched(t *testing.T) {
	hub := memory.NewHub(0)
	defer hub.Close()
	a := newDevice(t, hub, "a", group, func(rs store.RecordStore) store.RecordStore {
		return failingStore{RecordStore: rs}
	})
	b := newDevice(t, hub, "b", group, nil)

	b.addItem(t, domain.CollectionItem{ItemID: "y1", Title: "Heat", Timestamps: domain.Timestamps{CreatedAt: feb, UpdatedAt: feb}})

	_, err := a.sync.PerformSync(context.Background(), a.owner.OwnerID, a.library.LibraryID, peerOf("b"))
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodeStorage, domainerrors.CodeOf(err))

	snap := a.sync.Session().Snapshot()
	assert.Equal(t, session.StateFailed, snap.State)
	assert.Equal(t, domainerrors.CodeStorage, snap.ErrorCode)

	_, err = a.store.GetItem(context.Background(), "y1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The responder may finish or see the channel drop; either way it returns.
	b.response(t)
}

func TestPerformSync_ResetBeforeApplyLeavesStoreUntouched(t *testing.T) {
	hub := memory.NewHub(0)
	defer hub.Close()
	var resetting *resettingStore
	a := newDevice(t, hub, "a", group, func(rs store.RecordStore) store.RecordStore {
		resetting = &resettingStore{RecordStore: rs}
		return resetting
	})
	b := newDevice(t, hub, "b", group, nil)
	resetting.reset = a.sync.Reset

	b.addItem(t, domain.CollectionItem{ItemID: "y1", Title: "Heat", Timestamps: domain.Timestamps{CreatedAt: feb, UpdatedAt: feb}})

	_, err := a.sync.PerformSync(context.Background(), a.owner.OwnerID, a.library.LibraryID, peerOf("b"))
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodeCancelled, domainerrors.CodeOf(err))
	assert.Equal(t, session.StateIdle, a.sync.Session().State())

	_, err = a.store.GetItem(context.Background(), "y1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = a.store.GetOwner(context.Background(), b.owner.OwnerID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	b.response(t)
}

func TestPerformSync_PeerWithoutGroup(t *testing.T) {
	hub := memory.NewHub(0)
	defer hub.Close()
	a := newDevice(t, hub, "a", group, nil)
	b := newDevice(t, hub, "b", "other-group", nil)

	_, err := a.sync.PerformSync(context.Background(), a.owner.OwnerID, a.library.LibraryID, peerOf("b"))
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodeLibraryMismatch, domainerrors.CodeOf(err))

	r := b.response(t)
	assert.Equal(t, domainerrors.CodeLibraryMismatch, domainerrors.CodeOf(r.err))
}

func TestPerformSync_Busy(t *testing.T) {
	hub := memory.NewHub(0)
	defer hub.Close()
	a := newDevice(t, hub, "a", group, nil)

	a.sync.running.Lock()
	defer a.sync.running.Unlock()

	_, err := a.sync.PerformSync(context.Background(), a.owner.OwnerID, a.library.LibraryID, peerOf("b"))
	assert.True(t, domainerrors.Is(err, domainerrors.ErrBusy))
}

func TestPerformSync_FailedSessionIsClearedForNextRun(t *testing.T) {
	hub := memory.NewHub(0)
	defer hub.Close()
	a := newDevice(t, hub, "a", group, nil)
	a.sync.session = session.New(session.Config{
		Retry:  transport.RetryConfig{MaxAttempts: 1},
		Logger: testLogger(),
	})

	_, err := a.sync.PerformSync(context.Background(), a.owner.OwnerID, a.library.LibraryID, peerOf("nobody"))
	require.Error(t, err)
	assert.Equal(t, session.StateFailed, a.sync.Session().State())

	b := newDevice(t, hub, "b", group, nil)
	_, err = a.sync.PerformSync(context.Background(), a.owner.OwnerID, a.library.LibraryID, peerOf("b"))
	require.NoError(t, err)
	require.NoError(t, b.response(t).err)

	a.sync.Reset()
	assert.Equal(t, session.StateIdle, a.sync.Session().State())
}

func TestPeers(t *testing.T) {
	hub := memory.NewHub(0)
	defer hub.Close()
	a := newDevice(t, hub, "a", group, nil)
	newDevice(t, hub, "c", group, nil)
	newDevice(t, hub, "b", group, nil)

	peers, err := a.sync.Peers(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "b", peers[0].Name)
	assert.Equal(t, "c", peers[1].Name)

	hub.Device("a").SetPermission(false)
	_, err = a.sync.Peers(context.Background())
	assert.True(t, domainerrors.Is(err, domainerrors.ErrPermissionDenied))
}
