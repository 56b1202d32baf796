package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	domainerrors "github.com/mediashelf/mediashelf/internal/errors"

	"github.com/mediashelf/mediashelf/internal/domain"
	"github.com/mediashelf/mediashelf/internal/protocol"
	"github.com/mediashelf/mediashelf/internal/reconcile"
	"github.com/mediashelf/mediashelf/internal/session"
	"github.com/mediashelf/mediashelf/internal/store"
	"github.com/mediashelf/mediashelf/internal/transport"
)

// SyncConfig configures the sync orchestrator.
type SyncConfig struct {
	AppVersion string

	// DeviceOwnerID is the owner introduced to peers when answering an
	// incoming session. Empty falls back to the first local owner.
	DeviceOwnerID string
}

// SyncService drives one peer library sync at a time: it connects, runs the
// session exchange, reconciles the received payload and applies it to the
// local store in a single batch.
type SyncService struct {
	store     store.RecordStore
	transport transport.Transport
	session   *session.Session
	libraries *LibraryService
	cfg       SyncConfig
	logger    *slog.Logger

	running sync.Mutex
}

// NewSyncService creates a new sync service.
func NewSyncService(
	store store.RecordStore,
	t transport.Transport,
	sess *session.Session,
	libraries *LibraryService,
	cfg SyncConfig,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{
		store:     store,
		transport: t,
		session:   sess,
		libraries: libraries,
		cfg:       cfg,
		logger:    logger,
	}
}

// Session returns the device's sync session for observation.
func (s *SyncService) Session() *session.Session {
	return s.session
}

// Reset abandons the current session. Nothing received so far is applied.
func (s *SyncService) Reset() {
	s.session.Reset()
}

// Peers lists the devices the transport can currently see.
func (s *SyncService) Peers(ctx context.Context) ([]transport.PeerDevice, error) {
	granted, err := s.transport.RequestPermissions(ctx)
	if err != nil {
		return nil, domainerrors.PermissionDenied("transport permission not granted").WithCause(err)
	}
	if !granted {
		return nil, domainerrors.PermissionDenied("transport permission not granted")
	}

	return s.transport.StartScanning(ctx)
}

// PerformSync syncs a local shared library with peer and returns the local
// apply summary.
func (s *SyncService) PerformSync(ctx context.Context, ownerID, libraryID string, peer transport.PeerDevice) (*protocol.Done, error) {
	if err := ctx.Err(); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeCancelled, "sync cancelled")
	}

	lib, err := s.store.GetLibrary(ctx, libraryID)
	if err != nil {
		return nil, notFoundOr(err, "library %s not found", libraryID)
	}
	if !lib.IsShared() {
		return nil, domainerrors.NotShared(fmt.Sprintf("library %q is not shared", lib.Name))
	}
	owner, err := s.store.GetOwner(ctx, ownerID)
	if err != nil {
		return nil, notFoundOr(err, "owner %s not found", ownerID)
	}

	if !s.running.TryLock() {
		return nil, domainerrors.Busy("a sync session is already running")
	}
	defer s.running.Unlock()
	s.clearFinished()

	groupID := lib.GroupID()
	s.logger.Info("starting library sync",
		"library_id", lib.LibraryID,
		"shared_group_id", groupID,
		"peer", peer.ID,
	)

	infos, err := s.libraries.PeerLibraries(ctx, ownerID)
	if err != nil {
		return nil, storageError(err, "list shared libraries")
	}

	if err := s.session.Connect(ctx, s.transport, peer); err != nil {
		return nil, err
	}

	var local reconcile.Snapshot
	remote, err := s.session.Exchange(ctx, session.Local{
		Hello:         s.hello(owner),
		Libraries:     infos,
		SharedGroupID: groupID,
		Prepare: func(ctx context.Context, _ string) (protocol.TransferItems, error) {
			snap, payload, err := s.gather(ctx, groupID)
			local = snap
			return payload, err
		},
	})
	if err != nil {
		return nil, err
	}

	return s.absorb(ctx, lib, local, remote)
}

// Respond answers an incoming session on ch. The library is resolved from the
// peer's selection.
func (s *SyncService) Respond(ctx context.Context, ch transport.Channel, peer transport.PeerDevice) (*protocol.Done, error) {
	if !s.running.TryLock() {
		_ = ch.Close()
		return nil, domainerrors.Busy("a sync session is already running")
	}
	defer s.running.Unlock()
	s.clearFinished()

	owner, err := s.deviceOwner(ctx)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	infos, err := s.libraries.PeerLibraries(ctx, owner.OwnerID)
	if err != nil {
		_ = ch.Close()
		return nil, storageError(err, "list shared libraries")
	}

	if err := s.session.Attach(ch, peer); err != nil {
		_ = ch.Close()
		return nil, err
	}

	var (
		lib   *domain.Library
		local reconcile.Snapshot
	)
	remote, err := s.session.Exchange(ctx, session.Local{
		Hello:     s.hello(owner),
		Libraries: infos,
		Prepare: func(ctx context.Context, groupID string) (protocol.TransferItems, error) {
			resolved, err := s.resolveLibrary(ctx, owner.OwnerID, groupID)
			if err != nil {
				return protocol.TransferItems{}, err
			}
			lib = resolved
			snap, payload, err := s.gather(ctx, groupID)
			local = snap
			return payload, err
		},
	})
	if err != nil {
		return nil, err
	}

	return s.absorb(ctx, lib, local, remote)
}

// clearFinished returns a Done or Failed session to Idle so a new one can
// start. Callers hold s.running.
func (s *SyncService) clearFinished() {
	if s.session.State().Terminal() {
		s.session.Reset()
	}
}

func (s *SyncService) hello(owner *domain.Owner) protocol.Hello {
	return protocol.Hello{
		OwnerID:     owner.OwnerID,
		DisplayName: owner.DisplayName,
		AppVersion:  s.cfg.AppVersion,
	}
}

// deviceOwner returns the configured device owner, or the first local owner
// when none is configured.
func (s *SyncService) deviceOwner(ctx context.Context) (*domain.Owner, error) {
	if s.cfg.DeviceOwnerID != "" {
		owner, err := s.store.GetOwner(ctx, s.cfg.DeviceOwnerID)
		if err != nil {
			return nil, notFoundOr(err, "device owner %s not found", s.cfg.DeviceOwnerID)
		}
		return owner, nil
	}

	owners, err := s.store.ListOwners(ctx)
	if err != nil {
		return nil, storageError(err, "list owners")
	}
	if len(owners) == 0 {
		return nil, domainerrors.NotFound("no local owner to answer the session")
	}
	return owners[0], nil
}

// resolveLibrary picks the local library for a group the peer selected,
// preferring libraries of the device owner.
func (s *SyncService) resolveLibrary(ctx context.Context, ownerID, groupID string) (*domain.Library, error) {
	libs, err := s.store.ListLibrariesBySharedGroup(ctx, groupID)
	if err != nil {
		return nil, storageError(err, "list libraries by group")
	}
	if len(libs) == 0 {
		return nil, domainerrors.LibraryMismatchf("no local library for shared group %s", groupID)
	}
	for _, lib := range libs {
		if lib.OwnerID == ownerID {
			return lib, nil
		}
	}
	return libs[0], nil
}

// gather collects the local records of a group: the snapshot used for
// reconciliation and the payload pushed to the peer.
func (s *SyncService) gather(ctx context.Context, groupID string) (reconcile.Snapshot, protocol.TransferItems, error) {
	items, err := s.store.ListItemsBySharedGroup(ctx, groupID)
	if err != nil {
		return reconcile.Snapshot{}, protocol.TransferItems{}, storageError(err, "list items by group")
	}
	owners, err := s.store.ListOwners(ctx)
	if err != nil {
		return reconcile.Snapshot{}, protocol.TransferItems{}, storageError(err, "list owners")
	}

	snap := reconcile.Snapshot{
		Items:  make([]domain.CollectionItem, 0, len(items)),
		Owners: make([]domain.Owner, 0, len(owners)),
	}
	payload := protocol.TransferItems{
		Items:  make([]domain.CollectionItem, 0, len(items)),
		Owners: make([]domain.Owner, 0, len(owners)),
	}
	for _, item := range items {
		snap.Items = append(snap.Items, *item)
		payload.Items = append(payload.Items, *item)
	}
	for _, owner := range owners {
		snap.Owners = append(snap.Owners, *owner)
		payload.Owners = append(payload.Owners, owner.ForSync())
	}
	return snap, payload, nil
}

// absorb reconciles the peer's payload into lib, applies the result and
// completes the session. A session reset at any point before the apply
// leaves the store untouched and reports CANCELLED.
func (s *SyncService) absorb(ctx context.Context, lib *domain.Library, local reconcile.Snapshot, remote *session.Remote) (*protocol.Done, error) {
	if lib == nil {
		return nil, s.session.Fail(domainerrors.Internal("no library resolved for the session"))
	}
	s.session.Reconciling()

	groupID := lib.GroupID()
	incoming := make([]domain.CollectionItem, 0, len(remote.Payload.Items))
	dropped := 0
	for _, item := range remote.Payload.Items {
		if item.GroupID() != groupID {
			dropped++
			continue
		}
		incoming = append(incoming, item)
	}
	if dropped > 0 {
		s.logger.Warn("ignoring items outside the selected group",
			"shared_group_id", groupID,
			"dropped", dropped,
		)
	}

	local, err := s.completeSnapshot(ctx, local, incoming)
	if err != nil {
		return nil, s.session.Fail(err)
	}
	if err := s.session.Active(remote); err != nil {
		return nil, err
	}

	result := reconcile.Reconcile(local, reconcile.Snapshot{Items: incoming, Owners: remote.Payload.Owners}, lib.LibraryID)

	done, err := s.session.Commit(remote, func() (protocol.Done, error) {
		batch := store.SyncBatch{
			OwnersToInsert: result.OwnersToInsert,
			OwnersToUpdate: result.OwnersToUpdate,
			ItemsToInsert:  result.ToInsert,
			ItemsToUpdate:  result.ToUpdate,
		}
		if !batch.Empty() {
			if err := s.store.ApplySync(ctx, batch); err != nil {
				return protocol.Done{}, storageError(err, "apply sync batch")
			}
		}
		return result.Done(), nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("library sync applied",
		"library_id", lib.LibraryID,
		"shared_group_id", groupID,
		"added", done.Added,
		"updated", done.Updated,
		"matched", done.Matched,
		"owners_added", result.OwnersAdded,
		"owners_updated", result.OwnersUpdated,
	)
	return &done, nil
}

// completeSnapshot adds local records that share an id with an incoming item
// but sit outside the group snapshot, so they are updated rather than
// inserted twice.
func (s *SyncService) completeSnapshot(ctx context.Context, local reconcile.Snapshot, incoming []domain.CollectionItem) (reconcile.Snapshot, error) {
	known := make(map[string]struct{}, len(local.Items))
	for _, item := range local.Items {
		known[item.ItemID] = struct{}{}
	}

	items := local.Items
	for _, item := range incoming {
		if _, ok := known[item.ItemID]; ok {
			continue
		}
		existing, err := s.store.GetItem(ctx, item.ItemID)
		if err != nil {
			if domainerrors.Is(err, store.ErrNotFound) {
				continue
			}
			return local, storageError(err, "look up item")
		}
		known[item.ItemID] = struct{}{}
		items = append(items, *existing)
	}
	local.Items = items
	return local, nil
}

func notFoundOr(err error, format string, args ...any) error {
	if domainerrors.Is(err, store.ErrNotFound) {
		return domainerrors.NotFoundf(format, args...)
	}
	return storageError(err, "read store")
}

// storageError keeps coded errors and wraps everything else as STORAGE.
func storageError(err error, op string) error {
	var coded *domainerrors.Error
	if domainerrors.As(err, &coded) {
		return err
	}
	return domainerrors.Wrap(err, domainerrors.CodeStorage, op)
}
