// Package reconcile merges a peer's snapshot of a shared group into the local
// one using record identity and last-writer-wins on updatedAt.
//
// The engine is pure: it reads two snapshots and returns the writes to
// perform. Applying them is the caller's job.
package reconcile

import (
	"github.com/mediashelf/mediashelf/internal/domain"
	"github.com/mediashelf/mediashelf/internal/protocol"
)

// Snapshot is one replica's records for a shared group.
type Snapshot struct {
	Items  []domain.CollectionItem
	Owners []domain.Owner
}

// Result is the change set produced by Reconcile.
type Result struct {
	ToInsert []domain.CollectionItem
	ToUpdate []domain.CollectionItem

	OwnersToInsert []domain.Owner
	OwnersToUpdate []domain.Owner

	// Item counters. Added+Updated+Matched equals the number of remote items.
	Added   int
	Updated int
	Matched int

	OwnersAdded   int
	OwnersUpdated int
	OwnersMatched int
}

// Done returns the summary reported to the caller.
func (r Result) Done() protocol.Done {
	return protocol.Done{Added: r.Added, Updated: r.Updated, Matched: r.Matched}
}

// Empty reports whether the result requires no writes.
func (r Result) Empty() bool {
	return len(r.ToInsert)+len(r.ToUpdate)+len(r.OwnersToInsert)+len(r.OwnersToUpdate) == 0
}

// Reconcile computes the local writes needed to absorb remote.
//
// An item unknown locally is inserted into targetLibraryID with every other
// field preserved. A known item is replaced only when the remote copy is
// strictly newer, and keeps its local libraryId and sharedGroupId. Nothing is
// ever deleted. Owners follow the same rule by ownerId; a local PIN hash is
// never overwritten and a remote one is never stored.
//
// Remote records repeating an id are judged against the state left by the
// earlier occurrence, so the counters always add up to the payload size.
func Reconcile(local, remote Snapshot, targetLibraryID string) Result {
	var res Result
	reconcileItems(&res, local.Items, remote.Items, targetLibraryID)
	reconcileOwners(&res, local.Owners, remote.Owners)
	return res
}

type change int

const (
	unchanged change = iota
	inserted
	updated
)

// pending tracks the working state of one record and where its write sits in
// the result, so a later duplicate can amend it.
type pending[T any] struct {
	current T
	change  change
	index   int
}

func reconcileItems(res *Result, local, remote []domain.CollectionItem, targetLibraryID string) {
	working := make(map[string]*pending[domain.CollectionItem], len(local))
	for _, item := range local {
		working[item.ItemID] = &pending[domain.CollectionItem]{current: item}
	}

	for _, r := range remote {
		p, ok := working[r.ItemID]
		if !ok {
			r.LibraryID = targetLibraryID
			working[r.ItemID] = &pending[domain.CollectionItem]{current: r, change: inserted, index: len(res.ToInsert)}
			res.ToInsert = append(res.ToInsert, r)
			res.Added++
			continue
		}

		if !r.NewerThan(p.current.Timestamps) {
			res.Matched++
			continue
		}

		r.LibraryID = p.current.LibraryID
		r.SharedGroupID = p.current.SharedGroupID
		p.current = r
		res.Updated++

		switch p.change {
		case inserted:
			res.ToInsert[p.index] = r
		case updated:
			res.ToUpdate[p.index] = r
		default:
			p.change = updated
			p.index = len(res.ToUpdate)
			res.ToUpdate = append(res.ToUpdate, r)
		}
	}
}

func reconcileOwners(res *Result, local, remote []domain.Owner) {
	working := make(map[string]*pending[domain.Owner], len(local))
	for _, owner := range local {
		working[owner.OwnerID] = &pending[domain.Owner]{current: owner}
	}

	for _, r := range remote {
		p, ok := working[r.OwnerID]
		if !ok {
			r = r.ForSync()
			working[r.OwnerID] = &pending[domain.Owner]{current: r, change: inserted, index: len(res.OwnersToInsert)}
			res.OwnersToInsert = append(res.OwnersToInsert, r)
			res.OwnersAdded++
			continue
		}

		if !r.NewerThan(p.current.Timestamps) {
			res.OwnersMatched++
			continue
		}

		r.PinSecretHash = p.current.PinSecretHash
		p.current = r
		res.OwnersUpdated++

		switch p.change {
		case inserted:
			res.OwnersToInsert[p.index] = r
		case updated:
			res.OwnersToUpdate[p.index] = r
		default:
			p.change = updated
			p.index = len(res.OwnersToUpdate)
			res.OwnersToUpdate = append(res.OwnersToUpdate, r)
		}
	}
}
