// Package protocol defines the peer sync wire messages and their framing.
//
// Every message is a JSON object tagged by a "type" field. A message is
// written as a frame (4-byte big-endian length, then the JSON payload) and
// the frame is split into fixed-size chunks for the channel.
package protocol

import "github.com/mediashelf/mediashelf/internal/domain"

// MessageType is the wire discriminator.
type MessageType string

// Message types.
const (
	TypeHello         MessageType = "HELLO"
	TypeListLibraries MessageType = "LIST_LIBRARIES"
	TypeSelectLibrary MessageType = "SELECT_LIBRARY"
	TypeDiffSummary   MessageType = "DIFF_SUMMARY"
	TypeTransferItems MessageType = "TRANSFER_ITEMS"
	TypeDone          MessageType = "DONE"
)

// Message is one of the six protocol messages. The set is closed: only types
// in this package implement it.
type Message interface {
	Type() MessageType
	sealed()
}

// Hello opens the handshake. Each side sends one and waits for the peer's.
type Hello struct {
	OwnerID     string `json:"ownerId" validate:"required"`
	DisplayName string `json:"displayName"`
	AppVersion  string `json:"appVersion" validate:"required,semver"`
}

// LibraryInfo describes one shared library offered to the peer.
type LibraryInfo struct {
	SharedGroupID string `json:"sharedGroupId" validate:"required"`
	Name          string `json:"name"`
	ItemCount     int    `json:"itemCount" validate:"gte=0"`
}

// ListLibraries is informational: the shared libraries the sender holds.
type ListLibraries struct {
	Libraries []LibraryInfo `json:"libraries" validate:"dive"`
}

// SelectLibrary names the shared group this session synchronises.
type SelectLibrary struct {
	SharedGroupID string `json:"sharedGroupId" validate:"required"`
}

// DiffSummary is informational: how many records the sender is about to
// push, and how many it holds for the group.
type DiffSummary struct {
	ItemsToSend    int `json:"itemsToSend" validate:"gte=0"`
	ItemsToReceive int `json:"itemsToReceive" validate:"gte=0"`
}

// TransferItems is a full push of the sender's records for the selected group.
type TransferItems struct {
	Items  []domain.CollectionItem `json:"items" validate:"dive"`
	Owners []domain.Owner          `json:"owners" validate:"dive"`
}

// Done reports the outcome of one side's reconciliation.
type Done struct {
	Added   int `json:"added" validate:"gte=0"`
	Updated int `json:"updated" validate:"gte=0"`
	Matched int `json:"matched" validate:"gte=0"`
}

func (Hello) Type() MessageType         { return TypeHello }
func (ListLibraries) Type() MessageType { return TypeListLibraries }
func (SelectLibrary) Type() MessageType { return TypeSelectLibrary }
func (DiffSummary) Type() MessageType   { return TypeDiffSummary }
func (TransferItems) Type() MessageType { return TypeTransferItems }
func (Done) Type() MessageType          { return TypeDone }

func (Hello) sealed()         {}
func (ListLibraries) sealed() {}
func (SelectLibrary) sealed() {}
func (DiffSummary) sealed()   {}
func (TransferItems) sealed() {}
func (Done) sealed()          {}
