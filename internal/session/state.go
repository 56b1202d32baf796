package session

import (
	"time"

	domainerrors "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/protocol"
	"github.com/mediashelf/mediashelf/internal/transport"
)

// State is a session lifecycle state.
type State int

// Session states.
const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateLibrarySelected
	StateTransferring
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:            "idle",
	StateConnecting:      "connecting",
	StateHandshaking:     "handshaking",
	StateLibrarySelected: "library_selected",
	StateTransferring:    "transferring",
	StateDone:            "done",
	StateFailed:          "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the state only leaves through Reset.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Progress percentages reported at each milestone.
const (
	progressConnecting    = 5
	progressHandshaking   = 10
	progressHandshakeDone = 25
	progressSelected      = 50
	progressTransferStart = 60
	progressTransferEnd   = 90
	progressReconciling   = 95
	progressDone          = 100
)

// Snapshot is a read-only view of a session, published on every transition.
type Snapshot struct {
	SessionID     string                `json:"sessionId,omitempty"`
	State         State                 `json:"state"`
	Phase         string                `json:"phase"`
	Message       string                `json:"message"`
	Progress      int                   `json:"progress"`
	Peer          *transport.PeerDevice `json:"peer,omitempty"`
	PeerOwner     string                `json:"peerOwner,omitempty"`
	SharedGroupID string                `json:"sharedGroupId,omitempty"`
	Summary       *protocol.Done        `json:"summary,omitempty"`
	ErrorCode     domainerrors.Code     `json:"errorCode,omitempty"`
	Err           error                 `json:"-"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}
