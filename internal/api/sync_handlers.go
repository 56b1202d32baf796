package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mediashelf/mediashelf/internal/protocol"
	"github.com/mediashelf/mediashelf/internal/session"
	"github.com/mediashelf/mediashelf/internal/transport"
)

func (s *Server) registerSyncRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getSyncState",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync/state",
		Summary:     "Current sync session",
		Description: "Returns the latest snapshot of the device's sync session",
		Tags:        []string{"Sync"},
	}, s.handleGetSyncState)

	huma.Register(s.api, huma.Operation{
		OperationID: "startSync",
		Method:      http.MethodPost,
		Path:        "/api/v1/sync",
		Summary:     "Sync a shared library",
		Description: "Runs a full sync of a shared library with a peer and returns the local summary. Blocks until the session ends.",
		Tags:        []string{"Sync"},
	}, s.handleStartSync)

	huma.Register(s.api, huma.Operation{
		OperationID:   "resetSync",
		Method:        http.MethodPost,
		Path:          "/api/v1/sync/reset",
		Summary:       "Reset the sync session",
		Description:   "Abandons the running session, discarding anything received, and returns to idle",
		Tags:          []string{"Sync"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleResetSync)

	huma.Register(s.api, huma.Operation{
		OperationID: "listPeers",
		Method:      http.MethodGet,
		Path:        "/api/v1/peers",
		Summary:     "Scan for peers",
		Description: "Lists nearby devices that accept sync sessions",
		Tags:        []string{"Sync"},
	}, s.handleListPeers)
}

// SyncStateOutput wraps the session snapshot.
type SyncStateOutput struct {
	Body session.Snapshot
}

func (s *Server) handleGetSyncState(_ context.Context, _ *struct{}) (*SyncStateOutput, error) {
	return &SyncStateOutput{Body: s.services.Sync.Session().Snapshot()}, nil
}

// PeerRequest identifies the peer to sync with.
type PeerRequest struct {
	ID      string `json:"id" minLength:"1" doc:"Peer device id from the scan"`
	Name    string `json:"name,omitempty" doc:"Display name"`
	Address string `json:"address,omitempty" doc:"Transport address, such as host:port"`
}

// StartSyncInput is the request for POST /api/v1/sync.
type StartSyncInput struct {
	Body struct {
		OwnerID   string      `json:"ownerId" minLength:"1" doc:"Local owner starting the sync"`
		LibraryID string      `json:"libraryId" minLength:"1" doc:"Local shared library to sync"`
		Peer      PeerRequest `json:"peer"`
	}
}

// StartSyncOutput returns the local apply summary.
type StartSyncOutput struct {
	Body protocol.Done
}

func (s *Server) handleStartSync(ctx context.Context, input *StartSyncInput) (*StartSyncOutput, error) {
	peer := transport.PeerDevice{
		ID:      input.Body.Peer.ID,
		Name:    input.Body.Peer.Name,
		Address: input.Body.Peer.Address,
	}

	done, err := s.services.Sync.PerformSync(ctx, input.Body.OwnerID, input.Body.LibraryID, peer)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &StartSyncOutput{Body: *done}, nil
}

func (s *Server) handleResetSync(_ context.Context, _ *struct{}) (*struct{}, error) {
	s.services.Sync.Reset()
	return nil, nil
}

// PeersResponse lists scan results.
type PeersResponse struct {
	Peers []transport.PeerDevice `json:"peers"`
}

// PeersOutput wraps the scan results.
type PeersOutput struct {
	Body PeersResponse
}

func (s *Server) handleListPeers(ctx context.Context, _ *struct{}) (*PeersOutput, error) {
	peers, err := s.services.Sync.Peers(ctx)
	if err != nil {
		return nil, toAPIError(err)
	}
	if peers == nil {
		peers = []transport.PeerDevice{}
	}
	return &PeersOutput{Body: PeersResponse{Peers: peers}}, nil
}
