package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mediashelf/mediashelf/internal/domain"
)

func (s *Server) registerLibraryRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listSharedLibraries",
		Method:      http.MethodGet,
		Path:        "/api/v1/libraries/shared",
		Summary:     "List shared libraries",
		Description: "Lists shared libraries with item counts, optionally for one owner",
		Tags:        []string{"Libraries"},
	}, s.handleListSharedLibraries)

	huma.Register(s.api, huma.Operation{
		OperationID: "listGroupWorks",
		Method:      http.MethodGet,
		Path:        "/api/v1/groups/{groupId}/works",
		Summary:     "Unified works of a shared group",
		Description: "Groups every copy in a shared group by the work it belongs to",
		Tags:        []string{"Libraries"},
	}, s.handleListGroupWorks)
}

// ListSharedLibrariesInput filters by owner.
type ListSharedLibrariesInput struct {
	OwnerID string `query:"ownerId" doc:"Only libraries of this owner"`
}

// SharedLibrariesResponse lists shared libraries.
type SharedLibrariesResponse struct {
	Libraries []domain.SharedLibrary `json:"libraries"`
}

// SharedLibrariesOutput wraps the shared libraries.
type SharedLibrariesOutput struct {
	Body SharedLibrariesResponse
}

func (s *Server) handleListSharedLibraries(ctx context.Context, input *ListSharedLibrariesInput) (*SharedLibrariesOutput, error) {
	libs, err := s.services.Library.SharedLibraries(ctx, input.OwnerID)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &SharedLibrariesOutput{Body: SharedLibrariesResponse{Libraries: libs}}, nil
}

// GroupWorksInput selects the shared group.
type GroupWorksInput struct {
	GroupID string `path:"groupId" doc:"Shared group id"`
}

// GroupWorksResponse lists the unified works.
type GroupWorksResponse struct {
	Works []domain.UnifiedWork `json:"works"`
}

// GroupWorksOutput wraps the unified works.
type GroupWorksOutput struct {
	Body GroupWorksResponse
}

func (s *Server) handleListGroupWorks(ctx context.Context, input *GroupWorksInput) (*GroupWorksOutput, error) {
	works, err := s.services.Library.Works(ctx, input.GroupID)
	if err != nil {
		return nil, toAPIError(err)
	}
	if works == nil {
		works = []domain.UnifiedWork{}
	}
	return &GroupWorksOutput{Body: GroupWorksResponse{Works: works}}, nil
}
