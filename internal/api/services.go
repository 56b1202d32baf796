package api

import (
	"github.com/mediashelf/mediashelf/internal/service"
)

// Services groups the business services used by the API server.
type Services struct {
	Sync    *service.SyncService
	Library *service.LibraryService
}
