package store

import (
	"errors"

	domainerrors "github.com/mediashelf/mediashelf/internal/errors"
)

// Sentinel errors returned by RecordStore implementations, usually wrapped
// with the operation that failed.
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrInvalidInput  = errors.New("invalid record")
)

// Coded translates a store sentinel into the coded error reported to
// clients. It returns nil for anything that is not a store sentinel.
func Coded(err error) *domainerrors.Error {
	switch {
	case errors.Is(err, ErrNotFound):
		return domainerrors.NotFound(ErrNotFound.Error()).WithCause(err)
	case errors.Is(err, ErrAlreadyExists):
		return domainerrors.Validation(ErrAlreadyExists.Error()).WithCause(err)
	case errors.Is(err, ErrInvalidInput):
		return domainerrors.Validation(err.Error()).WithCause(err)
	default:
		return nil
	}
}
