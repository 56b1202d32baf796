package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := LibraryMismatchf("peer selected %s", "group-b")

	assert.True(t, Is(err, ErrLibraryMismatch))
	assert.False(t, Is(err, ErrIncompatiblePeer))
	assert.Equal(t, "peer selected group-b", err.Error())
}

func TestError_WrapKeepsCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(cause, CodeStorage, "apply sync batch")

	assert.True(t, Is(err, ErrStorage))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "apply sync batch: disk full", err.Error())
}

func TestError_WrappedInFmtStillMatches(t *testing.T) {
	err := fmt.Errorf("session: %w", NotShared("library has no shared group"))

	require.True(t, Is(err, ErrNotShared))
	assert.Equal(t, CodeNotShared, CodeOf(err))
	assert.Equal(t, CodeInternal, CodeOf(fmt.Errorf("plain")))
}

func TestCode_UserMessageCoversTaxonomy(t *testing.T) {
	codes := []Code{
		CodePermissionDenied, CodeConnectionFailed, CodeConnectionLost,
		CodeIncompatiblePeer, CodeLibraryMismatch, CodeMalformedMessage,
		CodeNotShared, CodeTimeout, CodeCancelled, CodeBusy, CodeStorage,
	}
	fallback := Code("SOMETHING_ELSE").UserMessage()

	for _, code := range codes {
		t.Run(string(code), func(t *testing.T) {
			msg := code.UserMessage()
			assert.NotEmpty(t, msg)
			assert.NotEqual(t, fallback, msg)
		})
	}
}

func TestCode_Recoverable(t *testing.T) {
	assert.True(t, CodeConnectionLost.Recoverable())
	assert.True(t, CodePermissionDenied.Recoverable())
	assert.False(t, CodeIncompatiblePeer.Recoverable())
	assert.False(t, CodeLibraryMismatch.Recoverable())
	assert.False(t, CodeMalformedMessage.Recoverable())
	assert.False(t, CodeNotShared.Recoverable())
}

func TestCode_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, CodeNotShared.HTTPStatus())
	assert.Equal(t, http.StatusConflict, CodeBusy.HTTPStatus())
	assert.Equal(t, http.StatusGatewayTimeout, CodeTimeout.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, ErrNotFound.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, CodeInternal.HTTPStatus())
}

func TestError_WithDetails(t *testing.T) {
	err := ValidationWithDetails("validation failed", map[string]string{"ownerId": "is required"})
	detailed := err.WithDetails(map[string]string{"type": "is invalid"})

	assert.Equal(t, CodeValidation, detailed.Code)
	assert.Equal(t, map[string]string{"type": "is invalid"}, detailed.Details)
}
