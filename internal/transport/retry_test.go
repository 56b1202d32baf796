package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/mediashelf/mediashelf/internal/errors"
)

type flakyTransport struct {
	failures int
	err      error
	calls    int
}

func (f *flakyTransport) RequestPermissions(context.Context) (bool, error) { return true, nil }
func (f *flakyTransport) StartScanning(context.Context) ([]PeerDevice, error) {
	return nil, nil
}
func (f *flakyTransport) Disconnect() error { return nil }

func (f *flakyTransport) Connect(context.Context, PeerDevice) (Channel, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return nopChannel{}, nil
}

// blockingTransport never connects; Connect returns once ctx is done.
type blockingTransport struct {
	flakyTransport
}

func (b *blockingTransport) Connect(ctx context.Context, _ PeerDevice) (Channel, error) {
	b.calls++
	<-ctx.Done()
	return nil, ctx.Err()
}

type nopChannel struct{}

func (nopChannel) Send(context.Context, []byte) error      { return nil }
func (nopChannel) Receive(context.Context) ([]byte, error) { return nil, ErrChannelClosed }
func (nopChannel) ChunkSize() int                          { return 512 }
func (nopChannel) Close() error                            { return nil }

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond, Multiplier: 2}
}

func TestConnect_RetriesUntilSuccess(t *testing.T) {
	ft := &flakyTransport{failures: 2, err: errors.New("refused")}

	ch, err := Connect(context.Background(), ft, PeerDevice{Name: "den"}, fastRetry(3))
	require.NoError(t, err)
	assert.NotNil(t, ch)
	assert.Equal(t, 3, ft.calls)
}

func TestConnect_ExhaustedIsConnectionFailed(t *testing.T) {
	ft := &flakyTransport{failures: 5, err: errors.New("refused")}

	_, err := Connect(context.Background(), ft, PeerDevice{Name: "den"}, fastRetry(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrConnectionFailed)
	assert.Contains(t, err.Error(), "den")
	assert.Equal(t, 3, ft.calls)
}

func TestConnect_PermissionDeniedIsFinal(t *testing.T) {
	ft := &flakyTransport{failures: 5, err: domainerrors.PermissionDenied("no radio")}

	_, err := Connect(context.Background(), ft, PeerDevice{ID: "x"}, fastRetry(3))
	assert.ErrorIs(t, err, domainerrors.ErrPermissionDenied)
	assert.Equal(t, 1, ft.calls)
}

func TestConnect_CancelledDuringBackoff(t *testing.T) {
	ft := &flakyTransport{failures: 5, err: errors.New("refused")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := fastRetry(3)
	cfg.InitialWait = time.Hour
	_, err := Connect(ctx, ft, PeerDevice{ID: "x"}, cfg)
	assert.ErrorIs(t, err, domainerrors.ErrCancelled)
}

func TestConnect_AttemptTimeout(t *testing.T) {
	bt := &blockingTransport{}
	cfg := fastRetry(2)
	cfg.AttemptTimeout = 20 * time.Millisecond

	start := time.Now()
	_, err := Connect(context.Background(), bt, PeerDevice{Name: "den"}, cfg)
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodeTimeout, domainerrors.CodeOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, bt.calls)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConnect_CancelledWhileDialing(t *testing.T) {
	bt := &blockingTransport{}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	cfg := fastRetry(3)
	cfg.AttemptTimeout = time.Hour
	_, err := Connect(ctx, bt, PeerDevice{ID: "x"}, cfg)
	assert.ErrorIs(t, err, domainerrors.ErrCancelled)
	assert.Equal(t, 1, bt.calls)
}

func TestConnect_ZeroAttemptsTriesOnce(t *testing.T) {
	ft := &flakyTransport{failures: 1, err: errors.New("refused")}

	_, err := Connect(context.Background(), ft, PeerDevice{ID: "x"}, RetryConfig{})
	assert.Error(t, err)
	assert.Equal(t, 1, ft.calls)
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.True(t, Retryable(errors.New("refused")))
	assert.True(t, Retryable(domainerrors.ConnectionLost("dropped")))
	assert.False(t, Retryable(domainerrors.PermissionDenied("no")))
	assert.False(t, Retryable(context.Canceled))
	assert.Equal(t, 3, DefaultRetryConfig().MaxAttempts)
}
