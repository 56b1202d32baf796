package transport

import (
	"context"
	"errors"
	"time"

	domainerrors "github.com/mediashelf/mediashelf/internal/errors"
)

// RetryConfig controls connect retries.
type RetryConfig struct {
	MaxAttempts int           // maximum number of attempts (default: 3)
	InitialWait time.Duration // wait before first retry (default: 500ms)
	MaxWait     time.Duration // maximum wait between retries (default: 5s)
	Multiplier  float64       // backoff multiplier (default: 2.0)

	// AttemptTimeout bounds each connect attempt. Zero leaves attempts bound
	// only by the caller's context.
	AttemptTimeout time.Duration
}

// DefaultRetryConfig returns the connect retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
	}
}

// Retryable reports whether a connect error is worth another attempt.
// Permission problems and cancellation are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch domainerrors.CodeOf(err) {
	case domainerrors.CodePermissionDenied, domainerrors.CodeCancelled, domainerrors.CodeIncompatiblePeer:
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Connect opens a channel to peer, retrying with exponential backoff.
// The returned error is CONNECTION_FAILED unless the failure was final.
func Connect(ctx context.Context, t Transport, peer PeerDevice, cfg RetryConfig) (Channel, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	wait := cfg.InitialWait

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		ch, err := dial(ctx, t, peer, cfg.AttemptTimeout)
		if err == nil {
			return ch, nil
		}
		lastErr = err

		if !Retryable(err) {
			break
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, domainerrors.Wrap(ctx.Err(), domainerrors.CodeCancelled, "connect cancelled")
		case <-time.After(wait):
		}

		wait = time.Duration(float64(wait) * cfg.Multiplier)
		if cfg.MaxWait > 0 && wait > cfg.MaxWait {
			wait = cfg.MaxWait
		}
	}

	switch domainerrors.CodeOf(lastErr) {
	case domainerrors.CodePermissionDenied, domainerrors.CodeCancelled, domainerrors.CodeTimeout:
		return nil, lastErr
	}
	if errors.Is(lastErr, context.Canceled) {
		return nil, domainerrors.Wrap(lastErr, domainerrors.CodeCancelled, "connect cancelled")
	}
	return nil, domainerrors.Wrapf(lastErr, domainerrors.CodeConnectionFailed, "connect to %s", peerLabel(peer))
}

// dial makes one connect attempt. An attempt that runs out of time while
// the caller is still waiting reports TIMEOUT.
func dial(ctx context.Context, t Transport, peer PeerDevice, timeout time.Duration) (Channel, error) {
	if timeout <= 0 {
		return t.Connect(ctx, peer)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, err := t.Connect(attemptCtx, peer)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, domainerrors.Timeoutf("connect to %s timed out after %s", peerLabel(peer), timeout).WithCause(err)
	}
	return ch, err
}

func peerLabel(p PeerDevice) string {
	if p.Name != "" {
		return p.Name
	}
	if p.Address != "" {
		return p.Address
	}
	return p.ID
}
