package rpc

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/core"
)

// ErrHandleDetached is returned once the owner of the session is gone.
var ErrHandleDetached = errors.New("reconnect handle is in detached state")

// ReconnectHandle is given to the application on connection loss so it can
// decide when to reconnect.
type ReconnectHandle struct {
	session core.RpcSession
	alive   func() bool
}

var _ core.ReconnectHandle = (*ReconnectHandle)(nil)

// NewReconnectHandle binds a handle to session. alive reports whether the
// session owner still exists.
func NewReconnectHandle(session core.RpcSession, alive func() bool) *ReconnectHandle {
	return &ReconnectHandle{session: session, alive: alive}
}

// ReconnectWithDelay waits for delay and tries to reconnect once.
func (h *ReconnectHandle) ReconnectWithDelay(ctx context.Context, delay time.Duration) error {
	if !h.alive() {
		return errors.WithStack(ErrHandleDetached)
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !h.alive() {
		return errors.WithStack(ErrHandleDetached)
	}
	return h.session.Reconnect(ctx)
}

// ReconnectWithBackoff retries until the session is reconnected, the owner
// is gone or maxElapsed passes. Zero maxElapsed retries forever. The first
// attempt is made immediately.
func (h *ReconnectHandle) ReconnectWithBackoff(ctx context.Context, starting time.Duration, multiplier float64, maxDelay, maxElapsed time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = starting
	b.Multiplier = multiplier
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = maxElapsed
	b.RandomizationFactor = 0
	b.Reset()

	attempt := 0
	return backoff.Retry(func() error {
		if !h.alive() {
			return backoff.Permanent(errors.WithStack(ErrHandleDetached))
		}
		attempt++
		err := h.session.Reconnect(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrSessionFinished) {
			return backoff.Permanent(err)
		}
		log.Warn().Err(err).Str("module", "rpc").Int("attempt", attempt).Msg("reconnect failed")
		return err
	}, backoff.WithContext(b, ctx))
}
