package mocks

import (
	"context"
	"errors"
)

var ErrLoopStopped = errors.New("loop stopped")

// Loop runs functions on a single goroutine, like the room does.
type Loop struct {
	ops  chan func()
	done chan struct{}
}

// NewLoop starts a loop. Stop must be called to release its goroutine.
func NewLoop() *Loop {
	l := &Loop{ops: make(chan func(), 64), done: make(chan struct{})}
	go func() {
		for {
			select {
			case fn := <-l.ops:
				fn()
			case <-l.done:
				return
			}
		}
	}()
	return l
}

func (l *Loop) Stop() { close(l.done) }

func (l *Loop) Post(fn func()) {
	select {
	case l.ops <- fn:
	case <-l.done:
	}
}

func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case l.ops <- func() { fn(); close(finished) }:
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
