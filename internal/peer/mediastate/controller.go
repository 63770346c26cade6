package mediastate

import "time"

// DefaultTransitionTimeout is how long a transition may wait for the server
// confirmation before it is cancelled.
const DefaultTransitionTimeout = 10 * time.Second

// Controller drives one MediaState of a track side. It is not safe for
// concurrent use: every method must be called from the goroutine that owns
// the peer, and post must schedule functions onto that goroutine.
type Controller struct {
	kind         Kind
	current      bool
	intended     bool
	inTransition bool

	timeout        time.Duration
	post           func(func())
	timer          *time.Timer
	timerGen       uint64
	timeoutStopped bool

	waiters []waiter

	onTransition func(intended MediaState)
	onStable     func(MediaState)
}

type waiter struct {
	desired bool
	ch      chan error
}

func NewController(initial MediaState, timeout time.Duration, post func(func())) *Controller {
	if timeout <= 0 {
		timeout = DefaultTransitionTimeout
	}
	return &Controller{
		kind:     initial.kind,
		current:  initial.on,
		intended: initial.on,
		timeout:  timeout,
		post:     post,
	}
}

// OnTransition is called every time the intended value changes: when a
// transition starts and when it is flipped to the opposite one.
func (c *Controller) OnTransition(fn func(intended MediaState)) { c.onTransition = fn }

// OnStable is called every time the controller settles.
func (c *Controller) OnStable(fn func(MediaState)) { c.onStable = fn }

func (c *Controller) State() State {
	return State{
		Current:      Of(c.kind, c.current),
		Intended:     Of(c.kind, c.intended),
		InTransition: c.inTransition,
	}
}

func (c *Controller) IsStable(s MediaState) bool { return c.State().IsStable(s) }

// TransitionTo starts a transition to desired. A transition already heading
// the other way is flipped and keeps its last confirmed value.
func (c *Controller) TransitionTo(desired MediaState) {
	if c.inTransition {
		if c.intended == desired.on {
			return
		}
		c.intended = desired.on
		c.restartTimer()
		c.emitTransition()
		return
	}
	if c.current == desired.on {
		return
	}
	c.inTransition = true
	c.intended = desired.on
	c.restartTimer()
	c.emitTransition()
}

// Update applies a value confirmed by the server.
func (c *Controller) Update(confirmed MediaState) {
	if !c.inTransition {
		changed := c.current != confirmed.on
		c.current, c.intended = confirmed.on, confirmed.on
		if changed {
			c.settle()
		}
		return
	}
	if c.intended == confirmed.on {
		c.current = confirmed.on
		c.inTransition = false
		c.stopTimer()
		c.settle()
		return
	}
	c.current = confirmed.on
	c.restartTimer()
}

// CancelTransition falls back to the last confirmed value.
func (c *Controller) CancelTransition() {
	if !c.inTransition {
		return
	}
	c.inTransition = false
	c.intended = c.current
	c.stopTimer()
	c.settle()
}

// WhenStable resolves once the controller is stable: with nil when it
// settled in desired, with *TransitsIntoOppositeError otherwise.
func (c *Controller) WhenStable(desired MediaState) <-chan error {
	ch := make(chan error, 1)
	if !c.inTransition {
		ch <- c.result(desired.on)
		return ch
	}
	c.waiters = append(c.waiters, waiter{desired: desired.on, ch: ch})
	return ch
}

// StopTimeout pauses the transition timeout, e.g. while signaling is lost.
func (c *Controller) StopTimeout() {
	c.timeoutStopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timerGen++
	}
}

// ResetTimeout resumes the timeout with the full duration.
func (c *Controller) ResetTimeout() {
	c.timeoutStopped = false
	if c.inTransition {
		c.restartTimer()
	}
}

// Close releases every waiter as if the awaited state was reached.
func (c *Controller) Close() {
	c.stopTimer()
	for _, w := range c.waiters {
		w.ch <- nil
	}
	c.waiters = nil
}

func (c *Controller) result(desired bool) error {
	if c.current == desired {
		return nil
	}
	return &TransitsIntoOppositeError{State: Of(c.kind, c.current)}
}

func (c *Controller) settle() {
	waiters := c.waiters
	c.waiters = nil
	for _, w := range waiters {
		w.ch <- c.result(w.desired)
	}
	if c.onStable != nil {
		c.onStable(Of(c.kind, c.current))
	}
}

func (c *Controller) emitTransition() {
	if c.onTransition != nil {
		c.onTransition(Of(c.kind, c.intended))
	}
}

func (c *Controller) restartTimer() {
	c.stopTimer()
	if c.timeoutStopped || c.post == nil {
		return
	}
	gen := c.timerGen
	c.timer = time.AfterFunc(c.timeout, func() {
		c.post(func() {
			if gen == c.timerGen && c.inTransition {
				c.CancelTransition()
			}
		})
	})
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}
