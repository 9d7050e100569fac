package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the state of the circuit breaker.
type State int

const (
	// Closed is the initial state where requests are allowed.
	Closed State = iota
	// Open state is when the circuit has tripped and requests are blocked.
	Open
	// HalfOpen allows trial requests to test whether the upstream recovered.
	HalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "Half-Open"
	default:
		return "Unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is in the Open state.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker tracks consecutive failures of one upstream.
// Callers either use Execute, or pair Allow with Done when the outcome is only
// known later (e.g. in an http.RoundTripper).
type Breaker struct {
	failureThreshold uint32
	successThreshold uint32
	timeout          time.Duration
	now              func() time.Time

	mutex     sync.Mutex
	state     State
	failures  uint32
	successes uint32
	openedAt  time.Time
}

// New creates a Breaker.
// failureThreshold: consecutive failures that open the circuit.
// successThreshold: consecutive half-open successes that close it again.
// timeout: how long the circuit stays open before allowing a trial request.
func New(failureThreshold, successThreshold uint32, timeout time.Duration) *Breaker {
	if failureThreshold == 0 {
		failureThreshold = 1
	}
	if successThreshold == 0 {
		successThreshold = 1
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
		state:            Closed,
	}
}

// State returns the current state of the circuit breaker.
func (cb *Breaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.advance()
	return cb.state
}

// Allow reports whether a request may proceed.
func (cb *Breaker) Allow() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.advance()
	if cb.state == Open {
		return ErrCircuitOpen
	}
	return nil
}

// Done records the outcome of a request admitted by Allow.
func (cb *Breaker) Done(success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if success {
		switch cb.state {
		case HalfOpen:
			cb.successes++
			if cb.successes >= cb.successThreshold {
				cb.reset()
			}
		case Closed:
			cb.failures = 0
		}
		return
	}

	switch cb.state {
	case HalfOpen:
		cb.trip()
	case Closed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.trip()
		}
	}
}

// Execute runs req if the circuit allows it and records the result.
func (cb *Breaker) Execute(req func() (interface{}, error)) (interface{}, error) {
	if err := cb.Allow(); err != nil {
		return nil, err
	}
	res, err := req()
	cb.Done(err == nil)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// advance moves Open to HalfOpen once the timeout elapsed. Caller holds the lock.
func (cb *Breaker) advance() {
	if cb.state == Open && cb.now().Sub(cb.openedAt) >= cb.timeout {
		cb.state = HalfOpen
		cb.successes = 0
	}
}

func (cb *Breaker) trip() {
	cb.state = Open
	cb.openedAt = cb.now()
	cb.failures = 0
	cb.successes = 0
}

func (cb *Breaker) reset() {
	cb.state = Closed
	cb.failures = 0
	cb.successes = 0
}
