package auth

import (
	"errors"
	"sync"
)

// ErrAlreadyDecided is returned by Resolve when a decision has already been
// recorded for the offer.
var ErrAlreadyDecided = errors.New("auth: decision already resolved")

// Decision is the outcome of a single credential offer. A policy must call
// Resolve exactly once; the first call wins and later calls report
// ErrAlreadyDecided without changing the outcome. Resolve may be called
// from any goroutine, so a policy is free to complete its own I/O before
// deciding.
type Decision struct {
	once sync.Once
	ch   chan bool
}

// NewDecision creates an unresolved decision.
func NewDecision() *Decision {
	return &Decision{ch: make(chan bool, 1)}
}

// Resolve records the outcome of the offer. It never blocks.
func (d *Decision) Resolve(granted bool) error {
	first := false
	d.once.Do(func() {
		d.ch <- granted
		first = true
	})
	if !first {
		return ErrAlreadyDecided
	}
	return nil
}

// wait blocks until the decision is resolved. There is deliberately no
// timeout here; hang protection is the transport's concern.
func (d *Decision) wait() bool {
	return <-d.ch
}
