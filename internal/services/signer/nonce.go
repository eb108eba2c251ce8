package signer

import (
	"sync/atomic"
	"time"
)

// NonceSource hands out wall-clock millisecond nonces that never repeat
// within the process: each call returns max(now, last+1).
type NonceSource struct {
	last atomic.Int64
	now  func() time.Time
}

// NewNonceSource creates a NonceSource reading the system clock.
func NewNonceSource() *NonceSource {
	return &NonceSource{now: time.Now}
}

// Next returns the next nonce.
func (n *NonceSource) Next() uint64 {
	for {
		last := n.last.Load()
		next := n.now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if n.last.CompareAndSwap(last, next) {
			return uint64(next)
		}
	}
}
