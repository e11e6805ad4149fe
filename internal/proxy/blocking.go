// SPDX-License-Identifier: AGPL-3.0-or-later

package proxy

// BlockingState is the small tagged variant a Session's blocking filter
// uses in place of the reference implementation's overloaded bool/int
// field: off passes messages through, hold suppresses every message until
// a plugin releases it, holdN suppresses exactly the next N messages.
type BlockingState int

const (
	// BlockingOff passes messages through unmodified.
	BlockingOff BlockingState = iota
	// BlockingHold suppresses every message until cleared.
	BlockingHold
	// BlockingHoldN suppresses exactly the next N messages.
	BlockingHoldN
)

// Blocking is the Session's blocking filter state.
type Blocking struct {
	state BlockingState
	n     int
}

// State reports the current blocking mode.
func (b *Blocking) State() BlockingState {
	return b.state
}

// N reports the remaining countdown for BlockingHoldN; meaningless
// otherwise.
func (b *Blocking) N() int {
	return b.n
}

// SetOff clears the blocking filter.
func (b *Blocking) SetOff() {
	b.state = BlockingOff
	b.n = 0
}

// SetHold arms an unconditional hold.
func (b *Blocking) SetHold() {
	b.state = BlockingHold
	b.n = 0
}

// SetHoldN arms a countdown hold of exactly k messages. k must be >= 1.
func (b *Blocking) SetHoldN(k int) {
	if k < 1 {
		b.SetOff()
		return
	}
	b.state = BlockingHoldN
	b.n = k
}

// Allow reports whether a message should be forwarded, advancing the
// hold-N countdown to off when it reaches zero. It does not itself
// consider refId changes; callers must clear blocking on a refId change
// before calling Allow, per I4.
func (b *Blocking) Allow() bool {
	switch b.state {
	case BlockingOff:
		return true
	case BlockingHold:
		return false
	case BlockingHoldN:
		b.n--
		if b.n <= 0 {
			b.SetOff()
		}
		return false
	default:
		return true
	}
}

// String renders the state for logging.
func (s BlockingState) String() string {
	switch s {
	case BlockingOff:
		return "off"
	case BlockingHold:
		return "hold"
	case BlockingHoldN:
		return "hold_n"
	default:
		return "unknown"
	}
}
