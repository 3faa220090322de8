// Package discovery finds history source on local network.
//
// Client multicasts DISCOVER to the group and waits for OFFER carrying stats port.
// Reply wait window grows with each attempt. First valid OFFER wins.
// Source side Responder answers every DISCOVER, it keeps no state.
package discovery

import (
	"fmt"
	"time"
)

const (
	DefaultGroup    = "239.0.0.58:43210"
	DefaultAttempts = 5
	DefaultRetryMin = 500 * time.Millisecond
	DefaultRetryMax = 4 * time.Second
)

var ErrNoSourceFound = fmt.Errorf("no source found")

type State int32

const (
	StateIdle State = iota
	StateDiscovering
	StateOffered
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateOffered:
		return "offered"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}
