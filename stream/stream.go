// Package stream transfers stored history over UDP.
//
// Client sends one REQ_RANGE to the stats port. Source replies from a store snapshot:
// DAY frames ascending, then MON frames ascending, then empty DONE.
// Session seq starts at 1 and grows by one with every frame.
// There is no retransmission, client detects loss by seq gap and re-requests
// from last confirmed record.
package stream

import (
	"fmt"
	"time"
)

const (
	DefaultPort           = 43211
	DefaultIdleTimeout    = 5 * time.Second
	DefaultSessionTimeout = time.Minute
	DefaultSendInterval   = 2 * time.Millisecond
)

var (
	ErrStreamTimeout  = fmt.Errorf("stream timeout")
	ErrStreamAborted  = fmt.Errorf("stream aborted")
	ErrUnexpectedType = fmt.Errorf("stream unexpected frame type")
	ErrClosing        = fmt.Errorf("stream server closing")
)

type State int32

const (
	StateIdle State = iota
	StateRequested
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequested:
		return "requested"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// CorruptPolicy selects client reaction to a frame failing validation or seq gap.
type CorruptPolicy int

const (
	// Stop with ErrStreamAborted, Result tells where to resume.
	CorruptAbort CorruptPolicy = iota
	// Skip the frame and keep streaming.
	CorruptDrop
)
