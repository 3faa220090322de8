package persist

import (
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/wire"
)

// CursorName is directory of fetch cursor under persist root.
const CursorName = "fetch-cursor"

// Cursor remembers where the last fetch stopped, in range request wire form.
// Zero Cursor keeps position in memory only: Load finds nothing, Save does nothing.
type Cursor struct {
	mu   sync.Mutex
	req  wire.RangeRequest
	slot *slot
}

func OpenCursor(root string, log *log2.Log) (*Cursor, error) {
	s, err := openSlot(root, CursorName, log)
	if err != nil {
		return nil, errors.Annotate(err, "cursor")
	}
	return &Cursor{slot: s}, nil
}

// Load reports whether saved position was found.
// On error cursor stays at zero request, which means fetch everything.
func (c *Cursor) Load() (bool, error) {
	if c.slot == nil {
		return false, nil
	}
	b, err := c.slot.read()
	if err != nil || b == nil {
		return false, err
	}
	if err = c.UnmarshalBinary(b); err != nil {
		return false, err
	}
	r := c.Get()
	c.slot.log.Debugf("cursor loaded day=%s month=%s", r.DayFrom(), r.MonthFrom())
	return true, nil
}

// Save writes current position. Fetch calls it after every attempt, so restart resumes at last confirmed record.
func (c *Cursor) Save() error {
	if c.slot == nil {
		return nil
	}
	b, err := c.MarshalBinary()
	if err != nil {
		return errors.Annotate(err, "cursor")
	}
	return c.slot.write(b)
}

func (c *Cursor) Get() wire.RangeRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.req
}

func (c *Cursor) Set(r wire.RangeRequest) {
	c.mu.Lock()
	c.req = r
	c.mu.Unlock()
}

func (c *Cursor) MarshalBinary() ([]byte, error) {
	return c.Get().MarshalBinary()
}

func (c *Cursor) UnmarshalBinary(b []byte) error {
	var r wire.RangeRequest
	if err := r.UnmarshalBinary(b); err != nil {
		return errors.Annotate(err, "cursor")
	}
	if err := r.Validate(); err != nil {
		return errors.Annotate(err, "cursor")
	}
	c.Set(r)
	return nil
}
