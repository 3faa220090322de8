// Package today supplies running totals of the current day
// when the store has no record for it yet.
package today

import (
	"context"
	"sync"

	"github.com/temoto/pvstats/record"
)

// Provider returns totals for day, ok=false when it has nothing for exactly that day.
type Provider interface {
	Today(ctx context.Context, day record.Date) (record.Energy, bool)
}

type Func func(ctx context.Context, day record.Date) (record.Energy, bool)

func (f Func) Today(ctx context.Context, day record.Date) (record.Energy, bool) { return f(ctx, day) }

// Noop never has data, chart shows zero for today until accounting writes the record.
type Noop struct{}

func (Noop) Today(context.Context, record.Date) (record.Energy, bool) { return record.Energy{}, false }

// Static is settable provider for tests and command line.
type Static struct {
	mu   sync.RWMutex
	day  record.Date
	e    record.Energy
	have bool
}

func NewStatic(day record.Date, e record.Energy) *Static {
	s := &Static{}
	s.Set(day, e)
	return s
}

func (s *Static) Set(day record.Date, e record.Energy) {
	s.mu.Lock()
	s.day, s.e, s.have = day, e, true
	s.mu.Unlock()
}

func (s *Static) Today(_ context.Context, day record.Date) (record.Energy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.have || s.day != day {
		return record.Energy{}, false
	}
	return s.e, true
}

// Chain asks providers in order, first with data wins.
type Chain []Provider

func (c Chain) Today(ctx context.Context, day record.Date) (record.Energy, bool) {
	for _, p := range c {
		if p == nil {
			continue
		}
		if e, ok := p.Today(ctx, day); ok {
			return e, true
		}
	}
	return record.Energy{}, false
}

// OrNoop replaces nil with Noop.
func OrNoop(p Provider) Provider {
	if p == nil {
		return Noop{}
	}
	return p
}
