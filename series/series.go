// Package series rebuilds fixed width rolling windows for charts.
// Missing records are zero entries, never omitted, so consumers always see window entries.
package series

import (
	"context"

	"github.com/juju/errors"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/record"
	"github.com/temoto/pvstats/store"
	"github.com/temoto/pvstats/today"
)

const (
	DefaultDays   = 30
	DefaultMonths = 12
)

// Prices per kWh in local currency.
type Prices struct {
	T1     float64 `json:"t1" yaml:"t1"`
	T2     float64 `json:"t2" yaml:"t2"`
	Export float64 `json:"export" yaml:"export"`
}

var DefaultPrices = Prices{T1: 0.344, T2: 0.2597, Export: 0.138}

func (p Prices) Cost(e record.Energy) float64 {
	return float64(e.ImportT1)*p.T1 + float64(e.ImportT2)*p.T2 - float64(e.Export)*p.Export
}

// RunningCost is import price minus export revenue over all entries, may be negative.
func RunningCost(es []record.Energy, p Prices) float64 {
	sum := 0.0
	for _, e := range es {
		sum += p.Cost(e)
	}
	return sum
}

// Maxima returns raw maxima, maxImport is max of both tariffs sum.
func Maxima(es []record.Energy) (maxExport, maxImport float32) {
	for _, e := range es {
		if e.Export > maxExport {
			maxExport = e.Export
		}
		if imp := e.Import(); imp > maxImport {
			maxImport = imp
		}
	}
	return
}

type Summary struct {
	Cost      float64       `json:"cost" yaml:"cost"`
	MaxExport float32       `json:"max_export" yaml:"max_export"`
	MaxImport float32       `json:"max_import" yaml:"max_import"`
	Total     record.Energy `json:"total" yaml:"total"`
}

func Summarize(es []record.Energy, p Prices) Summary {
	s := Summary{Cost: RunningCost(es, p)}
	s.MaxExport, s.MaxImport = Maxima(es)
	for _, e := range es {
		s.Total = s.Total.Add(e)
	}
	return s
}

type DaySeries []record.DayRecord

func (s DaySeries) Energies() []record.Energy {
	es := make([]record.Energy, len(s))
	for i := range s {
		es[i] = s[i].Energy
	}
	return es
}

type MonthSeries []record.MonthRecord

func (s MonthSeries) Energies() []record.Energy {
	es := make([]record.Energy, len(s))
	for i := range s {
		es[i] = s[i].Energy
	}
	return es
}

// Aggregator reads store snapshot. Today provider fills only the newest entry
// and only when store has no record for it.
type Aggregator struct {
	Store store.Reader
	Today today.Provider
	Log   *log2.Log
}

type viewer interface {
	View(func(store.Reader) error) error
}

func (a *Aggregator) view(f func(store.Reader) error) error {
	if a.Store == nil {
		return errors.NotValidf("code error series Store=nil")
	}
	if v, ok := a.Store.(viewer); ok {
		return v.View(f)
	}
	return f(a.Store)
}

// Days returns window entries [day-window+1 .. day] oldest first. Window<=0 means DefaultDays.
func (a *Aggregator) Days(ctx context.Context, day record.Date, window int) (DaySeries, error) {
	if !day.Valid() {
		return nil, errors.NotValidf("series day=%s", day)
	}
	if window <= 0 {
		window = DefaultDays
	}
	s := make(DaySeries, window)
	var stored bool
	err := a.view(func(r store.Reader) error {
		d := day
		for i := window - 1; i >= 0; i-- {
			e, ok := r.GetDay(d)
			if d == day {
				stored = ok
			}
			s[i] = record.DayRecord{Date: d, Energy: e}
			d = d.AddDays(-1)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Annotate(err, "series days")
	}
	if !stored {
		if e, ok := today.OrNoop(a.Today).Today(ctx, day); ok {
			a.Log.Debugf("series day=%s from provider", day)
			s[window-1].Energy = e
		}
	}
	return s, nil
}

// Months returns window entries ending with month of day, oldest first. Window<=0 means DefaultMonths.
// Absent or corrupt month record is a zero entry; only today provider may fill the current one.
func (a *Aggregator) Months(ctx context.Context, day record.Date, window int) (MonthSeries, error) {
	if !day.Valid() {
		return nil, errors.NotValidf("series day=%s", day)
	}
	if window <= 0 {
		window = DefaultMonths
	}
	month := day.MonthOf()
	s := make(MonthSeries, window)
	var stored bool
	err := a.view(func(r store.Reader) error {
		m := month
		for i := window - 1; i >= 0; i-- {
			e, ok := r.GetMonth(m)
			if m == month {
				stored = ok
			}
			s[i] = record.MonthRecord{Month: m, Energy: e}
			m = m.Prev()
		}
		return nil
	})
	if err != nil {
		return nil, errors.Annotate(err, "series months")
	}
	if !stored {
		if e, ok := today.OrNoop(a.Today).Today(ctx, day); ok {
			a.Log.Debugf("series month=%s from provider day=%s", month, day)
			s[window-1].Energy = e
		}
	}
	return s, nil
}
