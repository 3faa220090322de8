// Package accounting writes day records from today provider
// and keeps month record equal to the sum of its stored days.
package accounting

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/record"
	"github.com/temoto/pvstats/store"
	"github.com/temoto/pvstats/today"
)

const DefaultInterval = 5 * time.Minute

type Store interface {
	store.Writer
	IterateDays(from record.Date, max int) ([]record.DayRecord, error)
}

type Options struct {
	Store    Store
	Today    today.Provider
	Interval time.Duration
	Location *time.Location
	Now      func() time.Time // for tests
	Log      *log2.Log
}

type Recorder struct {
	opt Options
	log *log2.Log
}

func NewRecorder(opt Options) (*Recorder, error) {
	if opt.Store == nil || opt.Today == nil {
		return nil, errors.NotValidf("code error accounting Store=%v Today=%v", opt.Store != nil, opt.Today != nil)
	}
	if opt.Interval <= 0 {
		opt.Interval = DefaultInterval
	}
	if opt.Location == nil {
		opt.Location = time.Local
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Recorder{opt: opt, log: opt.Log}, nil
}

func (r *Recorder) today() record.Date { return record.DateOf(r.opt.Now().In(r.opt.Location)) }

// Record overwrites day with provider totals and recomputes its month.
// Returns NotFound error when provider has no data for day.
func (r *Recorder) Record(ctx context.Context, day record.Date) error {
	e, ok := r.opt.Today.Today(ctx, day)
	if !ok {
		return errors.NotFoundf("accounting day=%s provider data", day)
	}
	if err := r.opt.Store.PutDay(record.DayRecord{Date: day, Energy: e}); err != nil {
		return errors.Annotate(err, "accounting")
	}
	r.log.Debugf("accounting day=%s %s", day, e.String())
	_, err := r.RecomputeMonth(day.MonthOf())
	return err
}

// RecomputeMonth writes month record as sum of stored days of that month.
// Idempotent, month without days is written as zero.
func (r *Recorder) RecomputeMonth(month record.Month) (record.Energy, error) {
	var sum record.Energy
	days, err := r.opt.Store.IterateDays(month.FirstDay(), 31)
	if err != nil {
		return sum, errors.Annotatef(err, "accounting month=%s", month)
	}
	for _, d := range days {
		if d.Date.MonthOf() != month {
			break
		}
		sum = sum.Add(d.Energy)
	}
	if err = r.opt.Store.PutMonth(record.MonthRecord{Month: month, Energy: sum}); err != nil {
		return sum, errors.Annotatef(err, "accounting month=%s", month)
	}
	return sum, nil
}

// Run records running day every interval until ctx is done.
// On day rollover previous day gets final record if provider still has it.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opt.Interval)
	defer ticker.Stop()
	var last record.Date
	for {
		last = r.Step(ctx, last)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Step is one Run iteration, returns day to pass as last next time.
func (r *Recorder) Step(ctx context.Context, last record.Date) record.Date {
	day := r.today()
	if !last.IsZero() && last != day {
		switch err := r.Record(ctx, last); {
		case err == nil:
			r.log.Infof("accounting closed day=%s", last)
		case errors.IsNotFound(err):
			r.log.Debugf("accounting rollover day=%s keeps last record", last)
		default:
			r.log.Error(err)
		}
	}
	if err := r.Record(ctx, day); err != nil && !errors.IsNotFound(err) {
		r.log.Error(err)
	}
	return day
}
