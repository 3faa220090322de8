package stream

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/record"
	"github.com/temoto/pvstats/wire"
)

// Sink receives validated records in stream order. *store.Store fits.
type Sink interface {
	PutDay(record.DayRecord) error
	PutMonth(record.MonthRecord) error
}

type FetchOptions struct {
	IdleTimeout time.Duration // max silence between frames
	OnCorrupt   CorruptPolicy
	Log         *log2.Log
	OnState     func(State)
}

// Result is valid with and without error.
// LastDay and LastMonth are the newest records confirmed good and passed to sink.
type Result struct {
	Days      int
	Months    int
	LastDay   record.Date
	LastMonth record.Month
	Dropped   int
	LastSeq   uint32
}

func (r Result) String() string {
	return fmt.Sprintf("days=%d months=%d last_day=%s last_month=%s dropped=%d",
		r.Days, r.Months, r.LastDay, r.LastMonth, r.Dropped)
}

// Resume returns request continuing after r.
// Last confirmed record is requested again, overwrite is idempotent.
func (r Result) Resume(prev wire.RangeRequest) wire.RangeRequest {
	next := prev
	if !r.LastDay.IsZero() {
		next.FromYear, next.FromMonth, next.FromDay = r.LastDay.Year, r.LastDay.Month, r.LastDay.Day
	}
	if !r.LastMonth.IsZero() {
		next.FromMonthYear, next.FromMonthMonth = r.LastMonth.Year, r.LastMonth.Month
	}
	return next
}

var requestSeq uint32

type fetcher struct {
	conn   *net.UDPConn
	addr   *net.UDPAddr
	sink   Sink
	opt    FetchOptions
	result Result
	state  State
}

// Fetch requests range from source at addr and feeds records to sink until DONE.
// Terminal errors: ErrStreamTimeout, ErrStreamAborted, ErrUnexpectedType, ctx error, sink error.
func Fetch(ctx context.Context, addr *net.UDPAddr, req wire.RangeRequest, sink Sink, opt FetchOptions) (Result, error) {
	if opt.IdleTimeout <= 0 {
		opt.IdleTimeout = DefaultIdleTimeout
	}
	f := &fetcher{addr: addr, sink: sink, opt: opt}
	err := f.run(ctx, req)
	if err != nil {
		f.setState(StateFailed)
		f.opt.Log.Debugf("stream fetch from=%s %s err=%v", addr, f.result.String(), err)
	}
	return f.result, err
}

func (f *fetcher) setState(s State) {
	if f.state == s {
		return
	}
	f.state = s
	f.opt.Log.Debugf("stream fetch state=%s", s)
	if f.opt.OnState != nil {
		f.opt.OnState(s)
	}
}

func (f *fetcher) run(ctx context.Context, req wire.RangeRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if f.addr == nil {
		return errors.NotValidf("stream fetch addr=nil")
	}
	var err error
	f.conn, err = net.ListenUDP("udp4", nil)
	if err != nil {
		return errors.Annotate(err, "stream fetch listen")
	}
	defer f.conn.Close()
	stopch := make(chan struct{})
	defer close(stopch)
	go func() {
		select {
		case <-ctx.Done():
			_ = f.conn.SetReadDeadline(time.Unix(1, 0))
		case <-stopch:
		}
	}()

	payload, _ := req.MarshalBinary()
	b, _ := wire.Encode(wire.TypeReqRange, atomic.AddUint32(&requestSeq, 1), payload)
	if _, err = f.conn.WriteToUDP(b, f.addr); err != nil {
		return errors.Annotatef(err, "stream fetch send to=%s", f.addr)
	}
	f.setState(StateRequested)

	buf := make([]byte, wire.MaxFrame)
	for {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = f.conn.SetReadDeadline(time.Now().Add(f.opt.IdleTimeout)); err != nil {
			return errors.Trace(err)
		}
		n, from, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return errors.Annotatef(ErrStreamTimeout, "idle=%s %s", f.opt.IdleTimeout, f.result.String())
			}
			return errors.Annotate(err, "stream fetch receive")
		}
		if !from.IP.Equal(f.addr.IP) || from.Port != f.addr.Port {
			f.opt.Log.Debugf("stream fetch ignore foreign from=%s", from)
			continue
		}
		done, err := f.handle(buf[:n])
		if err != nil || done {
			return err
		}
	}
}

// corrupt applies CorruptPolicy, nil means continue.
func (f *fetcher) corrupt(err error) error {
	f.result.Dropped++
	if f.opt.OnCorrupt == CorruptDrop {
		f.opt.Log.Debugf("stream fetch drop err=%v", err)
		return nil
	}
	return errors.Annotatef(ErrStreamAborted, "%v", err)
}

func (f *fetcher) handle(b []byte) (bool, error) {
	fr, err := wire.Decode(b)
	if err != nil {
		return false, f.corrupt(err)
	}
	switch fr.Type {
	case wire.TypeDiscover, wire.TypeOffer, wire.TypeReqRange:
		return false, errors.Annotatef(ErrUnexpectedType, "frame=%s", fr.String())
	}

	if fr.Seq <= f.result.LastSeq {
		f.opt.Log.Debugf("stream fetch drop duplicate frame=%s last_seq=%d", fr.String(), f.result.LastSeq)
		return false, nil
	}
	if expect := f.result.LastSeq + 1; fr.Seq != expect {
		err = f.corrupt(fmt.Errorf("seq gap expected=%d received=%d", expect, fr.Seq))
		if err != nil {
			return false, err
		}
	}
	f.result.LastSeq = fr.Seq

	switch fr.Type {
	case wire.TypeAck:
		return false, nil

	case wire.TypeDone:
		f.setState(StateCompleted)
		f.opt.Log.Debugf("stream fetch done %s", f.result.String())
		return true, nil

	case wire.TypeDay:
		r, err := wire.UnmarshalDay(fr.Payload)
		if err == nil && !r.Date.Valid() {
			err = errors.NotValidf("day=%s", r.Date)
		}
		if err != nil {
			return false, f.corrupt(err)
		}
		if f.result.Months != 0 || !f.result.LastDay.Before(r.Date) {
			return false, errors.Annotatef(ErrStreamAborted, "out of order day=%s last_day=%s months=%d",
				r.Date, f.result.LastDay, f.result.Months)
		}
		f.setState(StateStreaming)
		if err = f.sink.PutDay(r); err != nil {
			return false, errors.Annotate(err, "stream fetch sink")
		}
		f.result.Days++
		f.result.LastDay = r.Date

	case wire.TypeMonth:
		r, err := wire.UnmarshalMonth(fr.Payload)
		if err == nil && !r.Month.Valid() {
			err = errors.NotValidf("month=%s", r.Month)
		}
		if err != nil {
			return false, f.corrupt(err)
		}
		if !f.result.LastMonth.Before(r.Month) {
			return false, errors.Annotatef(ErrStreamAborted, "out of order month=%s last_month=%s",
				r.Month, f.result.LastMonth)
		}
		f.setState(StateStreaming)
		if err = f.sink.PutMonth(r); err != nil {
			return false, errors.Annotate(err, "stream fetch sink")
		}
		f.result.Months++
		f.result.LastMonth = r.Month

	default:
		return false, f.corrupt(fmt.Errorf("unknown frame=%s", fr.String()))
	}
	return false, nil
}
