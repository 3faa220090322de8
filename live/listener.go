package live

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/pvstats/helpers/atomic_clock"
	"github.com/temoto/pvstats/internal/mcast"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/record"
	"github.com/temoto/pvstats/wire"
)

const (
	DefaultGroup  = "239.12.12.12:55221"
	DefaultMaxAge = 2 * time.Minute
)

type ListenerOptions struct {
	Group     string
	Interface string
	MaxAge    time.Duration // frames older than this do not answer Today
	Location  *time.Location
	Log       *log2.Log
	OnFrame   func(Frame)
}

// Listener keeps the latest valid frame.
type Listener struct {
	alive     *alive.Alive
	conn      *net.UDPConn
	closeOnce sync.Once
	closeErr  error
	log       *log2.Log
	opt       ListenerOptions
	stat      wire.Stat

	mu       sync.RWMutex
	last     Frame
	have     bool
	received atomic_clock.Clock
}

func NewListener(opt ListenerOptions) (*Listener, error) {
	if opt.Group == "" {
		opt.Group = DefaultGroup
	}
	if opt.MaxAge <= 0 {
		opt.MaxAge = DefaultMaxAge
	}
	if opt.Location == nil {
		opt.Location = time.Local
	}
	conn, err := mcast.Listen(opt.Group, mcast.Options{Interface: opt.Interface, Log: opt.Log})
	if err != nil {
		return nil, errors.Annotate(err, "live listener")
	}
	l := &Listener{
		alive: alive.NewAlive(),
		conn:  conn,
		log:   opt.Log,
		opt:   opt,
	}
	l.alive.Add(1)
	go l.loop()
	l.log.Infof("live listen=%s", conn.LocalAddr())
	return l, nil
}

func (l *Listener) Addr() *net.UDPAddr { return l.conn.LocalAddr().(*net.UDPAddr) }
func (l *Listener) Stat() *wire.Stat   { return &l.stat }

func (l *Listener) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-l.alive.StopChan():
	}
	return l.Close()
}

func (l *Listener) Close() error {
	l.alive.Stop()
	l.closeOnce.Do(func() { l.closeErr = l.conn.Close() })
	l.alive.Wait()
	return errors.Annotate(l.closeErr, "live listener close")
}

// Latest returns last valid frame and time since it was received.
func (l *Listener) Latest() (Frame, time.Duration, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.have {
		return Frame{}, 0, false
	}
	return l.last, atomic_clock.Since(&l.received), true
}

// Today implements today.Provider with counters of a fresh frame stamped with the same day.
func (l *Listener) Today(_ context.Context, day record.Date) (record.Energy, bool) {
	f, age, ok := l.Latest()
	if !ok || age > l.opt.MaxAge {
		return record.Energy{}, false
	}
	if record.DateOf(f.Timestamp().In(l.opt.Location)) != day {
		return record.Energy{}, false
	}
	return f.Energy(), true
}

func (l *Listener) loop() {
	defer l.alive.Done()
	buf := make([]byte, 512)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if !l.alive.IsRunning() {
			return
		}
		if err != nil {
			l.log.Errorf("live read err=%v", err)
			l.alive.Stop()
			return
		}
		l.stat.RegisterRecv(n)
		f, err := Unmarshal(buf[:n])
		if err != nil {
			l.stat.Drop.Add(1)
			l.log.Debugf("live drop from=%s err=%v", from, err)
			continue
		}
		if !l.accept(f) {
			l.stat.Drop.Add(1)
			l.log.Debugf("live drop stale from=%s frame=%s", from, f.String())
			continue
		}
		if l.opt.OnFrame != nil {
			l.opt.OnFrame(f)
		}
	}
}

// accept rejects repeated or reordered frames. Poller restart resets seq, so
// lower seq with newer timestamp is accepted.
func (l *Listener) accept(f Frame) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.have && f.Seq <= l.last.Seq && f.Time <= l.last.Time {
		return false
	}
	l.last, l.have = f, true
	l.received.SetNow()
	return true
}
