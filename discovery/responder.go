package discovery

import (
	"context"
	"net"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/pvstats/internal/mcast"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/wire"
)

type ResponderOptions struct {
	Group     string // listen address, default DefaultGroup
	Interface string
	StatsPort uint16
	Log       *log2.Log
}

// Responder is source side of discovery.
// Replies unicast OFFER to every valid DISCOVER, echoing request seq.
type Responder struct {
	alive     *alive.Alive
	conn      *net.UDPConn
	closeOnce sync.Once
	closeErr  error
	log       *log2.Log
	offer     []byte
	stat      wire.Stat
}

func NewResponder(opt ResponderOptions) (*Responder, error) {
	if opt.Group == "" {
		opt.Group = DefaultGroup
	}
	if opt.StatsPort == 0 {
		return nil, errors.NotValidf("discovery responder StatsPort=0")
	}
	offer, _ := wire.Offer{StatsPort: opt.StatsPort}.MarshalBinary()
	conn, err := mcast.Listen(opt.Group, mcast.Options{Interface: opt.Interface, Log: opt.Log})
	if err != nil {
		return nil, errors.Annotate(err, "discovery responder")
	}
	r := &Responder{
		alive: alive.NewAlive(),
		conn:  conn,
		log:   opt.Log,
		offer: offer,
	}
	r.alive.Add(1)
	go r.loop()
	r.log.Infof("discovery responder listen=%s stats_port=%d", conn.LocalAddr(), opt.StatsPort)
	return r, nil
}

func (r *Responder) Addr() *net.UDPAddr { return r.conn.LocalAddr().(*net.UDPAddr) }
func (r *Responder) Stat() *wire.Stat   { return &r.stat }

// Run blocks until ctx is done or responder is closed.
func (r *Responder) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-r.alive.StopChan():
	}
	return r.Close()
}

func (r *Responder) Close() error {
	r.alive.Stop()
	r.closeOnce.Do(func() { r.closeErr = r.conn.Close() })
	r.alive.Wait()
	return errors.Annotate(r.closeErr, "discovery responder close")
}

func (r *Responder) loop() {
	defer r.alive.Done()
	buf := make([]byte, wire.MaxFrame)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if !r.alive.IsRunning() {
			return
		}
		if err != nil {
			r.log.Errorf("discovery responder read err=%v", err)
			r.alive.Stop()
			return
		}
		r.stat.RegisterRecv(n)
		r.handle(buf[:n], from)
	}
}

func (r *Responder) handle(b []byte, from *net.UDPAddr) {
	f, err := wire.Decode(b)
	if err != nil {
		r.stat.Drop.Add(1)
		r.log.Debugf("discovery responder drop from=%s err=%v", from, err)
		return
	}
	if f.Type != wire.TypeDiscover {
		// OFFER from another source on shared group is normal
		r.stat.Drop.Add(1)
		r.log.Debugf("discovery responder ignore from=%s frame=%s", from, f.String())
		return
	}
	reply, _ := wire.Encode(wire.TypeOffer, f.Seq, r.offer)
	if _, err = r.conn.WriteToUDP(reply, from); err != nil {
		r.log.Errorf("discovery responder send to=%s err=%v", from, err)
		return
	}
	r.stat.RegisterSend(len(reply))
	r.log.Debugf("discovery responder offer to=%s seq=%d", from, f.Seq)
}
