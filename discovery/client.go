package discovery

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/pvstats/helpers"
	"github.com/temoto/pvstats/internal/mcast"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/wire"
)

type ClientOptions struct {
	Group     string // default DefaultGroup
	Interface string
	TTL       int
	Attempts  int
	RetryMin  time.Duration // first reply wait window
	RetryMax  time.Duration
	Log       *log2.Log
	OnState   func(State)
}

// Offer is a validated source reply.
type Offer struct {
	wire.Offer
	From *net.UDPAddr // responder address
	Addr *net.UDPAddr // stats endpoint: responder IP, offered port
}

func (o Offer) String() string {
	return "offer from=" + mcast.AddrString(o.From) + " stats=" + mcast.AddrString(o.Addr)
}

var discoverSeq uint32

// Discover blocks until first valid OFFER, attempts exhaustion or ctx cancel.
func Discover(ctx context.Context, opt ClientOptions) (Offer, error) {
	if opt.Group == "" {
		opt.Group = DefaultGroup
	}
	if opt.Attempts <= 0 {
		opt.Attempts = DefaultAttempts
	}
	if opt.RetryMin <= 0 {
		opt.RetryMin = DefaultRetryMin
	}
	if opt.RetryMax < opt.RetryMin {
		opt.RetryMax = DefaultRetryMax
		if opt.RetryMax < opt.RetryMin {
			opt.RetryMax = opt.RetryMin
		}
	}
	setState := func(s State) {
		opt.Log.Debugf("discovery state=%s", s)
		if opt.OnState != nil {
			opt.OnState(s)
		}
	}

	group, err := net.ResolveUDPAddr("udp4", opt.Group)
	if err != nil {
		setState(StateFailed)
		return Offer{}, errors.Annotatef(err, "discovery group=%s", opt.Group)
	}
	conn, err := mcast.Sender(group, mcast.Options{Interface: opt.Interface, TTL: opt.TTL, Log: opt.Log})
	if err != nil {
		setState(StateFailed)
		return Offer{}, errors.Annotate(err, "discovery")
	}
	defer conn.Close()
	// unblock read on cancel
	stopch := make(chan struct{})
	defer close(stopch)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Unix(1, 0))
		case <-stopch:
		}
	}()

	backoff := helpers.Backoff{Min: opt.RetryMin, Max: opt.RetryMax, K: 2}
	buf := make([]byte, wire.MaxFrame)
	setState(StateDiscovering)
	for attempt := 1; attempt <= opt.Attempts; attempt++ {
		seq := atomic.AddUint32(&discoverSeq, 1)
		b, _ := wire.Encode(wire.TypeDiscover, seq, nil)
		if _, err = conn.WriteToUDP(b, group); err != nil {
			// network may come up later, keep trying
			opt.Log.Errorf("discovery send group=%s err=%v", group, err)
		}
		window := backoff.Current()
		opt.Log.Debugf("discovery attempt=%d/%d seq=%d window=%s", attempt, opt.Attempts, seq, window)

		offer, err := receiveOffer(ctx, conn, buf, seq, time.Now().Add(window), opt.Log)
		switch {
		case err == nil:
			setState(StateOffered)
			opt.Log.Debugf("discovery %s", offer.String())
			return offer, nil
		case ctx.Err() != nil:
			setState(StateFailed)
			return Offer{}, ctx.Err()
		case errors.Cause(err) != errWindow:
			setState(StateFailed)
			return Offer{}, errors.Annotate(err, "discovery receive")
		}
		backoff.Failure()
	}
	setState(StateFailed)
	return Offer{}, errors.Annotatef(ErrNoSourceFound, "group=%s attempts=%d", opt.Group, opt.Attempts)
}

var errWindow = fmt.Errorf("reply window elapsed")

// receiveOffer accepts only OFFER echoing seq of current attempt, late replies to earlier attempts are dropped.
func receiveOffer(ctx context.Context, conn *net.UDPConn, buf []byte, seq uint32, deadline time.Time, log *log2.Log) (Offer, error) {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return Offer{}, err
	}
	for {
		if ctx.Err() != nil {
			return Offer{}, ctx.Err()
		}
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return Offer{}, errWindow
			}
			return Offer{}, err
		}
		f, err := wire.Decode(buf[:n])
		if err != nil {
			log.Debugf("discovery drop from=%s err=%v", from, err)
			continue
		}
		if f.Type != wire.TypeOffer {
			log.Debugf("discovery drop from=%s frame=%s", from, f.String())
			continue
		}
		if f.Seq != seq {
			log.Debugf("discovery drop stale from=%s frame=%s expect seq=%d", from, f.String(), seq)
			continue
		}
		var o Offer
		if err = o.Offer.UnmarshalBinary(f.Payload); err != nil {
			log.Debugf("discovery drop from=%s err=%v", from, err)
			continue
		}
		o.From = from
		o.Addr = &net.UDPAddr{IP: from.IP, Port: int(o.StatsPort), Zone: from.Zone}
		return o, nil
	}
}
