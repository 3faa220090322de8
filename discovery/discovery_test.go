package discovery

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/wire"
)

func newTestResponder(t testing.TB, port uint16) *Responder {
	r, err := NewResponder(ResponderOptions{
		Group:     "127.0.0.1:0",
		StatsPort: port,
		Log:       log2.NewTest(t, log2.LDebug),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// silent socket, or scripted fake source when reply is set
func newFakeSource(t testing.TB, reply func(req wire.Frame) [][]byte) *net.UDPConn {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	if reply == nil {
		return conn
	}
	go func() {
		buf := make([]byte, wire.MaxFrame)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			f, err := wire.Decode(buf[:n])
			if err != nil {
				continue
			}
			for _, b := range reply(f) {
				_, _ = conn.WriteToUDP(b, from)
			}
		}
	}()
	return conn
}

func TestDiscoverResponder(t *testing.T) {
	t.Parallel()
	r := newTestResponder(t, 43211)

	var mu sync.Mutex
	var states []State
	offer, err := Discover(context.Background(), ClientOptions{
		Group:    r.Addr().String(),
		Attempts: 3,
		RetryMin: time.Second,
		Log:      log2.NewTest(t, log2.LDebug),
		OnState: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	assert.Equal(t, uint16(43211), offer.StatsPort)
	assert.Equal(t, 43211, offer.Addr.Port)
	assert.True(t, offer.Addr.IP.IsLoopback())
	assert.Equal(t, r.Addr().Port, offer.From.Port)
	assert.Equal(t, []State{StateDiscovering, StateOffered}, states)
	assert.Equal(t, int64(1), r.Stat().Send.Count.Value())
}

func TestResponderEchoSeq(t *testing.T) {
	t.Parallel()
	r := newTestResponder(t, 1234)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	// garbage and foreign frames are dropped silently
	_, err = conn.WriteToUDP([]byte("garbage"), r.Addr())
	require.NoError(t, err)
	foreign, _ := wire.Encode(wire.TypeOffer, 5, []byte{1, 0, 0, 0})
	_, err = conn.WriteToUDP(foreign, r.Addr())
	require.NoError(t, err)

	for _, seq := range []uint32{77, 77, 78} {
		req, _ := wire.Encode(wire.TypeDiscover, seq, nil)
		_, err = conn.WriteToUDP(req, r.Addr())
		require.NoError(t, err)

		buf := make([]byte, wire.MaxFrame)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		n, _, err := conn.ReadFromUDP(buf)
		require.NoError(t, err)
		f, err := wire.Decode(buf[:n])
		require.NoError(t, err)
		assert.Equal(t, wire.TypeOffer, f.Type)
		assert.Equal(t, seq, f.Seq)
		var o wire.Offer
		require.NoError(t, o.UnmarshalBinary(f.Payload))
		assert.Equal(t, uint16(1234), o.StatsPort)
	}
	assert.Equal(t, int64(2), r.Stat().Drop.Value())
}

func TestNoSourceFound(t *testing.T) {
	t.Parallel()
	silent := newFakeSource(t, nil)

	var states []State
	begin := time.Now()
	_, err := Discover(context.Background(), ClientOptions{
		Group:    silent.LocalAddr().String(),
		Attempts: 3,
		RetryMin: 20 * time.Millisecond,
		RetryMax: 40 * time.Millisecond,
		Log:      log2.NewTest(t, log2.LDebug),
		OnState:  func(s State) { states = append(states, s) },
	})
	elapsed := time.Since(begin)
	require.Error(t, err)
	assert.Equal(t, ErrNoSourceFound, errors.Cause(err))
	// windows 20+40+40
	assert.True(t, elapsed >= 100*time.Millisecond, "elapsed=%s", elapsed)
	assert.True(t, elapsed < 2*time.Second, "elapsed=%s", elapsed)
	assert.Equal(t, []State{StateDiscovering, StateFailed}, states)
}

func TestFirstValidOfferWins(t *testing.T) {
	t.Parallel()

	src := newFakeSource(t, func(req wire.Frame) [][]byte {
		corrupt, _ := wire.Encode(wire.TypeOffer, req.Seq, []byte{1, 0, 0, 0})
		corrupt[len(corrupt)-1] ^= 0xff
		wrongType, _ := wire.Encode(wire.TypeDone, req.Seq, nil)
		zeroPort, _ := wire.Encode(wire.TypeOffer, req.Seq, []byte{0, 0, 0, 0})
		first, _ := wire.Encode(wire.TypeOffer, req.Seq, []byte{0x39, 0x30, 0, 0})
		second, _ := wire.Encode(wire.TypeOffer, req.Seq, []byte{0x3a, 0x30, 0, 0})
		return [][]byte{[]byte("junk"), corrupt, wrongType, zeroPort, first, second}
	})
	offer, err := Discover(context.Background(), ClientOptions{
		Group:    src.LocalAddr().String(),
		Attempts: 2,
		RetryMin: 2 * time.Second,
		Log:      log2.NewTest(t, log2.LDebug),
	})
	require.NoError(t, err)
	assert.Equal(t, uint16(12345), offer.StatsPort)
}

func TestStaleOfferDropped(t *testing.T) {
	t.Parallel()

	src := newFakeSource(t, func(req wire.Frame) [][]byte {
		stale, _ := wire.Encode(wire.TypeOffer, req.Seq-1, []byte{0x57, 0x04, 0, 0})
		current, _ := wire.Encode(wire.TypeOffer, req.Seq, []byte{0x39, 0x30, 0, 0})
		return [][]byte{stale, current}
	})
	offer, err := Discover(context.Background(), ClientOptions{
		Group:    src.LocalAddr().String(),
		Attempts: 2,
		RetryMin: 2 * time.Second,
		Log:      log2.NewTest(t, log2.LDebug),
	})
	require.NoError(t, err)
	assert.Equal(t, uint16(12345), offer.StatsPort)
}

func TestOnlyStaleOffersIsNotFound(t *testing.T) {
	t.Parallel()

	src := newFakeSource(t, func(req wire.Frame) [][]byte {
		stale, _ := wire.Encode(wire.TypeOffer, req.Seq-1, []byte{0x39, 0x30, 0, 0})
		return [][]byte{stale}
	})
	_, err := Discover(context.Background(), ClientOptions{
		Group:    src.LocalAddr().String(),
		Attempts: 2,
		RetryMin: 20 * time.Millisecond,
		RetryMax: 40 * time.Millisecond,
		Log:      log2.NewTest(t, log2.LDebug),
	})
	require.Error(t, err)
	assert.Equal(t, ErrNoSourceFound, errors.Cause(err))
}

func TestDiscoverCancel(t *testing.T) {
	t.Parallel()
	silent := newFakeSource(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	begin := time.Now()
	_, err := Discover(ctx, ClientOptions{
		Group:    silent.LocalAddr().String(),
		Attempts: 10,
		RetryMin: 10 * time.Second,
		Log:      log2.NewTest(t, log2.LDebug),
	})
	assert.Equal(t, context.Canceled, err)
	assert.True(t, time.Since(begin) < 5*time.Second)
}

func TestResponderOptions(t *testing.T) {
	t.Parallel()

	_, err := NewResponder(ResponderOptions{Group: "127.0.0.1:0"})
	assert.True(t, errors.IsNotValid(err))
	_, err = Discover(context.Background(), ClientOptions{Group: "bad"})
	assert.Error(t, err)
	assert.Equal(t, "offered", StateOffered.String())
}
