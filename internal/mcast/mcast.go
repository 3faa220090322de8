// Package mcast opens UDP sockets for group or unicast addresses.
// Group membership and TTL are set only when address IP is multicast,
// so the same code path serves loopback tests.
package mcast

import (
	"context"
	"fmt"
	"net"

	"github.com/juju/errors"
	"github.com/temoto/pvstats/log2"
	"golang.org/x/net/ipv4"
)

const DefaultTTL = 1

type Options struct {
	// Interface name for group membership and outgoing multicast. Empty means system default.
	Interface string
	TTL       int
	Log       *log2.Log
}

func (o *Options) iface() (*net.Interface, error) {
	if o.Interface == "" {
		return nil, nil
	}
	ifi, err := net.InterfaceByName(o.Interface)
	return ifi, errors.Annotatef(err, "interface=%s", o.Interface)
}

// Listen binds addr. For multicast group binds its port on all addresses and joins group.
func Listen(addr string, opt Options) (*net.UDPConn, error) {
	ua, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "resolve addr=%s", addr)
	}
	if !ua.IP.IsMulticast() {
		conn, err := net.ListenUDP("udp4", ua)
		return conn, errors.Annotatef(err, "listen addr=%s", addr)
	}

	ifi, err := opt.iface()
	if err != nil {
		return nil, err
	}
	// group port may be shared with other local consumers
	lc := net.ListenConfig{Control: reuseAddr}
	pconn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", ua.Port))
	if err != nil {
		return nil, errors.Annotatef(err, "listen port=%d", ua.Port)
	}
	conn := pconn.(*net.UDPConn)
	pc := ipv4.NewPacketConn(conn)
	if err = pc.JoinGroup(ifi, &net.UDPAddr{IP: ua.IP}); err != nil {
		_ = conn.Close()
		return nil, errors.Annotatef(err, "join group=%s", ua.IP)
	}
	if err = pc.SetMulticastLoopback(true); err != nil {
		opt.Log.Debugf("mcast group=%s set loopback err=%v", ua.IP, err)
	}
	opt.Log.Debugf("mcast joined group=%s iface=%s", ua, opt.Interface)
	return conn, nil
}

// Sender opens ephemeral unicast socket suitable for sending to dest and receiving replies.
func Sender(dest *net.UDPAddr, opt Options) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, errors.Annotate(err, "listen ephemeral")
	}
	if !dest.IP.IsMulticast() {
		return conn, nil
	}
	ifi, err := opt.iface()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	ttl := opt.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	pc := ipv4.NewPacketConn(conn)
	if err = pc.SetMulticastTTL(ttl); err != nil {
		_ = conn.Close()
		return nil, errors.Annotatef(err, "multicast ttl=%d", ttl)
	}
	if ifi != nil {
		if err = pc.SetMulticastInterface(ifi); err != nil {
			_ = conn.Close()
			return nil, errors.Annotatef(err, "multicast iface=%s", ifi.Name)
		}
	}
	_ = pc.SetMulticastLoopback(true)
	return conn, nil
}

func AddrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
