package stream

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/pvstats/helpers"
	"github.com/temoto/pvstats/internal/mcast"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/store"
	"github.com/temoto/pvstats/wire"
)

// Viewer provides consistent snapshot for one session.
type Viewer interface {
	View(func(store.Reader) error) error
}

type ServerOptions struct {
	Listen         string // default ":43211"
	Store          Viewer
	SendInterval   time.Duration // pause between frames, default DefaultSendInterval
	SessionTimeout time.Duration
	Log            *log2.Log
}

// Source side of range stream. One session per remote address.
type Server struct {
	alive     *alive.Alive
	conn      *net.UDPConn
	closeOnce sync.Once
	closeErr  error
	log       *log2.Log
	opt       ServerOptions
	sessions  struct {
		sync.Mutex
		m map[string]*session
	}
	stat wire.Stat
}

type session struct {
	alive  *alive.Alive
	remote *net.UDPAddr
	req    wire.RangeRequest
	seq    uint32
}

func NewServer(opt ServerOptions) (*Server, error) {
	if opt.Store == nil {
		return nil, errors.NotValidf("code error stream server Store=nil")
	}
	if opt.Listen == "" {
		opt.Listen = fmt.Sprintf(":%d", DefaultPort)
	}
	if opt.SendInterval < 0 {
		opt.SendInterval = 0
	} else if opt.SendInterval == 0 {
		opt.SendInterval = DefaultSendInterval
	}
	if opt.SessionTimeout <= 0 {
		opt.SessionTimeout = DefaultSessionTimeout
	}
	conn, err := mcast.Listen(opt.Listen, mcast.Options{Log: opt.Log})
	if err != nil {
		return nil, errors.Annotate(err, "stream server")
	}
	s := &Server{
		alive: alive.NewAlive(),
		conn:  conn,
		log:   opt.Log,
		opt:   opt,
	}
	s.sessions.m = make(map[string]*session)
	s.alive.Add(1)
	go s.loop()
	s.log.Infof("stream server listen=%s", conn.LocalAddr())
	return s, nil
}

func (s *Server) Addr() *net.UDPAddr { return s.conn.LocalAddr().(*net.UDPAddr) }
func (s *Server) Stat() *wire.Stat   { return &s.stat }

// Port is the value to put into OFFER.
func (s *Server) Port() uint16 { return uint16(s.Addr().Port) }

// Run blocks until ctx is done or server is closed.
func (s *Server) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-s.alive.StopChan():
	}
	return s.Close()
}

// Close stops all sessions and waits for them.
func (s *Server) Close() error {
	s.alive.Stop()
	helpers.WithLock(&s.sessions, func() {
		for _, sess := range s.sessions.m {
			sess.alive.Stop()
		}
	})
	s.closeOnce.Do(func() { s.closeErr = s.conn.Close() })
	s.alive.Wait()
	return errors.Annotate(s.closeErr, "stream server close")
}

// ActiveSessions is the number of sessions not yet finished.
func (s *Server) ActiveSessions() int {
	s.sessions.Lock()
	defer s.sessions.Unlock()
	return len(s.sessions.m)
}

func (s *Server) loop() {
	defer s.alive.Done()
	buf := make([]byte, wire.MaxFrame)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if !s.alive.IsRunning() {
			return
		}
		if err != nil {
			s.log.Errorf("stream server read err=%v", err)
			s.alive.Stop()
			return
		}
		s.stat.RegisterRecv(n)
		s.handle(buf[:n], from)
	}
}

func (s *Server) handle(b []byte, from *net.UDPAddr) {
	f, err := wire.Decode(b)
	if err != nil {
		s.stat.Drop.Add(1)
		s.log.Debugf("stream server drop from=%s err=%v", from, err)
		return
	}
	switch f.Type {
	case wire.TypeReqRange:
	case wire.TypeAck:
		s.log.Debugf("stream server ignore from=%s frame=%s", from, f.String())
		return
	default:
		s.stat.Drop.Add(1)
		s.log.Debugf("stream server unexpected from=%s frame=%s", from, f.String())
		return
	}

	var req wire.RangeRequest
	if err = req.UnmarshalBinary(f.Payload); err == nil {
		err = req.Validate()
	}
	if err != nil {
		s.stat.Drop.Add(1)
		s.log.Errorf("stream server invalid request from=%s err=%v", from, err)
		return
	}
	s.start(from, req)
}

func (s *Server) start(remote *net.UDPAddr, req wire.RangeRequest) {
	if !s.alive.Add(1) {
		return
	}
	sess := &session{
		alive:  alive.NewAlive(),
		remote: remote,
		req:    req,
	}
	sess.alive.Add(1)
	key := remote.String()
	var prev *session
	helpers.WithLock(&s.sessions, func() {
		prev = s.sessions.m[key]
		s.sessions.m[key] = sess
	})
	if prev != nil {
		s.log.Infof("stream session remote=%s superseded", key)
		prev.alive.Stop()
		prev.alive.Wait()
	}
	go s.run(sess)
}

func (s *Server) run(sess *session) {
	defer s.alive.Done()
	key := sess.remote.String()
	defer helpers.WithLock(&s.sessions, func() {
		if s.sessions.m[key] == sess {
			delete(s.sessions.m, key)
		}
	})
	defer sess.alive.Done()

	tbegin := time.Now()
	deadline := tbegin.Add(s.opt.SessionTimeout)
	dayFrom, monthFrom := sess.req.DayFrom(), sess.req.MonthFrom()
	s.log.Debugf("stream session remote=%s start day_from=%s month_from=%s", key, dayFrom, monthFrom)

	var days, months int
	err := s.opt.Store.View(func(r store.Reader) error {
		dayList, err := r.IterateDays(dayFrom, 0)
		if err != nil {
			return err
		}
		for _, d := range dayList {
			if err = s.send(sess, deadline, wire.TypeDay, wire.MarshalDay(d)); err != nil {
				return errors.Annotatef(err, "day=%s", d.Date)
			}
			days++
		}
		monthList, err := r.IterateMonths(monthFrom, 0)
		if err != nil {
			return err
		}
		for _, m := range monthList {
			if err = s.send(sess, deadline, wire.TypeMonth, wire.MarshalMonth(m)); err != nil {
				return errors.Annotatef(err, "month=%s", m.Month)
			}
			months++
		}
		return s.send(sess, deadline, wire.TypeDone, nil)
	})
	if err != nil {
		switch errors.Cause(err) {
		case ErrClosing:
			s.log.Debugf("stream session remote=%s stopped after days=%d months=%d", key, days, months)
		default:
			s.log.Errorf("stream session remote=%s err=%v", key, err)
		}
		return
	}
	s.log.Infof("stream session remote=%s done days=%d months=%d duration=%s",
		key, days, months, time.Since(tbegin))
}

func (s *Server) send(sess *session, deadline time.Time, t wire.Type, payload []byte) error {
	if !sess.alive.IsRunning() || !s.alive.IsRunning() {
		return ErrClosing
	}
	if time.Now().After(deadline) {
		return errors.Annotatef(ErrStreamTimeout, "session timeout=%s", s.opt.SessionTimeout)
	}
	sess.seq++
	b, err := wire.Encode(t, sess.seq, payload)
	if err != nil {
		return err
	}
	if _, err = s.conn.WriteToUDP(b, sess.remote); err != nil {
		return errors.Annotate(err, "send")
	}
	s.stat.RegisterSend(len(b))
	if s.opt.SendInterval > 0 && t != wire.TypeDone {
		select {
		case <-time.After(s.opt.SendInterval):
		case <-sess.alive.StopChan():
			return ErrClosing
		case <-s.alive.StopChan():
			return ErrClosing
		}
	}
	return nil
}
