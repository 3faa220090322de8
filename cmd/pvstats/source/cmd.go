// Package source runs everything a data source device does:
// answers discovery, streams history, records today totals and serves chart API.
package source

import (
	"context"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/temoto/pvstats/accounting"
	"github.com/temoto/pvstats/cmd/pvstats/subcmd"
	"github.com/temoto/pvstats/discovery"
	"github.com/temoto/pvstats/helpers"
	"github.com/temoto/pvstats/internal/chartapi"
	"github.com/temoto/pvstats/state"
	"github.com/temoto/pvstats/stream"
	"golang.org/x/sync/errgroup"
)

var Mod = subcmd.Mod{Name: "source", Usage: "serve discovery, range stream and chart API", Main: Main}

func Main(ctx context.Context, config *state.Config, args []string) error {
	if err := subcmd.NewFlagSet("source").Parse(args); err != nil {
		return err
	}
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer g.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wg, ctx := errgroup.WithContext(ctx)
	abort := func(err error) error {
		cancel()
		_ = wg.Wait()
		return err
	}

	srv, err := stream.NewServer(stream.ServerOptions{
		Listen:         config.Stream.Listen,
		Store:          g.Store,
		SendInterval:   time.Duration(config.Stream.SendIntervalMs) * time.Millisecond,
		SessionTimeout: helpers.IntSecondDefault(config.Stream.SessionTimeoutSec, stream.DefaultSessionTimeout),
		Log:            g.Log,
	})
	if err != nil {
		return err
	}
	wg.Go(func() error { return srv.Run(ctx) })

	responder, err := discovery.NewResponder(discovery.ResponderOptions{
		Group:     config.Discovery.Group,
		Interface: config.Discovery.Interface,
		StatsPort: srv.Port(),
		Log:       g.Log,
	})
	if err != nil {
		return abort(err)
	}
	wg.Go(func() error { return responder.Run(ctx) })

	if err := runProviders(ctx, wg, g); err != nil {
		return abort(err)
	}
	if config.Accounting.Enable {
		if err := runAccounting(ctx, wg, g); err != nil {
			return abort(err)
		}
	}
	if config.HTTP.Enable {
		if err := runHTTP(ctx, wg, g); err != nil {
			return abort(err)
		}
	}

	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Infof("source init complete, running")
	err = wg.Wait()
	g.Log.Infof("source stopped %s / %s", srv.Stat(), responder.Stat())
	return err
}

func runProviders(ctx context.Context, wg *errgroup.Group, g *state.Global) error {
	l, err := g.Live()
	if err != nil {
		return err
	}
	if l != nil {
		wg.Go(func() error { return l.Run(ctx) })
	}
	m, err := g.Mqtt()
	if err != nil {
		return err
	}
	if m != nil {
		wg.Go(func() error { return m.Run(ctx) })
	}
	return nil
}

func runAccounting(ctx context.Context, wg *errgroup.Group, g *state.Global) error {
	provider, err := g.Today()
	if err != nil {
		return err
	}
	rec, err := accounting.NewRecorder(accounting.Options{
		Store:    g.Store,
		Today:    provider,
		Interval: helpers.IntSecondDefault(g.Config.Accounting.IntervalSec, accounting.DefaultInterval),
		Log:      g.Log,
	})
	if err != nil {
		return err
	}
	wg.Go(func() error { return rec.Run(ctx) })
	return nil
}

func runHTTP(ctx context.Context, wg *errgroup.Group, g *state.Global) error {
	if !g.Config.LogDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	agg, err := g.Aggregator()
	if err != nil {
		return err
	}
	h, err := chartapi.New(chartapi.Options{
		Aggregator:  agg,
		Prices:      g.Config.PriceList(),
		Days:        g.Config.Series.Days,
		Months:      g.Config.Series.Months,
		CorsOrigins: g.Config.HTTP.CorsOrigins,
		Log:         g.Log,
	})
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              g.Config.HTTP.Listen,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	wg.Go(func() error {
		g.Log.Infof("chart api listen=%s", server.Addr)
		err := server.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.Annotate(err, "chart api")
	})
	wg.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(sctx)
	})
	return nil
}
