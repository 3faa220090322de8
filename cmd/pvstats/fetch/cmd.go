// Package fetch pulls history from a discovered source into the local store.
package fetch

import (
	"context"
	"fmt"
	"net"

	"github.com/juju/errors"
	"github.com/temoto/pvstats/cmd/pvstats/subcmd"
	"github.com/temoto/pvstats/discovery"
	"github.com/temoto/pvstats/helpers"
	"github.com/temoto/pvstats/state"
	"github.com/temoto/pvstats/state/persist"
	"github.com/temoto/pvstats/stream"
)

var Mod = subcmd.Mod{Name: "fetch", Usage: "discover source and fetch history into local store", Main: Main}
var DiscoverMod = subcmd.Mod{Name: "discover", Usage: "print first offer and exit", Main: MainDiscover}

func Main(ctx context.Context, config *state.Config, args []string) error {
	fs := subcmd.NewFlagSet("fetch")
	flagAddr := fs.String("addr", "", "source stats host:port, skips discovery")
	flagAll := fs.Bool("all", false, "ignore saved cursor, fetch everything")
	flagRetry := fs.Int("retry", 3, "fetch attempts, each resumes after last good record")
	if err := fs.Parse(args); err != nil {
		return err
	}
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer g.Close()

	cursor, err := persist.OpenCursor(config.Persist.Root, g.Log)
	if err != nil {
		return err
	}
	if !*flagAll {
		if found, err := cursor.Load(); err != nil {
			g.Error(err, "cursor ignored")
		} else if !found {
			g.Log.Infof("fetch no saved cursor, fetching everything")
		}
	}

	var addr *net.UDPAddr
	if *flagAddr != "" {
		if addr, err = net.ResolveUDPAddr("udp4", *flagAddr); err != nil {
			return errors.Annotatef(err, "addr=%s", *flagAddr)
		}
	} else {
		offer, err := discover(ctx, config, g)
		if err != nil {
			return err
		}
		addr = offer.Addr
	}

	opt := stream.FetchOptions{
		IdleTimeout: helpers.IntSecondDefault(config.Stream.IdleTimeoutSec, stream.DefaultIdleTimeout),
		Log:         g.Log,
	}
	if config.Stream.DropCorrupt {
		opt.OnCorrupt = stream.CorruptDrop
	}
	req := cursor.Get()
	for attempt := 1; ; attempt++ {
		g.Log.Debugf("fetch attempt=%d from=%s request=%+v", attempt, addr, req)
		result, err := stream.Fetch(ctx, addr, req, g.Store, opt)
		req = result.Resume(req)
		cursor.Set(req)
		if serr := cursor.Save(); serr != nil {
			g.Error(serr)
		}
		if err == nil {
			g.Log.Infof("fetch complete %s", result)
			return nil
		}
		g.Log.Errorf("fetch attempt=%d %s err=%v", attempt, result, err)
		switch errors.Cause(err) {
		case stream.ErrStreamAborted, stream.ErrStreamTimeout:
		default:
			return err
		}
		if attempt >= *flagRetry {
			return err
		}
	}
}

func MainDiscover(ctx context.Context, config *state.Config, args []string) error {
	if err := subcmd.NewFlagSet("discover").Parse(args); err != nil {
		return err
	}
	g := state.GetGlobal(ctx)
	offer, err := discover(ctx, config, g)
	if err != nil {
		return err
	}
	fmt.Println(offer.Addr.String())
	return nil
}

func discover(ctx context.Context, config *state.Config, g *state.Global) (discovery.Offer, error) {
	offer, err := discovery.Discover(ctx, discovery.ClientOptions{
		Group:     config.Discovery.Group,
		Interface: config.Discovery.Interface,
		Attempts:  config.Discovery.Attempts,
		RetryMin:  helpers.IntMillisecondDefault(config.Discovery.RetryMinMs, discovery.DefaultRetryMin),
		RetryMax:  helpers.IntMillisecondDefault(config.Discovery.RetryMaxMs, discovery.DefaultRetryMax),
		Log:       g.Log,
	})
	if err != nil {
		return offer, errors.Annotate(err, "discover")
	}
	g.Log.Infof("%s", offer)
	return offer, nil
}
