package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/pvstats/cmd/pvstats/fetch"
	"github.com/temoto/pvstats/cmd/pvstats/series"
	"github.com/temoto/pvstats/cmd/pvstats/source"
	"github.com/temoto/pvstats/cmd/pvstats/subcmd"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/state"
)

var log = log2.NewStderr(log2.LDebug)

var modules = []subcmd.Mod{
	source.Mod,
	fetch.Mod,
	fetch.DiscoverMod,
	series.Mod,
}

func main() {
	flagConfig := flag.String("config", "pvstats.hcl", "")
	flag.Usage = usage
	flag.Parse()

	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	} else {
		// we're under systemd, assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	}

	mod, err := subcmd.Parse(flag.Arg(0), modules)
	if err != nil {
		usage()
		log.Fatal(err)
	}

	ctx, g := state.NewContext(log)
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	g.Alive.Add(1)
	go func() {
		defer g.Alive.Done()
		select {
		case <-ctx.Done():
			g.Alive.Stop()
		case <-g.Alive.StopChan():
			cancel()
		}
	}()

	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	log.Debugf("config=%+v", config)

	if err := mod.Main(ctx, config, flag.Args()[1:]); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	g.Alive.Stop()
	g.Alive.Wait()
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config pvstats.hcl] command [flags]\n", os.Args[0])
	for _, m := range modules {
		fmt.Fprintf(flag.CommandLine.Output(), "  %-10s %s\n", m.Name, m.Usage)
	}
	flag.PrintDefaults()
}
