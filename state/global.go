package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/pvstats/helpers"
	"github.com/temoto/pvstats/live"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/series"
	"github.com/temoto/pvstats/store"
	"github.com/temoto/pvstats/today"
)

type Global struct {
	Alive  *alive.Alive
	Config *Config
	Log    *log2.Log
	Store  *store.Store

	lk      sync.Mutex
	live    *live.Listener
	liveErr error
	mqtt    *today.MQTT
	mqttErr error

	initLiveOnce sync.Once
	initMqttOnce sync.Once
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)

	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
// Network providers are not started here, see Live() and Mqtt().
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	if g.Config.LogDebug {
		g.Log.SetLevel(log2.LDebug)
	}
	g.Log.Debugf("config: store.path=%s persist.root=%s", g.Config.Store.Path, g.Config.Persist.Root)

	var err error
	if g.Config.Store.Memory {
		g.Store, err = store.OpenMem(g.Log)
	} else {
		g.Store, err = store.Open(g.Config.Store.Path, g.Log)
	}
	if err != nil {
		return errors.Annotate(err, "store init")
	}
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

// Live returns multicast frame listener, nil when disabled in config.
func (g *Global) Live() (*live.Listener, error) {
	g.initLiveOnce.Do(func() {
		c := &g.Config.Today.Live
		if !c.Enable {
			return
		}
		l, err := live.NewListener(live.ListenerOptions{
			Group:     c.Group,
			Interface: c.Interface,
			MaxAge:    helpers.IntSecondDefault(c.MaxAgeSec, live.DefaultMaxAge),
			Log:       g.Log,
		})
		g.lk.Lock()
		g.live, g.liveErr = l, errors.Annotate(err, "state live")
		g.lk.Unlock()
	})
	g.lk.Lock()
	defer g.lk.Unlock()
	return g.live, g.liveErr
}

// Mqtt returns broker subscription provider, nil when disabled in config.
// Caller must Run it.
func (g *Global) Mqtt() (*today.MQTT, error) {
	g.initMqttOnce.Do(func() {
		c := &g.Config.Today.Mqtt
		if !c.Enable {
			return
		}
		m, err := today.NewMQTT(today.MQTTOptions{
			Broker:   c.Broker,
			Topic:    c.Topic,
			ClientID: c.ClientID,
			Username: c.Username,
			Password: c.Password,
			Log:      g.Log,
		})
		g.lk.Lock()
		g.mqtt, g.mqttErr = m, errors.Annotate(err, "state mqtt")
		g.lk.Unlock()
	})
	g.lk.Lock()
	defer g.lk.Unlock()
	return g.mqtt, g.mqttErr
}

// Today chains enabled providers: live frames first, then mqtt reports.
func (g *Global) Today() (today.Provider, error) {
	chain := make(today.Chain, 0, 2)
	l, err := g.Live()
	if err != nil {
		return nil, err
	}
	if l != nil {
		chain = append(chain, l)
	}
	m, err := g.Mqtt()
	if err != nil {
		return nil, err
	}
	if m != nil {
		chain = append(chain, m)
	}
	if len(chain) == 0 {
		return today.Noop{}, nil
	}
	return chain, nil
}

func (g *Global) Aggregator() (*series.Aggregator, error) {
	p, err := g.Today()
	if err != nil {
		return nil, err
	}
	return &series.Aggregator{Store: g.Store, Today: p, Log: g.Log}, nil
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Errorf(errors.ErrorStack(err))
	}
}

// Close stops providers and closes store. Safe to call twice.
func (g *Global) Close() error {
	g.Alive.Stop()
	g.lk.Lock()
	l := g.live
	g.lk.Unlock()
	errs := make([]error, 0, 2)
	if l != nil {
		errs = append(errs, l.Close())
	}
	if g.Store != nil {
		errs = append(errs, g.Store.Close())
	}
	return helpers.FoldErrors(errs)
}
