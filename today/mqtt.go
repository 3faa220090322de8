package today

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/pvstats/helpers"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/record"
)

const DefaultNetworkTimeout = 10 * time.Second

type MQTTOptions struct {
	Broker         string // tcp://host:1883
	Topic          string
	ClientID       string
	Username       string
	Password       string
	NetworkTimeout time.Duration
	Log            *log2.Log
}

// Report is the JSON message published by inverter poller.
//
//	{"date":"2026-10-19","gen":12.5,"load":8,"import_t1":1.2,"import_t2":0.4,"export":6.1}
type Report struct {
	Date string `json:"date"`
	record.Energy
}

// MQTT provider keeps latest report from broker subscription.
// Reports for any other day than requested are ignored.
type MQTT struct {
	log     *log2.Log
	opt     MQTTOptions
	m       mqtt.Client
	backoff helpers.Backoff

	mu   sync.RWMutex
	day  record.Date
	last record.Energy
}

func NewMQTT(opt MQTTOptions) (*MQTT, error) {
	if opt.Broker == "" || opt.Topic == "" {
		return nil, errors.NotValidf("today mqtt broker=%q topic=%q", opt.Broker, opt.Topic)
	}
	if opt.ClientID == "" {
		opt.ClientID = "pvstats"
	}
	if opt.NetworkTimeout <= 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	p := &MQTT{
		log:     opt.Log,
		opt:     opt,
		backoff: helpers.Backoff{Min: time.Second, Max: 30 * time.Second, K: 2},
	}
	mopt := mqtt.NewClientOptions().
		AddBroker(opt.Broker).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetClientID(opt.ClientID).
		SetUsername(opt.Username).
		SetPassword(opt.Password).
		SetConnectTimeout(opt.NetworkTimeout * 3).
		SetKeepAlive(opt.NetworkTimeout).
		SetPingTimeout(opt.NetworkTimeout).
		SetWriteTimeout(opt.NetworkTimeout).
		SetOnConnectHandler(func(mqtt.Client) { go p.subscribe() })
	p.m = mqtt.NewClient(mopt)
	return p, nil
}

// Run connects and keeps subscription until ctx is done.
func (p *MQTT) Run(ctx context.Context) error {
	for {
		err := p.tokenWait(p.m.Connect(), "connect")
		if err == nil {
			break
		}
		if helpers.SleepContext(ctx, p.backoff.DelayAfter(false)) != nil {
			return nil
		}
	}
	p.log.Infof("today mqtt connected broker=%s", p.opt.Broker)
	<-ctx.Done()
	p.m.Disconnect(uint(p.opt.NetworkTimeout / time.Millisecond))
	return nil
}

func (p *MQTT) subscribe() {
	if err := p.tokenWait(p.m.Subscribe(p.opt.Topic, 0, p.onMessage), "subscribe:"+p.opt.Topic); err != nil {
		// paho reconnect will call OnConnect again
		p.m.Disconnect(0)
	}
}

func (p *MQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := p.Handle(msg.Payload()); err != nil {
		p.log.Errorf("today mqtt topic=%s err=%v", msg.Topic(), err)
	}
}

// Handle parses one report. Exported for command line import and tests.
func (p *MQTT) Handle(payload []byte) error {
	var r Report
	if err := json.Unmarshal(payload, &r); err != nil {
		return errors.Annotate(err, "today report")
	}
	day, err := record.ParseDate(r.Date)
	if err != nil {
		return errors.Annotate(err, "today report")
	}
	p.mu.Lock()
	if p.day.Before(day) || p.day == day {
		p.day, p.last = day, r.Energy
	}
	p.mu.Unlock()
	p.log.Debugf("today mqtt report day=%s %s", day, r.Energy.String())
	return nil
}

func (p *MQTT) Today(_ context.Context, day record.Date) (record.Energy, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.day.IsZero() || p.day != day {
		return record.Energy{}, false
	}
	return p.last, true
}

func (p *MQTT) tokenWait(t mqtt.Token, tag string) error {
	if !t.WaitTimeout(p.opt.NetworkTimeout * 3) {
		err := errors.Timeoutf("today mqtt %s", tag)
		p.log.Error(err)
		return err
	}
	if err := t.Error(); err != nil {
		err = errors.Annotatef(err, "today mqtt %s", tag)
		p.log.Error(err)
		return err
	}
	return nil
}
