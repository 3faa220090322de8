package state

import (
	"path/filepath"
	"sync"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/pvstats/helpers"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/series"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	LogDebug bool `hcl:"log_debug"`

	Store struct {
		Path   string `hcl:"path"`
		Memory bool   `hcl:"memory"` // tests
	}
	Discovery struct {
		Group      string `hcl:"group"`
		Interface  string `hcl:"interface"`
		Attempts   int    `hcl:"attempts"`
		RetryMinMs int    `hcl:"retry_min_ms"`
		RetryMaxMs int    `hcl:"retry_max_ms"`
	}
	Stream struct {
		Listen            string `hcl:"listen"`
		IdleTimeoutSec    int    `hcl:"idle_timeout_sec"`
		SessionTimeoutSec int    `hcl:"session_timeout_sec"`
		SendIntervalMs    int    `hcl:"send_interval_ms"`
		DropCorrupt       bool   `hcl:"drop_corrupt"`
	}
	Prices struct {
		T1     float64 `hcl:"t1"`
		T2     float64 `hcl:"t2"`
		Export float64 `hcl:"export"`
	}
	Series struct {
		Days   int `hcl:"days"`
		Months int `hcl:"months"`
	}
	Today struct {
		Mqtt struct {
			Enable   bool   `hcl:"enable"`
			Broker   string `hcl:"broker"`
			Topic    string `hcl:"topic"`
			ClientID string `hcl:"client_id"`
			Username string `hcl:"username"`
			Password string `hcl:"password"`
		}
		Live struct {
			Enable    bool   `hcl:"enable"`
			Group     string `hcl:"group"`
			Interface string `hcl:"interface"`
			MaxAgeSec int    `hcl:"max_age_sec"`
		}
	}
	HTTP struct {
		Enable      bool     `hcl:"enable"`
		Listen      string   `hcl:"listen"`
		CorsOrigins []string `hcl:"cors_origins"`
	}
	Persist struct {
		Root string `hcl:"root"`
	}
	Accounting struct {
		Enable      bool `hcl:"enable"`
		IntervalSec int  `hcl:"interval_sec"`
	}

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

const (
	DefaultStorePath   = "./pvstats-db"
	DefaultPersistRoot = "./pvstats-persist"
	DefaultHTTPListen  = "127.0.0.1:8080"
)

// Normalize fills defaults and rejects impossible values.
func (c *Config) Normalize() error {
	errs := make([]error, 0)
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Persist.Root == "" {
		c.Persist.Root = DefaultPersistRoot
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = DefaultHTTPListen
	}
	if c.Prices.T1 == 0 && c.Prices.T2 == 0 && c.Prices.Export == 0 {
		c.Prices.T1, c.Prices.T2, c.Prices.Export = series.DefaultPrices.T1, series.DefaultPrices.T2, series.DefaultPrices.Export
	}
	if c.Prices.T1 < 0 || c.Prices.T2 < 0 || c.Prices.Export < 0 {
		errs = append(errs, errors.NotValidf("config: prices must be >= 0"))
	}
	if c.Series.Days <= 0 {
		c.Series.Days = series.DefaultDays
	}
	if c.Series.Months <= 0 {
		c.Series.Months = series.DefaultMonths
	}
	if c.Discovery.RetryMaxMs != 0 && c.Discovery.RetryMaxMs < c.Discovery.RetryMinMs {
		errs = append(errs, errors.NotValidf("config: discovery.retry_max_ms=%d < retry_min_ms=%d",
			c.Discovery.RetryMaxMs, c.Discovery.RetryMinMs))
	}
	if c.Today.Mqtt.Enable && (c.Today.Mqtt.Broker == "" || c.Today.Mqtt.Topic == "") {
		errs = append(errs, errors.NotValidf("config: today.mqtt enabled without broker or topic"))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) PriceList() series.Prices {
	return series.Prices{T1: c.Prices.T1, T2: c.Prices.T2, Export: c.Prices.Export}
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig reads sources in order, later values overwrite earlier, then applies Normalize.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.NotValidf("code error ReadConfig without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if len(errs) == 0 {
		if err := c.Normalize(); err != nil {
			errs = append(errs, err)
		}
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
