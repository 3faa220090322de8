// Package chartapi serves day and month series as JSON for dashboards.
package chartapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/rs/cors"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/record"
	"github.com/temoto/pvstats/series"
)

const (
	MaxDays   = 366
	MaxMonths = 120
)

type Options struct {
	Aggregator  *series.Aggregator
	Prices      series.Prices
	Days        int // default window
	Months      int
	CorsOrigins []string
	Location    *time.Location
	Now         func() time.Time // for tests
	Log         *log2.Log
}

type Entry struct {
	Date string `json:"date"`
	record.Energy
	Cost float64 `json:"cost"`
}

type Response struct {
	Entries []Entry `json:"entries"`
	series.Summary
}

type api struct {
	opt Options
	log *log2.Log
}

// New returns gin router wrapped with CORS handler.
func New(opt Options) (http.Handler, error) {
	if opt.Aggregator == nil {
		return nil, errors.NotValidf("code error chartapi Aggregator=nil")
	}
	if opt.Days <= 0 {
		opt.Days = series.DefaultDays
	}
	if opt.Months <= 0 {
		opt.Months = series.DefaultMonths
	}
	if opt.Location == nil {
		opt.Location = time.Local
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	a := &api{opt: opt, log: opt.Log}

	router := gin.New()
	router.Use(a.logger(), gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	v1 := router.Group("/api/v1")
	{
		v1.GET("/days", a.days)
		v1.GET("/months", a.months)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: opt.CorsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	})
	return c.Handler(router), nil
}

func (a *api) days(c *gin.Context) {
	day, window, err := a.params(c, a.opt.Days, MaxDays)
	if err != nil {
		a.badRequest(c, err)
		return
	}
	s, err := a.opt.Aggregator.Days(c.Request.Context(), day, window)
	if err != nil {
		a.internal(c, err)
		return
	}
	r := Response{Entries: make([]Entry, len(s))}
	for i, d := range s {
		r.Entries[i] = Entry{Date: d.Date.String(), Energy: d.Energy, Cost: a.opt.Prices.Cost(d.Energy)}
	}
	r.Summary = series.Summarize(s.Energies(), a.opt.Prices)
	c.JSON(http.StatusOK, r)
}

func (a *api) months(c *gin.Context) {
	day, window, err := a.params(c, a.opt.Months, MaxMonths)
	if err != nil {
		a.badRequest(c, err)
		return
	}
	s, err := a.opt.Aggregator.Months(c.Request.Context(), day, window)
	if err != nil {
		a.internal(c, err)
		return
	}
	r := Response{Entries: make([]Entry, len(s))}
	for i, m := range s {
		r.Entries[i] = Entry{Date: m.Month.String(), Energy: m.Energy, Cost: a.opt.Prices.Cost(m.Energy)}
	}
	r.Summary = series.Summarize(s.Energies(), a.opt.Prices)
	c.JSON(http.StatusOK, r)
}

// params parses ?date=YYYY-MM-DD&window=N, both optional.
func (a *api) params(c *gin.Context, defWindow, maxWindow int) (record.Date, int, error) {
	day := record.DateOf(a.opt.Now().In(a.opt.Location))
	if s := c.Query("date"); s != "" {
		var err error
		if day, err = record.ParseDate(s); err != nil {
			return day, 0, err
		}
	}
	window := defWindow
	if s := c.Query("window"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxWindow {
			return day, 0, errors.NotValidf("window=%q (1..%d)", s, maxWindow)
		}
		window = n
	}
	return day, window, nil
}

func (a *api) badRequest(c *gin.Context, err error) {
	a.log.Debugf("chartapi %s err=%v", c.Request.URL, err)
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (a *api) internal(c *gin.Context, err error) {
	a.log.Errorf("chartapi %s err=%v", c.Request.URL, errors.ErrorStack(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (a *api) logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		tbegin := time.Now()
		c.Next()
		a.log.Debugf("chartapi %s %s status=%d duration=%v",
			c.Request.Method, c.Request.URL, c.Writer.Status(), time.Since(tbegin))
	}
}
