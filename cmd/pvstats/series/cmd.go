// Package series prints chart series from local store.
package series

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/pvstats/cmd/pvstats/subcmd"
	"github.com/temoto/pvstats/record"
	"github.com/temoto/pvstats/series"
	"github.com/temoto/pvstats/state"
	"gopkg.in/yaml.v3"
)

var Mod = subcmd.Mod{Name: "series", Usage: "print day and month series with cost", Main: Main}

type Entry struct {
	Date   string        `yaml:"date"`
	Energy record.Energy `yaml:",inline"`
	Cost   float64       `yaml:"cost"`
}

type Report struct {
	Prices       series.Prices  `yaml:"prices"`
	Days         []Entry        `yaml:"days"`
	DaysSummary  series.Summary `yaml:"days_summary"`
	Months       []Entry        `yaml:"months"`
	MonthSummary series.Summary `yaml:"months_summary"`
}

func Main(ctx context.Context, config *state.Config, args []string) error {
	fs := subcmd.NewFlagSet("series")
	flagDate := fs.String("date", "", "last day YYYY-MM-DD, default today")
	flagFormat := fs.String("format", "text", "text|yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer g.Close()

	day := record.DateOf(time.Now())
	if *flagDate != "" {
		var err error
		if day, err = record.ParseDate(*flagDate); err != nil {
			return err
		}
	}
	agg, err := g.Aggregator()
	if err != nil {
		return err
	}
	r, err := Build(ctx, agg, day, config.Series.Days, config.Series.Months, config.PriceList())
	if err != nil {
		return err
	}
	switch *flagFormat {
	case "text":
		return r.WriteText(os.Stdout)
	case "yaml":
		return r.WriteYAML(os.Stdout)
	}
	return errors.NotValidf("format=%s", *flagFormat)
}

func Build(ctx context.Context, agg *series.Aggregator, day record.Date, days, months int, prices series.Prices) (*Report, error) {
	ds, err := agg.Days(ctx, day, days)
	if err != nil {
		return nil, err
	}
	ms, err := agg.Months(ctx, day, months)
	if err != nil {
		return nil, err
	}
	r := &Report{
		Prices:       prices,
		Days:         make([]Entry, len(ds)),
		DaysSummary:  series.Summarize(ds.Energies(), prices),
		Months:       make([]Entry, len(ms)),
		MonthSummary: series.Summarize(ms.Energies(), prices),
	}
	for i, d := range ds {
		r.Days[i] = Entry{Date: d.Date.String(), Energy: d.Energy, Cost: prices.Cost(d.Energy)}
	}
	for i, m := range ms {
		r.Months[i] = Entry{Date: m.Month.String(), Energy: m.Energy, Cost: prices.Cost(m.Energy)}
	}
	return r, nil
}

func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return errors.Annotate(err, "series yaml")
	}
	return enc.Close()
}

func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	section := func(title string, es []Entry, s series.Summary) {
		fmt.Fprintf(tw, "%s\tgen\tload\timport_t1\timport_t2\texport\tcost\t\n", title)
		for _, e := range es {
			fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t\n",
				e.Date, e.Energy.Gen, e.Energy.Load, e.Energy.ImportT1, e.Energy.ImportT2, e.Energy.Export, e.Cost)
		}
		fmt.Fprintf(tw, "total\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t\n",
			s.Total.Gen, s.Total.Load, s.Total.ImportT1, s.Total.ImportT2, s.Total.Export, s.Cost)
		fmt.Fprintf(tw, "max\t\t\t\t%.2f\t%.2f\t\t\n\t\t\t\t\t\t\t\n", s.MaxImport, s.MaxExport)
	}
	section("day", r.Days, r.DaysSummary)
	section("month", r.Months, r.MonthSummary)
	return tw.Flush()
}
