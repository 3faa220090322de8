package series

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/pvstats/record"
	"github.com/temoto/pvstats/series"
	"github.com/temoto/pvstats/state"
	"gopkg.in/yaml.v3"
)

func TestReport(t *testing.T) {
	t.Parallel()
	ctx, g := state.NewTestContext(t, "")
	day := record.NewDate(2026, 10, 19)
	require.NoError(t, g.Store.PutDay(record.DayRecord{
		Date:   day,
		Energy: record.Energy{Gen: 20, Load: 12, ImportT1: 10, ImportT2: 5, Export: 3},
	}))
	require.NoError(t, g.Store.PutMonth(record.MonthRecord{
		Month:  day.MonthOf(),
		Energy: record.Energy{ImportT1: 20, Export: 10},
	}))
	agg, err := g.Aggregator()
	require.NoError(t, err)

	r, err := Build(ctx, agg, day, 3, 2, series.DefaultPrices)
	require.NoError(t, err)
	require.Len(t, r.Days, 3)
	require.Len(t, r.Months, 2)
	assert.Equal(t, "2026-10-17", r.Days[0].Date)
	assert.InDelta(t, 4.3245, r.DaysSummary.Cost, 1e-4)
	assert.InDelta(t, 5.5, r.MonthSummary.Cost, 1e-4, "month record, not day sum")

	var buf bytes.Buffer
	require.NoError(t, r.WriteYAML(&buf))
	var back struct {
		Days []struct {
			Date   string  `yaml:"date"`
			Export float32 `yaml:"export"`
		} `yaml:"days"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	require.Len(t, back.Days, 3)
	assert.Equal(t, "2026-10-19", back.Days[2].Date)
	assert.Equal(t, float32(3), back.Days[2].Export)

	buf.Reset()
	require.NoError(t, r.WriteText(&buf))
	lines := strings.Split(buf.String(), "\n")
	assert.True(t, strings.HasPrefix(strings.TrimSpace(lines[0]), "day"), lines[0])
	assert.Contains(t, buf.String(), "2026-10")
	assert.Contains(t, buf.String(), "4.32")
}

func TestBuildInvalidDay(t *testing.T) {
	t.Parallel()
	_, g := state.NewTestContext(t, "")
	agg, err := g.Aggregator()
	require.NoError(t, err)
	_, err = Build(context.Background(), agg, record.Date{}, 1, 1, series.DefaultPrices)
	assert.Error(t, err)
}
