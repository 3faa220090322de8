package series

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/record"
	"github.com/temoto/pvstats/store"
	"github.com/temoto/pvstats/today"
)

func newTestStore(t testing.TB) *store.Store {
	s, err := store.OpenMem(log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunningCost(t *testing.T) {
	t.Parallel()

	es := []record.Energy{{ImportT1: 10, ImportT2: 5, Export: 3}}
	assert.InDelta(t, 4.3245, RunningCost(es, DefaultPrices), 1e-4)
	assert.InDelta(t, -1.38, RunningCost([]record.Energy{{Export: 10}}, DefaultPrices), 1e-4)
	assert.Equal(t, 0.0, RunningCost(nil, DefaultPrices))

	split := []record.Energy{{ImportT1: 4, ImportT2: 5}, {ImportT1: 6, Export: 3}}
	assert.InDelta(t, 4.3245, RunningCost(split, DefaultPrices), 1e-4)
}

func TestMaxima(t *testing.T) {
	t.Parallel()

	maxExp, maxImp := Maxima([]record.Energy{
		{ImportT1: 1, ImportT2: 2, Export: 7},
		{ImportT1: 4, ImportT2: 0.5, Export: 1},
		{},
	})
	assert.Equal(t, float32(7), maxExp)
	assert.Equal(t, float32(4.5), maxImp)

	maxExp, maxImp = Maxima(nil)
	assert.Equal(t, float32(0), maxExp)
	assert.Equal(t, float32(0), maxImp)

	s := Summarize([]record.Energy{{ImportT1: 10, ImportT2: 5, Export: 3, Gen: 1}, {Gen: 2}}, DefaultPrices)
	assert.InDelta(t, 4.3245, s.Cost, 1e-4)
	assert.Equal(t, float32(3), s.Total.Gen)
	assert.Equal(t, float32(15), s.MaxImport)
}

func TestDays(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	day := record.NewDate(2026, 3, 2)

	require.NoError(t, st.PutDay(record.DayRecord{Date: record.NewDate(2026, 2, 28), Energy: record.Energy{Gen: 28}}))
	require.NoError(t, st.PutDay(record.DayRecord{Date: record.NewDate(2026, 1, 31), Energy: record.Energy{Gen: 31}}))
	// corrupt record reads as zero
	require.NoError(t, st.PutRaw(store.DayKey(record.NewDate(2026, 3, 1)), []byte{1, 2, 3}))
	// outside window
	require.NoError(t, st.PutDay(record.DayRecord{Date: record.NewDate(2026, 1, 1), Energy: record.Energy{Gen: 1}}))

	a := &Aggregator{Store: st, Log: log2.NewTest(t, log2.LDebug)}
	s, err := a.Days(ctx, day, 0)
	require.NoError(t, err)
	require.Len(t, s, DefaultDays)
	assert.Equal(t, record.NewDate(2026, 2, 1), s[0].Date)
	assert.Equal(t, day, s[29].Date)
	for i := 1; i < len(s); i++ {
		assert.True(t, s[i-1].Date.Before(s[i].Date))
	}
	var gens []float32
	for _, r := range s {
		if r.Gen != 0 {
			gens = append(gens, r.Gen)
		}
	}
	assert.Equal(t, []float32{28}, gens)
	assert.True(t, s[28].Energy.IsZero(), "corrupt")
	assert.True(t, s[29].Energy.IsZero(), "today without provider")

	s, err = a.Days(ctx, day, 33)
	require.NoError(t, err)
	require.Len(t, s, 33)
	assert.Equal(t, record.NewDate(2026, 1, 29), s[0].Date)
	assert.Equal(t, float32(31), s[2].Gen)

	_, err = a.Days(ctx, record.NewDate(2026, 2, 30), 0)
	assert.True(t, errors.IsNotValid(err))
}

func TestDaysToday(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	day := record.NewDate(2026, 10, 19)
	live := today.NewStatic(day, record.Energy{Gen: 5})

	a := &Aggregator{Store: st, Today: live, Log: log2.NewTest(t, log2.LDebug)}
	s, err := a.Days(ctx, day, 7)
	require.NoError(t, err)
	assert.Equal(t, float32(5), s[6].Gen)
	assert.True(t, s[5].Energy.IsZero())

	// stored record wins
	require.NoError(t, st.PutDay(record.DayRecord{Date: day, Energy: record.Energy{Gen: 9}}))
	s, err = a.Days(ctx, day, 7)
	require.NoError(t, err)
	assert.Equal(t, float32(9), s[6].Gen)
}

func TestMonths(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	day := record.NewDate(2026, 2, 15)

	for _, m := range []record.Month{record.NewMonth(2025, 3), record.NewMonth(2025, 12), record.NewMonth(2025, 2)} {
		require.NoError(t, st.PutMonth(record.MonthRecord{Month: m, Energy: record.Energy{Gen: float32(m.Month)}}))
	}
	require.NoError(t, st.PutDay(record.DayRecord{Date: record.NewDate(2026, 2, 1), Energy: record.Energy{Gen: 1, Export: 1}}))
	require.NoError(t, st.PutDay(record.DayRecord{Date: record.NewDate(2026, 2, 14), Energy: record.Energy{Gen: 2}}))
	require.NoError(t, st.PutDay(record.DayRecord{Date: record.NewDate(2026, 3, 1), Energy: record.Energy{Gen: 100}}))

	a := &Aggregator{
		Store: st,
		Today: today.NewStatic(day, record.Energy{Gen: 4}),
		Log:   log2.NewTest(t, log2.LDebug),
	}
	s, err := a.Months(ctx, day, 0)
	require.NoError(t, err)
	require.Len(t, s, DefaultMonths)
	assert.Equal(t, record.NewMonth(2025, 3), s[0].Month)
	assert.Equal(t, float32(3), s[0].Gen)
	assert.Equal(t, record.NewMonth(2025, 12), s[9].Month)
	assert.Equal(t, float32(12), s[9].Gen)
	assert.Equal(t, record.NewMonth(2026, 1), s[10].Month)
	assert.True(t, s[10].Energy.IsZero())
	// running month without record: provider only, stored days are not summed
	assert.Equal(t, record.NewMonth(2026, 2), s[11].Month)
	assert.Equal(t, float32(4), s[11].Gen)
	assert.Equal(t, float32(0), s[11].Export)

	// stored month record wins
	require.NoError(t, st.PutMonth(record.MonthRecord{Month: record.NewMonth(2026, 2), Energy: record.Energy{Gen: 50}}))
	s, err = a.Months(ctx, day, 3)
	require.NoError(t, err)
	require.Len(t, s, 3)
	assert.Equal(t, record.NewMonth(2025, 12), s[0].Month)
	assert.Equal(t, float32(50), s[2].Gen)
}

func TestMonthsYearWrap(t *testing.T) {
	t.Parallel()
	a := &Aggregator{Store: newTestStore(t)}

	s, err := a.Months(context.Background(), record.NewDate(2026, 1, 10), 14)
	require.NoError(t, err)
	expect := []string{"2024-12", "2025-01", "2025-02"}
	for i, e := range expect {
		assert.Equal(t, e, s[i].Month.String())
	}
	assert.Equal(t, "2026-01", s[13].Month.String())
	for _, r := range s {
		assert.True(t, r.Energy.IsZero())
	}
}

func TestMonthsAbsentCurrentIsZero(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	day := record.NewDate(2026, 2, 15)

	cases := []struct {
		name  string
		month []byte
	}{
		{"absent", nil},
		{"corrupt", []byte{1, 2, 3}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			st := newTestStore(t)
			require.NoError(t, st.PutDay(record.DayRecord{Date: record.NewDate(2026, 2, 3), Energy: record.Energy{ImportT1: 10, Export: 3}}))
			if c.month != nil {
				require.NoError(t, st.PutRaw(store.MonthKey(record.NewMonth(2026, 2)), c.month))
			}
			a := &Aggregator{Store: st, Log: log2.NewTest(t, log2.LDebug)}
			s, err := a.Months(ctx, day, 3)
			require.NoError(t, err)
			require.Len(t, s, 3)
			assert.Equal(t, record.NewMonth(2026, 2), s[2].Month)
			assert.True(t, s[2].Energy.IsZero(), "current month=%v", s[2].Energy)
			assert.Equal(t, 0.0, RunningCost(s.Energies(), DefaultPrices))
		})
	}
}
