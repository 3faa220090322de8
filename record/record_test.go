package record

import (
	"encoding/hex"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnergyBinary(t *testing.T) {
	t.Parallel()

	e := Energy{Gen: 1, Load: 2, ImportT1: 10, ImportT2: 5, Export: 3}
	b, err := e.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, EnergySize)
	assert.Equal(t, "0000803f"+"00000040"+"00002041"+"0000a040"+"00004040", hex.EncodeToString(b))

	var e2 Energy
	require.NoError(t, e2.UnmarshalBinary(b))
	assert.Equal(t, e, e2)
	assert.Equal(t, float32(15), e2.Import())
}

func TestEnergyUnmarshalLength(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 4, EnergySize - 1, EnergySize + 1, 24} {
		var e Energy
		err := e.UnmarshalBinary(make([]byte, n))
		require.Error(t, err, "length=%d", n)
		assert.True(t, errors.IsNotValid(err), "err=%v", err)
	}
}

func TestDateArithmetic(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from   Date
		delta  int
		expect Date
	}{
		{NewDate(2026, 10, 19), 0, NewDate(2026, 10, 19)},
		{NewDate(2026, 10, 19), -29, NewDate(2026, 9, 20)},
		{NewDate(2026, 1, 1), -1, NewDate(2025, 12, 31)},
		{NewDate(2024, 2, 28), 1, NewDate(2024, 2, 29)},
		{NewDate(2025, 2, 28), 1, NewDate(2025, 3, 1)},
		{NewDate(2025, 12, 31), 1, NewDate(2026, 1, 1)},
	}
	for _, c := range cases {
		assert.Equal(t, c.expect, c.from.AddDays(c.delta), "%s%+d", c.from, c.delta)
	}
}

func TestDateValid(t *testing.T) {
	t.Parallel()

	assert.True(t, NewDate(2024, 2, 29).Valid())
	assert.False(t, NewDate(2025, 2, 29).Valid())
	assert.False(t, NewDate(2025, 13, 1).Valid())
	assert.False(t, NewDate(2025, 4, 31).Valid())
	assert.False(t, Date{}.Valid())
}

func TestMonthPrev(t *testing.T) {
	t.Parallel()

	assert.Equal(t, NewMonth(2025, 12), NewMonth(2026, 1).Prev())
	assert.Equal(t, NewMonth(2026, 9), NewMonth(2026, 10).Prev())
	assert.Equal(t, NewMonth(2026, 1), NewMonth(2025, 12).Next())
	assert.True(t, NewMonth(2025, 12).Before(NewMonth(2026, 1)))
}

func TestParse(t *testing.T) {
	t.Parallel()

	d, err := ParseDate("2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, NewDate(2026, 10, 19), d)
	assert.Equal(t, "2026-10-19", d.String())

	m, err := ParseMonth("2026-02")
	require.NoError(t, err)
	assert.Equal(t, NewMonth(2026, 2), m)

	_, err = ParseDate("19.10.2026")
	assert.Error(t, err)
}
