package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/record"
	"github.com/temoto/pvstats/wire"
)

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	root := t.TempDir()
	want := wire.NewRangeRequest(record.NewDate(2026, 10, 19), record.NewMonth(2026, 10))

	c1, err := OpenCursor(root, log)
	require.NoError(t, err)
	found, err := c1.Load()
	require.NoError(t, err)
	assert.False(t, found, "nothing stored yet")
	assert.Equal(t, wire.RangeRequest{}, c1.Get())
	c1.Set(want)
	require.NoError(t, c1.Save())
	_, err = os.Stat(filepath.Join(root, CursorName))
	require.NoError(t, err)

	c2, err := OpenCursor(root, log)
	require.NoError(t, err)
	found, err = c2.Load()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, c2.Get())
}

func TestCursorMemoryOnly(t *testing.T) {
	t.Parallel()

	var c Cursor
	c.Set(wire.NewRangeRequest(record.NewDate(2026, 1, 1), record.Month{}))
	require.NoError(t, c.Save())
	found, err := c.Load()
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, record.NewDate(2026, 1, 1), c.Get().DayFrom())
}

func TestOpenCursorEmptyRoot(t *testing.T) {
	t.Parallel()
	_, err := OpenCursor("", log2.NewTest(t, log2.LDebug))
	assert.True(t, errors.IsNotValid(errors.Cause(err)))
}

func TestCursorSavedGarbage(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	c, err := OpenCursor(t.TempDir(), log)
	require.NoError(t, err)
	// valid extremofile, invalid range request
	require.NoError(t, c.slot.write([]byte{1, 2}))

	found, err := c.Load()
	assert.Error(t, err)
	assert.False(t, found)
	assert.Equal(t, wire.RangeRequest{}, c.Get(), "falls back to full fetch")
}

func TestCursorUnmarshalInvalid(t *testing.T) {
	t.Parallel()
	var c Cursor
	assert.Error(t, c.UnmarshalBinary([]byte{1, 2}))
	// month 13
	b, err := wire.RangeRequest{FromYear: 2026, FromMonth: 13, FromDay: 1}.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, errors.IsNotValid(errors.Cause(c.UnmarshalBinary(b))))
	assert.Equal(t, wire.RangeRequest{}, c.Get())
}
