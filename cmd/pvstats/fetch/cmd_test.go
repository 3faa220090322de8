package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/pvstats/log2"
	"github.com/temoto/pvstats/record"
	"github.com/temoto/pvstats/state"
	"github.com/temoto/pvstats/state/persist"
	"github.com/temoto/pvstats/store"
	"github.com/temoto/pvstats/stream"
)

func TestFetchAddrAndResume(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)

	src, err := store.OpenMem(log)
	require.NoError(t, err)
	defer src.Close()
	for d := 1; d <= 3; d++ {
		require.NoError(t, src.PutDay(record.DayRecord{Date: record.NewDate(2026, 10, d), Energy: record.Energy{Gen: float32(d)}}))
	}
	require.NoError(t, src.PutMonth(record.MonthRecord{Month: record.NewMonth(2026, 9), Energy: record.Energy{Gen: 90}}))
	srv, err := stream.NewServer(stream.ServerOptions{Listen: "127.0.0.1:0", Store: src, SendInterval: -1, Log: log})
	require.NoError(t, err)
	defer srv.Close()

	root := t.TempDir()
	fs := state.NewMockFullReader(map[string]string{
		"test": `store { memory = true }
persist { root = "` + root + `" }
stream { idle_timeout_sec = 2 }`,
	})
	ctx, _ := state.NewContext(log)
	config := state.MustReadConfig(log, fs, "test")

	require.NoError(t, Main(ctx, config, []string{"-addr", srv.Addr().String()}))

	c, err := persist.OpenCursor(root, log)
	require.NoError(t, err)
	found, err := c.Load()
	require.NoError(t, err)
	require.True(t, found)
	req := c.Get()
	assert.Equal(t, record.NewDate(2026, 10, 3), req.DayFrom())
	assert.Equal(t, record.NewMonth(2026, 9), req.MonthFrom())
}

func TestFetchBadAddr(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	fs := state.NewMockFullReader(map[string]string{
		"test": `store { memory = true }
persist { root = "` + t.TempDir() + `" }`,
	})
	ctx, _ := state.NewContext(log)
	err := Main(ctx, state.MustReadConfig(log, fs, "test"), []string{"-addr", "nope:nope"})
	assert.Error(t, err)
}
