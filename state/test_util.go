package state

import (
	"context"
	"testing"

	"github.com/temoto/pvstats/log2"
)

// NewTestContext returns Global with in-memory store, closed on test cleanup.
func NewTestContext(t testing.TB, confString string /* logLevel log2.Level*/) (context.Context, *Global) {
	fs := NewMockFullReader(map[string]string{
		"test-inline": confString,
		"test-store":  "store { memory = true }",
	})

	log := log2.NewTest(t, log2.LDebug)
	// log := log2.NewStderr(log2.LDebug) // useful with panics
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log)
	g.MustInit(ctx, MustReadConfig(log, fs, "test-store", "test-inline"))
	t.Cleanup(func() { _ = g.Close() })

	return ctx, g
}
