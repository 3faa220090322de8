package helpers

import (
	"fmt"
	"sync"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestWithLockError(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	n := 0
	err := WithLockError(&mu, func() error { n++; return fmt.Errorf("n=%d", n) })
	assert.EqualError(t, err, "n=1")
	WithLock(&mu, func() { n++ })
	assert.Equal(t, 2, n)
}

func TestFoldErrors(t *testing.T) {
	t.Parallel()

	assert.NoError(t, FoldErrors(nil))
	assert.NoError(t, FoldErrors([]error{nil, nil}))
	assert.EqualError(t, FoldErrors([]error{fmt.Errorf("a"), nil, fmt.Errorf("b")}), "2 errors:\na\nb")

	nv := errors.NotValidf("config: store.path")
	err := FoldErrors([]error{nil, nv})
	assert.True(t, errors.IsNotValid(err), "single error keeps cause")
	assert.Equal(t, nv, err)
}
