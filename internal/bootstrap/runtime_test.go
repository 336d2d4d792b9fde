package bootstrap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestRuntimeCloseRunsInReverseAndCombinesErrors(t *testing.T) {
	var order []string
	rt := &Runtime{}
	rt.track("database", func() error { order = append(order, "database"); return errors.New("db busy") })
	rt.track("redis", func() error { order = append(order, "redis"); return nil })
	rt.track("pubsub", func() error { order = append(order, "pubsub"); return errors.New("flush timeout") })

	err := rt.Close()
	require.Equal(t, []string{"pubsub", "redis", "database"}, order)
	require.Len(t, multierr.Errors(err), 2)
	require.ErrorContains(t, err, "close pubsub: flush timeout")
	require.ErrorContains(t, err, "close database: db busy")

	require.NoError(t, rt.Close(), "second close is a no-op")
	require.Len(t, order, 3)
}

func TestNilRuntimeClose(t *testing.T) {
	var rt *Runtime
	require.NoError(t, rt.Close())
}
