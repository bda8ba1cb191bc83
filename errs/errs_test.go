package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAndError(t *testing.T) {
	err := New("dispatch/select", CodeDispatchMiss, WithMessage("no matching handler"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "op=dispatch/select")
	require.Contains(t, err.Error(), "code=dispatch_miss")
	require.Contains(t, err.Error(), "no matching handler")
}

func TestWithPEContext(t *testing.T) {
	err := New("pe/handle", CodeUserHandler, WithPEContext("TickerCounter", "BTCUSD", "TradeEvent"))
	str := err.Error()
	require.Contains(t, str, `pe_class="TickerCounter"`)
	require.Contains(t, str, `key="BTCUSD"`)
	require.Contains(t, str, `variant="TradeEvent"`)
}

func TestUnwrapAndIs(t *testing.T) {
	cause := errors.New("boom")
	err := New("registry/get", CodeUnavailable, WithCause(cause))
	require.ErrorIs(t, err, cause)

	other := New("anything", CodeUnavailable)
	require.True(t, errors.Is(err, other))

	different := New("anything", CodeConflict)
	require.False(t, errors.Is(err, different))
}

func TestSortedKeys(t *testing.T) {
	m := map[string]string{"b": "2", "a": "1", "c": "3"}
	require.Equal(t, []string{"a", "b", "c"}, SortedKeys(m))
}
