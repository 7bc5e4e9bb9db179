package flowtable

import (
	"testing"

	"github.com/joeycumines/flowgrindd/internal/flow"
	"github.com/stretchr/testify/require"
)

func TestAddGetRemove(t *testing.T) {
	tab := New()
	f1 := flow.New(1, flow.RoleSource, flow.Settings{})
	f2 := flow.New(2, flow.RoleSource, flow.Settings{})
	require.NoError(t, tab.Add(f1))
	require.NoError(t, tab.Add(f2))
	require.Equal(t, 2, tab.Len())

	got, ok := tab.Get(1)
	require.True(t, ok)
	require.Same(t, f1, got)

	removed, ok := tab.Remove(1)
	require.True(t, ok)
	require.Same(t, f1, removed)
	require.Equal(t, 1, tab.Len())

	_, ok = tab.Get(1)
	require.False(t, ok)
}

func TestDrainAllDoesNotSkip(t *testing.T) {
	tab := New()
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, tab.Add(flow.New(i, flow.RoleSource, flow.Settings{})))
	}

	var seen []uint64
	for {
		f, ok := tab.First()
		if !ok {
			break
		}
		seen = append(seen, f.ID)
		_, _ = tab.Remove(f.ID)
	}

	require.ElementsMatch(t, []uint64{1, 2, 3, 4, 5}, seen)
	require.Equal(t, 0, tab.Len())
}

func TestAddRespectsCapacity(t *testing.T) {
	tab := &Table{byID: make(map[uint64]*flow.Flow)}
	for i := uint64(0); i < MaxFlows; i++ {
		require.NoError(t, tab.Add(flow.New(i, flow.RoleSource, flow.Settings{})))
	}
	require.ErrorIs(t, tab.Add(flow.New(MaxFlows, flow.RoleSource, flow.Settings{})), ErrFull)
}
