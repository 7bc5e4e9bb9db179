package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimevalRoundTrip(t *testing.T) {
	in := time.Date(2026, 7, 31, 12, 0, 0, 123000, time.UTC)
	tv := ToTimeval(in)
	out := tv.Time().UTC()
	require.Equal(t, in.Unix(), out.Unix())
	require.Equal(t, in.Nanosecond()/1000, out.Nanosecond()/1000)
}

func TestTimevalIsZero(t *testing.T) {
	require.True(t, Timeval{}.IsZero())
	require.False(t, Timeval{Sec: 1}.IsZero())
	require.False(t, Timeval{Usec: 1}.IsZero())
}

func TestNowOverride(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	old := now
	defer func() { now = old }()
	now = func() time.Time { return fixed }
	require.Equal(t, fixed, Now())
}
