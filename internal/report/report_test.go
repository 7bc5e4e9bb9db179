package report

import (
	"testing"
	"time"

	"github.com/joeycumines/flowgrindd/internal/flow"
	"github.com/stretchr/testify/require"
)

func mkFlow(now time.Time, delay, duration float64, hasStop bool) *flow.Flow {
	f := flow.New(1, flow.RoleSource, flow.Settings{
		WriteBlockSize: 100,
	})
	f.StartTimestamp[flow.Read] = now.Add(time.Duration(delay * float64(time.Second)))
	f.StartTimestamp[flow.Write] = now.Add(time.Duration(delay * float64(time.Second)))
	if hasStop {
		f.HasStop[flow.Read] = true
		f.HasStop[flow.Write] = true
		f.StopTimestamp[flow.Read] = f.StartTimestamp[flow.Read].Add(time.Duration(duration * float64(time.Second)))
		f.StopTimestamp[flow.Write] = f.StartTimestamp[flow.Write].Add(time.Duration(duration * float64(time.Second)))
	}
	f.Settings.Duration[flow.Read] = duration
	f.Settings.Duration[flow.Write] = duration
	return f
}

func TestStatusTruthTable(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name         string
		f            *flow.Flow
		madeProgress bool
		want         StatusCode
	}{
		{"in-delay, no bytes", mkFlow(now, 10, 5, true), false, CodeDelay},
		{"live, no bytes", mkFlow(now, -10, 15, true), false, CodeLive},
		{"duration zero, no bytes", mkFlow(now, -10, 0, true), false, CodeDisabled},
		{"past stop, no bytes", mkFlow(now, -10, -5, true), false, CodeFinished},
		{"live, bytes moved", mkFlow(now, -10, 15, true), true, CodeNormal},
		{"past stop, bytes moved", mkFlow(now, -10, -5, true), true, CodeClosed},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := directionCode(now, c.f, flowDirection{dir: flow.Read, durationIsZero: c.f.Settings.Duration[flow.Read] == 0}, c.madeProgress)
			require.Equal(t, c.want, got)
		})
	}
}

func TestBuildStatusPacksReadHighWriteLow(t *testing.T) {
	now := time.Now()
	f := mkFlow(now, 10, 5, true)
	bucket := flow.NewStatsBucket()

	status := BuildStatus(now, f, &bucket)
	require.Equal(t, CodeDelay, status.Read())
	require.Equal(t, CodeDelay, status.Write())
	require.Equal(t, uint16('d')<<8|uint16('d'), uint16(status))
}
