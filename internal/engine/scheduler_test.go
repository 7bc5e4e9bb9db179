//go:build linux

package engine

import (
	"testing"
	"time"

	"github.com/joeycumines/flowgrindd/internal/flow"
	"github.com/stretchr/testify/require"
)

func TestFlowDoneUnboundedNeverDone(t *testing.T) {
	now := time.Now()
	f := flow.New(1, flow.RoleSource, flow.Settings{Duration: [2]float64{-1, -1}})
	require.False(t, flowDone(now, f))
}

func TestFlowDoneZeroDurationIsImmediatelyDone(t *testing.T) {
	now := time.Now()
	f := flow.New(1, flow.RoleSource, flow.Settings{Duration: [2]float64{0, 0}})
	require.True(t, flowDone(now, f))
}

func TestFlowDoneAfterStopTimestamp(t *testing.T) {
	now := time.Now()
	f := flow.New(1, flow.RoleSource, flow.Settings{Duration: [2]float64{1, 1}})
	f.HasStop[flow.Read] = true
	f.HasStop[flow.Write] = true
	f.StopTimestamp[flow.Read] = now.Add(-time.Second)
	f.StopTimestamp[flow.Write] = now.Add(-time.Second)
	require.True(t, flowDone(now, f))
}

func TestFlowDoneOneDirectionStillSendingIsNotDone(t *testing.T) {
	now := time.Now()
	f := flow.New(1, flow.RoleSource, flow.Settings{Duration: [2]float64{0, 10}})
	f.HasStop[flow.Write] = true
	f.StopTimestamp[flow.Write] = now.Add(time.Minute)
	require.False(t, flowDone(now, f))
}
