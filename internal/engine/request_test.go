//go:build linux

package engine

import (
	"testing"
	"time"

	"github.com/joeycumines/flowgrindd/internal/flow"
	"github.com/joeycumines/flowgrindd/internal/queue"
	"github.com/joeycumines/flowgrindd/internal/report"
	"github.com/stretchr/testify/require"
)

func TestProcessRequestsUnknownKind(t *testing.T) {
	e := newFullEngine(t)

	req := queue.NewRequest(queue.RequestKind(99))
	e.requests.Push(req)
	e.processRequests(time.Now())

	require.Equal(t, "engine: unknown request type", req.Error)
	select {
	case <-req.Done:
	default:
		t.Fatal("expected request to be signalled")
	}
}

func TestProcessRequestsGetStatus(t *testing.T) {
	e := newFullEngine(t)
	e.started = true
	require.NoError(t, e.table.Add(flow.New(1, flow.RoleSource, flow.Settings{})))

	req := queue.NewRequest(queue.GetStatus)
	e.requests.Push(req)
	e.processRequests(time.Now())

	require.True(t, req.Started)
	require.Equal(t, 1, req.NumFlows)
}

func TestStartFlowsStampsTimestamps(t *testing.T) {
	e := newFullEngine(t)

	f := flow.New(1, flow.RoleSource, flow.Settings{
		WriteRate:         10,
		Duration:          [2]float64{1, 2},
		Delay:             [2]float64{0.5, 0.25},
		ReportingInterval: 0.1,
	})
	require.NoError(t, e.table.Add(f))

	now := time.Now()
	e.startFlows(now)

	require.True(t, e.started)
	require.Equal(t, now.Add(500*time.Millisecond), f.StartTimestamp[flow.Read])
	require.Equal(t, now.Add(250*time.Millisecond), f.StartTimestamp[flow.Write])
	require.Equal(t, f.StartTimestamp[flow.Read].Add(time.Second), f.StopTimestamp[flow.Read])
	require.Equal(t, f.StartTimestamp[flow.Write].Add(2*time.Second), f.StopTimestamp[flow.Write])
	require.Equal(t, f.StartTimestamp[flow.Write], f.NextWriteBlockTimestamp)
	require.Equal(t, now, f.FirstReportTime)
	require.Equal(t, now, f.LastReportTime)
	require.Equal(t, now.Add(100*time.Millisecond), f.NextReportTime)
}

func TestStopAllDrainsEveryFlow(t *testing.T) {
	e := newFullEngine(t)
	e.started = true

	for id := uint64(1); id <= 3; id++ {
		dataA, _ := socketpair(t)
		f := flow.New(id, flow.RoleSource, flow.Settings{WriteBlockSize: 64})
		f.FD = dataA
		require.NoError(t, e.table.Add(f))
	}

	e.stopFlow(time.Now(), -1)

	require.Zero(t, e.table.Len())
	require.False(t, e.started)

	batch, more := e.reports.Fetch()
	require.False(t, more)
	require.Len(t, batch, 3)
	for _, r := range batch {
		require.Equal(t, queue.Total, r.Kind)
		require.Equal(t, report.Total, r.Value.(*report.Report).Type)
	}
}

func TestStopFlowUnknownIDRecordsRequestError(t *testing.T) {
	e := newFullEngine(t)
	require.NoError(t, e.table.Add(flow.New(7, flow.RoleSource, flow.Settings{})))

	req := queue.NewRequest(queue.StopFlow)
	req.StopFlowID = 42
	e.requests.Push(req)
	e.processRequests(time.Now())

	require.Equal(t, "engine: unknown flow id", req.Error)
	require.Equal(t, 1, e.table.Len())
}
