//go:build linux

package engine

import (
	"time"

	"github.com/joeycumines/flowgrindd/internal/flow"
	"github.com/joeycumines/flowgrindd/internal/queue"
	"github.com/joeycumines/flowgrindd/internal/report"
	"github.com/joeycumines/flowgrindd/internal/sockets"
)

// refreshTelemetry re-samples TCP_INFO/MTU/MSS for the bucket a report is
// about to be built from, matching report_flow()'s "get latest MTU and
// MSS" + the INTERVAL/TOTAL-specific has_tcp_info refresh in timer_check
// / prepare_fds.
func refreshTelemetry(f *flow.Flow, bucket *flow.StatsBucket) {
	if f.FD == -1 {
		return
	}
	if snap, ok := sockets.TCPInfo(f.FD); ok {
		bucket.TCPInfo = snap
	}
	if mtu := sockets.MTU(f.FD); mtu != -1 {
		f.MTU = mtu
	}
	if mss := sockets.MSS(f.FD); mss != -1 {
		f.MSS = mss
	}
}

// buildReport renders a Report from a flow's bucket and enqueues it,
// matching report_flow(): it also resets the INTERVAL bucket after
// building one, per report_flow()'s "New report interval, reset old
// data".
func (e *Engine) buildReport(now time.Time, f *flow.Flow, kind report.Type) {
	bucket := &f.Interval
	if kind == report.Total {
		bucket = &f.Total
	}
	refreshTelemetry(f, bucket)

	begin := f.LastReportTime
	if kind == report.Total {
		begin = f.FirstReportTime
	}
	f.LastReportTime = now

	rep := &report.Report{
		FlowID:            f.ID,
		Type:              kind,
		Begin:             begin,
		End:               now,
		Stats:             *bucket,
		MSS:               f.MSS,
		MTU:               f.MTU,
		Status:            report.BuildStatus(now, f, bucket),
		Error:             f.Error,
		CongestionCounter: f.CongestionCounter,
	}

	qk := queue.Interval
	if kind == report.Total {
		qk = queue.Total
	}
	e.reports.Push(&queue.Report{Kind: qk, Value: rep})

	if kind == report.Interval {
		bucket.Reset()
	}
}

// timerCheck fires periodic INTERVAL reports for every started flow whose
// reporting interval has elapsed, matching timer_check(): it also
// catches up missed intervals (the `do { ... } while` oversleep loop) so
// next_report_time never falls permanently behind wall-clock time.
func (e *Engine) timerCheck(now time.Time) {
	if !e.started {
		return
	}
	for _, id := range e.table.IDs() {
		f, ok := e.table.Get(id)
		if !ok || f.Settings.ReportingInterval == 0 {
			continue
		}
		if !now.After(f.NextReportTime) {
			continue
		}

		e.buildReport(now, f, report.Interval)

		interval := time.Duration(f.Settings.ReportingInterval * float64(time.Second))
		for {
			f.NextReportTime = f.NextReportTime.Add(interval)
			if !now.After(f.NextReportTime) {
				break
			}
		}
	}
}
