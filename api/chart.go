package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// handleChart renders a recorded session's yaw, target and motor power as an
// HTML line chart. This is a debugging view; the structured data lives on
// /api/samples. Query params:
//   - session (optional; defaults to the most recent session)
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessions, err := s.store.ListSessions()
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(sessions) == 0 {
			s.writeJSONError(w, http.StatusNotFound, "no recorded sessions")
			return
		}
		sessionID = sessions[0].ID
	}

	samples, err := s.store.Samples(sessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(samples) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "session has no samples")
		return
	}

	timestamps := make([]string, 0, len(samples))
	yaw := make([]opts.LineData, 0, len(samples))
	target := make([]opts.LineData, 0, len(samples))
	power := make([]opts.LineData, 0, len(samples))
	for _, sm := range samples {
		timestamps = append(timestamps, sm.RecordedAt.Format("15:04:05.000"))
		yaw = append(yaw, opts.LineData{Value: sm.Yaw})
		target = append(target, opts.LineData{Value: sm.TargetYaw})
		power = append(power, opts.LineData{Value: sm.MotorPower})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Attitude Telemetry",
			Theme:     "dark",
			Width:     "1200px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Attitude Telemetry",
			Subtitle: fmt.Sprintf("session=%s samples=%d", sessionID, len(samples)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "degrees / percent"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(timestamps).
		AddSeries("yaw", yaw).
		AddSeries("target", target).
		AddSeries("motor power", power)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
