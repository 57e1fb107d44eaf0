// Command drift-analyse summarises a recorded telemetry session: gyro drift
// rate, pointing error statistics, and an optional PNG of the yaw track.
//
// Usage:
//
//	drift-analyse -db station_sessions.db -list
//	drift-analyse -db station_sessions.db [-session <id>] [-out drift.png]
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/satbench/attitude.station/internal/db"
)

var (
	dbPath    = flag.String("db", "station_sessions.db", "Sessions database path")
	sessionID = flag.String("session", "", "Session to analyse (default: most recent)")
	outFile   = flag.String("out", "", "Write a PNG plot of the session to this path")
	listOnly  = flag.Bool("list", false, "List recorded sessions and exit")
)

// DriftStats summarises one session's telemetry.
type DriftStats struct {
	Samples       int
	DurationSec   float64
	DriftRate     float64 // °/s, slope of yaw over time
	YawRateMean   float64
	YawRateStdDev float64
	ErrMean       float64
	ErrStdDev     float64
	TempMean      float64
}

// computeDriftStats fits yaw against elapsed time to estimate the drift rate
// and aggregates the rest with simple moments.
func computeDriftStats(samples []db.Sample) DriftStats {
	if len(samples) == 0 {
		return DriftStats{}
	}
	t0 := samples[0].RecordedAt
	times := make([]float64, len(samples))
	yaws := make([]float64, len(samples))
	rates := make([]float64, len(samples))
	errs := make([]float64, len(samples))
	temps := make([]float64, len(samples))
	for i, sm := range samples {
		times[i] = sm.RecordedAt.Sub(t0).Seconds()
		yaws[i] = sm.Yaw
		rates[i] = sm.YawRate
		errs[i] = sm.YawError
		temps[i] = sm.Temperature
	}
	_, slope := stat.LinearRegression(times, yaws, nil, false)
	return DriftStats{
		Samples:       len(samples),
		DurationSec:   times[len(times)-1],
		DriftRate:     slope,
		YawRateMean:   stat.Mean(rates, nil),
		YawRateStdDev: stat.StdDev(rates, nil),
		ErrMean:       stat.Mean(errs, nil),
		ErrStdDev:     stat.StdDev(errs, nil),
		TempMean:      stat.Mean(temps, nil),
	}
}

// renderPlot writes yaw, target and error traces to a PNG.
func renderPlot(samples []db.Sample, path string) error {
	t0 := samples[0].RecordedAt

	yawPts := make(plotter.XYs, 0, len(samples))
	targetPts := make(plotter.XYs, 0, len(samples))
	errPts := make(plotter.XYs, 0, len(samples))
	for _, sm := range samples {
		x := sm.RecordedAt.Sub(t0).Seconds()
		yawPts = append(yawPts, plotter.XY{X: x, Y: sm.Yaw})
		targetPts = append(targetPts, plotter.XY{X: x, Y: sm.TargetYaw})
		errPts = append(errPts, plotter.XY{X: x, Y: sm.YawError})
	}

	p := plot.New()
	p.Title.Text = "Session Yaw Track"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Degrees"

	yawLine, err := plotter.NewLine(yawPts)
	if err != nil {
		return fmt.Errorf("yaw line: %w", err)
	}
	yawLine.Width = vg.Points(1)
	yawLine.Color = color.RGBA{B: 255, A: 255}

	targetLine, err := plotter.NewLine(targetPts)
	if err != nil {
		return fmt.Errorf("target line: %w", err)
	}
	targetLine.Width = vg.Points(1)
	targetLine.Color = color.RGBA{G: 180, A: 255}
	targetLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	errLine, err := plotter.NewLine(errPts)
	if err != nil {
		return fmt.Errorf("error line: %w", err)
	}
	errLine.Width = vg.Points(1)
	errLine.Color = color.RGBA{R: 255, A: 255}

	p.Add(yawLine, targetLine, errLine)
	p.Legend.Add("yaw", yawLine)
	p.Legend.Add("target", targetLine)
	p.Legend.Add("error", errLine)

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}

func main() {
	flag.Parse()

	store, err := db.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open sessions database: %v", err)
	}
	defer store.Close()

	sessions, err := store.ListSessions()
	if err != nil {
		log.Fatalf("failed to list sessions: %v", err)
	}
	if len(sessions) == 0 {
		log.Fatal("no recorded sessions")
	}

	if *listOnly {
		for _, s := range sessions {
			state := "open"
			if s.EndedAt != nil {
				state = s.EndedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%s  %-30s  started %s  ended %s\n",
				s.ID, s.Name, s.StartedAt.Format("2006-01-02 15:04:05"), state)
		}
		return
	}

	id := *sessionID
	if id == "" {
		id = sessions[0].ID
	}
	session, err := store.GetSession(id)
	if err != nil {
		log.Fatalf("failed to load session: %v", err)
	}
	samples, err := store.Samples(id)
	if err != nil {
		log.Fatalf("failed to load samples: %v", err)
	}
	if len(samples) == 0 {
		log.Fatalf("session %s has no samples", id)
	}

	stats := computeDriftStats(samples)
	fmt.Printf("Session:     %s (%s)\n", session.ID, session.Name)
	fmt.Printf("Samples:     %d over %.1f s\n", stats.Samples, stats.DurationSec)
	fmt.Printf("Drift rate:  %+.4f °/s\n", stats.DriftRate)
	fmt.Printf("Yaw rate:    mean %+.4f °/s, stddev %.4f\n", stats.YawRateMean, stats.YawRateStdDev)
	fmt.Printf("Yaw error:   mean %+.2f°, stddev %.2f\n", stats.ErrMean, stats.ErrStdDev)
	fmt.Printf("Temperature: mean %.1f °C\n", stats.TempMean)

	if *outFile != "" {
		if err := renderPlot(samples, *outFile); err != nil {
			log.Fatalf("failed to render plot: %v", err)
		}
		abs := *outFile
		if fi, err := os.Stat(abs); err == nil {
			fmt.Printf("Plot:        %s (%d bytes)\n", abs, fi.Size())
		}
	}
}
