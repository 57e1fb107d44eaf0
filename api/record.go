package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/satbench/attitude.station/internal/db"
)

// defaultRecordInterval matches the sensor loop's cadence.
const defaultRecordInterval = 50 * time.Millisecond

// recorderSlot holds at most one live recorder.
type recorderSlot struct {
	mu     sync.Mutex
	active *recorder
}

// recorder samples the station snapshot into a session until stopped.
type recorder struct {
	session  db.Session
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func (s *Server) startRecorder(session db.Session, interval time.Duration) *recorder {
	rec := &recorder{
		session:  session,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go func() {
		defer close(rec.doneCh)
		ticker := time.NewTicker(rec.interval)
		defer ticker.Stop()
		for {
			select {
			case <-rec.stopCh:
				return
			case <-ticker.C:
				snap := s.station.Snapshot()
				sample := db.Sample{
					RecordedAt:  time.Now().UTC(),
					Yaw:         snap.Yaw,
					Roll:        snap.Roll,
					Pitch:       snap.Pitch,
					YawRate:     snap.GyroRates.Z,
					Temperature: snap.Temperature,
					TargetYaw:   snap.Controller.TargetYaw,
					YawError:    snap.Controller.Error,
					MotorPower:  snap.Controller.MotorPower,
					Mode:        snap.Mode,
					Status:      snap.Status,
					Lux:         snap.Lux,
				}
				if err := s.store.AppendSample(rec.session.ID, sample); err != nil {
					s.logger.Printf("api: recording sample failed: %v", err)
				}
			}
		}
	}()
	return rec
}

type recordStartRequest struct {
	Name       string  `json:"name"`
	IntervalMs float64 `json:"interval_ms,omitempty"`
}

func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}
	var req recordStartRequest
	if r.Body != nil {
		// An empty body starts an unnamed recording at the default rate.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Name == "" {
		req.Name = "session " + time.Now().Format("2006-01-02 15:04:05")
	}
	interval := defaultRecordInterval
	if req.IntervalMs > 0 {
		interval = time.Duration(req.IntervalMs * float64(time.Millisecond))
	}

	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	if s.rec.active != nil {
		s.writeJSONError(w, http.StatusConflict, "a recording is already running: "+s.rec.active.session.ID)
		return
	}
	session, err := s.store.StartSession(req.Name)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.rec.active = s.startRecorder(session, interval)
	s.logger.Printf("api: recording session %s (%s) started", session.ID, session.Name)
	s.writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}

	s.rec.mu.Lock()
	rec := s.rec.active
	s.rec.active = nil
	s.rec.mu.Unlock()
	if rec == nil {
		s.writeJSONError(w, http.StatusConflict, "no recording is running")
		return
	}
	close(rec.stopCh)
	<-rec.doneCh
	if err := s.store.EndSession(rec.session.ID); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Printf("api: recording session %s stopped", rec.session.ID)
	session, err := s.store.GetSession(rec.session.ID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

// StopRecording ends any live recording; called on shutdown.
func (s *Server) StopRecording() {
	s.rec.mu.Lock()
	rec := s.rec.active
	s.rec.active = nil
	s.rec.mu.Unlock()
	if rec == nil {
		return
	}
	close(rec.stopCh)
	<-rec.doneCh
	if err := s.store.EndSession(rec.session.ID); err != nil {
		s.logger.Printf("api: closing recording session %s failed: %v", rec.session.ID, err)
	}
}
