package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/livetrack/pkg/nn"
	"github.com/cyclopcam/livetrack/pkg/tracking"
	"github.com/cyclopcam/livetrack/pkg/www"
	"github.com/cyclopcam/livetrack/server/session"
	"github.com/julienschmidt/httprouter"
)

type indexJSON struct {
	Message string `json:"message"`
}

type statusJSON struct {
	Detector             string          `json:"detector"`
	Model                *nn.ModelConfig `json:"model"`
	ProbabilityThreshold float32         `json:"probabilityThreshold"`
	NmsIouThreshold      float32         `json:"nmsIouThreshold"`
	Tracking             tracking.Config `json:"tracking"`
	DetectorTimeoutMS    int             `json:"detectorTimeoutMS"`
	ActiveSessions       int             `json:"activeSessions"`
	TotalSessions        int64           `json:"totalSessions"`
	Stats                session.Stats   `json:"stats"`
	DetectionLog         bool            `json:"detectionLog"`
	DroppedLogRecords    int64           `json:"droppedLogRecords"`
	UptimeSeconds        int64           `json:"uptimeSeconds"`
}

func (s *Server) httpIndex(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, &indexJSON{
		Message: "livetrack: connect a websocket to /stream to track objects in a live video feed",
	})
}

func (s *Server) httpStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	nActive, nTotal, stats := s.sessions.summary()
	j := statusJSON{
		Detector:             s.detectorDesc,
		Model:                s.detector.Config(),
		ProbabilityThreshold: s.config.Detector.ProbabilityThreshold,
		NmsIouThreshold:      s.config.Detector.NmsIouThreshold,
		Tracking:             s.config.Config,
		DetectorTimeoutMS:    s.config.DetectorTimeoutMS,
		ActiveSessions:       nActive,
		TotalSessions:        nTotal,
		Stats:                stats,
		UptimeSeconds:        int64(time.Since(s.startedAt).Seconds()),
	}
	if s.detLog != nil {
		j.DetectionLog = true
		j.DroppedLogRecords = s.detLog.Dropped()
	}
	www.CacheNever(w)
	www.SendJSON(w, &j)
}
