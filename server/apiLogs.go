package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cyclopcam/livetrack/pkg/www"
	"github.com/cyclopcam/livetrack/server/detlog"
	"github.com/julienschmidt/httprouter"
)

const defaultLogBacklog = 100
const maxLogBacklog = 10000

// Stream the detection log as server-sent events.
// The most recent records are sent first (?backlog=N, default 100), followed by
// new records as they are stored.
// Example: curl -N localhost:8000/logs?backlog=10
func (s *Server) httpLogs(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.detLog == nil {
		www.Panic(http.StatusNotFound, "Detection log is not enabled")
	}
	backlog := www.QueryIntOrDefault(r, "backlog", defaultLogBacklog)
	if backlog < 0 || backlog > maxLogBacklog {
		www.PanicBadRequestf("backlog must be between 0 and %v", maxLogBacklog)
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		www.PanicServerErrorf("Streaming is not supported by this connection")
	}

	// Watch before reading the backlog, so that nothing falls in between.
	// Records that arrive in both are filtered out by ID.
	watcher := s.detLog.AddWatcher()
	defer s.detLog.RemoveWatcher(watcher)

	recent, err := s.detLog.Recent(backlog)
	www.Check(err)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	lastID := int64(0)
	for i := range recent {
		if err := writeLogEvent(w, &recent[i]); err != nil {
			return
		}
		lastID = recent[i].ID
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.shutdownContext.Done():
			return
		case rec, ok := <-watcher:
			if !ok {
				return
			}
			if rec.ID <= lastID {
				continue
			}
			if err := writeLogEvent(w, rec); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeLogEvent(w http.ResponseWriter, rec *detlog.Record) error {
	j, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", j)
	return err
}
