package server

import (
	"errors"
	"net/http"

	"github.com/cyclopcam/livetrack/pkg/www"
	"github.com/cyclopcam/livetrack/server/session"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Upgrade to a websocket, and run a tracking session on it until the client leaves.
// Send JPEG frames as binary messages, or as base64 text messages.
// Add ?annotations=1 to receive a JSON "annotations" text message after every annotated frame.
func (s *Server) httpStream(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cfg := s.config.SessionConfig(www.QueryBool(r, "annotations"))
	if !s.beginSession() {
		www.Panic(http.StatusServiceUnavailable, "Server is shutting down")
	}
	defer s.sessionsWG.Done()

	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already sent an error response
		s.Log.Errorf("httpStream websocket upgrade failed: %v", err)
		return
	}
	conn := newWSConn(c)

	sess := session.New(s.Log, cfg, conn, s.detector, s.codec, s.renderer, s.logSink())
	s.sessions.add(sess)
	defer s.sessions.remove(sess)

	err = sess.Run(s.shutdownContext)
	switch {
	case err == nil:
		conn.Close(websocket.CloseNormalClosure, "")
	case errors.Is(err, s.shutdownContext.Err()):
		conn.Close(websocket.CloseGoingAway, "Server is shutting down")
	default:
		conn.Close(websocket.CloseInternalServerErr, "")
	}
}
