package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/livetrack/pkg/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	ratelimited := func(method, route string, handle func(w http.ResponseWriter, r *http.Request), requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(handle)).ServeHTTP(w, r)
		})
	}

	www.Handle(s.Log, router, "GET", "/", s.httpIndex)
	www.Handle(s.Log, router, "GET", "/status", s.httpStatus)
	ratelimited("POST", "/detect", s.httpDetect, s.config.DetectRateLimit, time.Minute)
	www.Handle(s.Log, router, "GET", "/stream", s.httpStream)
	www.Handle(s.Log, router, "GET", "/logs", s.httpLogs)

	s.httpRouter = router
}
