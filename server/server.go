// Package server is the HTTP front end: websocket streaming sessions, one-shot
// detection, status, and the live detection log.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/livetrack/pkg/framecodec"
	"github.com/cyclopcam/livetrack/pkg/nn"
	"github.com/cyclopcam/livetrack/pkg/render"
	"github.com/cyclopcam/livetrack/server/config"
	"github.com/cyclopcam/livetrack/server/detlog"
	"github.com/cyclopcam/livetrack/server/session"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

type Server struct {
	Log logs.Log

	config       *config.Config
	detector     nn.ObjectDetector
	detectorDesc string
	detLog       *detlog.DetectionLog // may be nil
	codec        *framecodec.Codec
	renderer     *render.Renderer
	sessions     *sessionRegistry
	wsUpgrader   websocket.Upgrader
	startedAt    time.Time

	// Cancelled by Shutdown, which ends all sessions and /logs streams
	shutdownContext context.Context
	shutdownCancel  context.CancelFunc
	sessionsWG      sync.WaitGroup
	shutdownDone    chan struct{} // Closed when Shutdown has finished

	shutdownLock sync.Mutex
	isShutdown   bool
	signalIn     chan os.Signal
	httpServer   *http.Server
	httpRouter   *httprouter.Router
}

// NewServer creates a server around a detector. cfg must already be validated.
// detectorDesc is a human readable description of the detector, for /status.
// detLog may be nil, in which case nothing is logged, and /logs is not available.
// The server takes ownership of the detector and the detection log, and closes them on Shutdown.
func NewServer(log logs.Log, cfg *config.Config, detector nn.ObjectDetector, detectorDesc string, detLog *detlog.DetectionLog) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		Log:             log,
		config:          cfg,
		detector:        detector,
		detectorDesc:    detectorDesc,
		detLog:          detLog,
		codec:           framecodec.NewCodec(cfg.JPEGQuality),
		renderer:        render.NewRenderer(),
		sessions:        newSessionRegistry(),
		startedAt:       time.Now(),
		shutdownContext: ctx,
		shutdownCancel:  cancel,
		shutdownDone:    make(chan struct{}),
	}
	s.setupHttpRoutes()
	return s
}

// Handler returns the HTTP handler of all our routes
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// ListenHTTP blocks until the HTTP listener is closed, and returns nil if that
// was caused by Shutdown. Use WaitForShutdown to wait for the rest of the shutdown.
// addr example: ":8000"
func (s *Server) ListenHTTP(addr string) error {
	s.Log.Infof("Listening on %v", addr)
	s.shutdownLock.Lock()
	if s.isShutdown {
		s.shutdownLock.Unlock()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.httpRouter,
	}
	s.shutdownLock.Unlock()
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) WaitForShutdown() {
	<-s.shutdownDone
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// Shutdown() was called by something other than ourselves
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

// Shutdown stops the HTTP server, ends all sessions, and closes the detector and the detection log.
// It is safe to call Shutdown more than once.
func (s *Server) Shutdown() {
	s.shutdownLock.Lock()
	if s.isShutdown {
		s.shutdownLock.Unlock()
		return
	}
	s.isShutdown = true
	httpServer := s.httpServer
	s.shutdownLock.Unlock()

	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}

	// Sessions and /logs streams are hijacked or long lived, so http.Server.Shutdown won't wait for them
	s.shutdownCancel()

	if httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("HTTP server shutdown error: %v", err)
		}
	}

	s.Log.Infof("Waiting for sessions to end")
	s.sessionsWG.Wait()

	s.detector.Close()
	if s.detLog != nil {
		s.detLog.Close()
	}
	s.Log.Infof("Shutdown complete")
	close(s.shutdownDone)
}

// beginSession adds a session to sessionsWG, unless we are shutting down.
// The check and the Add happen under shutdownLock, so that Shutdown cannot
// start waiting on sessionsWG in between.
func (s *Server) beginSession() bool {
	s.shutdownLock.Lock()
	defer s.shutdownLock.Unlock()
	if s.isShutdown {
		return false
	}
	s.sessionsWG.Add(1)
	return true
}

func (s *Server) logSink() session.LogSink {
	if s.detLog == nil {
		return nil
	}
	return s.detLog
}
