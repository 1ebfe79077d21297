// Package session runs the per-connection loop: receive a frame, decide whether
// to run the detector, update the tracks, render, and send the result back.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/livetrack/pkg/nn"
	"github.com/cyclopcam/livetrack/pkg/perfstats"
	"github.com/cyclopcam/livetrack/pkg/tracking"
	"github.com/cyclopcam/livetrack/server/detlog"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
)

const DefaultDetectorTimeout = 2 * time.Second

// Minimum time between repeated error messages of the same kind
const errorLogInterval = 15 * time.Second

type State int32

const (
	StateConnected State = iota // Handshake complete, no frame received yet
	StateStreaming              // At least one frame received
	StateClosed                 // Loop has exited
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Frame is an encoded frame, as received from the client
type Frame struct {
	Data   []byte
	Base64 bool // Data is base64 text (possibly a data URL), instead of raw JPEG bytes
}

// Transport is the client connection.
// ReadFrame must return an error wrapping ErrClientDisconnected when the client
// closes the connection normally, and an error wrapping ErrTransport for any
// other failure. ReadFrame must return when ctx is cancelled.
type Transport interface {
	ReadFrame(ctx context.Context) (Frame, error)
	WriteFrame(jpg []byte) error
	WriteText(msg []byte) error
}

type Codec interface {
	Decode(jpg []byte) (*cimg.Image, error)
	DecodeBase64(text []byte) (*cimg.Image, error)
	Encode(img *cimg.Image) ([]byte, error)
}

// Renderer must not modify img
type Renderer interface {
	Render(img *cimg.Image, detections []nn.Detection, tracks []tracking.Track) *cimg.Image
}

// LogSink receives a record for every frame that had detections or tracks.
// Add must not block.
type LogSink interface {
	Add(r *detlog.Record)
}

// Config is captured by value when the session is created
type Config struct {
	Tracking        tracking.Config
	DetectorTimeout time.Duration
	SendAnnotations bool // Send an "annotations" text message after every frame
}

func DefaultConfig() Config {
	return Config{
		Tracking:        tracking.DefaultConfig(),
		DetectorTimeout: DefaultDetectorTimeout,
	}
}

func (c *Config) Validate() error {
	if err := c.Tracking.Validate(); err != nil {
		return err
	}
	if c.DetectorTimeout <= 0 {
		return fmt.Errorf("detector timeout must be positive (got %v)", c.DetectorTimeout)
	}
	return nil
}

// Stats are counters of a session, or the sum over many sessions
type Stats struct {
	Frames           int64                     `json:"frames"`
	DetectorRuns     int64                     `json:"detectorRuns"`
	DetectorFailures int64                     `json:"detectorFailures"`
	DecodeFailures   int64                     `json:"decodeFailures"`
	EncodeFailures   int64                     `json:"encodeFailures"`
	DetectorTime     perfstats.TimeAccumulator `json:"-"`
	AvgDetectorMS    float64                   `json:"avgDetectorMS"`
	MaxDetectorMS    float64                   `json:"maxDetectorMS"`
}

// Add accumulates b into a
func (a *Stats) Add(b *Stats) {
	a.Frames += b.Frames
	a.DetectorRuns += b.DetectorRuns
	a.DetectorFailures += b.DetectorFailures
	a.DecodeFailures += b.DecodeFailures
	a.EncodeFailures += b.EncodeFailures
	a.DetectorTime.Merge(&b.DetectorTime)
	a.AvgDetectorMS = a.DetectorTime.AverageMS()
	a.MaxDetectorMS = a.DetectorTime.MaxMS()
}

type annotationsMessage struct {
	Type       string             `json:"type"` // Always "annotations"
	Frame      int64              `json:"frame"`
	Detections []nn.WireDetection `json:"detections"`
	Tracks     []tracking.Track   `json:"tracks"`
}

// Session is the state of one client connection.
// Run is strictly sequential. The only methods that are safe to call from
// other goroutines are ID, State, and Stats.
type Session struct {
	log       logs.Log
	id        string
	cfg       Config
	transport Transport
	detector  nn.ObjectDetector
	codec     Codec
	renderer  Renderer
	logSink   LogSink // may be nil
	tracks    *tracking.TrackManager
	scheduler tracking.Scheduler
	state     atomic.Int32

	frameIndex       int64
	lastDetectErrAt  time.Time
	lastDecodeErrAt  time.Time
	lastEncodeErrAt  time.Time
	nDetectErrSilent int64 // Detector errors not logged since lastDetectErrAt

	statsLock sync.Mutex
	stats     Stats
}

// New creates a session in the Connected state. cfg must be valid.
// logSink may be nil.
func New(log logs.Log, cfg Config, transport Transport, detector nn.ObjectDetector, codec Codec, renderer Renderer, logSink LogSink) *Session {
	id := uuid.NewString()
	s := &Session{
		log:       logs.NewPrefixLogger(log, "Session "+id[:8]),
		id:        id,
		cfg:       cfg,
		transport: transport,
		detector:  detector,
		codec:     codec,
		renderer:  renderer,
		logSink:   logSink,
		tracks:    tracking.NewTrackManager(cfg.Tracking),
		scheduler: tracking.NewScheduler(cfg.Tracking),
	}
	s.state.Store(int32(StateConnected))
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Stats() Stats {
	s.statsLock.Lock()
	defer s.statsLock.Unlock()
	return s.stats
}

func (s *Session) updateStats(f func(st *Stats)) {
	s.statsLock.Lock()
	f(&s.stats)
	s.stats.AvgDetectorMS = s.stats.DetectorTime.AverageMS()
	s.stats.MaxDetectorMS = s.stats.DetectorTime.MaxMS()
	s.statsLock.Unlock()
}

// Run processes frames until the client disconnects, the transport fails, or ctx is cancelled.
// Returns nil on a normal client disconnect, ctx.Err() on cancellation, and an
// error wrapping ErrTransport on a transport failure.
// A session can only be run once.
func (s *Session) Run(ctx context.Context) error {
	s.tracks.Reset()
	s.frameIndex = 0
	defer func() {
		s.tracks.Reset()
		s.state.Store(int32(StateClosed))
	}()

	s.log.Infof("Started")

	for {
		if ctx.Err() != nil {
			s.log.Infof("Cancelled")
			return ctx.Err()
		}

		frame, err := s.transport.ReadFrame(ctx)
		if err != nil {
			return s.exitError(ctx, err)
		}
		s.state.CompareAndSwap(int32(StateConnected), int32(StateStreaming))

		if err := s.processFrame(ctx, frame); err != nil {
			return s.exitError(ctx, err)
		}
	}
}

// Decide how Run should exit after err
func (s *Session) exitError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		s.log.Infof("Cancelled")
		return ctx.Err()
	}
	if errors.Is(err, ErrClientDisconnected) {
		s.log.Infof("Client disconnected")
		return nil
	}
	if !errors.Is(err, ErrTransport) {
		err = fmt.Errorf("%w: %w", ErrTransport, err)
	}
	s.log.Warnf("Closing: %v", err)
	return err
}

// Run one cycle of the loop.
// Only transport errors (and cancellation) are returned. Everything else is
// logged and absorbed here.
func (s *Session) processFrame(ctx context.Context, frame Frame) error {
	img, err := s.decode(frame)
	if err != nil {
		// The frame doesn't get an index, and tracks are not aged
		s.updateStats(func(st *Stats) { st.DecodeFailures++ })
		if time.Since(s.lastDecodeErrAt) > errorLogInterval {
			s.log.Warnf("Skipping frame: %v", err)
			s.lastDecodeErrAt = time.Now()
		}
		return nil
	}

	frameIndex := s.frameIndex
	s.frameIndex++

	var detections []nn.Detection
	var tracks []tracking.Track
	if s.scheduler.ShouldRunDetector(frameIndex) {
		start := time.Now()
		detections, err = s.detect(ctx, img)
		elapsed := time.Since(start)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.updateStats(func(st *Stats) {
				st.DetectorRuns++
				st.DetectorFailures++
			})
			s.logDetectorError(err)
			tracks = s.tracks.AgeAndFetch()
		} else {
			s.updateStats(func(st *Stats) {
				st.DetectorRuns++
				st.DetectorTime.AddSample(elapsed)
			})
			tracks = s.tracks.Update(detections)
		}
	} else {
		tracks = s.tracks.AgeAndFetch()
	}
	s.updateStats(func(st *Stats) { st.Frames++ })

	annotated := s.renderer.Render(img, detections, tracks)
	jpg, err := s.codec.Encode(annotated)
	if err != nil {
		s.updateStats(func(st *Stats) { st.EncodeFailures++ })
		if time.Since(s.lastEncodeErrAt) > errorLogInterval {
			s.log.Errorf("Failed to encode annotated frame %v: %v", frameIndex, err)
			s.lastEncodeErrAt = time.Now()
		}
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := s.transport.WriteFrame(jpg); err != nil {
		return err
	}
	if len(detections) != 0 || len(tracks) != 0 {
		s.emitLogRecord(frameIndex, len(detections), len(tracks))
	}

	if s.cfg.SendAnnotations {
		msg, err := json.Marshal(&annotationsMessage{
			Type:       "annotations",
			Frame:      frameIndex,
			Detections: nn.ToWire(detections),
			Tracks:     tracks,
		})
		if err != nil {
			s.log.Errorf("Failed to marshal annotations: %v", err)
			return nil
		}
		if err := s.transport.WriteText(msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) decode(frame Frame) (*cimg.Image, error) {
	var img *cimg.Image
	var err error
	if frame.Base64 {
		img, err = s.codec.DecodeBase64(frame.Data)
	} else {
		img, err = s.codec.Decode(frame.Data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, nil
}

// Run the detector, bounded by the detector timeout.
// The detector runs on its own goroutine, so that a detector which ignores
// its context cannot stall the session. Its late result is discarded.
func (s *Session) detect(ctx context.Context, img *cimg.Image) ([]nn.Detection, error) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DetectorTimeout)
	defer cancel()

	type result struct {
		detections []nn.Detection
		err        error
	}
	done := make(chan result, 1)
	go func() {
		dets, err := s.detector.DetectObjects(dctx, img)
		done <- result{dets, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDetector, r.err)
		}
		return r.detections, nil
	case <-dctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrDetector, dctx.Err())
	}
}

func (s *Session) logDetectorError(err error) {
	if time.Since(s.lastDetectErrAt) > errorLogInterval {
		if s.nDetectErrSilent != 0 {
			s.log.Errorf("%v (and %v more detector errors)", err, s.nDetectErrSilent)
		} else {
			s.log.Errorf("%v", err)
		}
		s.lastDetectErrAt = time.Now()
		s.nDetectErrSilent = 0
	} else {
		s.nDetectErrSilent++
	}
}

func (s *Session) emitLogRecord(frameIndex int64, nDetections, nTracks int) {
	if s.logSink == nil {
		return
	}
	s.logSink.Add(&detlog.Record{
		SessionID:      s.id,
		FrameIndex:     frameIndex,
		DetectionCount: nDetections,
		TrackCount:     nTracks,
	})
}
