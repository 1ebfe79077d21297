package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/livetrack/pkg/nn"
	"github.com/cyclopcam/livetrack/pkg/tracking"
	"github.com/cyclopcam/livetrack/server/detlog"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	frames   chan Frame
	endErr   error // Returned by ReadFrame once frames is closed
	writeErr error

	mu      sync.Mutex
	written [][]byte
	texts   [][]byte
}

func newFakeTransport(frames ...Frame) *fakeTransport {
	t := &fakeTransport{
		frames: make(chan Frame, len(frames)),
		endErr: fmt.Errorf("%w: bye", ErrClientDisconnected),
	}
	for _, f := range frames {
		t.frames <- f
	}
	close(t.frames)
	return t
}

func (t *fakeTransport) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-t.frames:
		if !ok {
			return Frame{}, t.endErr
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
	}
}

func (t *fakeTransport) WriteFrame(jpg []byte) error {
	if t.writeErr != nil {
		return t.writeErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.written = append(t.written, jpg)
	return nil
}

func (t *fakeTransport) WriteText(msg []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.texts = append(t.texts, msg)
	return nil
}

type fakeCodec struct {
	failEncode bool
}

func (c *fakeCodec) Decode(jpg []byte) (*cimg.Image, error) {
	if string(jpg) == "bad" {
		return nil, errors.New("corrupt")
	}
	return cimg.NewImage(8, 8, cimg.PixelFormatRGB), nil
}

func (c *fakeCodec) DecodeBase64(text []byte) (*cimg.Image, error) {
	return c.Decode(text)
}

func (c *fakeCodec) Encode(img *cimg.Image) ([]byte, error) {
	if c.failEncode {
		return nil, errors.New("encoder broken")
	}
	return []byte("jpeg"), nil
}

type renderCall struct {
	detections []nn.Detection
	tracks     []tracking.Track
}

type fakeRenderer struct {
	calls []renderCall
}

func (r *fakeRenderer) Render(img *cimg.Image, detections []nn.Detection, tracks []tracking.Track) *cimg.Image {
	r.calls = append(r.calls, renderCall{detections, tracks})
	return img
}

type fakeDetector struct {
	calls  atomic.Int32
	detect func(call int, ctx context.Context) ([]nn.Detection, error)
}

func (d *fakeDetector) Close() {}

func (d *fakeDetector) Config() *nn.ModelConfig { return &nn.ModelConfig{} }

func (d *fakeDetector) DetectObjects(ctx context.Context, img *cimg.Image) ([]nn.Detection, error) {
	call := int(d.calls.Add(1)) - 1
	return d.detect(call, ctx)
}

func personDetector() *fakeDetector {
	return &fakeDetector{
		detect: func(call int, ctx context.Context) ([]nn.Detection, error) {
			return []nn.Detection{{Class: "person", Confidence: 0.9, Box: nn.MakeRect(10, 10, 50, 90)}}, nil
		},
	}
}

type fakeLogSink struct {
	mu      sync.Mutex
	records []detlog.Record
}

func (s *fakeLogSink) Add(r *detlog.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *r)
}

func frames(data ...string) []Frame {
	f := []Frame{}
	for _, d := range data {
		f = append(f, Frame{Data: []byte(d)})
	}
	return f
}

func testConfig(interval int) Config {
	c := DefaultConfig()
	c.Tracking.DetectorInterval = interval
	c.Tracking.TrailLength = 0
	c.DetectorTimeout = 100 * time.Millisecond
	return c
}

func TestSessionCadence(t *testing.T) {
	transport := newFakeTransport(frames("a", "b", "c", "d", "e", "f", "g")...)
	detector := personDetector()
	renderer := &fakeRenderer{}
	sink := &fakeLogSink{}
	s := New(logs.NewTestingLog(t), testConfig(3), transport, detector, &fakeCodec{}, renderer, sink)
	require.Equal(t, StateConnected, s.State())

	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, StateClosed, s.State())

	require.Equal(t, int32(3), detector.calls.Load())
	require.Len(t, renderer.calls, 7)
	require.Len(t, transport.written, 7)
	expectAge := []int{0, 1, 2, 0, 1, 2, 0}
	for i, call := range renderer.calls {
		if i%3 == 0 {
			require.Len(t, call.detections, 1, "frame %v", i)
		} else {
			require.Len(t, call.detections, 0, "frame %v", i)
		}
		require.Len(t, call.tracks, 1)
		require.Equal(t, int64(1), call.tracks[0].ID)
		require.Equal(t, expectAge[i], call.tracks[0].Age, "frame %v", i)
	}

	require.Len(t, sink.records, 7)
	for i, r := range sink.records {
		require.Equal(t, s.ID(), r.SessionID)
		require.Equal(t, int64(i), r.FrameIndex)
		require.Equal(t, 1, r.TrackCount)
	}

	stats := s.Stats()
	require.Equal(t, int64(7), stats.Frames)
	require.Equal(t, int64(3), stats.DetectorRuns)
	require.Equal(t, int64(0), stats.DetectorFailures)
}

func TestSessionDetectorFailureDegrades(t *testing.T) {
	release := make(chan bool)
	defer close(release)
	detector := &fakeDetector{
		detect: func(call int, ctx context.Context) ([]nn.Detection, error) {
			switch call {
			case 0:
				return []nn.Detection{{Class: "car", Confidence: 0.8, Box: nn.MakeRect(0, 0, 20, 20)}}, nil
			case 1:
				return nil, errors.New("model exploded")
			default:
				// Ignores its context, so only the session's timeout can save us
				<-release
				return nil, nil
			}
		},
	}
	transport := newFakeTransport(frames("a", "b", "c")...)
	renderer := &fakeRenderer{}
	s := New(logs.NewTestingLog(t), testConfig(1), transport, detector, &fakeCodec{}, renderer, nil)

	start := time.Now()
	require.NoError(t, s.Run(context.Background()))
	require.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, renderer.calls, 3)
	for i, call := range renderer.calls {
		require.Len(t, call.tracks, 1)
		require.Equal(t, i, call.tracks[0].Age)
		if i != 0 {
			require.Empty(t, call.detections)
		}
	}
	require.Len(t, transport.written, 3)
	stats := s.Stats()
	require.Equal(t, int64(3), stats.DetectorRuns)
	require.Equal(t, int64(2), stats.DetectorFailures)
}

func TestSessionSkipsUndecodableFrames(t *testing.T) {
	transport := newFakeTransport(frames("a", "bad", "b")...)
	renderer := &fakeRenderer{}
	sink := &fakeLogSink{}
	s := New(logs.NewTestingLog(t), testConfig(1), transport, personDetector(), &fakeCodec{}, renderer, sink)
	require.NoError(t, s.Run(context.Background()))

	require.Len(t, renderer.calls, 2)
	require.Len(t, transport.written, 2)
	// The bad frame did not age the track
	require.Equal(t, 0, renderer.calls[1].tracks[0].Age)
	require.Equal(t, int64(1), renderer.calls[1].tracks[0].ID)
	// The bad frame did not consume a frame index
	require.Equal(t, int64(0), sink.records[0].FrameIndex)
	require.Equal(t, int64(1), sink.records[1].FrameIndex)
	require.Equal(t, int64(1), s.Stats().DecodeFailures)
}

func TestSessionNoLogRecordWhenEmpty(t *testing.T) {
	detector := &fakeDetector{
		detect: func(call int, ctx context.Context) ([]nn.Detection, error) {
			return []nn.Detection{}, nil
		},
	}
	transport := newFakeTransport(frames("a", "b")...)
	sink := &fakeLogSink{}
	s := New(logs.NewTestingLog(t), testConfig(1), transport, detector, &fakeCodec{}, &fakeRenderer{}, sink)
	require.NoError(t, s.Run(context.Background()))
	require.Len(t, transport.written, 2)
	require.Empty(t, sink.records)
}

func TestSessionTransportErrors(t *testing.T) {
	for _, endErr := range []error{
		fmt.Errorf("%w: connection reset", ErrTransport),
		errors.New("something unexpected"),
	} {
		transport := newFakeTransport(frames("a")...)
		transport.endErr = endErr
		s := New(logs.NewTestingLog(t), testConfig(1), transport, personDetector(), &fakeCodec{}, &fakeRenderer{}, nil)
		err := s.Run(context.Background())
		require.ErrorIs(t, err, ErrTransport)
		require.Equal(t, StateClosed, s.State())
	}

	// Write failure
	transport := newFakeTransport(frames("a", "b")...)
	transport.writeErr = fmt.Errorf("%w: broken pipe", ErrTransport)
	renderer := &fakeRenderer{}
	s := New(logs.NewTestingLog(t), testConfig(1), transport, personDetector(), &fakeCodec{}, renderer, nil)
	require.ErrorIs(t, s.Run(context.Background()), ErrTransport)
	require.Len(t, renderer.calls, 1)
}

func TestSessionEncodeFailureKeepsSessionOpen(t *testing.T) {
	transport := newFakeTransport(frames("a", "b")...)
	s := New(logs.NewTestingLog(t), testConfig(1), transport, personDetector(), &fakeCodec{failEncode: true}, &fakeRenderer{}, nil)
	require.NoError(t, s.Run(context.Background()))
	require.Empty(t, transport.written)
	require.Equal(t, int64(2), s.Stats().EncodeFailures)
	require.Equal(t, int64(2), s.Stats().Frames)
}

func TestSessionLogRecordOnlyForSentFrames(t *testing.T) {
	// Encode failure: nothing is sent, so nothing is logged
	sink := &fakeLogSink{}
	transport := newFakeTransport(frames("a", "b")...)
	s := New(logs.NewTestingLog(t), testConfig(1), transport, personDetector(), &fakeCodec{failEncode: true}, &fakeRenderer{}, sink)
	require.NoError(t, s.Run(context.Background()))
	require.Empty(t, transport.written)
	require.Empty(t, sink.records)

	// Write failure
	sink = &fakeLogSink{}
	transport = newFakeTransport(frames("a", "b")...)
	transport.writeErr = fmt.Errorf("%w: broken pipe", ErrTransport)
	s = New(logs.NewTestingLog(t), testConfig(1), transport, personDetector(), &fakeCodec{}, &fakeRenderer{}, sink)
	require.ErrorIs(t, s.Run(context.Background()), ErrTransport)
	require.Empty(t, sink.records)

	// One record per transmitted frame
	sink = &fakeLogSink{}
	transport = newFakeTransport(frames("a", "b")...)
	s = New(logs.NewTestingLog(t), testConfig(1), transport, personDetector(), &fakeCodec{}, &fakeRenderer{}, sink)
	require.NoError(t, s.Run(context.Background()))
	require.Len(t, transport.written, 2)
	require.Len(t, sink.records, 2)
	require.Equal(t, int64(1), sink.records[1].FrameIndex)
}

func TestSessionCancel(t *testing.T) {
	transport := &fakeTransport{
		frames: make(chan Frame), // never delivers anything
	}
	s := New(logs.NewTestingLog(t), testConfig(1), transport, personDetector(), &fakeCodec{}, &fakeRenderer{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- s.Run(ctx)
	}()
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Session did not observe cancellation")
	}
	require.Equal(t, StateClosed, s.State())
	require.Empty(t, transport.written)
}

func TestSessionAnnotations(t *testing.T) {
	transport := newFakeTransport(frames("a", "b")...)
	cfg := testConfig(2)
	cfg.SendAnnotations = true
	s := New(logs.NewTestingLog(t), cfg, transport, personDetector(), &fakeCodec{}, &fakeRenderer{}, nil)
	require.NoError(t, s.Run(context.Background()))
	require.Len(t, transport.texts, 2)

	type message struct {
		Type       string             `json:"type"`
		Frame      int64              `json:"frame"`
		Detections []nn.WireDetection `json:"detections"`
		Tracks     []tracking.Track   `json:"tracks"`
	}
	for i, raw := range transport.texts {
		msg := message{}
		require.NoError(t, json.Unmarshal(raw, &msg))
		require.Equal(t, "annotations", msg.Type)
		require.Equal(t, int64(i), msg.Frame)
		require.NotNil(t, msg.Detections)
		require.Len(t, msg.Tracks, 1)
	}
	msg := message{}
	require.NoError(t, json.Unmarshal(transport.texts[0], &msg))
	require.Equal(t, [4]int{10, 10, 50, 90}, msg.Detections[0].Box)
}

func TestConfigValidate(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	c.DetectorTimeout = 0
	require.Error(t, c.Validate())
	c = DefaultConfig()
	c.Tracking.DetectorInterval = 0
	require.Error(t, c.Validate())
}

func TestStatsAdd(t *testing.T) {
	a := Stats{Frames: 1, DetectorRuns: 1}
	a.DetectorTime.AddSample(10 * time.Millisecond)
	b := Stats{Frames: 2, DetectorRuns: 1, DetectorFailures: 1}
	b.DetectorTime.AddSample(30 * time.Millisecond)
	a.Add(&b)
	require.Equal(t, int64(3), a.Frames)
	require.Equal(t, int64(2), a.DetectorRuns)
	require.Equal(t, int64(1), a.DetectorFailures)
	require.InDelta(t, 20.0, a.AvgDetectorMS, 0.001)
}
