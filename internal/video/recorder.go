// Package video records a test's browser session by grabbing frames on a
// background goroutine and stitching them into a video when the test ends.
// Recording is best-effort instrumentation: it never fails the test it
// observes.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/enhanced-reports/ebr/internal/capture"
	"github.com/enhanced-reports/ebr/internal/config"
	"github.com/enhanced-reports/ebr/internal/driver"
)

// State is one phase of a recording session's lifecycle.
type State string

const (
	// StateIdle means the recorder was built but never started.
	StateIdle State = "idle"
	// StateRecording means the capture loop is running.
	StateRecording State = "recording"
	// StateStopping means stop was signaled and the controller is waiting
	// for the capture loop to exit.
	StateStopping State = "stopping"
	// StateStitched is terminal: frames were stitched (or there were none)
	// and the scratch directory was purged.
	StateStitched State = "stitched"
	// StateFailed is terminal: stitching or shutdown failed. Scratch cleanup
	// is still attempted.
	StateFailed State = "failed"
)

// ErrJoinTimeout reports that the capture loop did not exit within the join
// timeout, usually because the browser hung inside a screenshot call. The
// session is abandoned rather than blocked forever.
var ErrJoinTimeout = errors.New("capture loop did not stop in time")

const (
	defaultJoinTimeout = 10 * time.Second
	scratchPerms       = 0o750
)

// Option configures Recorder construction.
type Option func(*Recorder)

// WithEncoder overrides the video encoder.
func WithEncoder(encoder Encoder) Option {
	return func(r *Recorder) {
		if encoder != nil {
			r.encoder = encoder
		}
	}
}

// WithLogger configures the recorder's logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithJoinTimeout bounds the wait for the capture loop to exit after stop is
// signaled.
func WithJoinTimeout(timeout time.Duration) Option {
	return func(r *Recorder) {
		if timeout > 0 {
			r.joinTimeout = timeout
		}
	}
}

// WithTracer configures the tracer used for lifecycle transition spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Recorder) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// Recorder owns one recording session: a scratch directory for raw frames, a
// background capture loop and the stitching shutdown path.
//
// At most one recording session may be active per test, and Start may be
// called at most once per Recorder.
type Recorder struct {
	scratchDir  string
	videoStore  string
	encoder     Encoder
	logger      *log.Logger
	tracer      trace.Tracer
	joinTimeout time.Duration

	stop chan struct{}
	done chan struct{}

	mu           sync.Mutex
	state        State
	frameCount   int
	nativeWidth  int
	nativeHeight int
}

// NewRecorder builds a recorder writing frames under scratchDir and optional
// kept copies under videoStore.
func NewRecorder(scratchDir, videoStore string, options ...Option) (*Recorder, error) {
	scratchDir = filepath.Clean(scratchDir)
	if scratchDir == "" || scratchDir == "." {
		return nil, errors.New("scratch directory is required")
	}

	recorder := &Recorder{
		scratchDir:  scratchDir,
		videoStore:  videoStore,
		encoder:     &FFmpegEncoder{},
		tracer:      otel.Tracer("ebr/video"),
		joinTimeout: defaultJoinTimeout,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		state:       StateIdle,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(recorder)
	}
	return recorder, nil
}

// State returns the recorder's current lifecycle state.
func (r *Recorder) State() State {
	if r == nil {
		return StateIdle
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// FrameCount returns the number of frames written so far.
func (r *Recorder) FrameCount() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frameCount
}

// Start creates the scratch directory and launches the capture loop on its
// own goroutine. There is no guaranteed frame rate: each frame is only as
// fast as the browser answers the screenshot request.
func (r *Recorder) Start(ctx context.Context, drv driver.Driver) error {
	if r == nil {
		return errors.New("recorder is nil")
	}
	if drv == nil {
		return errors.New("driver is required")
	}

	r.mu.Lock()
	if r.state != StateIdle {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("start recording: recorder is %s", state)
	}
	r.state = StateRecording
	r.mu.Unlock()

	if err := os.MkdirAll(r.scratchDir, scratchPerms); err != nil {
		r.setState(StateFailed)
		return fmt.Errorf("create scratch directory: %w", err)
	}

	r.traceTransition(ctx, StateIdle, StateRecording)
	go r.captureLoop(drv)
	return nil
}

// captureLoop grabs frames until the stop signal is observed. Frame indices
// increase strictly by one, so the numeric suffix doubles as the stitch
// order. A driver error ends the loop; recording is best-effort.
func (r *Recorder) captureLoop(drv driver.Driver) {
	defer close(r.done)

	count := 0
	for {
		select {
		case <-r.stop:
			if r.logger != nil {
				r.logger.With("frames", count).Debug("frame capture stopped")
			}
			return
		default:
		}

		data, err := drv.Screenshot()
		if err != nil {
			if r.logger != nil {
				r.logger.With("error", err, "frames", count).Error("frame capture aborted")
			}
			return
		}

		path := filepath.Join(r.scratchDir, frameFileName(count))
		if err := os.WriteFile(path, data, 0o600); err != nil {
			if r.logger != nil {
				r.logger.With("error", err, "path", path).Error("frame write aborted")
			}
			return
		}

		r.mu.Lock()
		if count == 0 {
			// Track the native resolution explicitly at first write instead
			// of re-reading frame files during stitching.
			if cfg, decodeErr := png.DecodeConfig(bytes.NewReader(data)); decodeErr == nil {
				r.nativeWidth = cfg.Width
				r.nativeHeight = cfg.Height
			}
		}
		count++
		r.frameCount = count
		r.mu.Unlock()
	}
}

// StopAndStitch signals the capture loop to stop, waits for it to exit, and
// stitches the captured frames into a webm file. The attach callback runs
// before the scratch directory is purged so sinks can copy the file out. The
// scratch directory is always purged, stitching errors included.
func (r *Recorder) StopAndStitch(ctx context.Context, opts *config.Options, scenario string, attach func(name, path string)) error {
	if r == nil {
		return errors.New("recorder is nil")
	}
	if opts == nil {
		return errors.New("options are required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	if r.state != StateRecording {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("stop recording: recorder is %s", state)
	}
	r.state = StateStopping
	r.mu.Unlock()
	r.traceTransition(ctx, StateRecording, StateStopping)

	close(r.stop)

	// Stitching must never read frames while the capture loop may still be
	// writing them; the loop has to exit first.
	select {
	case <-r.done:
	case <-time.After(r.joinTimeout):
		r.setState(StateFailed)
		r.traceTransition(ctx, StateStopping, StateFailed)
		_ = os.RemoveAll(r.scratchDir)
		return fmt.Errorf("stop recording: %w", ErrJoinTimeout)
	}

	defer func() {
		_ = os.RemoveAll(r.scratchDir)
	}()

	if err := r.stitch(ctx, opts, scenario, attach); err != nil {
		r.setState(StateFailed)
		r.traceTransition(ctx, StateStopping, StateFailed)
		return err
	}

	r.setState(StateStitched)
	r.traceTransition(ctx, StateStopping, StateStitched)
	return nil
}

func (r *Recorder) stitch(ctx context.Context, opts *config.Options, scenario string, attach func(name, path string)) error {
	frames, err := sortedFramePaths(r.scratchDir)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		if r.logger != nil {
			r.logger.With("scenario", scenario).Debug("no frames captured, skipping stitch")
		}
		return nil
	}

	r.mu.Lock()
	nativeWidth, nativeHeight := r.nativeWidth, r.nativeHeight
	r.mu.Unlock()

	width, height := opts.VideoWidth, opts.VideoHeight
	if width <= 0 || height <= 0 {
		width, height = capture.ScaledResolution(nativeWidth, nativeHeight, opts.VideoResizePercent)
	}

	fileName := capture.CleanFilename(scenario) + ".webm"
	outPath := filepath.Join(r.scratchDir, fileName)
	if err := r.encoder.Encode(ctx, frames, width, height, opts.VideoFrameRate, outPath); err != nil {
		return fmt.Errorf("stitch video: %w", err)
	}
	if r.logger != nil {
		r.logger.With(
			"scenario", scenario,
			"frames", len(frames),
			"width", width,
			"height", height,
			"frame_rate", opts.VideoFrameRate,
		).Debug("video stitched")
	}

	if attach != nil {
		attach(scenario, outPath)
	}

	// A second native-resolution copy survives the run when the user asked
	// to keep videos.
	if opts.KeepVideos {
		if err := os.MkdirAll(r.videoStore, scratchPerms); err != nil {
			return fmt.Errorf("create video store: %w", err)
		}
		keptPath := filepath.Join(r.videoStore, fileName)
		if err := r.encoder.Encode(ctx, frames, nativeWidth, nativeHeight, opts.VideoFrameRate, keptPath); err != nil {
			return fmt.Errorf("stitch kept video: %w", err)
		}
	}

	return nil
}

func (r *Recorder) setState(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
}

func (r *Recorder) traceTransition(ctx context.Context, from, to State) {
	_, span := r.tracer.Start(ctx, "recording.transition",
		trace.WithAttributes(
			attribute.String("from_state", string(from)),
			attribute.String("to_state", string(to)),
			attribute.String("scratch_dir", r.scratchDir),
		),
	)
	span.End()
}
