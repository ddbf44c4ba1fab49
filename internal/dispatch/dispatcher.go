// Package dispatch orchestrates artifact capture across a test session. It
// asks the policy gate whether each artifact may be captured at the current
// lifecycle point, runs the matching capturer, and fans the result out to
// every configured sink. Capture failures are logged and published but never
// propagate into the test under observation.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/enhanced-reports/ebr/internal/capture"
	"github.com/enhanced-reports/ebr/internal/config"
	"github.com/enhanced-reports/ebr/internal/driver"
	"github.com/enhanced-reports/ebr/internal/events"
	"github.com/enhanced-reports/ebr/internal/policy"
	"github.com/enhanced-reports/ebr/internal/sink"
	"github.com/enhanced-reports/ebr/internal/video"
)

// Outcome is how a finished test ended.
type Outcome string

const (
	// OutcomePassed means the test finished without failures.
	OutcomePassed Outcome = "passed"
	// OutcomeFailed means an assertion failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeBroken means the test raised an unexpected error.
	OutcomeBroken Outcome = "broken"
	// OutcomeSkipped means the test never ran.
	OutcomeSkipped Outcome = "skipped"
)

const (
	artifactScreenshot  = "screenshot"
	artifactConsoleLog  = "console log"
	artifactVideo       = "video"
	consoleLogAttachTag = " console log"
)

// Recorder is the part of the video recorder the dispatcher drives.
type Recorder interface {
	Start(ctx context.Context, drv driver.Driver) error
	StopAndStitch(ctx context.Context, opts *config.Options, scenario string, attach func(name, path string)) error
}

// RecorderFactory builds a recorder for one test, writing frames under
// scratchDir.
type RecorderFactory func(scratchDir, videoStore string) (Recorder, error)

// Option configures Dispatcher construction.
type Option func(*Dispatcher)

// WithSinks configures the sinks receiving captured artifacts.
func WithSinks(sinks ...sink.Sink) Option {
	return func(d *Dispatcher) {
		for _, s := range sinks {
			if s != nil {
				d.sinks = append(d.sinks, s)
			}
		}
	}
}

// WithBus configures the event bus receiving capture notifications.
func WithBus(bus events.Bus) Option {
	return func(d *Dispatcher) {
		if bus != nil {
			d.bus = bus
		}
	}
}

// WithLogger configures the dispatcher's logger.
func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithRecorderFactory overrides how per-test video recorders are built.
func WithRecorderFactory(factory RecorderFactory) Option {
	return func(d *Dispatcher) {
		if factory != nil {
			d.newRecorder = factory
		}
	}
}

// Dispatcher ties the policy gate, the capturers and the sinks together for
// one browser session. It is safe for use from a single test runner
// goroutine; concurrent tests need one Dispatcher each.
type Dispatcher struct {
	opts   *config.Options
	gate   *policy.Gate
	drv    driver.Driver
	logger *log.Logger
	bus    events.Bus
	sinks  []sink.Sink

	newRecorder RecorderFactory

	mu          sync.Mutex
	sessionID   string
	currentTest string
	recorder    Recorder
}

// New builds a dispatcher for the given configuration and browser driver.
func New(opts *config.Options, drv driver.Driver, options ...Option) (*Dispatcher, error) {
	if opts == nil {
		return nil, errors.New("options are required")
	}
	if drv == nil {
		return nil, errors.New("driver is required")
	}
	gate, err := policy.NewGate(opts)
	if err != nil {
		return nil, fmt.Errorf("build capture gate: %w", err)
	}

	dispatcher := &Dispatcher{
		opts: opts,
		gate: gate,
		drv:  drv,
		newRecorder: func(scratchDir, videoStore string) (Recorder, error) {
			return video.NewRecorder(scratchDir, videoStore)
		},
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(dispatcher)
	}
	return dispatcher, nil
}

// SessionID returns the identifier assigned by StartSession.
func (d *Dispatcher) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

// StartSession prepares the artifact directories for a run.
func (d *Dispatcher) StartSession(ctx context.Context) error {
	_ = ctx

	d.mu.Lock()
	d.sessionID = uuid.NewString()
	sessionID := d.sessionID
	d.mu.Unlock()

	if err := os.MkdirAll(d.opts.ScreenshotDir, 0o750); err != nil {
		return fmt.Errorf("create screenshot directory: %w", err)
	}
	if err := os.MkdirAll(d.opts.VideoDir, 0o750); err != nil {
		return fmt.Errorf("create video directory: %w", err)
	}
	if d.logger != nil {
		d.logger.With("session_id", sessionID).Info("capture session started")
	}
	return nil
}

// EndSession removes artifact directories the user did not ask to keep.
// Sinks hold their own copies by now, so the working directories are only
// useful when a keep flag was set. With keep_screenshots set, the resized
// working copies still go; only the per-scenario originals stay.
func (d *Dispatcher) EndSession(ctx context.Context) error {
	_ = ctx

	var errs []error
	if d.opts.KeepScreenshots {
		if err := removeTopLevelFiles(d.opts.ScreenshotDir); err != nil {
			errs = append(errs, err)
		}
	} else {
		if err := os.RemoveAll(d.opts.ScreenshotDir); err != nil {
			errs = append(errs, fmt.Errorf("remove screenshot directory: %w", err))
		}
	}
	if !d.opts.KeepVideos {
		if err := os.RemoveAll(d.opts.VideoDir); err != nil {
			errs = append(errs, fmt.Errorf("remove video directory: %w", err))
		}
	}
	if d.logger != nil {
		d.logger.With("session_id", d.SessionID()).Info("capture session ended")
	}
	return errors.Join(errs...)
}

// StartTest opens a test scope: sinks are notified, and video recording
// starts when policy allows it.
func (d *Dispatcher) StartTest(ctx context.Context, name string) error {
	d.mu.Lock()
	if d.currentTest != "" {
		current := d.currentTest
		d.mu.Unlock()
		return fmt.Errorf("start test %q: test %q still in progress", name, current)
	}
	d.currentTest = name
	d.mu.Unlock()

	for _, s := range d.sinks {
		if lifecycle, ok := s.(sink.Lifecycle); ok {
			lifecycle.StartTest(name)
		}
	}
	d.publish(events.Event{Type: events.EventTypeTestStarted, Test: name, Severity: events.SeverityInfo})

	d.captureScreenshot(policy.StateBeforeTest, name)
	d.captureConsoleLog(policy.StateBeforeTest, name)

	if d.gate.CanCapture(policy.ArtifactVideo, policy.StateBeforeTest) {
		if err := d.startRecording(ctx, name); err != nil {
			// Recording is best-effort; the test proceeds without it.
			d.reportFailure(artifactVideo, name, err)
		}
	}
	return nil
}

// BeforeUIOperation captures evidence right before a UI action. The selector
// names the element about to be acted on; with highlighting enabled it is
// outlined in the screenshot.
func (d *Dispatcher) BeforeUIOperation(ctx context.Context, selector string) {
	_ = ctx
	name := d.testName()

	if d.gate.CanCapture(policy.ArtifactScreenshotHighlighted, policy.StateBeforeUIOperation) {
		path := capture.HighlightedScreenshot(selector, name, name, d.opts, d.drv, d.logger)
		d.attachScreenshot(name, path)
		return
	}
	d.captureScreenshot(policy.StateBeforeUIOperation, name)
}

// AfterUIOperation captures evidence right after a UI action completed.
func (d *Dispatcher) AfterUIOperation(ctx context.Context) {
	_ = ctx
	name := d.testName()
	d.captureScreenshot(policy.StateAfterUIOperation, name)
	d.captureConsoleLog(policy.StateAfterUIOperation, name)
}

// OnError captures evidence when a test step raises an unexpected error,
// while the page still shows the failure.
func (d *Dispatcher) OnError(ctx context.Context) {
	_ = ctx
	name := d.testName()
	d.captureScreenshot(policy.StateError, name)
	d.captureConsoleLog(policy.StateError, name)
}

// EndTest closes the test scope: final artifacts are captured according to
// the outcome, the recording is stitched and attached, and sinks flush their
// result.
func (d *Dispatcher) EndTest(ctx context.Context, outcome Outcome) error {
	d.mu.Lock()
	name := d.currentTest
	recorder := d.recorder
	d.currentTest = ""
	d.recorder = nil
	d.mu.Unlock()

	if name == "" {
		return errors.New("end test: no test in progress")
	}

	state := outcomeState(outcome)
	d.captureScreenshot(state, name)
	d.captureConsoleLog(state, name)

	if recorder != nil {
		d.stopRecording(ctx, recorder, name, state)
	}

	var errs []error
	status := outcomeStatus(outcome)
	for _, s := range d.sinks {
		lifecycle, ok := s.(sink.Lifecycle)
		if !ok {
			continue
		}
		if err := lifecycle.EndTest(status); err != nil {
			d.reportFailure("test result", name, err)
			errs = append(errs, err)
		}
	}
	d.publish(events.Event{
		Type:     events.EventTypeTestFinished,
		Test:     name,
		Payload:  outcome,
		Severity: events.SeverityInfo,
	})
	return errors.Join(errs...)
}

func (d *Dispatcher) startRecording(ctx context.Context, name string) error {
	scratch := filepath.Join(d.opts.VideoDir, ".scratch", capture.CleanFilename(name))
	recorder, err := d.newRecorder(scratch, d.opts.VideoDir)
	if err != nil {
		return fmt.Errorf("build recorder: %w", err)
	}
	if err := recorder.Start(ctx, d.drv); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}

	d.mu.Lock()
	d.recorder = recorder
	d.mu.Unlock()

	d.publish(events.Event{Type: events.EventTypeRecordingStarted, Artifact: artifactVideo, Test: name, Severity: events.SeverityInfo})
	return nil
}

// stopRecording stitches the recording and, when the outcome state permits a
// video attachment, fans the file out to every sink before the recorder
// purges its scratch directory.
func (d *Dispatcher) stopRecording(ctx context.Context, recorder Recorder, name string, state policy.State) {
	attach := func(attachName, path string) {
		if !d.gate.CanCapture(policy.ArtifactVideo, state) {
			d.publish(events.Skipped(artifactVideo, name))
			return
		}
		for _, s := range d.sinks {
			if err := s.AttachVideo(attachName, path); err != nil {
				d.reportFailure(artifactVideo, name, err)
			}
		}
		d.publish(events.Captured(artifactVideo, name, path))
	}

	if err := recorder.StopAndStitch(ctx, d.opts, name, attach); err != nil {
		d.reportFailure(artifactVideo, name, err)
		return
	}
	d.publish(events.Event{Type: events.EventTypeRecordingStopped, Artifact: artifactVideo, Test: name, Severity: events.SeverityInfo})
}

// captureScreenshot takes and attaches a screenshot when the gate allows it
// at the given state.
func (d *Dispatcher) captureScreenshot(state policy.State, name string) {
	if !d.gate.CanCapture(policy.ArtifactScreenshot, state) {
		return
	}
	path := capture.Screenshot(name, name, d.opts, d.drv, d.logger)
	d.attachScreenshot(name, path)
}

func (d *Dispatcher) attachScreenshot(name, path string) {
	if path == "" {
		d.publish(events.Skipped(artifactScreenshot, name))
		return
	}
	for _, s := range d.sinks {
		if err := s.AttachImage(name, path); err != nil {
			d.reportFailure(artifactScreenshot, name, err)
		}
	}
	d.publish(events.Captured(artifactScreenshot, name, path))
}

// captureConsoleLog fetches and attaches the browser console buffer when the
// gate allows it at the given state. An empty buffer attaches nothing.
func (d *Dispatcher) captureConsoleLog(state policy.State, name string) {
	if !d.gate.CanCapture(policy.ArtifactConsoleLog, state) {
		return
	}
	content := capture.ConsoleLog(d.drv, d.logger)
	if content == "" {
		d.publish(events.Skipped(artifactConsoleLog, name))
		return
	}
	for _, s := range d.sinks {
		if err := s.AttachText(name+consoleLogAttachTag, content); err != nil {
			d.reportFailure(artifactConsoleLog, name, err)
		}
	}
	d.publish(events.Captured(artifactConsoleLog, name, len(content)))
}

func (d *Dispatcher) reportFailure(artifact, name string, err error) {
	if d.logger != nil {
		d.logger.With("artifact", artifact, "test", name, "error", err).Error("artifact delivery failed")
	}
	d.publish(events.Failure(artifact, name, err))
}

func (d *Dispatcher) publish(event events.Event) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(event)
}

func (d *Dispatcher) testName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentTest
}

func outcomeState(outcome Outcome) policy.State {
	switch outcome {
	case OutcomeFailed:
		return policy.StateFailed
	case OutcomeBroken:
		return policy.StateError
	case OutcomeSkipped:
		return policy.StateSkipped
	default:
		return policy.StatePassed
	}
}

func outcomeStatus(outcome Outcome) sink.Status {
	switch outcome {
	case OutcomeFailed:
		return sink.StatusFailed
	case OutcomeBroken:
		return sink.StatusBroken
	case OutcomeSkipped:
		return sink.StatusSkipped
	default:
		return sink.StatusPassed
	}
}

// removeTopLevelFiles deletes regular files directly under dir, leaving
// subdirectories (the kept per-scenario originals) alone.
func removeTopLevelFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list screenshot directory: %w", err)
	}
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
