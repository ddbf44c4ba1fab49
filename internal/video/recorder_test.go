package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/enhanced-reports/ebr/internal/config"
	"github.com/enhanced-reports/ebr/internal/driver"
)

type frameDriver struct {
	mu       sync.Mutex
	frame    []byte
	err      error
	blockOn  chan struct{}
	captures int
}

func (f *frameDriver) Screenshot() ([]byte, error) {
	if f.blockOn != nil {
		<-f.blockOn
	}
	f.mu.Lock()
	f.captures++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.frame, nil
}

func (f *frameDriver) ConsoleLog() ([]driver.ConsoleEntry, error) { return nil, nil }
func (f *frameDriver) ExecuteScript(string, ...any) error         { return nil }
func (f *frameDriver) ElementAttribute(string, string) (string, error) {
	return "", nil
}
func (f *frameDriver) Navigate(string) error    { return nil }
func (f *frameDriver) AlertOpen() (bool, error) { return false, nil }

type encodeCall struct {
	frames    []string
	width     int
	height    int
	frameRate int
	outPath   string
}

type fakeEncoder struct {
	mu    sync.Mutex
	calls []encodeCall
	err   error
}

func (f *fakeEncoder) Encode(_ context.Context, framePaths []string, width, height, frameRate int, outPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, encodeCall{
		frames:    append([]string(nil), framePaths...),
		width:     width,
		height:    height,
		frameRate: frameRate,
		outPath:   outPath,
	})
	return os.WriteFile(outPath, []byte("webm"), 0o600)
}

func (f *fakeEncoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestRecorder(t *testing.T, encoder Encoder) (*Recorder, string, string) {
	t.Helper()

	scratch := filepath.Join(t.TempDir(), "scratch")
	store := filepath.Join(t.TempDir(), "videos")
	recorder, err := NewRecorder(scratch, store, WithEncoder(encoder))
	require.NoError(t, err)
	return recorder, scratch, store
}

func TestRecorderCapturesAndStitches(t *testing.T) {
	encoder := &fakeEncoder{}
	recorder, scratch, _ := newTestRecorder(t, encoder)
	drv := &frameDriver{frame: pngFrame(t, 40, 20)}

	require.NoError(t, recorder.Start(context.Background(), drv))
	require.Eventually(t, func() bool {
		return recorder.FrameCount() >= 12
	}, 5*time.Second, time.Millisecond)

	var attachedName, attachedPath string
	opts := &config.Options{VideoResizePercent: 50, VideoFrameRate: 30}
	err := recorder.StopAndStitch(context.Background(), opts, "checkout flow", func(name, path string) {
		attachedName, attachedPath = name, path
	})
	require.NoError(t, err)

	assert.Equal(t, StateStitched, recorder.State())
	assert.Equal(t, "checkout flow", attachedName)
	assert.Equal(t, "checkout_flow.webm", filepath.Base(attachedPath))

	require.Equal(t, 1, encoder.callCount())
	call := encoder.calls[0]
	assert.Equal(t, 20, call.width)
	assert.Equal(t, 10, call.height)
	assert.Equal(t, 30, call.frameRate)
	assert.GreaterOrEqual(t, len(call.frames), 12)

	// Frames arrive in strict numeric order even past single digits.
	for i, path := range call.frames {
		assert.Equal(t, frameFileName(i), filepath.Base(path), "frame %d", i)
	}

	_, statErr := os.Stat(scratch)
	assert.True(t, os.IsNotExist(statErr), "scratch directory should be purged")
}

func TestRecorderExplicitResolutionWins(t *testing.T) {
	encoder := &fakeEncoder{}
	recorder, _, _ := newTestRecorder(t, encoder)
	drv := &frameDriver{frame: pngFrame(t, 40, 20)}

	require.NoError(t, recorder.Start(context.Background(), drv))
	require.Eventually(t, func() bool {
		return recorder.FrameCount() >= 1
	}, 5*time.Second, time.Millisecond)

	opts := &config.Options{VideoWidth: 320, VideoHeight: 240, VideoResizePercent: 50, VideoFrameRate: 10}
	require.NoError(t, recorder.StopAndStitch(context.Background(), opts, "s", nil))

	require.Equal(t, 1, encoder.callCount())
	assert.Equal(t, 320, encoder.calls[0].width)
	assert.Equal(t, 240, encoder.calls[0].height)
}

func TestRecorderKeepVideosWritesNativeCopy(t *testing.T) {
	encoder := &fakeEncoder{}
	recorder, _, store := newTestRecorder(t, encoder)
	drv := &frameDriver{frame: pngFrame(t, 40, 20)}

	require.NoError(t, recorder.Start(context.Background(), drv))
	require.Eventually(t, func() bool {
		return recorder.FrameCount() >= 1
	}, 5*time.Second, time.Millisecond)

	opts := &config.Options{VideoResizePercent: 50, VideoFrameRate: 5, KeepVideos: true}
	require.NoError(t, recorder.StopAndStitch(context.Background(), opts, "kept run", nil))

	require.Equal(t, 2, encoder.callCount())
	kept := encoder.calls[1]
	assert.Equal(t, 40, kept.width)
	assert.Equal(t, 20, kept.height)
	assert.Equal(t, filepath.Join(store, "kept_run.webm"), kept.outPath)
}

func TestRecorderStopBeforeAnyFramePurgesAndSucceeds(t *testing.T) {
	encoder := &fakeEncoder{}
	recorder, scratch, _ := newTestRecorder(t, encoder)
	drv := &frameDriver{err: errors.New("browser gone")}

	require.NoError(t, recorder.Start(context.Background(), drv))

	opts := &config.Options{VideoResizePercent: 50, VideoFrameRate: 30}
	require.NoError(t, recorder.StopAndStitch(context.Background(), opts, "s", nil))

	assert.Equal(t, StateStitched, recorder.State())
	assert.Zero(t, encoder.callCount())
	_, statErr := os.Stat(scratch)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRecorderJoinTimeoutIsRecoverable(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	encoder := &fakeEncoder{}
	scratch := filepath.Join(t.TempDir(), "scratch")
	recorder, err := NewRecorder(scratch, t.TempDir(),
		WithEncoder(encoder),
		WithJoinTimeout(50*time.Millisecond),
	)
	require.NoError(t, err)

	drv := &frameDriver{frame: pngFrame(t, 8, 8), blockOn: block}
	require.NoError(t, recorder.Start(context.Background(), drv))

	opts := &config.Options{VideoResizePercent: 50, VideoFrameRate: 30}
	err = recorder.StopAndStitch(context.Background(), opts, "s", nil)
	require.ErrorIs(t, err, ErrJoinTimeout)
	assert.Equal(t, StateFailed, recorder.State())
	assert.Zero(t, encoder.callCount())
}

func TestRecorderStitchFailureStillPurges(t *testing.T) {
	encoder := &fakeEncoder{err: errors.New("codec missing")}
	recorder, scratch, _ := newTestRecorder(t, encoder)
	drv := &frameDriver{frame: pngFrame(t, 8, 8)}

	require.NoError(t, recorder.Start(context.Background(), drv))
	require.Eventually(t, func() bool {
		return recorder.FrameCount() >= 1
	}, 5*time.Second, time.Millisecond)

	attached := false
	opts := &config.Options{VideoResizePercent: 50, VideoFrameRate: 30}
	err := recorder.StopAndStitch(context.Background(), opts, "s", func(string, string) {
		attached = true
	})
	require.Error(t, err)
	assert.Equal(t, StateFailed, recorder.State())
	assert.False(t, attached)

	_, statErr := os.Stat(scratch)
	assert.True(t, os.IsNotExist(statErr), "scratch directory should be purged after stitch failure")
}

func TestRecorderStartTwiceFails(t *testing.T) {
	recorder, _, _ := newTestRecorder(t, &fakeEncoder{})
	drv := &frameDriver{frame: pngFrame(t, 8, 8)}

	require.NoError(t, recorder.Start(context.Background(), drv))
	require.Error(t, recorder.Start(context.Background(), drv))

	opts := &config.Options{VideoResizePercent: 50, VideoFrameRate: 30}
	require.NoError(t, recorder.StopAndStitch(context.Background(), opts, "s", nil))
}

func TestRecorderStopWithoutStartFails(t *testing.T) {
	recorder, _, _ := newTestRecorder(t, &fakeEncoder{})
	opts := &config.Options{VideoResizePercent: 50, VideoFrameRate: 30}
	require.Error(t, recorder.StopAndStitch(context.Background(), opts, "s", nil))
}

func TestRecorderEmitsTransitionSpans(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})

	scratch := filepath.Join(t.TempDir(), "scratch")
	recorder, err := NewRecorder(scratch, t.TempDir(),
		WithEncoder(&fakeEncoder{}),
		WithTracer(provider.Tracer("test/video")),
	)
	require.NoError(t, err)

	drv := &frameDriver{frame: pngFrame(t, 8, 8)}
	require.NoError(t, recorder.Start(context.Background(), drv))
	require.Eventually(t, func() bool {
		return recorder.FrameCount() >= 1
	}, 5*time.Second, time.Millisecond)

	opts := &config.Options{VideoResizePercent: 50, VideoFrameRate: 30}
	require.NoError(t, recorder.StopAndStitch(context.Background(), opts, "s", nil))

	names := make([]string, 0)
	for _, span := range spanRecorder.Ended() {
		names = append(names, span.Name())
	}
	assert.GreaterOrEqual(t, len(names), 3)
	for _, name := range names {
		assert.Equal(t, "recording.transition", name)
	}
}

func TestSortedFramePathsNumericOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"vid_frame2.png", "vid_frame10.png", "vid_frame1.png", "notes.txt", "frame3.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}

	paths, err := sortedFramePaths(dir)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, "vid_frame1.png", filepath.Base(paths[0]))
	assert.Equal(t, "vid_frame2.png", filepath.Base(paths[1]))
	assert.Equal(t, "vid_frame10.png", filepath.Base(paths[2]))
}

func pngFrame(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
