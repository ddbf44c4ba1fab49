package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)

	enterDir(t, work)

	opts, err := Load(context.Background(), nil)
	if err != nil {
		t.Fatalf("load options: %v", err)
	}

	if opts.ConsoleLogCapture != defaultConsoleLogCapture {
		t.Fatalf("browser_console_log_capture = %q, want %q", opts.ConsoleLogCapture, defaultConsoleLogCapture)
	}
	if opts.ScreenshotCapture != defaultScreenshotCapture {
		t.Fatalf("screenshot_capture = %q, want %q", opts.ScreenshotCapture, defaultScreenshotCapture)
	}
	if opts.ScreenshotResizePercent != defaultScreenshotResizePercent {
		t.Fatalf("screenshot_resize_percent = %d, want %d", opts.ScreenshotResizePercent, defaultScreenshotResizePercent)
	}
	if opts.ScreenshotHeight != 0 || opts.ScreenshotWidth != 0 {
		t.Fatalf("screenshot box = %dx%d, want 0x0", opts.ScreenshotWidth, opts.ScreenshotHeight)
	}
	if opts.HighlightedScreenshot {
		t.Fatal("highlighted_screenshot = true, want false")
	}
	if opts.KeepScreenshots {
		t.Fatal("keep_screenshots = true, want false")
	}
	if opts.ScreenshotDir != defaultScreenshotDir {
		t.Fatalf("screenshot_dir = %q, want %q", opts.ScreenshotDir, defaultScreenshotDir)
	}
	if opts.VideoRecording {
		t.Fatal("video_recording = true, want false")
	}
	if opts.VideoDir != defaultVideoDir {
		t.Fatalf("video_dir = %q, want %q", opts.VideoDir, defaultVideoDir)
	}
	if opts.VideoResizePercent != defaultVideoResizePercent {
		t.Fatalf("video_resize_percent = %d, want %d", opts.VideoResizePercent, defaultVideoResizePercent)
	}
	if opts.VideoFrameRate != defaultVideoFrameRate {
		t.Fatalf("video_frame_rate = %d, want %d", opts.VideoFrameRate, defaultVideoFrameRate)
	}
}

func TestLoadOverlayProjectOverHome(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)

	writeFile(t, filepath.Join(home, ".ebr", "config.toml"), `
screenshot_capture = "always"
screenshot_resize_percent = 60
video_recording = true
	`)
	writeFile(t, filepath.Join(work, ".ebr", "config.toml"), `
screenshot_resize_percent = 25
video_frame_rate = 10
	`)

	enterDir(t, work)

	opts, err := Load(context.Background(), nil)
	if err != nil {
		t.Fatalf("load options: %v", err)
	}

	if opts.ScreenshotCapture != FrequencyAlways {
		t.Fatalf("screenshot_capture = %q, want %q", opts.ScreenshotCapture, FrequencyAlways)
	}
	if opts.ScreenshotResizePercent != 25 {
		t.Fatalf("screenshot_resize_percent = %d, want 25", opts.ScreenshotResizePercent)
	}
	if !opts.VideoRecording {
		t.Fatal("video_recording = false, want true")
	}
	if opts.VideoFrameRate != 10 {
		t.Fatalf("video_frame_rate = %d, want 10", opts.VideoFrameRate)
	}
}

func TestLoadEnvironmentOverFiles(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)

	writeFile(t, filepath.Join(work, ".ebr", "config.toml"), `
screenshot_capture = "always"
	`)
	t.Setenv("REPORT_SCREENSHOT_CAPTURE", "never")
	t.Setenv("REPORT_KEEP_VIDEOS", "true")

	enterDir(t, work)

	opts, err := Load(context.Background(), nil)
	if err != nil {
		t.Fatalf("load options: %v", err)
	}

	if opts.ScreenshotCapture != FrequencyNever {
		t.Fatalf("screenshot_capture = %q, want %q", opts.ScreenshotCapture, FrequencyNever)
	}
	if !opts.KeepVideos {
		t.Fatal("keep_videos = false, want true")
	}
}

func TestLoadOverridesWinOverEnvironment(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("REPORT_BROWSER_CONSOLE_LOG_CAPTURE", "never")

	enterDir(t, work)

	opts, err := Load(context.Background(), map[string]string{
		KeyConsoleLogCapture: "each_ui_operation",
		KeyVideoWidth:        "640",
		KeyVideoHeight:       "480",
	})
	if err != nil {
		t.Fatalf("load options: %v", err)
	}

	if opts.ConsoleLogCapture != FrequencyEachUIOperation {
		t.Fatalf("browser_console_log_capture = %q, want %q", opts.ConsoleLogCapture, FrequencyEachUIOperation)
	}
	if opts.VideoWidth != 640 || opts.VideoHeight != 480 {
		t.Fatalf("video box = %dx%d, want 640x480", opts.VideoWidth, opts.VideoHeight)
	}
}

func TestLoadRejectsUnknownFrequency(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("REPORT_SCREENSHOT_CAPTURE", "sometimes")

	enterDir(t, work)

	if _, err := Load(context.Background(), nil); err == nil {
		t.Fatal("expected error for unknown frequency value")
	}
}

func TestLoadRejectsUnknownOverrideKey(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)

	enterDir(t, work)

	if _, err := Load(context.Background(), map[string]string{"no_such_option": "1"}); err == nil {
		t.Fatal("expected error for unknown override key")
	}
}

func TestParseFrequencyNormalizes(t *testing.T) {
	frequency, err := ParseFrequency("  Failed_Test_Only ")
	if err != nil {
		t.Fatalf("parse frequency: %v", err)
	}
	if frequency != FrequencyFailedTestOnly {
		t.Fatalf("frequency = %q, want %q", frequency, FrequencyFailedTestOnly)
	}
}

func enterDir(t *testing.T, dir string) {
	t.Helper()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() {
		if chdirErr := os.Chdir(cwd); chdirErr != nil {
			t.Fatalf("restore cwd: %v", chdirErr)
		}
	})
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
}
