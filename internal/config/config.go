package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Frequency controls in which lifecycle states an artifact may be captured.
type Frequency string

const (
	// FrequencyAlways permits capture in every state that supports capture.
	FrequencyAlways Frequency = "always"
	// FrequencyEachUIOperation permits capture around individual UI operations.
	FrequencyEachUIOperation Frequency = "each_ui_operation"
	// FrequencyEndOfEachTest permits capture once per test, regardless of outcome.
	FrequencyEndOfEachTest Frequency = "end_of_each_test"
	// FrequencyFailedTestOnly permits capture only when a test fails or errors.
	FrequencyFailedTestOnly Frequency = "failed_test_only"
	// FrequencyNever disables capture entirely.
	FrequencyNever Frequency = "never"
)

// ParseFrequency validates and normalizes a frequency string.
func ParseFrequency(value string) (Frequency, error) {
	normalized := Frequency(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case FrequencyAlways, FrequencyEachUIOperation, FrequencyEndOfEachTest,
		FrequencyFailedTestOnly, FrequencyNever:
		return normalized, nil
	default:
		return "", fmt.Errorf("parse frequency %q: unknown value", value)
	}
}

const (
	defaultConsoleLogCapture       = FrequencyFailedTestOnly
	defaultScreenshotCapture       = FrequencyEachUIOperation
	defaultScreenshotResizePercent = 40
	defaultScreenshotDir           = "reports/screenshots"
	defaultVideoDir                = "reports/videos"
	defaultVideoResizePercent      = 75
	defaultVideoFrameRate          = 30
)

// envPrefix matches the option surface exposed to the host test runner.
const envPrefix = "REPORT_"

// Option keys accepted via environment variables and explicit overrides.
const (
	KeyConsoleLogCapture       = "browser_console_log_capture"
	KeyScreenshotCapture       = "screenshot_capture"
	KeyScreenshotResizePercent = "screenshot_resize_percent"
	KeyScreenshotHeight        = "screenshot_height"
	KeyScreenshotWidth         = "screenshot_width"
	KeyHighlightedScreenshot   = "highlighted_screenshot"
	KeyKeepScreenshots         = "keep_screenshots"
	KeyScreenshotDir           = "screenshot_dir"
	KeyVideoRecording          = "video_recording"
	KeyKeepVideos              = "keep_videos"
	KeyVideoDir                = "video_dir"
	KeyVideoResizePercent      = "video_resize_percent"
	KeyVideoFrameRate          = "video_frame_rate"
	KeyVideoHeight             = "video_height"
	KeyVideoWidth              = "video_width"
)

// Options stores the resolved capture settings for one session.
//
// Options are resolved once per session and treated as immutable afterwards;
// every component receives the same instance by reference.
type Options struct {
	ConsoleLogCapture       Frequency
	ScreenshotCapture       Frequency
	ScreenshotResizePercent int
	ScreenshotHeight        int
	ScreenshotWidth         int
	HighlightedScreenshot   bool
	KeepScreenshots         bool
	ScreenshotDir           string
	VideoRecording          bool
	KeepVideos              bool
	VideoDir                string
	VideoResizePercent      int
	VideoFrameRate          int
	VideoHeight             int
	VideoWidth              int
}

type fileOptions struct {
	ConsoleLogCapture       *string `toml:"browser_console_log_capture"`
	ScreenshotCapture       *string `toml:"screenshot_capture"`
	ScreenshotResizePercent *int    `toml:"screenshot_resize_percent"`
	ScreenshotHeight        *int    `toml:"screenshot_height"`
	ScreenshotWidth         *int    `toml:"screenshot_width"`
	HighlightedScreenshot   *bool   `toml:"highlighted_screenshot"`
	KeepScreenshots         *bool   `toml:"keep_screenshots"`
	ScreenshotDir           *string `toml:"screenshot_dir"`
	VideoRecording          *bool   `toml:"video_recording"`
	KeepVideos              *bool   `toml:"keep_videos"`
	VideoDir                *string `toml:"video_dir"`
	VideoResizePercent      *int    `toml:"video_resize_percent"`
	VideoFrameRate          *int    `toml:"video_frame_rate"`
	VideoHeight             *int    `toml:"video_height"`
	VideoWidth              *int    `toml:"video_width"`
}

// Load resolves options with the following precedence:
// explicit overrides > environment variables > project TOML > home TOML > defaults.
//
// Environment variable names are the option keys uppercased with the REPORT_
// prefix, e.g. REPORT_SCREENSHOT_CAPTURE.
func Load(ctx context.Context, overrides map[string]string) (*Options, error) {
	opts := defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, ".ebr", "config.toml"),
		filepath.Join(workingDir, ".ebr", "config.toml"),
	}
	for _, path := range paths {
		if err := overlayFromFile(&opts, path); err != nil {
			return nil, err
		}
	}

	if err := overlayFromEnv(&opts); err != nil {
		return nil, err
	}
	for key, value := range overrides {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if err := setOption(&opts, key, value); err != nil {
			return nil, fmt.Errorf("apply override: %w", err)
		}
	}

	_ = ctx
	return &opts, nil
}

func defaults() Options {
	return Options{
		ConsoleLogCapture:       defaultConsoleLogCapture,
		ScreenshotCapture:       defaultScreenshotCapture,
		ScreenshotResizePercent: defaultScreenshotResizePercent,
		ScreenshotDir:           defaultScreenshotDir,
		VideoDir:                defaultVideoDir,
		VideoResizePercent:      defaultVideoResizePercent,
		VideoFrameRate:          defaultVideoFrameRate,
	}
}

func overlayFromFile(opts *Options, path string) error {
	if opts == nil {
		return errors.New("options must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileOptions
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	if decoded.ConsoleLogCapture != nil {
		frequency, err := ParseFrequency(*decoded.ConsoleLogCapture)
		if err != nil {
			return fmt.Errorf("config file %q: %w", path, err)
		}
		opts.ConsoleLogCapture = frequency
	}
	if decoded.ScreenshotCapture != nil {
		frequency, err := ParseFrequency(*decoded.ScreenshotCapture)
		if err != nil {
			return fmt.Errorf("config file %q: %w", path, err)
		}
		opts.ScreenshotCapture = frequency
	}
	if decoded.ScreenshotResizePercent != nil {
		opts.ScreenshotResizePercent = *decoded.ScreenshotResizePercent
	}
	if decoded.ScreenshotHeight != nil {
		opts.ScreenshotHeight = *decoded.ScreenshotHeight
	}
	if decoded.ScreenshotWidth != nil {
		opts.ScreenshotWidth = *decoded.ScreenshotWidth
	}
	if decoded.HighlightedScreenshot != nil {
		opts.HighlightedScreenshot = *decoded.HighlightedScreenshot
	}
	if decoded.KeepScreenshots != nil {
		opts.KeepScreenshots = *decoded.KeepScreenshots
	}
	if decoded.ScreenshotDir != nil {
		opts.ScreenshotDir = strings.TrimSpace(*decoded.ScreenshotDir)
	}
	if decoded.VideoRecording != nil {
		opts.VideoRecording = *decoded.VideoRecording
	}
	if decoded.KeepVideos != nil {
		opts.KeepVideos = *decoded.KeepVideos
	}
	if decoded.VideoDir != nil {
		opts.VideoDir = strings.TrimSpace(*decoded.VideoDir)
	}
	if decoded.VideoResizePercent != nil {
		opts.VideoResizePercent = *decoded.VideoResizePercent
	}
	if decoded.VideoFrameRate != nil {
		opts.VideoFrameRate = *decoded.VideoFrameRate
	}
	if decoded.VideoHeight != nil {
		opts.VideoHeight = *decoded.VideoHeight
	}
	if decoded.VideoWidth != nil {
		opts.VideoWidth = *decoded.VideoWidth
	}

	return nil
}

func overlayFromEnv(opts *Options) error {
	for _, key := range optionKeys() {
		value, ok := os.LookupEnv(envPrefix + strings.ToUpper(key))
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if err := setOption(opts, key, value); err != nil {
			return fmt.Errorf("apply environment: %w", err)
		}
	}
	return nil
}

func optionKeys() []string {
	return []string{
		KeyConsoleLogCapture,
		KeyScreenshotCapture,
		KeyScreenshotResizePercent,
		KeyScreenshotHeight,
		KeyScreenshotWidth,
		KeyHighlightedScreenshot,
		KeyKeepScreenshots,
		KeyScreenshotDir,
		KeyVideoRecording,
		KeyKeepVideos,
		KeyVideoDir,
		KeyVideoResizePercent,
		KeyVideoFrameRate,
		KeyVideoHeight,
		KeyVideoWidth,
	}
}

func setOption(opts *Options, key, value string) error {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case KeyConsoleLogCapture:
		frequency, err := ParseFrequency(value)
		if err != nil {
			return err
		}
		opts.ConsoleLogCapture = frequency
	case KeyScreenshotCapture:
		frequency, err := ParseFrequency(value)
		if err != nil {
			return err
		}
		opts.ScreenshotCapture = frequency
	case KeyScreenshotResizePercent:
		return setIntOption(&opts.ScreenshotResizePercent, key, value)
	case KeyScreenshotHeight:
		return setIntOption(&opts.ScreenshotHeight, key, value)
	case KeyScreenshotWidth:
		return setIntOption(&opts.ScreenshotWidth, key, value)
	case KeyHighlightedScreenshot:
		return setBoolOption(&opts.HighlightedScreenshot, key, value)
	case KeyKeepScreenshots:
		return setBoolOption(&opts.KeepScreenshots, key, value)
	case KeyScreenshotDir:
		opts.ScreenshotDir = strings.TrimSpace(value)
	case KeyVideoRecording:
		return setBoolOption(&opts.VideoRecording, key, value)
	case KeyKeepVideos:
		return setBoolOption(&opts.KeepVideos, key, value)
	case KeyVideoDir:
		opts.VideoDir = strings.TrimSpace(value)
	case KeyVideoResizePercent:
		return setIntOption(&opts.VideoResizePercent, key, value)
	case KeyVideoFrameRate:
		return setIntOption(&opts.VideoFrameRate, key, value)
	case KeyVideoHeight:
		return setIntOption(&opts.VideoHeight, key, value)
	case KeyVideoWidth:
		return setIntOption(&opts.VideoWidth, key, value)
	default:
		return fmt.Errorf("unknown option %q", key)
	}
	return nil
}

func setIntOption(target *int, key, value string) error {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*target = parsed
	return nil
}

func setBoolOption(target *bool, key, value string) error {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*target = parsed
	return nil
}
