// Package doctor runs deterministic environment checks for the capture
// pipeline: a usable browser binary, the ffmpeg encoder, and writable
// artifact directories. It diagnoses, it never repairs.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/enhanced-reports/ebr/internal/config"
)

// ChromePathEnv overrides browser discovery when set.
const ChromePathEnv = "CHROME_PATH"

// Status is the outcome of one environment check.
type Status string

const (
	// StatusOK means the check passed.
	StatusOK Status = "ok"
	// StatusWarn means the pipeline works but degraded, for example video
	// recording without an encoder.
	StatusWarn Status = "warn"
	// StatusFail means captures cannot work until the problem is fixed.
	StatusFail Status = "fail"
)

// Check is one named environment probe result.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail"`
}

// Report aggregates all check results for one run.
type Report struct {
	Checks []Check `json:"checks"`
}

// Healthy reports whether no check failed outright.
func (r Report) Healthy() bool {
	for _, check := range r.Checks {
		if check.Status == StatusFail {
			return false
		}
	}
	return true
}

// Option configures Doctor construction.
type Option func(*Doctor)

// WithLookPath overrides executable resolution, mainly for tests.
func WithLookPath(lookPath func(string) (string, error)) Option {
	return func(d *Doctor) {
		if lookPath != nil {
			d.lookPath = lookPath
		}
	}
}

// WithStat overrides file probing, mainly for tests.
func WithStat(stat func(string) (os.FileInfo, error)) Option {
	return func(d *Doctor) {
		if stat != nil {
			d.stat = stat
		}
	}
}

// WithGetenv overrides environment lookup, mainly for tests.
func WithGetenv(getenv func(string) string) Option {
	return func(d *Doctor) {
		if getenv != nil {
			d.getenv = getenv
		}
	}
}

// Doctor probes the host for everything the capture pipeline needs.
type Doctor struct {
	opts     *config.Options
	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
	getenv   func(string) string
}

// New builds a Doctor for the given configuration.
func New(opts *config.Options, options ...Option) (*Doctor, error) {
	if opts == nil {
		return nil, errors.New("options are required")
	}
	doctor := &Doctor{
		opts:     opts,
		lookPath: exec.LookPath,
		stat:     os.Stat,
		getenv:   os.Getenv,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(doctor)
	}
	return doctor, nil
}

// Run executes every check and returns the aggregated report.
func (d *Doctor) Run(ctx context.Context) Report {
	_ = ctx

	report := Report{
		Checks: []Check{
			d.checkBrowser(),
			d.checkEncoder(),
			d.checkWritable("screenshot directory", d.opts.ScreenshotDir),
			d.checkWritable("video directory", d.opts.VideoDir),
		},
	}
	return report
}

// FindBrowser locates a Chrome or Chromium executable. The CHROME_PATH
// environment variable wins; otherwise well-known install locations are
// probed before falling back to PATH lookup.
func (d *Doctor) FindBrowser() (string, error) {
	if envPath := d.getenv(ChromePathEnv); envPath != "" {
		if _, err := d.stat(envPath); err == nil {
			return envPath, nil
		}
		return "", fmt.Errorf("browser at %s=%q not found", ChromePathEnv, envPath)
	}

	for _, path := range knownBrowserPaths(d.getenv) {
		if _, err := d.stat(path); err == nil {
			return path, nil
		}
	}

	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"} {
		if path, err := d.lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", errors.New("no chrome or chromium executable found")
}

func (d *Doctor) checkBrowser() Check {
	path, err := d.FindBrowser()
	if err != nil {
		return Check{
			Name:   "browser",
			Status: StatusFail,
			Detail: err.Error(),
		}
	}
	return Check{Name: "browser", Status: StatusOK, Detail: path}
}

// checkEncoder verifies ffmpeg is reachable. A missing encoder only degrades
// the pipeline: screenshots and console logs still work.
func (d *Doctor) checkEncoder() Check {
	path, err := d.lookPath("ffmpeg")
	if err != nil {
		detail := "ffmpeg not found on PATH"
		if d.opts.VideoRecording {
			detail += "; video recording is enabled and will fail to stitch"
		}
		return Check{Name: "encoder", Status: StatusWarn, Detail: detail}
	}
	return Check{Name: "encoder", Status: StatusOK, Detail: path}
}

func (d *Doctor) checkWritable(name, dir string) Check {
	if dir == "" {
		return Check{Name: name, Status: StatusFail, Detail: "directory not configured"}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Check{Name: name, Status: StatusFail, Detail: fmt.Sprintf("create %s: %v", dir, err)}
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Check{Name: name, Status: StatusFail, Detail: fmt.Sprintf("write to %s: %v", dir, err)}
	}
	probePath := probe.Name()
	_ = probe.Close()
	_ = os.Remove(probePath)
	return Check{Name: name, Status: StatusOK, Detail: dir}
}

func knownBrowserPaths(getenv func(string) string) []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Google Chrome Canary.app/Contents/MacOS/Google Chrome Canary",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		return []string{
			filepath.Join(getenv("ProgramFiles"), "Google/Chrome/Application/chrome.exe"),
			filepath.Join(getenv("ProgramFiles(x86)"), "Google/Chrome/Application/chrome.exe"),
			filepath.Join(getenv("LocalAppData"), "Google/Chrome/Application/chrome.exe"),
		}
	default:
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	}
}
