// Package capture implements the artifact capturers: screenshots (plain and
// element-highlighted) and browser console logs. Every capturer is
// fail-silent: capture problems are logged and reported as an absent
// artifact, never as an error to the running test.
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/enhanced-reports/ebr/internal/config"
	"github.com/enhanced-reports/ebr/internal/driver"
)

const (
	highlightStyle  = "border: 5px solid red; padding: 5px"
	setStyleScript  = "document.querySelector(args[0]).setAttribute('style', args[1])"
	styleAttribute  = "style"
	screenshotPerms = 0o750
)

// Screenshot captures, resizes and persists one screenshot, returning the
// written file path. An empty path means no screenshot was captured; that is
// not an error. In particular capture is skipped while a native browser
// dialog is open, because the browser cannot screenshot in that state.
func Screenshot(name, scenario string, opts *config.Options, drv driver.Driver, logger *log.Logger) string {
	if opts == nil || drv == nil {
		return ""
	}

	alertOpen, err := drv.AlertOpen()
	if err != nil {
		logAttachmentError(logger, "check for open dialog", err)
		return ""
	}
	if alertOpen {
		return ""
	}

	data, err := drv.Screenshot()
	if err != nil {
		logAttachmentError(logger, "capture screenshot", err)
		return ""
	}

	path, err := writeResizedScreenshot(data, scenario, opts)
	if err != nil {
		logAttachmentError(logger, "persist screenshot", err)
		return ""
	}

	if logger != nil {
		logger.With("name", name, "path", path).Debug("screenshot captured")
	}
	return path
}

// HighlightedScreenshot outlines the target element, captures a screenshot
// and restores the element's original inline style. The restoration happens
// even when capture fails, so no visual state leaks into the page the test
// keeps running against.
func HighlightedScreenshot(selector, name, scenario string, opts *config.Options, drv driver.Driver, logger *log.Logger) string {
	if opts == nil || drv == nil {
		return ""
	}

	originalStyle, err := drv.ElementAttribute(selector, styleAttribute)
	if err != nil {
		logAttachmentError(logger, "read element style", err)
		return ""
	}
	if err := drv.ExecuteScript(setStyleScript, selector, highlightStyle); err != nil {
		logAttachmentError(logger, "apply highlight style", err)
		return ""
	}
	defer func() {
		if restoreErr := drv.ExecuteScript(setStyleScript, selector, originalStyle); restoreErr != nil {
			logAttachmentError(logger, "restore element style", restoreErr)
		}
	}()

	return Screenshot(name, scenario, opts, drv, logger)
}

func writeResizedScreenshot(data []byte, scenario string, opts *config.Options) (string, error) {
	img, err := DecodePNG(data)
	if err != nil {
		return "", err
	}

	fileName := TimestampName(time.Now()) + ".png"

	// Unmodified originals go into a per-scenario subdirectory when the user
	// asked to keep them.
	if opts.KeepScreenshots {
		originalsDir := filepath.Join(opts.ScreenshotDir, scenario)
		if err := os.MkdirAll(originalsDir, screenshotPerms); err != nil {
			return "", fmt.Errorf("create originals directory: %w", err)
		}
		if err := SavePNG(filepath.Join(originalsDir, fileName), img); err != nil {
			return "", err
		}
	}

	bounds := img.Bounds()
	width, height := TargetResolution(
		bounds.Dx(),
		bounds.Dy(),
		opts.ScreenshotWidth,
		opts.ScreenshotHeight,
		opts.ScreenshotResizePercent,
	)

	if err := os.MkdirAll(opts.ScreenshotDir, screenshotPerms); err != nil {
		return "", fmt.Errorf("create screenshot directory: %w", err)
	}
	path := filepath.Join(opts.ScreenshotDir, CleanFilename(scenario)+"_"+fileName)
	if err := SavePNG(path, Resize(img, width, height)); err != nil {
		return "", err
	}
	return path, nil
}
