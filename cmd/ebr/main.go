package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/enhanced-reports/ebr/internal/config"
	"github.com/enhanced-reports/ebr/internal/dispatch"
	"github.com/enhanced-reports/ebr/internal/doctor"
	"github.com/enhanced-reports/ebr/internal/driver/chrome"
	"github.com/enhanced-reports/ebr/internal/logging"
	"github.com/enhanced-reports/ebr/internal/sink"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	opts, err := config.Load(ctx, nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(ctx)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	cmd := newRootCommand(opts, logger.Logger)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		return err
	}

	return nil
}

func newRootCommand(opts *config.Options, logger *log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "ebr",
		Short:         "Browser test report enhancement toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.AddCommand(
		newDoctorCommand(opts, logger),
		newConfigCommand(opts),
		newRunCommand(opts, logger),
	)

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if logger == nil {
			return errors.New("logger is required")
		}
		if opts == nil {
			return errors.New("config is required")
		}
		logger.With("command", cmd.Name()).Debug("command invocation")
		return nil
	}

	return root
}

// newDoctorCommand reports whether the host can run the capture pipeline.
func newDoctorCommand(opts *config.Options, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check browser, encoder and artifact directories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			checker, err := doctor.New(opts)
			if err != nil {
				return err
			}
			report := checker.Run(cmd.Context())
			for _, check := range report.Checks {
				fmt.Fprintf(cmd.OutOrStdout(), "%-6s %-22s %s\n", check.Status, check.Name, check.Detail)
			}
			if !report.Healthy() {
				return errors.New("environment is not ready")
			}
			if logger != nil {
				logger.Info("doctor checks passed")
			}
			return nil
		},
	}
}

// newConfigCommand prints the effective capture settings after all overlay
// layers are applied.
func newConfigCommand(opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective capture configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			encoder := toml.NewEncoder(cmd.OutOrStdout())
			if err := encoder.Encode(newConfigView(opts)); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return nil
		},
	}
}

// newRunCommand drives one demo capture session against a URL. It exists to
// exercise the full pipeline outside a host test runner.
func newRunCommand(opts *config.Options, logger *log.Logger) *cobra.Command {
	var (
		url        string
		testName   string
		resultsDir string
		headless   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one demo capture session against a URL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemoSession(cmd.Context(), opts, logger, url, testName, resultsDir, headless)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "page to open (required)")
	cmd.Flags().StringVar(&testName, "test-name", "demo session", "scenario name used for artifacts")
	cmd.Flags().StringVar(&resultsDir, "results-dir", "reports/allure-results", "directory receiving report results")
	cmd.Flags().BoolVar(&headless, "headless", true, "run the browser headless")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func runDemoSession(ctx context.Context, opts *config.Options, logger *log.Logger, url, testName, resultsDir string, headless bool) error {
	checker, err := doctor.New(opts)
	if err != nil {
		return err
	}
	browserPath, err := checker.FindBrowser()
	if err != nil {
		return fmt.Errorf("locate browser: %w", err)
	}

	drv, err := chrome.New(ctx,
		chrome.WithExecPath(browserPath),
		chrome.WithHeadless(headless),
	)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer drv.Close()

	results, err := sink.NewAllureSink(resultsDir, sink.WithAllureLogger(logger))
	if err != nil {
		return fmt.Errorf("open results sink: %w", err)
	}

	dispatcher, err := dispatch.New(opts, drv,
		dispatch.WithSinks(results),
		dispatch.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}

	if err := dispatcher.StartSession(ctx); err != nil {
		return err
	}
	defer func() {
		if endErr := dispatcher.EndSession(ctx); endErr != nil && logger != nil {
			logger.With("error", endErr).Error("session teardown incomplete")
		}
	}()

	if err := dispatcher.StartTest(ctx, testName); err != nil {
		return err
	}

	outcome := dispatch.OutcomePassed
	if err := drv.Navigate(url); err != nil {
		if logger != nil {
			logger.With("url", url, "error", err).Error("navigation failed")
		}
		dispatcher.OnError(ctx)
		outcome = dispatch.OutcomeBroken
	} else {
		dispatcher.AfterUIOperation(ctx)
	}

	if err := dispatcher.EndTest(ctx, outcome); err != nil {
		return err
	}
	if outcome != dispatch.OutcomePassed {
		return fmt.Errorf("demo session against %q ended %s", url, outcome)
	}
	return nil
}

// configView mirrors Options with the same keys the file and environment
// layers accept, so the printed output can be pasted into a config file.
type configView struct {
	ConsoleLogCapture       string `toml:"browser_console_log_capture"`
	ScreenshotCapture       string `toml:"screenshot_capture"`
	ScreenshotResizePercent int    `toml:"screenshot_resize_percent"`
	ScreenshotHeight        int    `toml:"screenshot_height"`
	ScreenshotWidth         int    `toml:"screenshot_width"`
	HighlightedScreenshot   bool   `toml:"highlighted_screenshot"`
	KeepScreenshots         bool   `toml:"keep_screenshots"`
	ScreenshotDir           string `toml:"screenshot_dir"`
	VideoRecording          bool   `toml:"video_recording"`
	KeepVideos              bool   `toml:"keep_videos"`
	VideoDir                string `toml:"video_dir"`
	VideoResizePercent      int    `toml:"video_resize_percent"`
	VideoFrameRate          int    `toml:"video_frame_rate"`
	VideoHeight             int    `toml:"video_height"`
	VideoWidth              int    `toml:"video_width"`
}

func newConfigView(opts *config.Options) configView {
	return configView{
		ConsoleLogCapture:       string(opts.ConsoleLogCapture),
		ScreenshotCapture:       string(opts.ScreenshotCapture),
		ScreenshotResizePercent: opts.ScreenshotResizePercent,
		ScreenshotHeight:        opts.ScreenshotHeight,
		ScreenshotWidth:         opts.ScreenshotWidth,
		HighlightedScreenshot:   opts.HighlightedScreenshot,
		KeepScreenshots:         opts.KeepScreenshots,
		ScreenshotDir:           opts.ScreenshotDir,
		VideoRecording:          opts.VideoRecording,
		KeepVideos:              opts.KeepVideos,
		VideoDir:                opts.VideoDir,
		VideoResizePercent:      opts.VideoResizePercent,
		VideoFrameRate:          opts.VideoFrameRate,
		VideoHeight:             opts.VideoHeight,
		VideoWidth:              opts.VideoWidth,
	}
}
