// Package chrome implements driver.Driver on top of chromedp.
package chrome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/enhanced-reports/ebr/internal/driver"
)

const defaultOpTimeout = 30 * time.Second

// Option configures Driver construction.
type Option func(*Driver)

// WithHeadless toggles headless mode.
func WithHeadless(headless bool) Option {
	return func(d *Driver) {
		d.headless = headless
	}
}

// WithExecPath points chromedp at a specific browser binary.
func WithExecPath(path string) Option {
	return func(d *Driver) {
		d.execPath = strings.TrimSpace(path)
	}
}

// WithOpTimeout bounds each individual browser command.
func WithOpTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		if timeout > 0 {
			d.opTimeout = timeout
		}
	}
}

// Driver drives one Chrome browser session over the DevTools protocol.
type Driver struct {
	ctx       context.Context
	cancel    context.CancelFunc
	headless  bool
	execPath  string
	opTimeout time.Duration

	mu        sync.Mutex
	console   []driver.ConsoleEntry
	alertOpen bool
}

// New launches a browser and begins collecting console and dialog events.
func New(ctx context.Context, options ...Option) (*Driver, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	d := &Driver{
		headless:  true,
		opTimeout: defaultOpTimeout,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(d)
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
	}
	if d.headless {
		opts = append(opts, chromedp.Headless)
	}
	if d.execPath != "" {
		opts = append(opts, chromedp.ExecPath(d.execPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	d.ctx = browserCtx
	d.cancel = func() {
		browserCancel()
		allocCancel()
	}

	chromedp.ListenTarget(browserCtx, d.handleEvent)

	// Start the browser process eagerly so later commands fail fast.
	if err := chromedp.Run(browserCtx); err != nil {
		d.cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return d, nil
}

// Close shuts the browser down.
func (d *Driver) Close() {
	if d == nil || d.cancel == nil {
		return
	}
	d.cancel()
}

func (d *Driver) handleEvent(ev any) {
	switch ev := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		d.appendConsole(driver.ConsoleEntry{
			TimestampMS: timestampMS(ev.Timestamp),
			Level:       consoleLevel(ev.Type),
			Source:      "console-api",
			Message:     formatConsoleArgs(ev.Args),
		})
	case *runtime.EventExceptionThrown:
		d.appendConsole(driver.ConsoleEntry{
			TimestampMS: timestampMS(ev.Timestamp),
			Level:       "SEVERE",
			Source:      "javascript",
			Message:     exceptionMessage(ev.ExceptionDetails),
		})
	case *page.EventJavascriptDialogOpening:
		d.setAlertOpen(true)
	case *page.EventJavascriptDialogClosed:
		d.setAlertOpen(false)
	}
}

func (d *Driver) appendConsole(entry driver.ConsoleEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.console = append(d.console, entry)
}

func (d *Driver) setAlertOpen(open bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alertOpen = open
}

// Screenshot captures the current viewport as PNG bytes.
func (d *Driver) Screenshot() ([]byte, error) {
	ctx, cancel := d.opContext()
	defer cancel()

	var buf []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// ConsoleLog drains the buffered console entries in arrival order.
func (d *Driver) ConsoleLog() ([]driver.ConsoleEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.console
	d.console = nil
	return entries, nil
}

// ExecuteScript evaluates a script in the page. Arguments are JSON encoded
// and exposed to the script as an `args` array.
func (d *Driver) ExecuteScript(script string, args ...any) error {
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode script arguments: %w", err)
	}

	ctx, cancel := d.opContext()
	defer cancel()

	expr := fmt.Sprintf("((args) => { %s })(%s)", script, encoded)
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, nil)); err != nil {
		return fmt.Errorf("execute script: %w", err)
	}
	return nil
}

// ElementAttribute reads one attribute of the first element matching the
// selector. A present-but-empty attribute and a missing attribute both yield
// an empty string.
func (d *Driver) ElementAttribute(selector, name string) (string, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return "", errors.New("selector must not be empty")
	}

	ctx, cancel := d.opContext()
	defer cancel()

	var value string
	var ok bool
	err := chromedp.Run(ctx, chromedp.AttributeValue(selector, name, &value, &ok, chromedp.ByQuery))
	if err != nil {
		return "", fmt.Errorf("read attribute %q of %q: %w", name, selector, err)
	}
	if !ok {
		return "", nil
	}
	return value, nil
}

// Navigate loads the URL and waits for the document body to be ready.
func (d *Driver) Navigate(url string) error {
	ctx, cancel := d.opContext()
	defer cancel()

	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate to %q: %w", url, err)
	}
	return nil
}

// AlertOpen reports whether a javascript dialog is currently showing.
func (d *Driver) AlertOpen() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alertOpen, nil
}

func (d *Driver) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(d.ctx, d.opTimeout)
}

func timestampMS(ts *runtime.Timestamp) int64 {
	if ts == nil {
		return 0
	}
	return ts.Time().UnixMilli()
}

func consoleLevel(apiType runtime.APIType) string {
	switch apiType {
	case runtime.APITypeWarning:
		return "WARNING"
	case runtime.APITypeError, runtime.APITypeAssert:
		return "SEVERE"
	case runtime.APITypeDebug:
		return "DEBUG"
	default:
		return "INFO"
	}
}

func formatConsoleArgs(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		if len(arg.Value) > 0 {
			parts = append(parts, strings.Trim(string(arg.Value), `"`))
			continue
		}
		if arg.Description != "" {
			parts = append(parts, arg.Description)
		}
	}
	return strings.Join(parts, " ")
}

func exceptionMessage(details *runtime.ExceptionDetails) string {
	if details == nil {
		return ""
	}
	message := details.Text
	if details.Exception != nil && details.Exception.Description != "" {
		message = strings.TrimSpace(message + " " + details.Exception.Description)
	}
	return message
}
