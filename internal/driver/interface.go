// Package driver defines the browser capability surface the capture layer
// depends on. Concrete automation backends implement Driver; the capture
// layer never imports them directly.
package driver

// ConsoleEntry is one browser console record in the order the browser
// reported it.
type ConsoleEntry struct {
	// TimestampMS is the entry's epoch timestamp in milliseconds.
	TimestampMS int64
	Level       string
	Source      string
	Message     string
}

// Driver exposes the browser operations needed for artifact capture.
type Driver interface {
	// Screenshot returns the current full-window screenshot as PNG bytes.
	Screenshot() ([]byte, error)
	// ConsoleLog drains and returns the buffered console entries in
	// chronological order.
	ConsoleLog() ([]ConsoleEntry, error)
	// ExecuteScript runs a script in the page. Arguments are substituted by
	// the backend.
	ExecuteScript(script string, args ...any) error
	// ElementAttribute reads an attribute from the element matching the
	// selector. A missing attribute yields an empty string and no error.
	ElementAttribute(selector, name string) (string, error)
	// Navigate loads the URL and waits for the document to be ready.
	Navigate(url string) error
	// AlertOpen reports whether a native browser dialog is currently open.
	// Screenshot capture is unsafe while one is showing.
	AlertOpen() (bool, error)
}
