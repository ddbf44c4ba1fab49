// Package sink delivers captured artifacts to report backends. A sink never
// owns capture decisions; it only persists what the dispatcher hands it.
package sink

// Sink receives captured artifacts for one test session.
type Sink interface {
	// AttachText stores a plain-text artifact such as a console log.
	AttachText(name, content string) error
	// AttachImage stores a PNG screenshot from the given path.
	AttachImage(name, path string) error
	// AttachVideo stores a webm recording from the given path. The source
	// file may be deleted right after the call returns, so implementations
	// must copy it out synchronously.
	AttachVideo(name, path string) error
}

// Status is a test outcome as understood by report backends.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusBroken  Status = "broken"
	StatusSkipped Status = "skipped"
)

// Lifecycle is a sink that also tracks per-test boundaries, letting it group
// attachments under the test they belong to.
type Lifecycle interface {
	Sink

	// StartTest opens a new test scope. Attachments delivered until EndTest
	// belong to this test.
	StartTest(name string)
	// EndTest closes the current test scope and flushes its result.
	EndTest(status Status) error
}
