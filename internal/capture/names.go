package capture

import (
	"regexp"
	"time"
)

var nonWordPattern = regexp.MustCompile(`\W`)

// CleanFilename replaces every non-word character with an underscore so the
// value is safe to use as a file name on any platform.
func CleanFilename(value string) string {
	return nonWordPattern.ReplaceAllString(value, "_")
}

// timestampFormat carries microsecond precision so names built from it are
// collision resistant within one test run.
const timestampFormat = "2006-01-02 15:04:05.000000"

// TimestampName returns a sanitized high-precision timestamp for file names.
func TimestampName(now time.Time) string {
	return CleanFilename(now.Format(timestampFormat))
}
