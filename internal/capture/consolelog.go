package capture

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/enhanced-reports/ebr/internal/driver"
)

const consoleTimeFormat = "2006-01-02 15:04:05"

// ConsoleLog fetches the browser console buffer and formats it, one line per
// entry. Driver errors are logged and yield an empty result; console capture
// never fails the caller.
func ConsoleLog(drv driver.Driver, logger *log.Logger) string {
	if drv == nil {
		return ""
	}

	entries, err := drv.ConsoleLog()
	if err != nil {
		logAttachmentError(logger, "fetch console log", err)
		return ""
	}
	return FormatConsoleEntries(entries)
}

// FormatConsoleEntries renders entries as
// "YYYY-MM-DD HH:MM:SS LEVEL SOURCE MESSAGE\n" using local time derived from
// the entry's millisecond epoch. An empty slice yields an empty string.
func FormatConsoleEntries(entries []driver.ConsoleEntry) string {
	var builder strings.Builder
	for _, entry := range entries {
		localTime := time.Unix(entry.TimestampMS/1000, 0).Local()
		builder.WriteString(fmt.Sprintf(
			"%s %s %s %s\n",
			localTime.Format(consoleTimeFormat),
			entry.Level,
			entry.Source,
			entry.Message,
		))
	}
	return builder.String()
}

func logAttachmentError(logger *log.Logger, operation string, err error) {
	if logger == nil {
		return
	}
	logger.With("operation", operation, "error", err).Error("capture failed")
}
