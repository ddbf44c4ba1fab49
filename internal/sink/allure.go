package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const (
	resultsDirPerms = 0o750
	attachmentPerms = 0o640

	mimeText  = "text/plain"
	mimeImage = "image/png"
	mimeVideo = "video/webm"
)

// AllureSink writes an allure-compatible results directory: one json result
// file per test plus uuid-named attachment files referenced from it.
type AllureSink struct {
	dir    string
	logger *log.Logger
	now    func() time.Time

	mu      sync.Mutex
	current *allureResult
}

type allureAttachment struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

type allureResult struct {
	UUID        string             `json:"uuid"`
	Name        string             `json:"name"`
	Status      Status             `json:"status"`
	Stage       string             `json:"stage"`
	Start       int64              `json:"start"`
	Stop        int64              `json:"stop"`
	Attachments []allureAttachment `json:"attachments"`
}

// AllureOption configures AllureSink construction.
type AllureOption func(*AllureSink)

// WithAllureLogger configures the sink's logger.
func WithAllureLogger(logger *log.Logger) AllureOption {
	return func(s *AllureSink) {
		s.logger = logger
	}
}

// NewAllureSink creates the results directory and returns a sink writing
// into it.
func NewAllureSink(dir string, options ...AllureOption) (*AllureSink, error) {
	if dir == "" {
		return nil, errors.New("results directory is required")
	}
	if err := os.MkdirAll(dir, resultsDirPerms); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}

	sink := &AllureSink{
		dir: dir,
		now: time.Now,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(sink)
	}
	return sink, nil
}

// StartTest opens a test scope. Attachments delivered before the next
// EndTest are recorded under this test's result.
func (s *AllureSink) StartTest(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &allureResult{
		UUID:        uuid.NewString(),
		Name:        name,
		Stage:       "finished",
		Start:       s.now().UnixMilli(),
		Attachments: []allureAttachment{},
	}
}

// EndTest flushes the current test's result file. Calling it without a
// matching StartTest is an error.
func (s *AllureSink) EndTest(status Status) error {
	s.mu.Lock()
	result := s.current
	s.current = nil
	s.mu.Unlock()

	if result == nil {
		return errors.New("end test: no test in progress")
	}
	result.Status = status
	result.Stop = s.now().UnixMilli()

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode test result: %w", err)
	}
	path := filepath.Join(s.dir, result.UUID+"-result.json")
	if err := os.WriteFile(path, data, attachmentPerms); err != nil {
		return fmt.Errorf("write test result: %w", err)
	}
	if s.logger != nil {
		s.logger.With("test", result.Name, "status", status, "path", path).Debug("test result written")
	}
	return nil
}

// AttachText stores content as a text attachment.
func (s *AllureSink) AttachText(name, content string) error {
	source := uuid.NewString() + "-attachment.txt"
	path := filepath.Join(s.dir, source)
	if err := os.WriteFile(path, []byte(content), attachmentPerms); err != nil {
		return fmt.Errorf("write text attachment: %w", err)
	}
	s.record(name, source, mimeText)
	return nil
}

// AttachImage copies the screenshot at path into the results directory.
func (s *AllureSink) AttachImage(name, path string) error {
	return s.attachFile(name, path, ".png", mimeImage)
}

// AttachVideo copies the recording at path into the results directory.
func (s *AllureSink) AttachVideo(name, path string) error {
	return s.attachFile(name, path, ".webm", mimeVideo)
}

func (s *AllureSink) attachFile(name, path, ext, mime string) error {
	source := uuid.NewString() + "-attachment" + ext
	if err := copyFile(path, filepath.Join(s.dir, source)); err != nil {
		return fmt.Errorf("attach %s: %w", name, err)
	}
	s.record(name, source, mime)
	return nil
}

// record associates an already-written attachment with the current test.
// Attachments arriving outside a test scope are kept on disk but belong to
// no result file.
func (s *AllureSink) record(name, source, mime string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		if s.logger != nil {
			s.logger.With("attachment", name).Warn("attachment outside test scope")
		}
		return
	}
	s.current.Attachments = append(s.current.Attachments, allureAttachment{
		Name:   name,
		Source: source,
		Type:   mime,
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, attachmentPerms)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
