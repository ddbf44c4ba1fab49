package video

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Encoder stitches ordered frame files into one video file.
type Encoder interface {
	Encode(ctx context.Context, framePaths []string, width, height, frameRate int, outPath string) error
}

const maxEncoderOutputBytes = 1024

// FFmpegEncoder shells out to ffmpeg and encodes VP9 webm.
type FFmpegEncoder struct {
	// Binary overrides the ffmpeg executable name, mainly for tests.
	Binary string
}

// Encode writes a concat list for the ordered frames and invokes ffmpeg. The
// frame order in framePaths is authoritative; ffmpeg consumes the list
// as-is.
func (e *FFmpegEncoder) Encode(ctx context.Context, framePaths []string, width, height, frameRate int, outPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(framePaths) == 0 {
		return fmt.Errorf("encode %q: no frames", outPath)
	}
	if frameRate <= 0 {
		frameRate = 1
	}

	listPath, err := writeConcatList(framePaths, frameRate, filepath.Dir(outPath))
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(listPath)
	}()

	binary := e.Binary
	if binary == "" {
		binary = "ffmpeg"
	}

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-r", fmt.Sprintf("%d", frameRate),
		"-c:v", "libvpx-vp9",
		outPath,
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("encode %q: %w: %s", outPath, err, truncate(stderr.String(), maxEncoderOutputBytes))
	}
	return nil
}

// writeConcatList produces an ffmpeg concat demuxer list with a fixed
// per-frame duration derived from the frame rate.
func writeConcatList(framePaths []string, frameRate int, dir string) (string, error) {
	var builder strings.Builder
	duration := 1.0 / float64(frameRate)
	for _, path := range framePaths {
		absolute, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("resolve frame path %q: %w", path, err)
		}
		fmt.Fprintf(&builder, "file '%s'\nduration %.6f\n", absolute, duration)
	}
	// The concat demuxer ignores the last duration unless the final file is
	// repeated.
	if last := framePaths[len(framePaths)-1]; last != "" {
		absolute, err := filepath.Abs(last)
		if err != nil {
			return "", fmt.Errorf("resolve frame path %q: %w", last, err)
		}
		fmt.Fprintf(&builder, "file '%s'\n", absolute)
	}

	file, err := os.CreateTemp(dir, "frames-*.txt")
	if err != nil {
		return "", fmt.Errorf("create concat list: %w", err)
	}
	if _, err := file.WriteString(builder.String()); err != nil {
		_ = file.Close()
		return "", fmt.Errorf("write concat list: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close concat list: %w", err)
	}
	return file.Name(), nil
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
