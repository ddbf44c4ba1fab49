package video

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// framePrefix is the file name stem for captured frames; the numeric suffix
// is both the capture order and the stitching sort key.
const framePrefix = "vid_frame"

var framePattern = regexp.MustCompile(`^vid_frame(\d+)\.png$`)

func frameFileName(index int) string {
	return fmt.Sprintf("%s%d.png", framePrefix, index)
}

// sortedFramePaths lists the frame files in the scratch directory ordered by
// their numeric suffix. Lexical order would interleave frame10 between frame1
// and frame2, which corrupts the stitched video.
func sortedFramePaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list scratch directory %q: %w", dir, err)
	}

	type numberedFrame struct {
		index int
		path  string
	}
	frames := make([]numberedFrame, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := framePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		index, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		frames = append(frames, numberedFrame{index: index, path: filepath.Join(dir, entry.Name())})
	}

	sort.Slice(frames, func(i, j int) bool {
		return frames[i].index < frames[j].index
	})

	paths := make([]string, 0, len(frames))
	for _, frame := range frames {
		paths = append(paths, frame.path)
	}
	return paths, nil
}
