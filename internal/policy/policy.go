// Package policy decides whether an artifact may be captured in a given
// lifecycle state under the session's configured frequencies.
package policy

import (
	"errors"

	"github.com/enhanced-reports/ebr/internal/config"
)

// State is the phase of test execution at the moment a capture decision is made.
type State string

const (
	// StateBeforeTest is evaluated before a test body starts.
	StateBeforeTest State = "before_test"
	// StateBeforeUIOperation is evaluated before one UI action.
	StateBeforeUIOperation State = "before_ui_operation"
	// StateAfterUIOperation is evaluated after one UI action.
	StateAfterUIOperation State = "after_ui_operation"
	// StateAfterTest is evaluated after a test body ends, regardless of outcome.
	StateAfterTest State = "after_test"
	// StateError is evaluated when a test step raises an error.
	StateError State = "error"
	// StateFailed is evaluated when a test finishes with a failed assertion.
	StateFailed State = "failed"
	// StatePassed is evaluated when a test finishes successfully.
	StatePassed State = "passed"
	// StateSkipped is evaluated for skipped tests. No browser session is
	// expected, so nothing may be captured here.
	StateSkipped State = "skipped"
	// StateCustomDuringTest is reserved for host-defined capture points and
	// is not supported yet.
	StateCustomDuringTest State = "custom_during_test"
)

// Artifact identifies one kind of captured evidence.
type Artifact string

const (
	// ArtifactConsoleLog is the browser console log buffer.
	ArtifactConsoleLog Artifact = "console_log"
	// ArtifactScreenshot is a plain page screenshot.
	ArtifactScreenshot Artifact = "screenshot"
	// ArtifactScreenshotHighlighted is a screenshot with the target element outlined.
	ArtifactScreenshotHighlighted Artifact = "screenshot_highlighted"
	// ArtifactVideo is the stitched recording of a whole test.
	ArtifactVideo Artifact = "video"
)

// Kind is the rendering category used to pick the sink attach operation.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Kind returns the rendering category for the artifact.
func (a Artifact) Kind() Kind {
	switch a {
	case ArtifactConsoleLog:
		return KindText
	case ArtifactVideo:
		return KindVideo
	default:
		return KindImage
	}
}

// allowedFrequencies maps each lifecycle state to the set of frequencies that
// permit capture in that state.
var allowedFrequencies = map[State]map[config.Frequency]struct{}{
	StateBeforeTest: {
		config.FrequencyAlways: {},
	},
	StateBeforeUIOperation: {
		config.FrequencyAlways:          {},
		config.FrequencyEachUIOperation: {},
	},
	StateAfterUIOperation: {
		config.FrequencyAlways:          {},
		config.FrequencyEachUIOperation: {},
	},
	StateAfterTest: {
		config.FrequencyAlways:        {},
		config.FrequencyEndOfEachTest: {},
	},
	StateError: {
		config.FrequencyAlways:         {},
		config.FrequencyEndOfEachTest:  {},
		config.FrequencyFailedTestOnly: {},
	},
	StateFailed: {
		config.FrequencyAlways:         {},
		config.FrequencyEndOfEachTest:  {},
		config.FrequencyFailedTestOnly: {},
	},
	StatePassed: {
		config.FrequencyAlways:        {},
		config.FrequencyEndOfEachTest: {},
	},
	StateSkipped:          {},
	StateCustomDuringTest: {},
}

// Gate answers capture decisions for one session's resolved options.
//
// Decisions are pure and deterministic: the same (artifact, state) pair always
// yields the same answer for the lifetime of the session.
type Gate struct {
	opts *config.Options
}

// NewGate builds a capture gate over resolved session options.
func NewGate(opts *config.Options) (*Gate, error) {
	if opts == nil {
		return nil, errors.New("options are required")
	}
	return &Gate{opts: opts}, nil
}

// CanCapture reports whether the artifact may be captured in the given state.
func (g *Gate) CanCapture(artifact Artifact, state State) bool {
	if g == nil || g.opts == nil {
		return false
	}

	switch artifact {
	case ArtifactConsoleLog:
		return frequencyAllows(g.opts.ConsoleLogCapture, state)
	case ArtifactScreenshot:
		return frequencyAllows(g.opts.ScreenshotCapture, state)
	case ArtifactScreenshotHighlighted:
		// Highlighting is a refinement of screenshot capture, not an
		// independent artifact: the base screenshot policy must also
		// allow the state.
		if !g.opts.HighlightedScreenshot {
			return false
		}
		return frequencyAllows(g.opts.ScreenshotCapture, state)
	case ArtifactVideo:
		if !g.opts.VideoRecording {
			return false
		}
		return stateAllowsAny(state)
	default:
		return false
	}
}

func frequencyAllows(frequency config.Frequency, state State) bool {
	if frequency == "" || frequency == config.FrequencyNever {
		return false
	}
	allowed, ok := allowedFrequencies[state]
	if !ok {
		return false
	}
	_, ok = allowed[frequency]
	return ok
}

// stateAllowsAny reports whether any frequency may fire in the state. Video
// has no frequency of its own; it records whenever the enable flag is set and
// the state supports capture at all.
func stateAllowsAny(state State) bool {
	return len(allowedFrequencies[state]) > 0
}
