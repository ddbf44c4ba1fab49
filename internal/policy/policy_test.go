package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enhanced-reports/ebr/internal/config"
)

func allStates() []State {
	return []State{
		StateBeforeTest,
		StateBeforeUIOperation,
		StateAfterUIOperation,
		StateAfterTest,
		StateError,
		StateFailed,
		StatePassed,
		StateSkipped,
		StateCustomDuringTest,
	}
}

func TestNewGateRequiresOptions(t *testing.T) {
	_, err := NewGate(nil)
	require.Error(t, err)
}

func TestCanCaptureNeverBlocksEveryState(t *testing.T) {
	gate, err := NewGate(&config.Options{
		ConsoleLogCapture: config.FrequencyNever,
		ScreenshotCapture: config.FrequencyNever,
	})
	require.NoError(t, err)

	for _, state := range allStates() {
		assert.False(t, gate.CanCapture(ArtifactConsoleLog, state), "console log in %s", state)
		assert.False(t, gate.CanCapture(ArtifactScreenshot, state), "screenshot in %s", state)
	}
}

func TestCanCaptureAlwaysAllowsEveryActiveState(t *testing.T) {
	gate, err := NewGate(&config.Options{ScreenshotCapture: config.FrequencyAlways})
	require.NoError(t, err)

	active := []State{
		StateBeforeTest,
		StateBeforeUIOperation,
		StateAfterUIOperation,
		StateAfterTest,
		StateError,
		StateFailed,
		StatePassed,
	}
	for _, state := range active {
		assert.True(t, gate.CanCapture(ArtifactScreenshot, state), "screenshot in %s", state)
	}
	assert.False(t, gate.CanCapture(ArtifactScreenshot, StateSkipped))
	assert.False(t, gate.CanCapture(ArtifactScreenshot, StateCustomDuringTest))
}

func TestCanCaptureFrequencyStateMatrix(t *testing.T) {
	cases := []struct {
		frequency config.Frequency
		state     State
		want      bool
	}{
		{config.FrequencyEachUIOperation, StateBeforeUIOperation, true},
		{config.FrequencyEachUIOperation, StateAfterUIOperation, true},
		{config.FrequencyEachUIOperation, StateAfterTest, false},
		{config.FrequencyEachUIOperation, StateFailed, false},
		{config.FrequencyEndOfEachTest, StateAfterTest, true},
		{config.FrequencyEndOfEachTest, StatePassed, true},
		{config.FrequencyEndOfEachTest, StateFailed, true},
		{config.FrequencyEndOfEachTest, StateError, true},
		{config.FrequencyEndOfEachTest, StateBeforeUIOperation, false},
		{config.FrequencyFailedTestOnly, StateFailed, true},
		{config.FrequencyFailedTestOnly, StateError, true},
		{config.FrequencyFailedTestOnly, StatePassed, false},
		{config.FrequencyFailedTestOnly, StateAfterTest, false},
		{config.FrequencyAlways, StateBeforeTest, true},
		{config.FrequencyFailedTestOnly, StateBeforeTest, false},
	}

	for _, tc := range cases {
		gate, err := NewGate(&config.Options{ScreenshotCapture: tc.frequency})
		require.NoError(t, err)
		assert.Equal(
			t,
			tc.want,
			gate.CanCapture(ArtifactScreenshot, tc.state),
			"frequency %q in state %q", tc.frequency, tc.state,
		)
	}
}

func TestCanCaptureIsDeterministic(t *testing.T) {
	gate, err := NewGate(&config.Options{
		ConsoleLogCapture:     config.FrequencyEndOfEachTest,
		ScreenshotCapture:     config.FrequencyEachUIOperation,
		HighlightedScreenshot: true,
		VideoRecording:        true,
	})
	require.NoError(t, err)

	artifacts := []Artifact{
		ArtifactConsoleLog,
		ArtifactScreenshot,
		ArtifactScreenshotHighlighted,
		ArtifactVideo,
	}
	for _, artifact := range artifacts {
		for _, state := range allStates() {
			first := gate.CanCapture(artifact, state)
			for range 10 {
				assert.Equal(t, first, gate.CanCapture(artifact, state))
			}
		}
	}
}

func TestHighlightedScreenshotRequiresFlagAndBasePolicy(t *testing.T) {
	// Flag on, base policy fires only on failure.
	gate, err := NewGate(&config.Options{
		ScreenshotCapture:     config.FrequencyFailedTestOnly,
		HighlightedScreenshot: true,
	})
	require.NoError(t, err)

	assert.False(t, gate.CanCapture(ArtifactScreenshotHighlighted, StateAfterUIOperation))
	assert.True(t, gate.CanCapture(ArtifactScreenshotHighlighted, StateFailed))

	// Flag off blocks every state even when the base policy allows it.
	gate, err = NewGate(&config.Options{
		ScreenshotCapture:     config.FrequencyAlways,
		HighlightedScreenshot: false,
	})
	require.NoError(t, err)

	for _, state := range allStates() {
		assert.False(t, gate.CanCapture(ArtifactScreenshotHighlighted, state), "state %s", state)
	}
}

func TestVideoRequiresEnableFlag(t *testing.T) {
	gate, err := NewGate(&config.Options{VideoRecording: false})
	require.NoError(t, err)
	for _, state := range allStates() {
		assert.False(t, gate.CanCapture(ArtifactVideo, state), "state %s", state)
	}

	gate, err = NewGate(&config.Options{VideoRecording: true})
	require.NoError(t, err)
	assert.True(t, gate.CanCapture(ArtifactVideo, StateBeforeTest))
	assert.False(t, gate.CanCapture(ArtifactVideo, StateSkipped))
	assert.False(t, gate.CanCapture(ArtifactVideo, StateCustomDuringTest))
}

func TestArtifactKinds(t *testing.T) {
	assert.Equal(t, KindText, ArtifactConsoleLog.Kind())
	assert.Equal(t, KindImage, ArtifactScreenshot.Kind())
	assert.Equal(t, KindImage, ArtifactScreenshotHighlighted.Kind())
	assert.Equal(t, KindVideo, ArtifactVideo.Kind())
}

func TestNilGateDeniesEverything(t *testing.T) {
	var gate *Gate
	assert.False(t, gate.CanCapture(ArtifactScreenshot, StateFailed))
}
