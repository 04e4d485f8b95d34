package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeText, mode)

	mode, err = ParseMode("markdown")
	require.NoError(t, err)
	assert.Equal(t, ModeMarkdown, mode)

	_, err = ParseMode("docx")
	assert.Error(t, err)
}

func TestJobStatus_Lifecycle(t *testing.T) {
	active := []JobStatus{StatusQueued, StatusDownloading, StatusExtracting, StatusUploading}
	for _, status := range active {
		assert.True(t, status.IsActive(), "%s should be active", status)
		assert.False(t, status.IsTerminal(), "%s should not be terminal", status)
	}

	terminal := []JobStatus{StatusCompleted, StatusFailed, StatusCancelled}
	for _, status := range terminal {
		assert.True(t, status.IsTerminal(), "%s should be terminal", status)
		assert.False(t, status.IsActive(), "%s should not be active", status)
	}
}
