package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalysisJobStatus_Terminal(t *testing.T) {
	assert.False(t, AnalysisJobStatusPending.IsTerminal())
	assert.False(t, AnalysisJobStatusAnalyzing.IsTerminal())
	assert.True(t, AnalysisJobStatusReady.IsTerminal())
	assert.True(t, AnalysisJobStatusError.IsTerminal())
	assert.True(t, AnalysisJobStatusCancelled.IsTerminal())

	assert.True(t, AnalysisJobStatusPending.IsActive())
	assert.True(t, AnalysisJobStatusAnalyzing.IsActive())
	assert.False(t, AnalysisJobStatusCancelled.IsActive())
}

func TestIsValidElementType(t *testing.T) {
	assert.True(t, IsValidElementType(ElementTypeHero))
	assert.True(t, IsValidElementType(ElementTypeCustom))
	assert.False(t, IsValidElementType("carousel"))
}
