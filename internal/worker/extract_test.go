package worker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractWithCaptureGroup(t *testing.T) {
	extractor, err := compileExtractor(1, json.RawMessage(`{
		"rules": [{"name": "contract", "pattern": "CA:\\s*([A-Za-z0-9]{10,})"}]
	}`))
	require.NoError(t, err)

	out := extractor.Extract("New gem! CA: 7kDqXm3fBadHuXaW1 pump it")
	require.Len(t, out, 1)
	assert.Equal(t, "contract", out[0].RuleName)
	assert.Equal(t, "7kDqXm3fBadHuXaW1", out[0].Value)
	assert.Equal(t, 0, out[0].OccurrenceIndex)
}

func TestExtractWithoutCaptureGroupUsesFullMatch(t *testing.T) {
	extractor, err := compileExtractor(1, json.RawMessage(`{
		"rules": [{"name": "ticker", "pattern": "\\$[A-Z]{2,6}"}]
	}`))
	require.NoError(t, err)

	out := extractor.Extract("buy $SOL and $BONK now")
	require.Len(t, out, 2)
	assert.Equal(t, "$SOL", out[0].Value)
	assert.Equal(t, 0, out[0].OccurrenceIndex)
	assert.Equal(t, "$BONK", out[1].Value)
	assert.Equal(t, 1, out[1].OccurrenceIndex, "occurrences are indexed per rule")
}

func TestExtractMultipleRules(t *testing.T) {
	extractor, err := compileExtractor(1, json.RawMessage(`{
		"rules": [
			{"name": "ticker", "pattern": "\\$([A-Z]{2,6})"},
			{"name": "price", "pattern": "@ ?([0-9.]+)"}
		]
	}`))
	require.NoError(t, err)

	out := extractor.Extract("long $SOL @ 142.5")
	require.Len(t, out, 2)
	assert.Equal(t, "SOL", out[0].Value)
	assert.Equal(t, "142.5", out[1].Value)
}

func TestExtractNoMatches(t *testing.T) {
	extractor, err := compileExtractor(1, json.RawMessage(`{"rules": [{"name": "x", "pattern": "zzz"}]}`))
	require.NoError(t, err)
	assert.Empty(t, extractor.Extract("nothing relevant"))
}

func TestCompileExtractorRejectsBadConfig(t *testing.T) {
	_, err := compileExtractor(1, json.RawMessage(`{"rules": [{"name": "", "pattern": "x"}]}`))
	assert.Error(t, err)

	_, err = compileExtractor(1, json.RawMessage(`{"rules": [{"name": "x", "pattern": "("}]}`))
	assert.Error(t, err)

	_, err = compileExtractor(1, json.RawMessage(`not json`))
	assert.Error(t, err)
}
