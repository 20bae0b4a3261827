package matcher

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}

func TestExtractJSONObjectIgnoresBracesInStrings(t *testing.T) {
	text := `note: {"assessment": "uses {dependency injection} heavily", "score": 5} trailing`
	extracted := extractJSONObject(text)
	require.NotEmpty(t, extracted)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(extracted), &parsed))
	assert.Equal(t, "uses {dependency injection} heavily", parsed["assessment"])
}

func TestExtractJSONArrayNested(t *testing.T) {
	text := `result: [{"skills": ["Go", "SQL"]}, {"skills": []}] done`
	extracted := extractJSONArray(text)

	var parsed []map[string]any
	require.NoError(t, json.Unmarshal([]byte(extracted), &parsed))
	assert.Len(t, parsed, 2)
}

func TestExtractBalancedUnterminated(t *testing.T) {
	assert.Empty(t, extractJSONObject(`{"never": "closed"`))
	assert.Empty(t, extractJSONObject("no json here"))
}

func TestSanitizeJSONEscapesInteriorQuotes(t *testing.T) {
	broken := `{"summary": "led the "Atlas" rewrite"}`
	fixed := sanitizeJSON(broken)

	var parsed map[string]string
	require.NoError(t, json.Unmarshal([]byte(fixed), &parsed))
	assert.Equal(t, `led the "Atlas" rewrite`, parsed["summary"])
}

func TestSanitizeJSONLeavesValidJSONAlone(t *testing.T) {
	valid := `{"summary": "already fine", "skills": ["Go", "SQL"], "n": 3}`
	assert.Equal(t, valid, sanitizeJSON(valid))
}
