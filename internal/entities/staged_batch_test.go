package entities

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenHintsAndTestCases(t *testing.T) {
	questions := []map[string]any{
		{
			"id":         "loop-1",
			"hints":      []any{"use range", "mind the bounds"},
			"test_cases": []any{map[string]any{"input": "3", "expected_output": "6"}},
		},
		{
			"hints":      []any{"think recursively"},
			"test_cases": []any{"plain"},
		},
		{"title": "no extras"},
	}

	hints := FlattenHints(questions)
	require.Len(t, hints, 3)
	assert.Equal(t, "loop-1", hints[0]["question_id"])
	assert.Equal(t, 1, hints[1]["hint_index"])
	assert.Equal(t, "q2", hints[2]["question_id"])

	cases := FlattenTestCases(questions)
	require.Len(t, cases, 2)
	assert.Equal(t, "6", cases[0]["expected_output"])
	assert.Equal(t, "loop-1", cases[0]["question_id"])
	assert.Equal(t, "plain", cases[1]["value"])
}

func TestNewStagedBatchDefaults(t *testing.T) {
	b := NewStagedBatch("id-1", "content-studio", "generate-questions", nil, nil)
	assert.Equal(t, StatusPending, b.Status)
	assert.NotNil(t, b.Questions)
	assert.NotNil(t, b.Metadata)
	assert.Empty(t, b.Hints)
	assert.False(t, b.UpdatedAt.IsZero())
}

func TestEnvelopeRoundTrip(t *testing.T) {
	raw := `{"requester_service":"content-studio","payload":{"z":1,"action":"generate-questions","a":[true,null]},"response":{"answer":""}}`

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	assert.Equal(t, "generate-questions", env.Header().Action)

	out, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))

	var again Envelope
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, env, again)
}

func TestEnvelopeHeaderNonObjectPayload(t *testing.T) {
	env := Envelope{Payload: json.RawMessage(`[1,2]`)}
	assert.Equal(t, PayloadHeader{}, env.Header())
}
