package entities

import (
	"fmt"
	"time"
)

type StagingStatus string

const (
	StatusPending   StagingStatus = "pending"
	StatusConfirmed StagingStatus = "confirmed"
)

// StagedBatch is generated content awaiting confirmation by its owning service.
type StagedBatch struct {
	RequestID        string           `json:"request_id"`
	RequesterService string           `json:"requester_service"`
	Action           string           `json:"action"`
	Questions        []map[string]any `json:"questions"`
	Hints            []map[string]any `json:"hints"`      // Flattened from all questions
	TestCases        []map[string]any `json:"test_cases"` // Flattened from all questions
	Metadata         map[string]any   `json:"metadata"`
	Status           StagingStatus    `json:"status"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// NewStagedBatch builds a pending batch and computes its projections.
func NewStagedBatch(requestID, requesterService, action string, questions []map[string]any, metadata map[string]any) *StagedBatch {
	if questions == nil {
		questions = []map[string]any{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &StagedBatch{
		RequestID:        requestID,
		RequesterService: requesterService,
		Action:           action,
		Questions:        questions,
		Hints:            FlattenHints(questions),
		TestCases:        FlattenTestCases(questions),
		Metadata:         metadata,
		Status:           StatusPending,
		UpdatedAt:        time.Now().UTC(),
	}
}

// FlattenHints collects the "hints" of every question into one list, each
// entry tagged with the question it came from.
func FlattenHints(questions []map[string]any) []map[string]any {
	out := []map[string]any{}
	for i, q := range questions {
		hints, ok := q["hints"].([]any)
		if !ok {
			continue
		}
		for j, h := range hints {
			out = append(out, map[string]any{
				"question_id": questionID(q, i),
				"hint_index":  j,
				"hint":        h,
			})
		}
	}
	return out
}

// FlattenTestCases collects the "test_cases" of every question. Object test
// cases keep their fields; scalar ones are stored under "value".
func FlattenTestCases(questions []map[string]any) []map[string]any {
	out := []map[string]any{}
	for i, q := range questions {
		cases, ok := q["test_cases"].([]any)
		if !ok {
			continue
		}
		for _, tc := range cases {
			entry := map[string]any{"question_id": questionID(q, i)}
			if fields, ok := tc.(map[string]any); ok {
				for k, v := range fields {
					entry[k] = v
				}
				entry["question_id"] = questionID(q, i)
			} else {
				entry["value"] = tc
			}
			out = append(out, entry)
		}
	}
	return out
}

// questionID prefers the question's own id and falls back to its position.
func questionID(q map[string]any, index int) string {
	if id, ok := q["id"]; ok && id != nil {
		return fmt.Sprintf("%v", id)
	}
	return fmt.Sprintf("q%d", index+1)
}
