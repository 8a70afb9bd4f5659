package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"educore_devlab/internal/interfaces"
)

// EvaluateRequest is the payload of an evaluate-solution action.
type EvaluateRequest struct {
	Question            map[string]any `json:"question"`
	Solution            string         `json:"solution"`
	ProgrammingLanguage string         `json:"programming_language"`
	HumanLanguage       string         `json:"humanLanguage"`
}

// Feedback is what the model returns for a graded solution.
type Feedback struct {
	Score       float64  `json:"score"`
	Passed      bool     `json:"passed"`
	Summary     string   `json:"summary"`
	Suggestions []string `json:"suggestions"`
}

type GradingService struct {
	ai interfaces.AIClient
}

func NewGradingService(ai interfaces.AIClient) *GradingService {
	return &GradingService{ai: ai}
}

func (s *GradingService) Evaluate(ctx context.Context, req EvaluateRequest) (*Feedback, error) {
	if strings.TrimSpace(req.Solution) == "" {
		return nil, fmt.Errorf("%w: solution is required", ErrInvalidRequest)
	}
	if len(req.Question) == 0 {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}

	question, err := json.Marshal(req.Question)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	lang := req.HumanLanguage
	if lang == "" {
		lang = "en"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Grade this %s solution against the exercise.\nExercise: %s\nSolution:\n%s\n", req.ProgrammingLanguage, question, req.Solution)
	fmt.Fprintf(&sb, "Write feedback in language %q. Reply with a JSON object only: ", lang)
	sb.WriteString(`{"score": 0-100, "passed": bool, "summary": string, "suggestions": [string]}`)

	text, err := s.ai.GenerateResponse(ctx, sb.String())
	if err != nil {
		return nil, fmt.Errorf("evaluate solution: %w", err)
	}
	raw, err := extractJSON(text, '{', '}')
	if err != nil {
		return nil, err
	}

	var fb Feedback
	if err := json.Unmarshal([]byte(raw), &fb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedModelOutput, err)
	}
	if fb.Suggestions == nil {
		fb.Suggestions = []string{}
	}
	return &fb, nil
}
