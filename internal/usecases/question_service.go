package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"educore_devlab/internal/interfaces"
)

const (
	defaultQuestionAmount = 1
	maxQuestionAmount     = 10
)

// GenerateRequest is the payload of a generate-questions action.
type GenerateRequest struct {
	TopicID             string   `json:"topic_id"`
	TopicName           string   `json:"topic_name"`
	QuestionType        string   `json:"question_type"`
	ProgrammingLanguage string   `json:"programming_language"`
	Amount              int      `json:"amount"`
	Skills              []string `json:"skills"`
	HumanLanguage       string   `json:"humanLanguage"`
}

// QuestionService asks the model for coding exercises.
type QuestionService struct {
	ai interfaces.AIClient
}

func NewQuestionService(ai interfaces.AIClient) *QuestionService {
	return &QuestionService{ai: ai}
}

// Normalize applies defaults and rejects out-of-range input.
func (r *GenerateRequest) Normalize() error {
	r.TopicName = strings.TrimSpace(r.TopicName)
	if r.TopicName == "" {
		return fmt.Errorf("%w: topic_name is required", ErrInvalidRequest)
	}
	if r.Amount == 0 {
		r.Amount = defaultQuestionAmount
	}
	if r.Amount < 1 || r.Amount > maxQuestionAmount {
		return fmt.Errorf("%w: amount must be between 1 and %d", ErrInvalidRequest, maxQuestionAmount)
	}
	if r.QuestionType == "" {
		r.QuestionType = "code"
	}
	if r.ProgrammingLanguage == "" {
		r.ProgrammingLanguage = "python"
	}
	if r.HumanLanguage == "" {
		r.HumanLanguage = "en"
	}
	return nil
}

func (s *QuestionService) Generate(ctx context.Context, req GenerateRequest) ([]map[string]any, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}

	text, err := s.ai.GenerateResponse(ctx, buildQuestionPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	return parseQuestions(text, req.Amount)
}

func buildQuestionPrompt(req GenerateRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate %d %s programming exercise(s) in %s about %q.\n", req.Amount, req.QuestionType, req.ProgrammingLanguage, req.TopicName)
	if len(req.Skills) > 0 {
		fmt.Fprintf(&sb, "Target skills: %s.\n", strings.Join(req.Skills, ", "))
	}
	fmt.Fprintf(&sb, "Write all text in language %q.\n", req.HumanLanguage)
	sb.WriteString("Reply with a JSON array only. Each item must have: id, title, description, difficulty, ")
	sb.WriteString("hints (array of strings), test_cases (array of {input, expected_output}), starter_code.\n")
	return sb.String()
}

// parseQuestions accepts a bare array or an object with a "questions" array.
// Items without an id get q1, q2, ...
func parseQuestions(text string, limit int) ([]map[string]any, error) {
	var questions []map[string]any

	arrayAt := strings.IndexByte(text, '[')
	objectAt := strings.IndexByte(text, '{')
	if arrayAt >= 0 && (objectAt < 0 || arrayAt < objectAt) {
		raw, err := extractJSON(text, '[', ']')
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &questions); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedModelOutput, err)
		}
	} else {
		raw, err := extractJSON(text, '{', '}')
		if err != nil {
			return nil, err
		}
		var wrapped struct {
			Questions []map[string]any `json:"questions"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedModelOutput, err)
		}
		questions = wrapped.Questions
	}

	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions returned", ErrMalformedModelOutput)
	}
	if limit > 0 && len(questions) > limit {
		questions = questions[:limit]
	}
	for i, q := range questions {
		if q == nil {
			q = map[string]any{}
			questions[i] = q
		}
		if id, ok := q["id"]; !ok || id == nil || id == "" {
			q["id"] = fmt.Sprintf("q%d", i+1)
		}
	}
	return questions, nil
}
