package usecases

import (
	"bytes"
	"fmt"
	"html/template"

	"educore_devlab/internal/signature"
)

var questionsTemplate = template.Must(template.New("questions").Parse(`<section class="devlab-questions" data-count="{{len .Questions}}">
{{- if .Title}}
<h2>{{.Title}}</h2>{{end}}
{{- range .Questions}}
<article class="devlab-question" data-id="{{.ID}}">
<h3>{{.Title}}</h3>
{{- if .Description}}
<p class="description">{{.Description}}</p>{{end}}
{{- if .StarterCode}}
<pre class="starter-code"><code>{{.StarterCode}}</code></pre>{{end}}
{{- if .Hints}}
<ol class="hints">{{range .Hints}}<li>{{.}}</li>{{end}}</ol>{{end}}
{{- if .TestCases}}
<table class="test-cases"><tr><th>Input</th><th>Expected</th></tr>
{{- range .TestCases}}<tr><td>{{.Input}}</td><td>{{.Expected}}</td></tr>{{end}}</table>{{end}}
</article>
{{- end}}
</section>`))

type questionView struct {
	ID          string
	Title       string
	Description string
	StarterCode string
	Hints       []string
	TestCases   []testCaseView
}

type testCaseView struct {
	Input    string
	Expected string
}

// RenderService turns question data into component markup. All values are
// escaped by html/template.
type RenderService struct{}

func NewRenderService() *RenderService {
	return &RenderService{}
}

func (s *RenderService) RenderQuestions(title string, questions []map[string]any) (string, error) {
	if len(questions) == 0 {
		return "", fmt.Errorf("%w: questions are required", ErrInvalidRequest)
	}
	views := make([]questionView, len(questions))
	for i, q := range questions {
		views[i] = toQuestionView(i, q)
	}

	var buf bytes.Buffer
	err := questionsTemplate.Execute(&buf, struct {
		Title     string
		Questions []questionView
	}{title, views})
	if err != nil {
		return "", fmt.Errorf("render questions: %w", err)
	}
	return buf.String(), nil
}

// RenderExercise renders a single exercise for the course builder.
func (s *RenderService) RenderExercise(exercise map[string]any) (string, error) {
	if len(exercise) == 0 {
		return "", fmt.Errorf("%w: exercise is required", ErrInvalidRequest)
	}
	return s.RenderQuestions("", []map[string]any{exercise})
}

func toQuestionView(i int, q map[string]any) questionView {
	v := questionView{
		ID:          text(q["id"]),
		Title:       text(q["title"]),
		Description: text(q["description"]),
		StarterCode: text(q["starter_code"]),
	}
	if v.ID == "" {
		v.ID = fmt.Sprintf("q%d", i+1)
	}
	if v.Title == "" {
		v.Title = fmt.Sprintf("Question %d", i+1)
	}
	if hints, ok := q["hints"].([]any); ok {
		for _, h := range hints {
			v.Hints = append(v.Hints, text(h))
		}
	}
	if tcs, ok := q["test_cases"].([]any); ok {
		for _, tc := range tcs {
			if m, ok := tc.(map[string]any); ok {
				v.TestCases = append(v.TestCases, testCaseView{Input: text(m["input"]), Expected: text(m["expected_output"])})
			} else {
				v.TestCases = append(v.TestCases, testCaseView{Input: text(tc)})
			}
		}
	}
	return v
}

// text renders scalars as-is and everything else as compact JSON.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64, bool, int:
		return fmt.Sprint(t)
	default:
		b, err := signature.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
