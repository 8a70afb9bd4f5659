package dispatch

import (
	"fmt"

	"educore_devlab/internal/entities"
)

// Route is one supported (service, action) pair.
type Route struct {
	Service Service
	Action  Action
}

// Routes lists every pair Resolve accepts. Keep in sync with Resolve.
func Routes() []Route {
	return []Route{
		{ServiceContentStudio, ActionGenerateQuestions},
		{ServiceContentStudio, ActionConfirmQuestions},
		{ServiceContentStudio, ActionGetStagedQuestions},
		{ServiceContentStudio, ActionRenderQuestions},
		{ServiceAssessment, ActionGenerateQuestions},
		{ServiceAssessment, ActionEvaluateSolution},
		{ServiceCourseBuilder, ActionRenderExercise},
		{ServiceAnalytics, ActionContentMetrics},
	}
}

// Table is the static dispatch table.
type Table struct {
	h *Handlers
}

func NewTable(h *Handlers) *Table {
	return &Table{h: h}
}

func (t *Table) Resolve(service Service, action Action) (Registration, error) {
	switch service {
	case ServiceContentStudio:
		switch action {
		case ActionGenerateQuestions:
			return Registration{StagedJSONEnvelope, t.h.GenerateStagedQuestions}, nil
		case ActionConfirmQuestions:
			return Registration{JSONEnvelope, t.h.ConfirmQuestions}, nil
		case ActionGetStagedQuestions:
			return Registration{JSONEnvelope, t.h.GetStagedQuestions}, nil
		case ActionRenderQuestions:
			return Registration{RawHTML, t.h.RenderQuestions}, nil
		}
	case ServiceAssessment:
		switch action {
		case ActionGenerateQuestions:
			return Registration{JSONEnvelope, t.h.GenerateExamQuestions}, nil
		case ActionEvaluateSolution:
			return Registration{JSONEnvelope, t.h.EvaluateSolution}, nil
		}
	case ServiceCourseBuilder:
		switch action {
		case ActionRenderExercise:
			return Registration{RawHTML, t.h.RenderExercise}, nil
		}
	case ServiceAnalytics:
		switch action {
		case ActionContentMetrics:
			return Registration{JSONEnvelope, t.h.ContentMetrics}, nil
		}
	}
	if action == "" {
		return Registration{}, fmt.Errorf("%w: %q sent no action", ErrUnknownAction, service)
	}
	return Registration{}, fmt.Errorf("%w: %q has no action %q", ErrUnknownAction, service, action)
}

// ShouldForward reports whether the envelope belongs to the coordinator
// rather than to a local handler.
func ShouldForward(service Service, h entities.PayloadHeader) bool {
	if service != ServiceContentStudio {
		return false
	}
	switch Action(h.Action) {
	case ActionGenerateTheoreticalQuestions:
		return true
	case ActionGenerateQuestions:
		return h.QuestionType == "theoretical"
	}
	return false
}
