package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"educore_devlab/internal/interfaces"
	"educore_devlab/internal/usecases"

	"github.com/gin-gonic/gin/binding"
)

// Handlers holds the collaborators behind the dispatch table.
type Handlers struct {
	questions *usecases.QuestionService
	grading   *usecases.GradingService
	render    *usecases.RenderService
	metrics   *usecases.MetricsService
	store     interfaces.StagingStore
}

func NewHandlers(ai interfaces.AIClient, store interfaces.StagingStore) *Handlers {
	return &Handlers{
		questions: usecases.NewQuestionService(ai),
		grading:   usecases.NewGradingService(ai),
		render:    usecases.NewRenderService(),
		metrics:   usecases.NewMetricsService(store),
		store:     store,
	}
}

type ConfirmRequest struct {
	RequestID        string `json:"request_id" binding:"required,max=64"`
	RequesterService string `json:"requester_service"`
}

type StagedLookupRequest struct {
	RequestID string `json:"request_id" binding:"required,max=64"`
}

type RenderQuestionsRequest struct {
	Title     string           `json:"title"`
	Questions []map[string]any `json:"questions"`
	// RequestID renders a staged batch instead of inline questions.
	RequestID string `json:"request_id" binding:"max=64"`
}

type RenderExerciseRequest struct {
	Exercise map[string]any `json:"exercise"`
	Question map[string]any `json:"question"`
}

// bind decodes the payload into dst and runs gin's struct validation.
func bind(req Request, dst any) error {
	if len(req.Payload) == 0 {
		return NewStatusError(http.StatusBadRequest, "payload is required")
	}
	if err := json.Unmarshal(req.Payload, dst); err != nil {
		return &StatusError{Status: http.StatusBadRequest, Message: "invalid payload: " + err.Error(), Err: err}
	}
	if err := binding.Validator.ValidateStruct(dst); err != nil {
		return &StatusError{Status: http.StatusBadRequest, Message: "invalid payload: " + err.Error(), Err: err}
	}
	return nil
}

// usecaseError turns caller mistakes into 400s; the rest stay 500s.
func usecaseError(err error) error {
	if errors.Is(err, usecases.ErrInvalidRequest) {
		return &StatusError{Status: http.StatusBadRequest, Message: err.Error(), Err: err}
	}
	return err
}

func (h *Handlers) GenerateStagedQuestions(ctx context.Context, req Request) (Result, error) {
	var in usecases.GenerateRequest
	if err := bind(req, &in); err != nil {
		return Result{}, err
	}
	questions, err := h.questions.Generate(ctx, in)
	if err != nil {
		return Result{}, usecaseError(err)
	}
	return Result{Payload: StagedContent{
		Questions: questions,
		Metadata: map[string]any{
			"topic_id":             in.TopicID,
			"topic_name":           in.TopicName,
			"question_type":        in.QuestionType,
			"programming_language": in.ProgrammingLanguage,
			"amount":               in.Amount,
			"humanLanguage":        in.HumanLanguage,
		},
	}}, nil
}

func (h *Handlers) ConfirmQuestions(ctx context.Context, req Request) (Result, error) {
	var in ConfirmRequest
	if err := bind(req, &in); err != nil {
		return Result{}, err
	}

	if in.RequesterService != "" {
		batch, err := h.store.Get(ctx, in.RequestID)
		if err != nil {
			return Result{}, fmt.Errorf("load staged batch: %w", err)
		}
		// Another service's batch looks the same as a missing one.
		if batch != nil && batch.RequesterService != in.RequesterService {
			return confirmNotFound(in.RequestID), nil
		}
	}

	ok, err := h.store.Confirm(ctx, in.RequestID)
	if err != nil {
		return Result{}, fmt.Errorf("confirm staged batch: %w", err)
	}
	if !ok {
		return confirmNotFound(in.RequestID), nil
	}
	return Result{Payload: map[string]any{"success": true, "request_id": in.RequestID}}, nil
}

func confirmNotFound(requestID string) Result {
	return Result{
		Status: http.StatusNotFound,
		Payload: map[string]any{
			"success":    false,
			"request_id": requestID,
			"error":      "no pending batch for request_id",
		},
	}
}

func (h *Handlers) GetStagedQuestions(ctx context.Context, req Request) (Result, error) {
	var in StagedLookupRequest
	if err := bind(req, &in); err != nil {
		return Result{}, err
	}
	batch, err := h.store.Get(ctx, in.RequestID)
	if err != nil {
		return Result{}, fmt.Errorf("load staged batch: %w", err)
	}
	if batch == nil {
		return Result{}, NewStatusError(http.StatusNotFound, "no staged batch for request_id %s", in.RequestID)
	}
	return Result{Payload: map[string]any{"success": true, "data": batch}}, nil
}

func (h *Handlers) RenderQuestions(ctx context.Context, req Request) (Result, error) {
	var in RenderQuestionsRequest
	if err := bind(req, &in); err != nil {
		return Result{}, err
	}
	questions := in.Questions
	if len(questions) == 0 && in.RequestID != "" {
		batch, err := h.store.Get(ctx, in.RequestID)
		if err != nil {
			return Result{}, fmt.Errorf("load staged batch: %w", err)
		}
		if batch == nil {
			return Result{}, NewStatusError(http.StatusNotFound, "no staged batch for request_id %s", in.RequestID)
		}
		questions = batch.Questions
	}
	html, err := h.render.RenderQuestions(in.Title, questions)
	if err != nil {
		return Result{}, usecaseError(err)
	}
	return Result{Payload: html}, nil
}

func (h *Handlers) GenerateExamQuestions(ctx context.Context, req Request) (Result, error) {
	var in usecases.GenerateRequest
	if err := bind(req, &in); err != nil {
		return Result{}, err
	}
	questions, err := h.questions.Generate(ctx, in)
	if err != nil {
		return Result{}, usecaseError(err)
	}
	return Result{Payload: map[string]any{"success": true, "questions": questions}}, nil
}

func (h *Handlers) EvaluateSolution(ctx context.Context, req Request) (Result, error) {
	var in usecases.EvaluateRequest
	if err := bind(req, &in); err != nil {
		return Result{}, err
	}
	fb, err := h.grading.Evaluate(ctx, in)
	if err != nil {
		return Result{}, usecaseError(err)
	}
	return Result{Payload: map[string]any{"success": true, "feedback": fb}}, nil
}

func (h *Handlers) RenderExercise(ctx context.Context, req Request) (Result, error) {
	var in RenderExerciseRequest
	if err := bind(req, &in); err != nil {
		return Result{}, err
	}
	exercise := in.Exercise
	if exercise == nil {
		exercise = in.Question
	}
	html, err := h.render.RenderExercise(exercise)
	if err != nil {
		return Result{}, usecaseError(err)
	}
	return Result{Payload: html}, nil
}

func (h *Handlers) ContentMetrics(ctx context.Context, req Request) (Result, error) {
	m, err := h.metrics.ContentMetrics(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Payload: map[string]any{"success": true, "metrics": m}}, nil
}
