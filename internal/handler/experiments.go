package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/evalforge/evalforge/api/internal/domain"
	"github.com/evalforge/evalforge/api/internal/pkg/pagination"
	"github.com/evalforge/evalforge/api/internal/service"
	"github.com/evalforge/evalforge/api/internal/tasks"
	"github.com/evalforge/evalforge/api/internal/validator"
)

// ExperimentService is the slice of the experiment service the
// handlers use
type ExperimentService interface {
	Create(ctx context.Context, datasetID string, input *domain.ExperimentInput) (*domain.Experiment, error)
	Get(ctx context.Context, id string) (*domain.Experiment, error)
	List(ctx context.Context, datasetID string, cursor *string, limit *int) (pagination.Page[domain.Experiment], error)
	Delete(ctx context.Context, id string) error
	UpsertRun(ctx context.Context, experimentID string, input *domain.RunUpsertInput) (string, error)
	ListRuns(ctx context.Context, experimentID string, cursor *string, limit *int) (pagination.Page[domain.ExperimentRun], error)
	Annotate(ctx context.Context, input *domain.AnnotationInput) (*domain.RunAnnotation, error)
	IncompleteRuns(ctx context.Context, experimentID string, cursor *string, limit *int) (pagination.Page[domain.IncompleteRun], error)
	IncompleteEvaluations(ctx context.Context, experimentID string, evaluatorNames []string, cursor *string, limit *int) (pagination.Page[domain.IncompleteEvaluation], error)
}

// ExperimentsHandler handles experiment endpoints
type ExperimentsHandler struct {
	experimentService ExperimentService
	dispatcher        service.TaskDispatcher
	logger            *zap.Logger
}

// NewExperimentsHandler creates a new experiments handler
func NewExperimentsHandler(experimentService ExperimentService, dispatcher service.TaskDispatcher, logger *zap.Logger) *ExperimentsHandler {
	return &ExperimentsHandler{
		experimentService: experimentService,
		dispatcher:        dispatcher,
		logger:            logger,
	}
}

// CreateExperiment handles POST /v1/datasets/:datasetId/experiments
func (h *ExperimentsHandler) CreateExperiment(c *fiber.Ctx) error {
	var input domain.ExperimentInput
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if err := validator.Validate(&input); err != nil {
		return badRequest(c, err.Error())
	}

	experiment, err := h.experimentService.Create(c.Context(), c.Params("datasetId"), &input)
	if err != nil {
		return serviceError(c, h.logger, err, "create experiment")
	}

	return c.Status(fiber.StatusCreated).JSON(experiment)
}

// GetExperiment handles GET /v1/experiments/:experimentId
func (h *ExperimentsHandler) GetExperiment(c *fiber.Ctx) error {
	experiment, err := h.experimentService.Get(c.Context(), c.Params("experimentId"))
	if err != nil {
		return serviceError(c, h.logger, err, "get experiment")
	}

	return c.JSON(experiment)
}

// ListExperiments handles GET /v1/datasets/:datasetId/experiments
func (h *ExperimentsHandler) ListExperiments(c *fiber.Ctx) error {
	page, err := h.experimentService.List(c.Context(), c.Params("datasetId"), cursorParam(c), limitParam(c))
	if err != nil {
		return serviceError(c, h.logger, err, "list experiments")
	}

	return c.JSON(page)
}

// DeleteExperiment handles DELETE /v1/experiments/:experimentId
func (h *ExperimentsHandler) DeleteExperiment(c *fiber.Ctx) error {
	if err := h.experimentService.Delete(c.Context(), c.Params("experimentId")); err != nil {
		return serviceError(c, h.logger, err, "delete experiment")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// UpsertRun handles POST /v1/experiments/:experimentId/runs
func (h *ExperimentsHandler) UpsertRun(c *fiber.Ctx) error {
	var input domain.RunUpsertInput
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if err := validator.Validate(&input); err != nil {
		return badRequest(c, err.Error())
	}

	runID, err := h.experimentService.UpsertRun(c.Context(), c.Params("experimentId"), &input)
	if err != nil {
		return serviceError(c, h.logger, err, "record run")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"runId": runID})
}

// ListRuns handles GET /v1/experiments/:experimentId/runs
func (h *ExperimentsHandler) ListRuns(c *fiber.Ctx) error {
	page, err := h.experimentService.ListRuns(c.Context(), c.Params("experimentId"), cursorParam(c), limitParam(c))
	if err != nil {
		return serviceError(c, h.logger, err, "list runs")
	}

	return c.JSON(page)
}

// CreateAnnotation handles POST /v1/runs/:runId/annotations
func (h *ExperimentsHandler) CreateAnnotation(c *fiber.Ctx) error {
	var input domain.AnnotationInput
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	input.RunID = c.Params("runId")
	if err := validator.Validate(&input); err != nil {
		return badRequest(c, err.Error())
	}

	annotation, err := h.experimentService.Annotate(c.Context(), &input)
	if err != nil {
		return serviceError(c, h.logger, err, "create annotation")
	}

	return c.Status(fiber.StatusCreated).JSON(annotation)
}

// IncompleteRuns handles GET /v1/experiments/:experimentId/incomplete-runs
func (h *ExperimentsHandler) IncompleteRuns(c *fiber.Ctx) error {
	page, err := h.experimentService.IncompleteRuns(c.Context(), c.Params("experimentId"), cursorParam(c), limitParam(c))
	if err != nil {
		return serviceError(c, h.logger, err, "get incomplete runs")
	}

	return c.JSON(page)
}

// IncompleteEvaluationsRequest is the body of
// POST /v1/experiments/:experimentId/incomplete-evaluations
type IncompleteEvaluationsRequest struct {
	EvaluatorNames []string `json:"evaluatorNames"`
	Cursor         *string  `json:"cursor,omitempty"`
	Limit          *int     `json:"limit,omitempty"`
}

// IncompleteEvaluations handles POST /v1/experiments/:experimentId/incomplete-evaluations.
// A POST because the evaluator-name list does not fit a query string.
func (h *ExperimentsHandler) IncompleteEvaluations(c *fiber.Ctx) error {
	var req IncompleteEvaluationsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	page, err := h.experimentService.IncompleteEvaluations(
		c.Context(), c.Params("experimentId"), req.EvaluatorNames, req.Cursor, req.Limit)
	if err != nil {
		return serviceError(c, h.logger, err, "get incomplete evaluations")
	}

	return c.JSON(page)
}

// ExportRequest is the body of POST /v1/experiments/:experimentId/export
type ExportRequest struct {
	Format domain.ExportFormat `json:"format"`
}

// ExportResponse acknowledges a queued export job
type ExportResponse struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

// Export handles POST /v1/experiments/:experimentId/export. The export
// itself runs on the worker; this only verifies the experiment and
// queues the job.
func (h *ExperimentsHandler) Export(c *fiber.Ctx) error {
	var req ExportRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Format == "" {
		req.Format = domain.ExportFormatJSON
	}
	if !req.Format.IsValid() {
		return badRequest(c, "invalid format, valid formats: json, csv")
	}

	experimentID := c.Params("experimentId")
	experiment, err := h.experimentService.Get(c.Context(), experimentID)
	if err != nil {
		return serviceError(c, h.logger, err, "export experiment")
	}

	task, err := tasks.NewExperimentExportTask(&tasks.ExperimentExportPayload{
		ExperimentID: experiment.ID,
		Format:       req.Format,
	})
	if err != nil {
		return serviceError(c, h.logger, err, "export experiment")
	}
	info, err := h.dispatcher.EnqueueContext(c.Context(), task)
	if err != nil {
		return serviceError(c, h.logger, err, "export experiment")
	}

	h.logger.Info("experiment export queued",
		zap.String("experiment_id", experimentID),
		zap.String("task_id", info.ID),
		zap.String("format", string(req.Format)),
	)

	return c.Status(fiber.StatusAccepted).JSON(ExportResponse{
		TaskID: info.ID,
		Status: "queued",
	})
}

// RegisterRoutes registers experiment routes
func (h *ExperimentsHandler) RegisterRoutes(app *fiber.App) {
	v1 := app.Group("/v1")

	v1.Post("/datasets/:datasetId/experiments", h.CreateExperiment)
	v1.Get("/datasets/:datasetId/experiments", h.ListExperiments)
	v1.Get("/experiments/:experimentId", h.GetExperiment)
	v1.Delete("/experiments/:experimentId", h.DeleteExperiment)

	v1.Post("/experiments/:experimentId/runs", h.UpsertRun)
	v1.Get("/experiments/:experimentId/runs", h.ListRuns)
	v1.Post("/runs/:runId/annotations", h.CreateAnnotation)

	v1.Get("/experiments/:experimentId/incomplete-runs", h.IncompleteRuns)
	v1.Post("/experiments/:experimentId/incomplete-evaluations", h.IncompleteEvaluations)
	v1.Post("/experiments/:experimentId/export", h.Export)
}
