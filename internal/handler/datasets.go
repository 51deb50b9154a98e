package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/evalforge/evalforge/api/internal/domain"
	"github.com/evalforge/evalforge/api/internal/pkg/pagination"
	"github.com/evalforge/evalforge/api/internal/validator"
)

// DatasetService is the slice of the dataset service the handlers use
type DatasetService interface {
	Create(ctx context.Context, input *domain.DatasetInput) (*domain.Dataset, error)
	Get(ctx context.Context, id string) (*domain.Dataset, error)
	List(ctx context.Context, filter *domain.DatasetFilter, cursor *string, limit *int) (pagination.Page[domain.Dataset], error)
	Patch(ctx context.Context, id string, patch *domain.DatasetPatch) (*domain.Dataset, error)
	Delete(ctx context.Context, id string) (*domain.Dataset, error)
	AddExamples(ctx context.Context, id string, inputs []domain.ExampleInput, stamp domain.VersionStamp) (*domain.Dataset, []string, error)
	AddExamplesFromSource(ctx context.Context, id string, sourceRecordIDs []string, stamp domain.VersionStamp) (*domain.Dataset, []string, error)
	PatchExamples(ctx context.Context, patches []domain.ExamplePatch, stamp domain.VersionStamp) (*domain.Dataset, error)
	DeleteExamples(ctx context.Context, ids []string, stamp domain.VersionStamp) (*domain.Dataset, error)
	GetExamples(ctx context.Context, id string, versionID *string) ([]*domain.ResolvedExample, error)
	CreateSplit(ctx context.Context, id string, name string, exampleIDs []string) (*domain.DatasetSplit, error)
	ListSplits(ctx context.Context, id string, cursor *string, limit *int) (pagination.Page[domain.DatasetSplit], error)
}

// DatasetsHandler handles dataset endpoints
type DatasetsHandler struct {
	datasetService DatasetService
	logger         *zap.Logger
}

// NewDatasetsHandler creates a new datasets handler
func NewDatasetsHandler(datasetService DatasetService, logger *zap.Logger) *DatasetsHandler {
	return &DatasetsHandler{
		datasetService: datasetService,
		logger:         logger,
	}
}

// CreateDataset handles POST /v1/datasets
func (h *DatasetsHandler) CreateDataset(c *fiber.Ctx) error {
	var input domain.DatasetInput
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if err := validator.Validate(&input); err != nil {
		return badRequest(c, err.Error())
	}

	dataset, err := h.datasetService.Create(c.Context(), &input)
	if err != nil {
		return serviceError(c, h.logger, err, "create dataset")
	}

	return c.Status(fiber.StatusCreated).JSON(dataset)
}

// ListDatasets handles GET /v1/datasets
func (h *DatasetsHandler) ListDatasets(c *fiber.Ctx) error {
	var filter *domain.DatasetFilter
	if name := c.Query("name"); name != "" {
		filter = &domain.DatasetFilter{Name: &name}
	}

	page, err := h.datasetService.List(c.Context(), filter, cursorParam(c), limitParam(c))
	if err != nil {
		return serviceError(c, h.logger, err, "list datasets")
	}

	return c.JSON(page)
}

// GetDataset handles GET /v1/datasets/:datasetId
func (h *DatasetsHandler) GetDataset(c *fiber.Ctx) error {
	dataset, err := h.datasetService.Get(c.Context(), c.Params("datasetId"))
	if err != nil {
		return serviceError(c, h.logger, err, "get dataset")
	}

	return c.JSON(dataset)
}

// PatchDataset handles PATCH /v1/datasets/:datasetId
func (h *DatasetsHandler) PatchDataset(c *fiber.Ctx) error {
	var patch domain.DatasetPatch
	if err := c.BodyParser(&patch); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	dataset, err := h.datasetService.Patch(c.Context(), c.Params("datasetId"), &patch)
	if err != nil {
		return serviceError(c, h.logger, err, "patch dataset")
	}

	return c.JSON(dataset)
}

// DeleteDataset handles DELETE /v1/datasets/:datasetId
func (h *DatasetsHandler) DeleteDataset(c *fiber.Ctx) error {
	dataset, err := h.datasetService.Delete(c.Context(), c.Params("datasetId"))
	if err != nil {
		return serviceError(c, h.logger, err, "delete dataset")
	}

	return c.JSON(dataset)
}

// AddExamplesRequest is the body of POST /v1/datasets/:datasetId/examples
type AddExamplesRequest struct {
	Examples []domain.ExampleInput `json:"examples" validate:"required,min=1,dive"`
	domain.VersionStamp
}

// AddExamples handles POST /v1/datasets/:datasetId/examples
func (h *DatasetsHandler) AddExamples(c *fiber.Ctx) error {
	var req AddExamplesRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if err := validator.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	dataset, exampleIDs, err := h.datasetService.AddExamples(
		c.Context(), c.Params("datasetId"), req.Examples, req.VersionStamp)
	if err != nil {
		return serviceError(c, h.logger, err, "add examples")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"dataset":    dataset,
		"exampleIds": exampleIDs,
	})
}

// AddExamplesFromSourceRequest is the body of
// POST /v1/datasets/:datasetId/examples/from-source
type AddExamplesFromSourceRequest struct {
	SourceRecordIDs []string `json:"sourceRecordIds" validate:"required,min=1"`
	domain.VersionStamp
}

// AddExamplesFromSource handles POST /v1/datasets/:datasetId/examples/from-source
func (h *DatasetsHandler) AddExamplesFromSource(c *fiber.Ctx) error {
	var req AddExamplesFromSourceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if err := validator.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	dataset, exampleIDs, err := h.datasetService.AddExamplesFromSource(
		c.Context(), c.Params("datasetId"), req.SourceRecordIDs, req.VersionStamp)
	if err != nil {
		return serviceError(c, h.logger, err, "add examples from source")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"dataset":    dataset,
		"exampleIds": exampleIDs,
	})
}

// PatchExamplesRequest is the body of PATCH /v1/examples
type PatchExamplesRequest struct {
	Patches []domain.ExamplePatch `json:"patches" validate:"required,min=1,dive"`
	domain.VersionStamp
}

// PatchExamples handles PATCH /v1/examples. Targets may span a single
// dataset only; the batch commits one version or nothing.
func (h *DatasetsHandler) PatchExamples(c *fiber.Ctx) error {
	var req PatchExamplesRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if err := validator.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	dataset, err := h.datasetService.PatchExamples(c.Context(), req.Patches, req.VersionStamp)
	if err != nil {
		return serviceError(c, h.logger, err, "patch examples")
	}

	return c.JSON(dataset)
}

// DeleteExamplesRequest is the body of POST /v1/examples/delete
type DeleteExamplesRequest struct {
	ExampleIDs []string `json:"exampleIds" validate:"required,min=1"`
	domain.VersionStamp
}

// DeleteExamples handles POST /v1/examples/delete
func (h *DatasetsHandler) DeleteExamples(c *fiber.Ctx) error {
	var req DeleteExamplesRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if err := validator.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	dataset, err := h.datasetService.DeleteExamples(c.Context(), req.ExampleIDs, req.VersionStamp)
	if err != nil {
		return serviceError(c, h.logger, err, "delete examples")
	}

	return c.JSON(dataset)
}

// GetExamples handles GET /v1/datasets/:datasetId/examples
func (h *DatasetsHandler) GetExamples(c *fiber.Ctx) error {
	var versionID *string
	if v := c.Query("versionId"); v != "" {
		versionID = &v
	}

	examples, err := h.datasetService.GetExamples(c.Context(), c.Params("datasetId"), versionID)
	if err != nil {
		return serviceError(c, h.logger, err, "get examples")
	}

	return c.JSON(fiber.Map{"examples": examples})
}

// CreateSplitRequest is the body of POST /v1/datasets/:datasetId/splits
type CreateSplitRequest struct {
	Name       string   `json:"name" validate:"required,min=1,max=200"`
	ExampleIDs []string `json:"exampleIds,omitempty"`
}

// CreateSplit handles POST /v1/datasets/:datasetId/splits
func (h *DatasetsHandler) CreateSplit(c *fiber.Ctx) error {
	var req CreateSplitRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if err := validator.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	split, err := h.datasetService.CreateSplit(c.Context(), c.Params("datasetId"), req.Name, req.ExampleIDs)
	if err != nil {
		return serviceError(c, h.logger, err, "create split")
	}

	return c.Status(fiber.StatusCreated).JSON(split)
}

// ListSplits handles GET /v1/datasets/:datasetId/splits
func (h *DatasetsHandler) ListSplits(c *fiber.Ctx) error {
	page, err := h.datasetService.ListSplits(c.Context(), c.Params("datasetId"), cursorParam(c), limitParam(c))
	if err != nil {
		return serviceError(c, h.logger, err, "list splits")
	}

	return c.JSON(page)
}

// RegisterRoutes registers dataset routes
func (h *DatasetsHandler) RegisterRoutes(app *fiber.App) {
	v1 := app.Group("/v1")

	v1.Post("/datasets", h.CreateDataset)
	v1.Get("/datasets", h.ListDatasets)
	v1.Get("/datasets/:datasetId", h.GetDataset)
	v1.Patch("/datasets/:datasetId", h.PatchDataset)
	v1.Delete("/datasets/:datasetId", h.DeleteDataset)

	v1.Get("/datasets/:datasetId/examples", h.GetExamples)
	v1.Post("/datasets/:datasetId/examples", h.AddExamples)
	v1.Post("/datasets/:datasetId/examples/from-source", h.AddExamplesFromSource)
	v1.Patch("/examples", h.PatchExamples)
	v1.Post("/examples/delete", h.DeleteExamples)

	v1.Post("/datasets/:datasetId/splits", h.CreateSplit)
	v1.Get("/datasets/:datasetId/splits", h.ListSplits)
}
