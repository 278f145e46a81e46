package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/services"
)

type APIHandlers struct {
	executions *services.Executions
	flows      *services.Flows
	imports    *services.Imports
	validator  *validator.Validate
}

func NewAPIHandlers(
	executions *services.Executions,
	flows *services.Flows,
	imports *services.Imports,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		executions: executions,
		flows:      flows,
		imports:    imports,
		validator:  validator,
	}
}

func (h *APIHandlers) LaunchExecution(c fiber.Ctx) error {
	var req LaunchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.executions.Launch(c.Context(), services.LaunchRequest{
		FlowID:      req.FlowID,
		ProspectIDs: req.ProspectIDs,
		Origin:      req.Origin,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	filter := models.ExecutionFilter{
		FlowID: c.Query("flow_id"),
		Origin: c.Query("origin"),
		Status: models.ExecutionStatus(c.Query("status")),
	}

	var err error

	if limit := c.Query("limit"); limit != "" {
		if filter.Limit, err = strconv.Atoi(limit); err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}
	}

	if offset := c.Query("offset"); offset != "" {
		if filter.Offset, err = strconv.Atoi(offset); err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}
	}

	executions, err := h.executions.List(c.Context(), filter)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ExecutionListResponse{Executions: executions, Limit: filter.Limit, Offset: filter.Offset})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executions.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetExecutionStages(c fiber.Ctx) error {
	id := c.Params("id")

	stages, err := h.executions.Stages(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(StagesResponse{ExecutionID: id, Stages: stages})
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	execution, err := h.executions.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	execution, err := h.executions.Resume(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// PutFlow stores a flow document. The id in the path must match the document.
func (h *APIHandlers) PutFlow(c fiber.Ctx) error {
	flow, err := h.flows.SaveDocument(c.Context(), c.Params("id"), c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(flow)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	flow, err := h.flows.GetFlow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) ListFlows(c fiber.Ctx) error {
	flows, err := h.flows.ListFlows(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"flows": flows})
}

func (h *APIHandlers) CreateImport(c fiber.Ctx) error {
	var req ImportRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	record, err := h.imports.ImportFile(c.Context(), req.Path)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(record)
}

func (h *APIHandlers) ResumeImport(c fiber.Ctx) error {
	record, err := h.imports.ResumeImport(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(record)
}

func (h *APIHandlers) GetImport(c fiber.Ctx) error {
	record, err := h.imports.GetImport(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(record)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.executions.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
