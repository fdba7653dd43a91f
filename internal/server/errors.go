package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spigell/jobfit-ai/internal/crew"
	"github.com/spigell/jobfit-ai/internal/pipelines"
	"github.com/spigell/jobfit-ai/internal/rag"
)

var errServiceDisabled = fiber.NewError(fiber.StatusServiceUnavailable, "pipeline is not enabled")

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Task    string `json:"task,omitempty"`
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var (
		fe        *fiber.Error
		inputErr  *pipelines.InputError
		ingestErr *rag.IngestionError
		orchErr   *crew.OrchestrationError
	)

	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.As(err, &inputErr):
		return fiber.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case errors.As(err, &ingestErr):
		return fiber.StatusUnprocessableEntity
	case errors.As(err, &orchErr):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	resp := errorResponse{Status: "error", Message: err.Error()}

	var inputErr *pipelines.InputError
	if errors.As(err, &inputErr) {
		resp.Field = inputErr.Field
	}
	var orchErr *crew.OrchestrationError
	if errors.As(err, &orchErr) {
		resp.Task = orchErr.Task
	}

	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Int("status", code), zap.Error(err))
	} else {
		s.logger.Warn("request rejected", zap.String("path", c.Path()), zap.Int("status", code), zap.Error(err))
	}

	return c.Status(code).JSON(resp)
}
