package pipelines

import (
	"context"

	"go.uber.org/zap"

	"github.com/spigell/jobfit-ai/internal/crew"
	"github.com/spigell/jobfit-ai/internal/index"
	"github.com/spigell/jobfit-ai/internal/logger"
	"github.com/spigell/jobfit-ai/internal/tools"
	"github.com/spigell/jobfit-ai/internal/utils"
	"github.com/spigell/jobfit-ai/internal/validator"
)

type HRQARequest struct {
	Query string `mapstructure:"query" json:"query" validate:"required"`
}

type HRAnswer struct {
	Status   Status `json:"status"`
	Response string `json:"response"`
	Message  string `json:"message"`
	RunID    string `json:"run_id"`
}

// HRQA answers HR policy questions from documents indexed at startup.
type HRQA struct {
	crew   *crew.Crew
	opts   Options
	logger *zap.Logger
}

// NewHRQA exposes searcher to the crew as the HR retriever tool.
func NewHRQA(defs *crew.Definitions, searcher index.Searcher, opts Options) (*HRQA, error) {
	retriever, err := tools.NewRetriever(searcher, tools.DefaultRetrieverName, tools.DefaultRetrieverDescription, opts.K)
	if err != nil {
		return nil, err
	}

	c, err := opts.build(defs, retriever)
	if err != nil {
		return nil, err
	}

	return &HRQA{crew: c, opts: opts, logger: opts.logger().With(zap.String(logger.FieldPipeline, HRQAName))}, nil
}

// Answer runs research, formulation and QA for one question. An empty final
// answer yields a degraded status rather than an error.
func (h *HRQA) Answer(ctx context.Context, req HRQARequest) (*HRAnswer, error) {
	req.Query = sanitize(req.Query)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ctx, cancel := h.opts.withTimeout(ctx)
	defer cancel()

	h.logger.Info("answering hr question", zap.String("query", utils.TruncateForLog(req.Query, 50)))

	res, err := h.crew.Kickoff(ctx, map[string]string{"query": req.Query})
	if err != nil {
		return nil, err
	}

	answer := validator.CleanMarkdown(res.Raw)
	if answer == "" {
		h.logger.Warn("received empty answer for query", zap.String(logger.FieldRunID, res.RunID))
		return &HRAnswer{
			Status:  StatusDegraded,
			Message: "no answer could be produced for the question",
			RunID:   res.RunID,
		}, nil
	}

	return &HRAnswer{
		Status:   StatusSuccess,
		Response: answer,
		Message:  "question answered successfully",
		RunID:    res.RunID,
	}, nil
}
