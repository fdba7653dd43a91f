package pipelines

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spigell/jobfit-ai/internal/crew"
	"github.com/spigell/jobfit-ai/internal/index"
	"github.com/spigell/jobfit-ai/internal/logger"
	"github.com/spigell/jobfit-ai/internal/rag"
	"github.com/spigell/jobfit-ai/internal/schema"
	"github.com/spigell/jobfit-ai/internal/tools"
	"github.com/spigell/jobfit-ai/internal/validator"
)

const (
	resumeStrategyTask = "resume_strategy_task"

	ResumeSearchName        = "resume_search"
	ResumeSearchDescription = "Resume Search: searches the candidate's uploaded resume for experience, skills and education."
)

type TailorRequest struct {
	ResumePath      string `mapstructure:"resume" json:"-" validate:"required"`
	JobPostingURL   string `mapstructure:"job_posting_url" json:"job_posting_url" validate:"required,http_url"`
	GitHubURL       string `mapstructure:"github_url" json:"github_url" validate:"omitempty,http_url"`
	PersonalWriteup string `mapstructure:"personal_writeup" json:"personal_writeup"`
}

type TailoredResume struct {
	Status Status `json:"status"`
	// Result is the interview preparation report in markdown.
	Result string             `json:"result"`
	Resume *schema.ResumeData `json:"resume_json"`
	// ResumeFile is where the structured resume was persisted, if anywhere.
	ResumeFile string   `json:"resume_file,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	RunID      string   `json:"run_id"`
}

// ResumeTailor rewrites a resume for a job posting and prepares interview
// material. The uploaded resume is indexed per request and searched through
// the resume_search tool.
type ResumeTailor struct {
	defs   *crew.Definitions
	ingest *rag.Pipeline
	opts   Options
	logger *zap.Logger
}

func NewResumeTailor(defs *crew.Definitions, ingest *rag.Pipeline, opts Options) (*ResumeTailor, error) {
	if ingest == nil {
		return nil, errors.New("resume tailor needs an ingestion pipeline")
	}

	// Validate the definitions once with a placeholder search tool so that
	// configuration errors surface at startup.
	placeholder, err := tools.NewRetriever(emptySearcher{}, ResumeSearchName, ResumeSearchDescription, opts.K)
	if err != nil {
		return nil, err
	}
	if _, err := opts.build(defs, placeholder); err != nil {
		return nil, err
	}

	return &ResumeTailor{
		defs:   defs,
		ingest: ingest,
		opts:   opts,
		logger: opts.logger().With(zap.String(logger.FieldPipeline, ResumeTailorName)),
	}, nil
}

// Tailor runs research and profiling concurrently, then the resume strategy
// and interview preparation. The resume JSON comes from the strategy task's
// in-memory result; a missing or invalid one degrades the status.
func (r *ResumeTailor) Tailor(ctx context.Context, req TailorRequest) (*TailoredResume, error) {
	req.PersonalWriteup = sanitize(req.PersonalWriteup)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ctx, cancel := r.opts.withTimeout(ctx)
	defer cancel()

	idx, err := r.ingest.LoadAndProcess(ctx, req.ResumePath)
	if err != nil {
		return nil, err
	}

	search, err := tools.NewRetriever(idx, ResumeSearchName, ResumeSearchDescription, r.opts.K)
	if err != nil {
		return nil, err
	}

	c, err := r.opts.build(r.defs, search)
	if err != nil {
		return nil, err
	}

	r.logger.Info("tailoring resume", zap.Int("resume_chunks", idx.Len()))

	res, err := c.Kickoff(ctx, map[string]string{
		"job_posting_url":  req.JobPostingURL,
		"github_url":       req.GitHubURL,
		"personal_writeup": req.PersonalWriteup,
	})
	if err != nil {
		return nil, err
	}

	out := &TailoredResume{
		Status: StatusSuccess,
		Result: validator.CleanMarkdown(res.Raw),
		RunID:  res.RunID,
	}
	for _, w := range res.Warnings {
		out.Warnings = append(out.Warnings, w.Error())
	}

	if strategy, ok := res.Output(resumeStrategyTask); ok {
		out.Resume, _ = strategy.Structured.(*schema.ResumeData)
		out.ResumeFile = strategy.File
	}

	if out.Resume == nil || out.Result == "" {
		out.Status = StatusDegraded
		r.logger.Warn("tailored resume is incomplete",
			zap.String(logger.FieldRunID, res.RunID),
			zap.Bool("resume_json", out.Resume != nil),
			zap.Bool("result", out.Result != ""),
		)
	}

	return out, nil
}

type emptySearcher struct{}

func (emptySearcher) Search(context.Context, string, int) ([]index.Chunk, error) { return nil, nil }
