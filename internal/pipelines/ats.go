package pipelines

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobfit-ai/internal/crew"
	"github.com/spigell/jobfit-ai/internal/logger"
	"github.com/spigell/jobfit-ai/internal/rag"
	"github.com/spigell/jobfit-ai/internal/validator"
)

const scoreTask = "score_task"

var jobDescriptionTerms = []string{"requirements", "skills", "experience", "qualifications"}

// scorePaths are the places a score is looked up in a parsed report.
var scorePaths = [][]string{
	{"ats_score"},
	{"overall_score"},
	{"score"},
	{"compatibility_score"},
	{"scores", "overall"},
	{"ats_report", "ats_score"},
}

var errEmptyResume = errors.New("no text could be extracted from the resume")

type ATSRequest struct {
	// ResumePath is read when ResumeText is empty.
	ResumePath     string `mapstructure:"resume" json:"-" validate:"required_without=ResumeText"`
	ResumeText     string `mapstructure:"resume_text" json:"resume_text" validate:"required_without=ResumePath"`
	JobDescription string `mapstructure:"job_description" json:"job_description" validate:"required,min=50,job_description"`
}

type ATSReport struct {
	Status Status `json:"status"`
	// Score is the overall compatibility score when the report carries one.
	Score *float64 `json:"score,omitempty"`
	// Report is the parsed final output. It is nil when the output is not JSON.
	Report   any    `json:"report,omitempty"`
	Response string `json:"response"`
	RunID    string `json:"run_id"`
}

// ATSChecker scores a resume against a job description with five sequential
// agents: parse, analyze, match, score and feedback.
type ATSChecker struct {
	crew   *crew.Crew
	loader rag.Loader
	opts   Options
	logger *zap.Logger
}

// NewATSChecker builds the crew. A nil loader picks one per file extension.
func NewATSChecker(defs *crew.Definitions, loader rag.Loader, opts Options) (*ATSChecker, error) {
	c, err := opts.build(defs)
	if err != nil {
		return nil, err
	}

	return &ATSChecker{
		crew:   c,
		loader: loader,
		opts:   opts,
		logger: opts.logger().With(zap.String(logger.FieldPipeline, ATSCheckerName)),
	}, nil
}

// ValidateJobDescription applies the minimum length and content checks.
func ValidateJobDescription(jd string) error {
	return validateRequest(ATSRequest{ResumeText: "-", JobDescription: strings.TrimSpace(jd)})
}

func jobDescriptionKeywords(jd string) bool {
	lower := strings.ToLower(jd)
	for _, term := range jobDescriptionTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// Analyze runs the ATS crew. The final report is parsed when possible and its
// score coerced to a number; otherwise the raw text is returned with a
// degraded status.
func (a *ATSChecker) Analyze(ctx context.Context, req ATSRequest) (*ATSReport, error) {
	req.JobDescription = sanitize(req.JobDescription)
	req.ResumeText = sanitize(req.ResumeText)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ctx, cancel := a.opts.withTimeout(ctx)
	defer cancel()

	if req.ResumeText == "" {
		text, err := a.extract(ctx, req.ResumePath)
		if err != nil {
			return nil, err
		}
		req.ResumeText = text
	}

	a.logger.Info("starting ats compatibility analysis", zap.Int("resume_length", len(req.ResumeText)))

	res, err := a.crew.Kickoff(ctx, map[string]string{
		"resume_text":     req.ResumeText,
		"job_description": req.JobDescription,
	})
	if err != nil {
		return nil, err
	}

	report := &ATSReport{Status: StatusDegraded, Response: validator.CleanMarkdown(res.Raw), RunID: res.RunID}

	parsed, err := validator.CleanAndParse(res.Raw)
	if err != nil {
		a.logger.Warn("ats report is not structured", zap.String(logger.FieldRunID, res.RunID), zap.Error(err))
	} else {
		report.Report = parsed
	}

	score := findScore(parsed)
	if math.IsNaN(score) {
		if out, ok := res.Output(scoreTask); ok {
			if v, err := validator.CleanAndParse(out.Raw); err == nil {
				score = findScore(v)
			}
		}
	}
	if !math.IsNaN(score) {
		report.Score = &score
	}

	if report.Report != nil && report.Score != nil {
		report.Status = StatusSuccess
	}

	a.logger.Info("ats analysis completed",
		zap.String(logger.FieldRunID, res.RunID),
		zap.String("status", string(report.Status)),
	)
	return report, nil
}

func (a *ATSChecker) extract(ctx context.Context, path string) (string, error) {
	loader := a.loader
	if loader == nil {
		var err error
		if loader, err = rag.LoaderFor(path); err != nil {
			return "", &InputError{Field: "resume", Reason: err.Error()}
		}
	}

	pages, err := loader.Load(ctx, path)
	if err != nil {
		return "", fmt.Errorf("extract resume text: %w", err)
	}

	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		if t := strings.TrimSpace(p.Text); t != "" {
			texts = append(texts, t)
		}
	}

	text := sanitize(strings.Join(texts, "\n"))
	if text == "" {
		return "", &InputError{Field: "resume", Reason: errEmptyResume.Error()}
	}
	return text, nil
}

func findScore(report any) float64 {
	if report == nil {
		return math.NaN()
	}
	for _, path := range scorePaths {
		if v, ok := validator.Lookup(report, path...); ok {
			if f := validator.CoerceFloat(v); !math.IsNaN(f) {
				return f
			}
		}
	}
	return math.NaN()
}
