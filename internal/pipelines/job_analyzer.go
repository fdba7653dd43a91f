package pipelines

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobfit-ai/internal/crew"
	"github.com/spigell/jobfit-ai/internal/logger"
	"github.com/spigell/jobfit-ai/internal/validator"
)

const (
	scrapeJobTask       = "scrape_job_task"
	researchCompanyTask = "research_company_task"
	compileInsightsTask = "compile_insights_task"

	unknownCompany = "Unknown Company"
)

var companyPrefixes = []string{"Company Name:", "Company:", "Organization:", "Employer:"}

type JobAnalysisRequest struct {
	URL string `mapstructure:"url" json:"url" validate:"required,http_url"`
}

type JobInsights struct {
	Status   Status `json:"status"`
	Company  string `json:"company"`
	Response string `json:"response"`
	Message  string `json:"message"`
}

// JobAnalyzer scrapes a posting, researches the employer and compiles a
// report. Each step is its own crew so the company name can be extracted in
// between.
type JobAnalyzer struct {
	scrape   *crew.Crew
	research *crew.Crew
	compile  *crew.Crew
	opts     Options
	logger   *zap.Logger
}

func NewJobAnalyzer(defs *crew.Definitions, opts Options) (*JobAnalyzer, error) {
	crews := make([]*crew.Crew, 0, 3)
	for _, task := range []string{scrapeJobTask, researchCompanyTask, compileInsightsTask} {
		sub, err := defs.Only(task)
		if err != nil {
			return nil, err
		}
		c, err := opts.build(sub)
		if err != nil {
			return nil, err
		}
		crews = append(crews, c)
	}

	return &JobAnalyzer{
		scrape:   crews[0],
		research: crews[1],
		compile:  crews[2],
		opts:     opts,
		logger:   opts.logger().With(zap.String(logger.FieldPipeline, JobAnalyzerName)),
	}, nil
}

// ExtractCompanyName returns the text after the first known company prefix
// up to the end of its line.
func ExtractCompanyName(details string) string {
	for _, prefix := range companyPrefixes {
		i := strings.Index(details, prefix)
		if i < 0 {
			continue
		}
		rest := details[i+len(prefix):]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[:nl]
		}
		if name := strings.TrimSpace(rest); name != "" {
			return name
		}
	}
	return unknownCompany
}

// Insights analyzes the posting at req.URL.
func (j *JobAnalyzer) Insights(ctx context.Context, req JobAnalysisRequest) (*JobInsights, error) {
	req.URL = strings.TrimSpace(req.URL)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ctx, cancel := j.opts.withTimeout(ctx)
	defer cancel()

	details, err := stage(j.logger, "scrape job details", func() (string, error) {
		return j.kickoff(ctx, j.scrape, map[string]string{"job_url": req.URL})
	})
	if err != nil {
		return nil, err
	}

	company := ExtractCompanyName(details)
	if company == unknownCompany {
		j.logger.Warn("company name not found in job details, using default")
	}
	j.logger.Info("extracted company name", zap.String("company", company))

	research, err := stage(j.logger, "research company", func() (string, error) {
		return j.kickoff(ctx, j.research, map[string]string{"company_name": company})
	})
	if err != nil {
		return nil, err
	}

	insights, err := stage(j.logger, "compile insights", func() (string, error) {
		return j.kickoff(ctx, j.compile, map[string]string{
			"job_details":      details,
			"company_research": research,
		})
	})
	if err != nil {
		return nil, err
	}

	insights = validator.CleanMarkdown(insights)
	if insights == "" {
		return &JobInsights{Status: StatusDegraded, Company: company, Message: "the analysis produced no insights"}, nil
	}

	return &JobInsights{
		Status:   StatusSuccess,
		Company:  company,
		Response: insights,
		Message:  "job analysis completed successfully",
	}, nil
}

func (j *JobAnalyzer) kickoff(ctx context.Context, c *crew.Crew, inputs map[string]string) (string, error) {
	res, err := c.Kickoff(ctx, inputs)
	if err != nil {
		return "", err
	}
	return res.Raw, nil
}
