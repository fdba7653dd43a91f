package pipelines

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/spigell/jobfit-ai/configs"
	"github.com/spigell/jobfit-ai/internal/crew"
	"github.com/spigell/jobfit-ai/internal/embedding"
	"github.com/spigell/jobfit-ai/internal/index"
	"github.com/spigell/jobfit-ai/internal/rag"
	"github.com/spigell/jobfit-ai/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// roleLLM answers by the role named at the start of the system prompt.
type roleLLM struct {
	answers map[string]string
	fail    map[string]error

	mu      sync.Mutex
	prompts map[string]string
}

func (r *roleLLM) Complete(_ context.Context, system, prompt string) (string, error) {
	role := strings.TrimPrefix(strings.SplitN(system, ".", 2)[0], "You are ")

	r.mu.Lock()
	if r.prompts == nil {
		r.prompts = make(map[string]string)
	}
	r.prompts[role] = prompt
	r.mu.Unlock()

	if err, ok := r.fail[role]; ok {
		return "", err
	}
	answer, ok := r.answers[role]
	if !ok {
		return "", fmt.Errorf("no answer scripted for role %q", role)
	}
	return answer, nil
}

func (r *roleLLM) Model() string { return "scripted" }

func (r *roleLLM) prompt(t *testing.T, role string) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prompts[role]
	if !ok {
		t.Fatalf("role %q was never prompted", role)
	}
	return p
}

type fakeTool struct {
	name   string
	output string

	mu     sync.Mutex
	inputs []string
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return f.name + " tool" }
func (f *fakeTool) Run(_ context.Context, input string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	return f.output, nil
}

func loadDefinitions(t *testing.T, name string) *crew.Definitions {
	t.Helper()
	defs, err := crew.LoadDefinitions(configs.Definitions, name)
	if err != nil {
		t.Fatalf("load %s definitions: %v", name, err)
	}
	return defs
}

func sharedTools(scrape, search *fakeTool) tools.Set {
	return tools.Set{"scrape_website": scrape, "web_search": search}
}

func textLoader(pages ...string) rag.Loader {
	return rag.LoaderFunc(func(context.Context, string) ([]rag.Page, error) {
		out := make([]rag.Page, len(pages))
		for i, p := range pages {
			out[i] = rag.Page{Index: i, Text: p}
		}
		return out, nil
	})
}

func buildIndex(t *testing.T, pages ...string) *index.Index {
	t.Helper()
	p, err := rag.NewPipeline(embedding.NewHashEmbedder(256), nil, textLoader(pages...), nil)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	idx, err := p.LoadAndProcess(context.Background(), "handbook.txt")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	return idx
}

func TestBundledDefinitionsAreValid(t *testing.T) {
	known := map[string][]string{
		HRQAName:         {tools.DefaultRetrieverName},
		ATSCheckerName:   nil,
		JobAnalyzerName:  {"scrape_website", "web_search"},
		ResumeTailorName: {"scrape_website", "web_search", ResumeSearchName},
	}

	for name, toolNames := range known {
		t.Run(name, func(t *testing.T) {
			defs := loadDefinitions(t, name)
			if err := defs.Validate(toolNames, nil); err != nil {
				t.Fatalf("validate: %v", err)
			}
		})
	}
}

func TestHRQAAnswer(t *testing.T) {
	idx := buildIndex(t,
		"Employees accrue 20 vacation days per year.",
		"Remote work is allowed two days per week with manager approval.",
	)
	llm := &roleLLM{answers: map[string]string{
		"HR Policy Researcher": "Policy: 20 vacation days per year.",
		"HR Answer Writer":     "Draft: you get 20 days.",
		"HR Quality Reviewer":  "```markdown\nYou are entitled to 20 vacation days per year.\n```",
	}}

	qa, err := NewHRQA(loadDefinitions(t, HRQAName), idx, Options{LLM: llm})
	if err != nil {
		t.Fatalf("new hr qa: %v", err)
	}

	answer, err := qa.Answer(context.Background(), HRQARequest{Query: "How many vacation days do I get?"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}

	if answer.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", answer.Status)
	}
	if answer.Response != "You are entitled to 20 vacation days per year." {
		t.Fatalf("unexpected response %q", answer.Response)
	}
	if got := llm.prompt(t, "HR Policy Researcher"); !strings.Contains(got, "Employees accrue 20 vacation days per year.") {
		t.Fatalf("research prompt lacks retrieved passage: %q", got)
	}
	if got := llm.prompt(t, "HR Answer Writer"); !strings.Contains(got, "Policy: 20 vacation days per year.") {
		t.Fatalf("formulation prompt lacks research output: %q", got)
	}
	if got := llm.prompt(t, "HR Quality Reviewer"); !strings.Contains(got, "Draft: you get 20 days.") {
		t.Fatalf("qa prompt lacks formulation output: %q", got)
	}
}

func TestHRQAEmptyAnswerIsDegraded(t *testing.T) {
	llm := &roleLLM{answers: map[string]string{
		"HR Policy Researcher": "nothing relevant",
		"HR Answer Writer":     "no draft",
		"HR Quality Reviewer":  "",
	}}

	qa, err := NewHRQA(loadDefinitions(t, HRQAName), buildIndex(t, "Dress code is casual."), Options{LLM: llm})
	if err != nil {
		t.Fatalf("new hr qa: %v", err)
	}

	answer, err := qa.Answer(context.Background(), HRQARequest{Query: "Can I bring my dog?"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if answer.Status != StatusDegraded || answer.Response != "" {
		t.Fatalf("expected degraded empty answer, got %+v", answer)
	}
}

func TestHRQAErrors(t *testing.T) {
	boom := errors.New("quota exceeded")
	llm := &roleLLM{fail: map[string]error{"HR Policy Researcher": boom}}

	qa, err := NewHRQA(loadDefinitions(t, HRQAName), buildIndex(t, "Dress code is casual."), Options{LLM: llm})
	if err != nil {
		t.Fatalf("new hr qa: %v", err)
	}

	var inputErr *InputError
	if _, err := qa.Answer(context.Background(), HRQARequest{Query: "  \x00 "}); !errors.As(err, &inputErr) || inputErr.Field != "query" {
		t.Fatalf("expected input error on query, got %v", err)
	}

	_, err = qa.Answer(context.Background(), HRQARequest{Query: "dress code?"})
	var orchErr *crew.OrchestrationError
	if !errors.As(err, &orchErr) || orchErr.Task != "research_task" || !errors.Is(err, boom) {
		t.Fatalf("expected orchestration error from research_task, got %v", err)
	}
}

func TestNewHRQARequiresLLM(t *testing.T) {
	_, err := NewHRQA(loadDefinitions(t, HRQAName), buildIndex(t, "x"), Options{})
	var cfgErr *crew.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

const jobDescription = "Senior Go engineer. Requirements: 5+ years of experience with Go, PostgreSQL and Kubernetes."

func atsAnswers(feedback, score string) map[string]string {
	return map[string]string{
		"Resume Parser":           "Jane Doe, Go engineer, 6 years.",
		"Job Description Analyst": "Required: Go, PostgreSQL, Kubernetes.",
		"ATS Keyword Matcher":     "Matched: Go, PostgreSQL. Missing: Kubernetes.",
		"ATS Scoring Specialist":  score,
		"Resume Coach":            feedback,
	}
}

func TestATSAnalyze(t *testing.T) {
	llm := &roleLLM{answers: atsAnswers(
		"```json\n{\"ats_score\": \"82%\", \"missing_keywords\": [\"Kubernetes\"], \"summary\": \"Strong match\"}\n```",
		`{"ats_score": 80}`,
	)}

	checker, err := NewATSChecker(loadDefinitions(t, ATSCheckerName), nil, Options{LLM: llm})
	if err != nil {
		t.Fatalf("new ats checker: %v", err)
	}

	report, err := checker.Analyze(context.Background(), ATSRequest{
		ResumeText:     "Jane Doe\nGo engineer with 6 years of experience.",
		JobDescription: jobDescription,
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if report.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", report.Status)
	}
	if report.Score == nil || *report.Score != 82 {
		t.Fatalf("expected score 82, got %v", report.Score)
	}
	if report.Report == nil {
		t.Fatalf("expected parsed report")
	}
	if got := llm.prompt(t, "Resume Parser"); !strings.Contains(got, "Go engineer with 6 years of experience.") {
		t.Fatalf("parse prompt lacks resume text: %q", got)
	}
	if got := llm.prompt(t, "ATS Keyword Matcher"); !strings.Contains(got, "Jane Doe, Go engineer, 6 years.") || !strings.Contains(got, "Required: Go, PostgreSQL, Kubernetes.") {
		t.Fatalf("match prompt lacks parse and analysis outputs: %q", got)
	}
}

func TestATSAnalyzeFallsBackToScoreTask(t *testing.T) {
	llm := &roleLLM{answers: atsAnswers("Your resume is a good match, add Kubernetes.", `{"ats_score": "75/100"}`)}

	checker, err := NewATSChecker(loadDefinitions(t, ATSCheckerName), nil, Options{LLM: llm})
	if err != nil {
		t.Fatalf("new ats checker: %v", err)
	}

	report, err := checker.Analyze(context.Background(), ATSRequest{ResumeText: "Jane Doe", JobDescription: jobDescription})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if report.Status != StatusDegraded || report.Report != nil {
		t.Fatalf("expected degraded raw report, got %+v", report)
	}
	if report.Score == nil || *report.Score != 75 {
		t.Fatalf("expected score 75 from the scoring step, got %v", report.Score)
	}
	if report.Response != "Your resume is a good match, add Kubernetes." {
		t.Fatalf("unexpected response %q", report.Response)
	}
}

func TestATSAnalyzeReadsResumeFile(t *testing.T) {
	llm := &roleLLM{answers: atsAnswers(`{"ats_score": 90}`, `{"ats_score": 90}`)}
	loader := textLoader("Jane Doe", "  ", "Staff engineer at Acme")

	checker, err := NewATSChecker(loadDefinitions(t, ATSCheckerName), loader, Options{LLM: llm})
	if err != nil {
		t.Fatalf("new ats checker: %v", err)
	}

	if _, err := checker.Analyze(context.Background(), ATSRequest{ResumePath: "resume.pdf", JobDescription: jobDescription}); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got := llm.prompt(t, "Resume Parser"); !strings.Contains(got, "Jane Doe\nStaff engineer at Acme") {
		t.Fatalf("parse prompt lacks extracted resume: %q", got)
	}

	empty, err := NewATSChecker(loadDefinitions(t, ATSCheckerName), textLoader(" "), Options{LLM: llm})
	if err != nil {
		t.Fatalf("new ats checker: %v", err)
	}
	var inputErr *InputError
	if _, err := empty.Analyze(context.Background(), ATSRequest{ResumePath: "scan.pdf", JobDescription: jobDescription}); !errors.As(err, &inputErr) {
		t.Fatalf("expected input error for empty resume, got %v", err)
	}
}

func TestValidateJobDescription(t *testing.T) {
	tests := []struct {
		name    string
		jd      string
		wantErr string
	}{
		{name: "valid", jd: jobDescription},
		{name: "empty", jd: "   ", wantErr: "is required"},
		{name: "too short", jd: "Go dev. Skills: Go.", wantErr: "at least 50"},
		{name: "no key terms", jd: strings.Repeat("We are a friendly team building great things. ", 3), wantErr: "must mention"},
		{name: "case insensitive", jd: "We are hiring a backend developer. QUALIFICATIONS: a degree in computer science."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJobDescription(tt.jd)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var inputErr *InputError
			if !errors.As(err, &inputErr) || inputErr.Field != "job_description" || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected job_description error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestExtractCompanyName(t *testing.T) {
	tests := []struct {
		details string
		expect  string
	}{
		{details: "Company Name: Acme Corp\nRole: Go engineer", expect: "Acme Corp"},
		{details: "Title: SRE\nCompany:  Globex  \nLocation: Remote", expect: "Globex"},
		{details: "Organization: Initech", expect: "Initech"},
		{details: "Employer: Umbrella\nCompany Name: Acme", expect: "Acme"},
		{details: "Company:\nEmployer: Hooli", expect: "Hooli"},
		{details: "A great job at a stealth startup", expect: "Unknown Company"},
	}

	for _, tt := range tests {
		if got := ExtractCompanyName(tt.details); got != tt.expect {
			t.Fatalf("ExtractCompanyName(%q) = %q, expected %q", tt.details, got, tt.expect)
		}
	}
}

func TestJobAnalyzerInsights(t *testing.T) {
	scrape := &fakeTool{name: "scrape_website", output: "Acme Corp is hiring a Go engineer in Berlin."}
	search := &fakeTool{name: "web_search", output: "Acme Corp builds rockets. 500 employees."}
	llm := &roleLLM{answers: map[string]string{
		"Job Posting Scraper":     "Company Name: Acme Corp\nTitle: Go engineer\nLocation: Berlin",
		"Company Researcher":      "Acme Corp builds rockets and has 500 employees.",
		"Career Insights Analyst": "```markdown\n# Go engineer at Acme Corp\nApply now.\n```",
	}}

	analyzer, err := NewJobAnalyzer(loadDefinitions(t, JobAnalyzerName), Options{LLM: llm, Tools: sharedTools(scrape, search)})
	if err != nil {
		t.Fatalf("new job analyzer: %v", err)
	}

	insights, err := analyzer.Insights(context.Background(), JobAnalysisRequest{URL: "https://jobs.example.com/42"})
	if err != nil {
		t.Fatalf("insights: %v", err)
	}

	if insights.Status != StatusSuccess || insights.Company != "Acme Corp" {
		t.Fatalf("unexpected insights %+v", insights)
	}
	if insights.Response != "# Go engineer at Acme Corp\nApply now." {
		t.Fatalf("unexpected response %q", insights.Response)
	}
	if len(scrape.inputs) != 1 || scrape.inputs[0] != "https://jobs.example.com/42" {
		t.Fatalf("unexpected scrape inputs %v", scrape.inputs)
	}
	if len(search.inputs) != 1 || !strings.HasPrefix(search.inputs[0], "Acme Corp ") {
		t.Fatalf("unexpected search inputs %v", search.inputs)
	}
	compile := llm.prompt(t, "Career Insights Analyst")
	if !strings.Contains(compile, "Location: Berlin") || !strings.Contains(compile, "has 500 employees") {
		t.Fatalf("compile prompt lacks job details or research: %q", compile)
	}
}

func TestJobAnalyzerRejectsInvalidURL(t *testing.T) {
	llm := &roleLLM{}
	analyzer, err := NewJobAnalyzer(loadDefinitions(t, JobAnalyzerName), Options{LLM: llm, Tools: sharedTools(&fakeTool{name: "scrape_website"}, &fakeTool{name: "web_search"})})
	if err != nil {
		t.Fatalf("new job analyzer: %v", err)
	}

	for _, url := range []string{"", "not a url", "ftp://example.com/job"} {
		var inputErr *InputError
		if _, err := analyzer.Insights(context.Background(), JobAnalysisRequest{URL: url}); !errors.As(err, &inputErr) || inputErr.Field != "url" {
			t.Fatalf("expected url input error for %q, got %v", url, err)
		}
	}
}

const tailoredResume = "```json\n" + `{
  "name": "Jane Doe",
  "about_me": "Go engineer focused on distributed systems.",
  "contact_info": {"email": "jane@example.com", "github": "https://github.com/jane"},
  "education": [{"degree": "BSc Computer Science", "institution": "TU Berlin"}],
  "experience": [{"job_title": "Staff Engineer", "company": "Acme", "achievements": ["Cut p99 latency by 40%"]}],
  "skills": ["Go", "PostgreSQL"],
  "soft_skills": ["Mentoring"]
}` + "\n```"

func newTailor(t *testing.T, llm *roleLLM, outputDir string) *ResumeTailor {
	t.Helper()
	ingest, err := rag.NewPipeline(
		embedding.NewHashEmbedder(256),
		nil,
		textLoader("Jane Doe. Staff Engineer at Acme. Cut p99 latency by 40 percent.", "Education: BSc Computer Science, TU Berlin."),
		nil,
	)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	scrape := &fakeTool{name: "scrape_website", output: "Senior Go engineer at Globex. Requirements: Go, PostgreSQL."}
	tailor, err := NewResumeTailor(loadDefinitions(t, ResumeTailorName), ingest, Options{
		LLM:       llm,
		Tools:     sharedTools(scrape, &fakeTool{name: "web_search"}),
		OutputDir: outputDir,
	})
	if err != nil {
		t.Fatalf("new resume tailor: %v", err)
	}
	return tailor
}

func tailorAnswers(strategy string) map[string]string {
	return map[string]string{
		"Tech Job Researcher":             "Needs Go and PostgreSQL.",
		"Personal Profiler for Engineers": "Jane is a staff engineer who cares about latency.",
		"Resume Strategist for Engineers": strategy,
		"Engineering Interview Preparer":  "```markdown\n## Questions\n- Tell us about the latency work.\n```",
	}
}

func TestResumeTailor(t *testing.T) {
	dir := t.TempDir()
	llm := &roleLLM{answers: tailorAnswers(tailoredResume)}

	out, err := newTailor(t, llm, dir).Tailor(context.Background(), TailorRequest{
		ResumePath:      "resume.pdf",
		JobPostingURL:   "https://jobs.example.com/go",
		GitHubURL:       "https://github.com/jane",
		PersonalWriteup: "I love performance work.",
	})
	if err != nil {
		t.Fatalf("tailor: %v", err)
	}

	if out.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", out.Status, out.Warnings)
	}
	if out.Resume == nil || out.Resume.Name != "Jane Doe" || out.Resume.Experience[0].Company != "Acme" {
		t.Fatalf("unexpected resume %+v", out.Resume)
	}
	if out.Result != "## Questions\n- Tell us about the latency work." {
		t.Fatalf("unexpected result %q", out.Result)
	}
	if !strings.HasPrefix(out.ResumeFile, dir) {
		t.Fatalf("resume file %q is outside %q", out.ResumeFile, dir)
	}
	if _, err := os.Stat(out.ResumeFile); err != nil {
		t.Fatalf("resume file: %v", err)
	}

	profile := llm.prompt(t, "Personal Profiler for Engineers")
	if !strings.Contains(profile, "Staff Engineer at Acme") || !strings.Contains(profile, "I love performance work.") {
		t.Fatalf("profile prompt lacks resume search results or write-up: %q", profile)
	}
	interview := llm.prompt(t, "Engineering Interview Preparer")
	for _, want := range []string{"Needs Go and PostgreSQL.", "cares about latency", `"name": "Jane Doe"`} {
		if !strings.Contains(interview, want) {
			t.Fatalf("interview prompt lacks %q: %q", want, interview)
		}
	}
}

func TestResumeTailorDegradesWithoutResumeJSON(t *testing.T) {
	llm := &roleLLM{answers: tailorAnswers("Here is the tailored resume: Jane Doe, Staff Engineer.")}

	out, err := newTailor(t, llm, t.TempDir()).Tailor(context.Background(), TailorRequest{
		ResumePath:    "resume.pdf",
		JobPostingURL: "https://jobs.example.com/go",
	})
	if err != nil {
		t.Fatalf("tailor: %v", err)
	}

	if out.Status != StatusDegraded || out.Resume != nil {
		t.Fatalf("expected degraded result without resume, got %+v", out)
	}
	if len(out.Warnings) != 1 || !strings.Contains(out.Warnings[0], "resume_strategy_task") {
		t.Fatalf("unexpected warnings %v", out.Warnings)
	}
	if out.Result == "" {
		t.Fatalf("interview preparation must still be returned")
	}
}

func TestResumeTailorValidatesRequest(t *testing.T) {
	tailor := newTailor(t, &roleLLM{}, t.TempDir())

	tests := []struct {
		req   TailorRequest
		field string
	}{
		{req: TailorRequest{JobPostingURL: "https://jobs.example.com"}, field: "resume"},
		{req: TailorRequest{ResumePath: "r.pdf"}, field: "job_posting_url"},
		{req: TailorRequest{ResumePath: "r.pdf", JobPostingURL: "https://jobs.example.com", GitHubURL: "github"}, field: "github_url"},
	}

	for _, tt := range tests {
		var inputErr *InputError
		if _, err := tailor.Tailor(context.Background(), tt.req); !errors.As(err, &inputErr) || inputErr.Field != tt.field {
			t.Fatalf("expected input error on %s, got %v", tt.field, err)
		}
	}
}

func TestSanitize(t *testing.T) {
	got := sanitize("  line one\x00\nline\ttwo\x1b  ")
	if got != "line one\nline\ttwo" {
		t.Fatalf("unexpected sanitized text %q", got)
	}

	long := strings.Repeat("a", maxInputLength+10)
	if n := len(sanitize(long)); n != maxInputLength {
		t.Fatalf("expected %d characters, got %d", maxInputLength, n)
	}
}
