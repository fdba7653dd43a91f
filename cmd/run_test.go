package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spigell/jobfit-ai/internal/pipelines"
)

func TestParseInputs(t *testing.T) {
	jd := filepath.Join(t.TempDir(), "jd.txt")
	if err := os.WriteFile(jd, []byte("Requirements: Go"), 0o600); err != nil {
		t.Fatalf("write jd: %v", err)
	}

	inputs, err := parseInputs([]string{"query=leave = 20 days", "job_description=@" + jd, " url =x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inputs["query"] != "leave = 20 days" {
		t.Fatalf("expected value after first '=', got %q", inputs["query"])
	}
	if inputs["job_description"] != "Requirements: Go" {
		t.Fatalf("expected file content, got %q", inputs["job_description"])
	}
	if inputs["url"] != "x" {
		t.Fatalf("expected trimmed key, got %v", inputs)
	}

	for _, bad := range []string{"novalue", "=value", "file=@" + filepath.Join(t.TempDir(), "missing")} {
		if _, err := parseInputs([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestDecodeInputs(t *testing.T) {
	var req pipelines.TailorRequest
	err := decodeInputs(map[string]string{
		"resume":          "cv.pdf",
		"job_posting_url": "https://jobs.example.com/1",
		"github_url":      "https://github.com/jane",
	}, &req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.ResumePath != "cv.pdf" || req.JobPostingURL != "https://jobs.example.com/1" || req.GitHubURL != "https://github.com/jane" {
		t.Fatalf("unexpected request: %+v", req)
	}

	var hr pipelines.HRQARequest
	err = decodeInputs(map[string]string{"question": "leave?"}, &hr)
	if err == nil || !strings.Contains(err.Error(), "question") {
		t.Fatalf("expected unused key error, got %v", err)
	}
}

func TestRunnersCoverEveryPipeline(t *testing.T) {
	for _, name := range allPipelines {
		if _, ok := runners[name]; !ok {
			t.Fatalf("pipeline %q has no runner", name)
		}
	}
}
