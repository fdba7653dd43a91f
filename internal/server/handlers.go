package server

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spigell/jobfit-ai/internal/pipelines"
)

// textBody accepts a JSON object carrying field, a JSON string or plain text.
func textBody(c *fiber.Ctx, field string) (string, error) {
	body := strings.TrimSpace(string(c.Body()))
	if body == "" {
		return "", nil
	}

	switch body[0] {
	case '{':
		var obj map[string]any
		if err := json.Unmarshal([]byte(body), &obj); err != nil {
			return "", fiber.NewError(fiber.StatusBadRequest, "malformed JSON body")
		}
		v, _ := obj[field].(string)
		return v, nil
	case '"':
		var v string
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			return "", fiber.NewError(fiber.StatusBadRequest, "malformed JSON string body")
		}
		return v, nil
	default:
		return body, nil
	}
}

func (s *Server) answerHRQuestion(c *fiber.Ctx) error {
	if s.svc.HRQA == nil {
		return errServiceDisabled
	}

	query, err := textBody(c, "query")
	if err != nil {
		return err
	}

	answer, err := s.svc.HRQA.Answer(c.UserContext(), pipelines.HRQARequest{Query: query})
	if err != nil {
		return err
	}
	return c.JSON(answer)
}

func (s *Server) checkATS(c *fiber.Ctx) error {
	if s.svc.ATS == nil {
		return errServiceDisabled
	}

	// Validate the job description before touching the upload.
	jd := c.FormValue("job_description")
	if err := pipelines.ValidateJobDescription(jd); err != nil {
		return err
	}

	path, cleanup, err := s.saveResume(c)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := s.svc.ATS.Analyze(c.UserContext(), pipelines.ATSRequest{ResumePath: path, JobDescription: jd})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"response": report})
}

func (s *Server) analyzeJob(c *fiber.Ctx) error {
	if s.svc.Jobs == nil {
		return errServiceDisabled
	}

	url, err := textBody(c, "url")
	if err != nil {
		return err
	}

	insights, err := s.svc.Jobs.Insights(c.UserContext(), pipelines.JobAnalysisRequest{URL: url})
	if err != nil {
		return err
	}
	return c.JSON(insights)
}

func (s *Server) tailorResume(c *fiber.Ctx) error {
	if s.svc.Resumes == nil {
		return errServiceDisabled
	}

	path, cleanup, err := s.saveResume(c)
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := s.svc.Resumes.Tailor(c.UserContext(), pipelines.TailorRequest{
		ResumePath:      path,
		JobPostingURL:   c.FormValue("job_posting_url"),
		GitHubURL:       c.FormValue("github_url"),
		PersonalWriteup: c.FormValue("write_up"),
	})
	if err != nil {
		return err
	}
	return c.JSON(out)
}
