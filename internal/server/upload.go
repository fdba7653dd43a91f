package server

import (
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const resumeField = "file"

// saveResume stores the uploaded PDF under a unique name. The returned
// cleanup removes it again.
func (s *Server) saveResume(c *fiber.Ctx) (string, func(), error) {
	fh, err := c.FormFile(resumeField)
	if err != nil {
		return "", nil, fiber.NewError(fiber.StatusBadRequest, "resume file is required")
	}

	if err := s.checkResume(fh); err != nil {
		return "", nil, err
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(s.cfg.UploadDir, uuid.NewString()+"_"+sanitizeFilename(fh.Filename))
	if err := c.SaveFile(fh, path); err != nil {
		return "", nil, fmt.Errorf("save upload: %w", err)
	}

	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove upload", zap.String("file", path), zap.Error(err))
		}
	}
	return path, cleanup, nil
}

func (s *Server) checkResume(fh *multipart.FileHeader) error {
	if fh.Size == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "resume file appears to be empty")
	}
	if fh.Size > s.cfg.MaxUploadSize {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, fmt.Sprintf("resume file exceeds %d bytes", s.cfg.MaxUploadSize))
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
		return fiber.NewError(fiber.StatusBadRequest, "only PDF resumes are supported")
	}
	return nil
}

// sanitizeFilename keeps letters, digits, dashes, underscores and dots.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return -1
		}
	}, name)
	clean = strings.TrimLeft(clean, ".")
	if clean == "" {
		return "resume.pdf"
	}
	return clean
}
