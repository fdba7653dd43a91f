package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/spigell/jobfit-ai/internal/pipelines"
)

const (
	defaultAddr          = ":8000"
	defaultUploadDir     = "data/uploads"
	defaultMaxUploadSize = 10 << 20
)

type HRAnswerer interface {
	Answer(ctx context.Context, req pipelines.HRQARequest) (*pipelines.HRAnswer, error)
}

type ATSAnalyzer interface {
	Analyze(ctx context.Context, req pipelines.ATSRequest) (*pipelines.ATSReport, error)
}

type JobInsighter interface {
	Insights(ctx context.Context, req pipelines.JobAnalysisRequest) (*pipelines.JobInsights, error)
}

type ResumeTailorer interface {
	Tailor(ctx context.Context, req pipelines.TailorRequest) (*pipelines.TailoredResume, error)
}

// Services are the pipelines served over HTTP. A nil service answers 503.
type Services struct {
	HRQA    HRAnswerer
	ATS     ATSAnalyzer
	Jobs    JobInsighter
	Resumes ResumeTailorer
}

type Config struct {
	Addr      string `mapstructure:"addr"`
	UploadDir string `mapstructure:"upload-dir"`
	// MaxUploadSize limits uploaded resumes in bytes.
	MaxUploadSize int64 `mapstructure:"max-upload-size"`
}

type Server struct {
	app    *fiber.App
	cfg    Config
	svc    Services
	logger *zap.Logger
}

func New(cfg Config, svc Services, log *zap.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = defaultUploadDir
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = defaultMaxUploadSize
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{cfg: cfg, svc: svc, logger: log}

	s.app = fiber.New(fiber.Config{
		AppName:               "jobfit-ai",
		BodyLimit:             int(cfg.MaxUploadSize) + 1<<20,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(recover.New())
	s.app.Use(s.logRequests)

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := s.app.Group("/api")
	api.Post("/hr-qa/answer", s.answerHRQuestion)
	api.Post("/ats-checker/check", s.checkATS)
	api.Post("/job-analysis/analyze", s.analyzeJob)
	api.Post("/resume-builder/check", s.tailorResume)
}

// App exposes the underlying fiber app, mostly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	started := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
	}

	s.logger.Info("http request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(started)),
	)
	return err
}
