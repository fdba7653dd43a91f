package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobfit-ai/configs"
	"github.com/spigell/jobfit-ai/internal/ai"
	"github.com/spigell/jobfit-ai/internal/ai/gemini"
	"github.com/spigell/jobfit-ai/internal/crew"
	"github.com/spigell/jobfit-ai/internal/embedding"
	"github.com/spigell/jobfit-ai/internal/index"
	"github.com/spigell/jobfit-ai/internal/logger"
	"github.com/spigell/jobfit-ai/internal/pipelines"
	"github.com/spigell/jobfit-ai/internal/rag"
	"github.com/spigell/jobfit-ai/internal/schema"
	"github.com/spigell/jobfit-ai/internal/secrets"
	"github.com/spigell/jobfit-ai/internal/server"
	"github.com/spigell/jobfit-ai/internal/tools"
	"github.com/spigell/jobfit-ai/internal/utils"
)

var allPipelines = []string{
	pipelines.HRQAName,
	pipelines.ATSCheckerName,
	pipelines.JobAnalyzerName,
	pipelines.ResumeTailorName,
}

// application holds everything the commands share once the config is loaded.
type application struct {
	cfg    *Config
	logger *zap.Logger

	embedder ai.Embedder
	ingest   *rag.Pipeline
	store    *index.PGStore
	defs     fs.FS
}

func newApplication(ctx context.Context) (*application, error) {
	config, err := getConfig()
	if err != nil {
		return nil, fmt.Errorf("getting a config: %w", err)
	}

	log, err := logger.New(logger.Options{
		JSON:       jsonLogs(),
		Debug:      debugLogs(),
		File:       config.Log.File,
		MaxSizeMB:  config.Log.MaxSizeMB,
		MaxBackups: config.Log.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("creating a logger: %w", err)
	}

	a := &application{cfg: config, logger: log, defs: configs.Definitions}

	if dir := strings.TrimSpace(config.Pipelines.ConfigDir); dir != "" {
		a.defs = os.DirFS(dir)
	}

	a.embedder, err = a.newEmbedder(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	splitter, err := rag.NewSplitter(config.RAG.ChunkSize, config.RAG.ChunkOverlap)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("rag splitter: %w", err)
	}

	a.ingest, err = rag.NewPipeline(a.embedder, splitter, nil, log.Named("rag"))
	if err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func (a *application) close() {
	if a.store != nil {
		a.store.Close()
	}
	logger.Sync(a.logger)
}

func (a *application) newLLM(ctx context.Context) (ai.Provider, error) {
	cfg := a.cfg.LLM
	if provider := strings.TrimSpace(cfg.Provider); provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported llm provider %q", provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.APIKey,
		File:  cfg.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set llm.api-key-file, GEMINI_API_KEY_FILE or GEMINI_API_KEY)", err)
	}

	return gemini.NewGenerator(ctx, apiKey, gemini.Options{
		Model:        cfg.Model,
		MaxRetries:   cfg.MaxRetries,
		MaxLogLength: cfg.MaxLogLength,
		Temperature:  cfg.Temperature,
	}, a.logger.Named("llm"))
}

func (a *application) newEmbedder(ctx context.Context) (ai.Embedder, error) {
	cfg := a.cfg.Embedding
	switch provider := strings.TrimSpace(cfg.Provider); provider {
	case "hash":
		return embedding.NewHashEmbedder(cfg.Dimensions), nil
	case "", "gemini":
		apiKey, err := secrets.Load(secrets.Source{
			Name:  "gemini api key",
			Value: a.cfg.LLM.APIKey,
			File:  a.cfg.LLM.APIKeyFile,
		})
		if err != nil {
			return nil, fmt.Errorf("%w (or set embedding.provider to hash)", err)
		}
		return gemini.NewEmbedder(ctx, apiKey, cfg.Model, a.logger.Named("embedding"))
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", provider)
	}
}

// newTools builds the shared web tools. Searching works without a Serper key
// by falling back to DuckDuckGo.
func (a *application) newTools() (tools.Set, error) {
	cfg := a.cfg.Tools
	client := &http.Client{Timeout: cfg.Timeout}

	serperKey, err := secrets.Load(secrets.Source{
		Name:  "serper api key",
		Value: cfg.SerperAPIKey,
		File:  cfg.SerperAPIKeyFile,
	})
	if err != nil {
		a.logger.Info("web search falls back to duckduckgo", zap.String("reason", err.Error()))
		serperKey = ""
	}

	scrape := tools.NewScrapeTool(client, cfg.MaxContentLength, a.logger.Named("scrape"))
	search := tools.NewSearchTool(client, serperKey, cfg.MaxResults, a.logger.Named("search"))

	return tools.NewSet(
		tools.Cached(scrape, cfg.CacheTTL),
		tools.Cached(search, cfg.CacheTTL),
	)
}

func (a *application) definitions(name string) (*crew.Definitions, error) {
	return crew.LoadDefinitions(a.defs, name)
}

func (a *application) openStore(ctx context.Context) (*index.PGStore, error) {
	if a.store != nil {
		return a.store, nil
	}

	store, err := index.NewPGStore(ctx, a.cfg.RAG.Postgres.DSN, a.embedder, a.logger.Named("pgvector"))
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}

	a.store = store
	return store, nil
}

var errNoHRDocuments = errors.New("no hr documents configured")

// hrSearcher builds the HR policy index. With the pgvector store an existing
// collection is reused unless reindexing is requested.
func (a *application) hrSearcher(ctx context.Context) (index.Searcher, error) {
	cfg := a.cfg.RAG

	switch cfg.Store {
	case "", "memory":
		if len(cfg.HRDocuments) == 0 {
			return nil, errNoHRDocuments
		}
		return a.ingest.LoadAndProcessAll(ctx, cfg.HRDocuments)
	case "pgvector":
		store, err := a.openStore(ctx)
		if err != nil {
			return nil, err
		}

		collection := cfg.Postgres.Collection
		if !cfg.Postgres.Reindex {
			existing, err := store.Load(ctx, collection)
			if err != nil {
				return nil, err
			}
			if existing.Len() > 0 {
				a.logger.Info("reusing stored hr index",
					zap.String("collection", collection),
					zap.Int("chunks", existing.Len()),
				)
				return store.Collection(collection), nil
			}
		}

		if len(cfg.HRDocuments) == 0 {
			return nil, errNoHRDocuments
		}
		idx, err := a.ingest.LoadAndProcessAll(ctx, cfg.HRDocuments)
		if err != nil {
			return nil, err
		}
		if err := store.Save(ctx, collection, idx); err != nil {
			return nil, err
		}
		return store.Collection(collection), nil
	default:
		return nil, fmt.Errorf("unsupported rag store %q", cfg.Store)
	}
}

func (a *application) pipelineOptions(ctx context.Context) (pipelines.Options, error) {
	llm, err := a.newLLM(ctx)
	if err != nil {
		return pipelines.Options{}, err
	}

	toolset, err := a.newTools()
	if err != nil {
		return pipelines.Options{}, err
	}

	return pipelines.Options{
		LLM:          llm,
		Tools:        toolset,
		Registry:     schema.DefaultRegistry(),
		OutputDir:    a.cfg.Pipelines.OutputDir,
		RunTimeout:   a.cfg.Pipelines.RunTimeout,
		SerializeLLM: a.cfg.LLM.Serialize,
		K:            a.cfg.RAG.K,
		Tokens:       utils.NewTokenCounter(a.cfg.LLM.TokenEncoding),
		Logger:       a.logger.Named("pipelines"),
	}, nil
}

// services builds the requested pipelines. The HR pipeline is skipped with a
// warning when there is nothing to index so the rest stays usable.
func (a *application) services(ctx context.Context, names []string) (server.Services, error) {
	var svc server.Services

	opts, err := a.pipelineOptions(ctx)
	if err != nil {
		return svc, err
	}

	for _, name := range names {
		if !slices.Contains(allPipelines, name) {
			return svc, fmt.Errorf("unknown pipeline %q (known: %s)", name, strings.Join(allPipelines, ", "))
		}

		defs, err := a.definitions(name)
		if err != nil {
			return svc, err
		}

		switch name {
		case pipelines.HRQAName:
			searcher, err := a.hrSearcher(ctx)
			if errors.Is(err, errNoHRDocuments) {
				a.logger.Warn("hr qa pipeline disabled", zap.String("reason", err.Error()))
				continue
			}
			if err != nil {
				return svc, fmt.Errorf("building hr index: %w", err)
			}
			if svc.HRQA, err = pipelines.NewHRQA(defs, searcher, opts); err != nil {
				return svc, err
			}
		case pipelines.ATSCheckerName:
			if svc.ATS, err = pipelines.NewATSChecker(defs, nil, opts); err != nil {
				return svc, err
			}
		case pipelines.JobAnalyzerName:
			if svc.Jobs, err = pipelines.NewJobAnalyzer(defs, opts); err != nil {
				return svc, err
			}
		case pipelines.ResumeTailorName:
			if svc.Resumes, err = pipelines.NewResumeTailor(defs, a.ingest, opts); err != nil {
				return svc, err
			}
		}

		a.logger.Info("pipeline ready", zap.String(logger.FieldPipeline, name))
	}

	return svc, nil
}

func (a *application) enabledPipelines() []string {
	enabled := a.cfg.Pipelines.Enabled
	if len(enabled) == 0 {
		return allPipelines
	}
	return slices.Compact(slices.Clone(enabled))
}
