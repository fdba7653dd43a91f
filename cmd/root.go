package cmd

import (
	"errors"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/jobfit-ai/internal/server"
)

const (
	app = "jobfit-ai"
)

type Config struct {
	LLM       *LLMConfig       `mapstructure:"llm"`
	Embedding *EmbeddingConfig `mapstructure:"embedding"`
	RAG       *RAGConfig       `mapstructure:"rag"`
	Tools     *ToolsConfig     `mapstructure:"tools"`
	Pipelines *PipelinesConfig `mapstructure:"pipelines"`
	Server    server.Config    `mapstructure:"server"`
	Log       *LogConfig       `mapstructure:"log"`
}

type LLMConfig struct {
	Provider     string   `mapstructure:"provider"`
	Model        string   `mapstructure:"model"`
	APIKey       string   `mapstructure:"api-key"`
	APIKeyFile   string   `mapstructure:"api-key-file"`
	MaxRetries   int      `mapstructure:"max-retries"`
	MaxLogLength int      `mapstructure:"max-log-length"`
	Temperature  *float32 `mapstructure:"temperature"`
	// Serialize forces one in-flight completion at a time.
	Serialize bool `mapstructure:"serialize"`
	// TokenEncoding names the tiktoken encoding used for prompt statistics.
	TokenEncoding string `mapstructure:"token-encoding"`
}

type EmbeddingConfig struct {
	// Provider is gemini or hash.
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

type RAGConfig struct {
	ChunkSize    int      `mapstructure:"chunk-size"`
	ChunkOverlap int      `mapstructure:"chunk-overlap"`
	K            int      `mapstructure:"k"`
	HRDocuments  []string `mapstructure:"hr-documents"`
	// Store is memory or pgvector.
	Store    string          `mapstructure:"store"`
	Postgres *PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	DSN        string `mapstructure:"dsn"`
	Collection string `mapstructure:"collection"`
	// Reindex rebuilds the collection on startup even when it already has rows.
	Reindex bool `mapstructure:"reindex"`
}

type ToolsConfig struct {
	SerperAPIKey     string        `mapstructure:"serper-api-key"`
	SerperAPIKeyFile string        `mapstructure:"serper-api-key-file"`
	MaxContentLength int           `mapstructure:"max-content-length"`
	MaxResults       int           `mapstructure:"max-results"`
	Timeout          time.Duration `mapstructure:"timeout"`
	CacheTTL         time.Duration `mapstructure:"cache-ttl"`
}

type PipelinesConfig struct {
	// ConfigDir overrides the bundled agent and task definitions.
	ConfigDir  string        `mapstructure:"config-dir"`
	OutputDir  string        `mapstructure:"output-dir"`
	RunTimeout time.Duration `mapstructure:"run-timeout"`
	Enabled    []string      `mapstructure:"enabled"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max-size-mb"`
	MaxBackups int    `mapstructure:"max-backups"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "jobfit-ai runs multi-agent LLM pipelines for HR questions, ATS checks, job analysis and resume tailoring",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	envs := map[string]string{
		"llm.api-key":               "GEMINI_API_KEY",
		"llm.api-key-file":          "GEMINI_API_KEY_FILE",
		"tools.serper-api-key":      "SERPER_API_KEY",
		"tools.serper-api-key-file": "SERPER_API_KEY_FILE",
		"rag.postgres.dsn":          "JOBFIT_POSTGRES_DSN",
	}
	for key, env := range envs {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	setDefaults()

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is jobfit-ai.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func setDefaults() {
	viper.SetDefault("llm.provider", "gemini")
	viper.SetDefault("llm.model", "gemini-2.0-flash")
	viper.SetDefault("llm.max-retries", 3)
	viper.SetDefault("llm.max-log-length", 200)
	viper.SetDefault("llm.token-encoding", "cl100k_base")

	viper.SetDefault("embedding.provider", "gemini")
	viper.SetDefault("embedding.model", "text-embedding-004")
	viper.SetDefault("embedding.dimensions", 256)

	viper.SetDefault("rag.chunk-size", 1200)
	viper.SetDefault("rag.chunk-overlap", 240)
	viper.SetDefault("rag.k", 5)
	viper.SetDefault("rag.store", "memory")
	viper.SetDefault("rag.postgres.collection", "hr_documents")

	viper.SetDefault("tools.max-content-length", 50000)
	viper.SetDefault("tools.max-results", 5)
	viper.SetDefault("tools.timeout", 30*time.Second)
	viper.SetDefault("tools.cache-ttl", 10*time.Minute)

	viper.SetDefault("pipelines.output-dir", "data/output")
	viper.SetDefault("pipelines.run-timeout", 5*time.Minute)

	viper.SetDefault("server.addr", ":8000")
	viper.SetDefault("server.upload-dir", "data/uploads")
	viper.SetDefault("server.max-upload-size", 10<<20)
}

func initConfig() {
	// .env is optional; variables already present in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	err := viper.ReadInConfig()
	if err == nil {
		return
	}

	// Defaults and environment are enough when no config file is present.
	var notFound viper.ConfigFileNotFoundError
	if cfgFile == "" && errors.As(err, &notFound) {
		return
	}

	// We can't proceed if the config file parsed with error.
	log.Fatal(err)
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config == nil {
		return nil, errors.New("config is empty")
	}
	if config.LLM == nil {
		config.LLM = &LLMConfig{}
	}
	if config.Embedding == nil {
		config.Embedding = &EmbeddingConfig{}
	}
	if config.RAG == nil {
		config.RAG = &RAGConfig{}
	}
	if config.RAG.Postgres == nil {
		config.RAG.Postgres = &PostgresConfig{}
	}
	if config.Tools == nil {
		config.Tools = &ToolsConfig{}
	}
	if config.Pipelines == nil {
		config.Pipelines = &PipelinesConfig{}
	}
	if config.Log == nil {
		config.Log = &LogConfig{}
	}

	return config, nil
}

func jsonLogs() bool  { return viper.GetBool("json") }
func debugLogs() bool { return viper.GetBool("debug") }
