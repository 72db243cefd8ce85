// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds process-wide configuration resolved from defaults, an
// optional stellar.yaml in the working directory, and environment variables.
// It is produced once at boot and passed by reference to every
// component; nothing in this package keeps a late-initialized global.
type Config struct {
	// StellarHome is the root of persistent state: <home>/stellar_data/...
	StellarHome string

	// MarkerVenv is STELLAR_MARKER_VENV, an optional override path to an
	// isolated extractor runtime.
	MarkerVenv string

	ExtractorTimeout time.Duration

	ChunkMaxSize int
	ChunkOverlap int
	ChunkMinSize int

	WorkerTickInterval time.Duration

	SearchCandidateCap int

	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaBaseURL   string

	EmbedderType      string
	EmbedderModel     string
	EmbedderDimension int

	RedisAddr     string
	RedisDB       int
	RedisPassword string

	HTTPPort int
}

// Load resolves configuration the way the teacher resolves its Redis
// settings, generalized to the whole process: viper reads defaults, an
// optional ./stellar.yaml, then environment variables, in that order of
// increasing precedence.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("stellar")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	v.SetDefault("stellar_home", filepath.Join(home, "stellar_data"))
	v.SetDefault("marker_venv", "")
	v.SetDefault("extractor_timeout_seconds", 20*60)
	v.SetDefault("chunk_max_size", 1000)
	v.SetDefault("chunk_overlap", 200)
	v.SetDefault("chunk_min_size", 100)
	v.SetDefault("worker_tick_seconds", 5)
	v.SetDefault("search_candidate_cap", 5000)
	v.SetDefault("embedder_type", "")
	v.SetDefault("embedder_model", "")
	v.SetDefault("embedder_dimension", 384)
	v.SetDefault("ollama_base_url", "http://localhost:11434")
	v.SetDefault("redis_addr", "127.0.0.1:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("http_port", 8081)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}

	cfg := &Config{
		StellarHome:        v.GetString("stellar_home"),
		MarkerVenv:         firstNonEmpty(os.Getenv("STELLAR_MARKER_VENV"), v.GetString("marker_venv")),
		ExtractorTimeout:   time.Duration(v.GetInt("extractor_timeout_seconds")) * time.Second,
		ChunkMaxSize:       v.GetInt("chunk_max_size"),
		ChunkOverlap:       v.GetInt("chunk_overlap"),
		ChunkMinSize:       v.GetInt("chunk_min_size"),
		WorkerTickInterval: time.Duration(v.GetInt("worker_tick_seconds")) * time.Second,
		SearchCandidateCap: v.GetInt("search_candidate_cap"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		OllamaBaseURL:      v.GetString("ollama_base_url"),
		EmbedderType:       v.GetString("embedder_type"),
		EmbedderModel:      v.GetString("embedder_model"),
		EmbedderDimension:  v.GetInt("embedder_dimension"),
		RedisAddr:          v.GetString("redis_addr"),
		RedisDB:            v.GetInt("redis_db"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		HTTPPort:           v.GetInt("http_port"),
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// PDFDir returns the managed directory for stored source files.
func (c *Config) PDFDir() string {
	return filepath.Join(c.StellarHome, "pdfs")
}

// DocumentsDBPath returns the path to the document/job sqlite database.
func (c *Config) DocumentsDBPath() string {
	return filepath.Join(c.StellarHome, "documents.db")
}

// EmbeddingsDBPath returns the path to the vector index sqlite database.
func (c *Config) EmbeddingsDBPath() string {
	return filepath.Join(c.StellarHome, "embeddings.db")
}

// EnsureDirs creates the directories the process needs under StellarHome.
func (c *Config) EnsureDirs() error {
	return os.MkdirAll(c.PDFDir(), 0755)
}
