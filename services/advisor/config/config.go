// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the advisor service configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxYAMLFileSize caps config file reads.
const MaxYAMLFileSize = 1 << 20

// Config is the advisor service configuration.
//
// Thread Safety: immutable after loading; safe for concurrent use.
type Config struct {
	// Server holds the HTTP listener settings.
	Server ServerConfig `yaml:"server"`

	// Storage holds the BadgerDB settings.
	Storage StorageConfig `yaml:"storage"`

	// Weaviate holds the vector store settings.
	Weaviate WeaviateConfig `yaml:"weaviate"`

	// LLM holds the model gateway settings.
	LLM LLMConfig `yaml:"llm"`

	// Rerank holds the cross-encoder service settings.
	Rerank RerankConfig `yaml:"rerank"`

	// Agent holds the orchestration loop settings.
	Agent AgentConfig `yaml:"agent"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8090".
	Addr string `yaml:"addr" validate:"required"`
}

// StorageConfig configures BadgerDB.
type StorageConfig struct {
	// Dir is the BadgerDB data directory.
	Dir string `yaml:"dir" validate:"required"`

	// Dataset is the graph snapshot dataset to load at startup.
	Dataset string `yaml:"dataset" validate:"required"`
}

// WeaviateConfig configures the vector store client.
type WeaviateConfig struct {
	// Host is the Weaviate host, e.g. "localhost:8080".
	Host string `yaml:"host" validate:"required"`

	// Scheme is "http" or "https".
	Scheme string `yaml:"scheme" validate:"oneof=http https"`

	// ClassName is the document class, e.g. "HandbookDocument".
	ClassName string `yaml:"class_name" validate:"required"`
}

// LLMConfig configures the OpenAI-compatible gateway.
type LLMConfig struct {
	// BaseURL is the chat completions endpoint. Empty uses the OpenAI
	// default.
	BaseURL string `yaml:"base_url"`

	// Model is the default model identifier.
	Model string `yaml:"model" validate:"required"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// MaxConcurrent caps outstanding requests.
	MaxConcurrent int64 `yaml:"max_concurrent" validate:"gte=0"`

	// RequestsPerSecond is the client-side rate limit.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// RerankConfig configures the cross-encoder service client.
type RerankConfig struct {
	// Endpoint is the rerank service URL. Empty disables reranking.
	Endpoint string `yaml:"endpoint"`
}

// AgentConfig configures the orchestration loop.
type AgentConfig struct {
	// TopK is the documents returned per retrieval round.
	TopK int `yaml:"top_k" validate:"gte=1,lte=20"`

	// SufficiencyThreshold is the evaluator score at which retrieved
	// evidence counts as enough to answer, in (0,1].
	SufficiencyThreshold float64 `yaml:"sufficiency_threshold" validate:"gt=0,lte=1"`
}

// Defaults for absent fields.
const (
	defaultServerAddr   = ":8090"
	defaultStorageDir   = "./data/advisor"
	defaultDataset      = "handbook"
	defaultWeaviateHost = "localhost:8080"
	defaultClassName    = "HandbookDocument"
	defaultTopK         = 5
	defaultSufficiency  = 0.7
)

// Load reads, defaults, env-overrides, and validates the configuration.
//
// Description:
//
//	A missing file is not an error; the defaults plus environment
//	overrides describe a complete local deployment. Environment variables
//	win over file values: ADVISOR_ADDR, ADVISOR_DATA_DIR, ADVISOR_DATASET,
//	WEAVIATE_HOST, WEAVIATE_SCHEME, WEAVIATE_CLASS, OPENAI_BASE_URL,
//	OPENAI_MODEL, RERANK_ENDPOINT, ADVISOR_TOP_K.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			slog.Info("config file absent, using defaults", slog.String("path", path))
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		case len(data) > MaxYAMLFileSize:
			return nil, fmt.Errorf("config %s exceeds maximum size (%d > %d)", path, len(data), MaxYAMLFileSize)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	slog.Info("config loaded",
		slog.String("addr", cfg.Server.Addr),
		slog.String("dataset", cfg.Storage.Dataset),
		slog.String("weaviate_host", cfg.Weaviate.Host),
		slog.String("model", cfg.LLM.Model),
		slog.Bool("rerank_enabled", cfg.Rerank.Endpoint != ""),
	)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultServerAddr
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = defaultStorageDir
	}
	if cfg.Storage.Dataset == "" {
		cfg.Storage.Dataset = defaultDataset
	}
	if cfg.Weaviate.Host == "" {
		cfg.Weaviate.Host = defaultWeaviateHost
	}
	if cfg.Weaviate.Scheme == "" {
		cfg.Weaviate.Scheme = "http"
	}
	if cfg.Weaviate.ClassName == "" {
		cfg.Weaviate.ClassName = defaultClassName
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = os.Getenv("OPENAI_MODEL")
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Agent.TopK == 0 {
		cfg.Agent.TopK = defaultTopK
	}
	if cfg.Agent.SufficiencyThreshold == 0 {
		cfg.Agent.SufficiencyThreshold = defaultSufficiency
	}
}

func applyEnvOverrides(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Server.Addr, "ADVISOR_ADDR")
	setString(&cfg.Storage.Dir, "ADVISOR_DATA_DIR")
	setString(&cfg.Storage.Dataset, "ADVISOR_DATASET")
	setString(&cfg.Weaviate.Host, "WEAVIATE_HOST")
	setString(&cfg.Weaviate.Scheme, "WEAVIATE_SCHEME")
	setString(&cfg.Weaviate.ClassName, "WEAVIATE_CLASS")
	setString(&cfg.LLM.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.LLM.Model, "OPENAI_MODEL")
	setString(&cfg.Rerank.Endpoint, "RERANK_ENDPOINT")

	if v := os.Getenv("ADVISOR_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.TopK = n
		} else {
			slog.Warn("ignoring invalid ADVISOR_TOP_K", slog.String("value", v))
		}
	}
}

// APIKey resolves the configured API key environment variable.
func (c *Config) APIKey() string {
	return os.Getenv(c.LLM.APIKeyEnv)
}
