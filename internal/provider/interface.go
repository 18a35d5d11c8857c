// Package provider selects and constructs the chat model backend at
// runtime. Supported backends: Ollama, OpenAI, Azure OpenAI, Volcengine Ark
// and Google Gemini.
package provider

import (
	"fmt"
	"strings"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects Volcengine Ark.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	Host  string
	Model string
}

// ProviderOpenAI holds OpenAI settings.
type ProviderOpenAI struct {
	APIKey string
	Model  string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// ProviderArk holds Volcengine Ark settings.
type ProviderArk struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	APIKey string
	Model  string
}

// SharedTuning is the decoding configuration baked into backends that
// accept it at construction. The generator also sends it with every call.
type SharedTuning struct {
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ark         ProviderArk
	Gemini      ProviderGemini

	// Tuning is the fixed decoding configuration.
	Tuning SharedTuning
}

// Validate checks that the selected backend has everything it needs, naming
// the missing environment variable in the error.
func (c *Config) Validate() error {
	missing := func(env string) error {
		return fmt.Errorf("provider: %s is required for %s backend", env, c.Backend)
	}
	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Model == "" {
			return missing("OLLAMA_MODEL")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return missing("OPENAI_API_KEY")
		}
		if c.OpenAI.Model == "" {
			return missing("OPENAI_MODEL")
		}
		if isAzureReasoningModel(c.OpenAI.Model) {
			return reasoningErr(c.OpenAI.Model)
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return missing("AZURE_OPENAI_API_KEY")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return missing("AZURE_OPENAI_ENDPOINT")
		}
		if c.AzureOpenAI.Deployment == "" {
			return missing("AZURE_OPENAI_DEPLOYMENT")
		}
		if isAzureReasoningModel(c.AzureOpenAI.Deployment) {
			return reasoningErr(c.AzureOpenAI.Deployment)
		}
	case BackendArk:
		if c.Ark.APIKey == "" {
			return missing("ARK_API_KEY")
		}
		if c.Ark.Model == "" {
			return missing("ARK_MODEL")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return missing("GOOGLE_API_KEY")
		}
		if c.Gemini.Model == "" {
			return missing("GEMINI_MODEL")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q — valid values: ollama, openai, azure, ark, gemini", c.Backend)
	}
	return nil
}

// ModelName returns a "backend/model" label for logs and readiness output.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return "ollama/" + c.Ollama.Model
	case BackendOpenAI:
		return "openai/" + c.OpenAI.Model
	case BackendAzure:
		return "azure/" + c.AzureOpenAI.Deployment
	case BackendArk:
		return "ark/" + c.Ark.Model
	case BackendGemini:
		return "gemini/" + c.Gemini.Model
	}
	return string(c.Backend)
}

// reasoningModelPrefixes are the o-series and codex model families, which
// reject temperature and top_p.
var reasoningModelPrefixes = []string{"o1", "o3", "o4", "codex"}

// isAzureReasoningModel reports whether a model or deployment name belongs
// to a reasoning family. Matching is by case-insensitive prefix.
func isAzureReasoningModel(name string) bool {
	n := strings.ToLower(name)
	for _, p := range reasoningModelPrefixes {
		if strings.HasPrefix(n, p) {
			return true
		}
	}
	return false
}

func reasoningErr(name string) error {
	return fmt.Errorf("provider: %q is a reasoning model that rejects the fixed sampling settings (temperature, top_p); choose a chat model", name)
}
