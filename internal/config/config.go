package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfiguration marks a configuration problem. It is fatal at startup.
var ErrConfiguration = errors.New("configuration error")

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		Name      string `mapstructure:"name"`
		Version   string `mapstructure:"version"`
		LogLevel  string `mapstructure:"log_level"`
		Transport string `mapstructure:"transport"`
		HTTPAddr  string `mapstructure:"http_addr"`
	} `mapstructure:"server"`
	Search struct {
		Endpoint     string        `mapstructure:"endpoint"`
		APIKey       string        `mapstructure:"api_key"`
		IndexName    string        `mapstructure:"index_name"`
		APIVersion   string        `mapstructure:"api_version"`
		KeyField     string        `mapstructure:"key_field"`
		ContentField string        `mapstructure:"content_field"`
		Timeout      time.Duration `mapstructure:"timeout"`
		MaxTopK      int           `mapstructure:"max_top_k"`
		MaxRetries   int           `mapstructure:"max_retries"`
		RateLimit    float64       `mapstructure:"rate_limit"`
		RateBurst    int           `mapstructure:"rate_burst"`
	} `mapstructure:"search"`
	Context struct {
		MaxChars int `mapstructure:"max_chars"`
	} `mapstructure:"context"`
	LLM struct {
		Provider string        `mapstructure:"provider"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"llm"`
	Gemini struct {
		APIKey      string  `mapstructure:"api_key"`
		Model       string  `mapstructure:"model"`
		Temperature float64 `mapstructure:"temperature"`
	} `mapstructure:"gemini"`
	OpenAI struct {
		APIKey      string  `mapstructure:"api_key"`
		Model       string  `mapstructure:"model"`
		BaseURL     string  `mapstructure:"base_url"`
		Temperature float64 `mapstructure:"temperature"`
	} `mapstructure:"openai"`
	Tracing struct {
		Enabled    bool   `mapstructure:"enabled"`
		Endpoint   string `mapstructure:"endpoint"`
		APIKey     string `mapstructure:"api_key"`
		Project    string `mapstructure:"project"`
		BufferSize int    `mapstructure:"buffer_size"`
	} `mapstructure:"tracing"`
	Prompts struct {
		File  string `mapstructure:"file"`
		Watch bool   `mapstructure:"watch"`
	} `mapstructure:"prompts"`
	Auth struct {
		Issuer   string `mapstructure:"issuer"`
		ClientID string `mapstructure:"client_id"`
		Scope    string `mapstructure:"scope"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`

	// ConfigFile is the config file viper read, if any.
	ConfigFile string `mapstructure:"-"`
}

// envBindings maps config keys to the environment variables that set them.
// The first name wins; later names are accepted aliases.
var envBindings = map[string][]string{
	"server.name":          {"MCP_SERVER_NAME"},
	"server.version":       {"MCP_SERVER_VERSION"},
	"server.log_level":     {"LOG_LEVEL"},
	"server.transport":     {"MCP_TRANSPORT"},
	"server.http_addr":     {"HTTP_ADDR"},
	"search.endpoint":      {"AZURE_SEARCH_ENDPOINT"},
	"search.api_key":       {"AZURE_SEARCH_API_KEY"},
	"search.index_name":    {"AZURE_SEARCH_INDEX_NAME"},
	"search.api_version":   {"AZURE_SEARCH_API_VERSION"},
	"search.key_field":     {"AZURE_SEARCH_KEY_FIELD"},
	"search.content_field": {"AZURE_SEARCH_CONTENT_FIELD"},
	"search.timeout":       {"SEARCH_TIMEOUT"},
	"search.max_top_k":     {"SEARCH_MAX_TOP_K"},
	"search.max_retries":   {"SEARCH_MAX_RETRIES"},
	"search.rate_limit":    {"SEARCH_RATE_LIMIT"},
	"search.rate_burst":    {"SEARCH_RATE_BURST"},
	"context.max_chars":    {"CONTEXT_MAX_CHARS"},
	"llm.provider":         {"LLM_PROVIDER"},
	"llm.timeout":          {"LLM_TIMEOUT"},
	"gemini.api_key":       {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	"gemini.model":         {"GEMINI_MODEL"},
	"gemini.temperature":   {"GEMINI_TEMPERATURE"},
	"openai.api_key":       {"OPENAI_API_KEY"},
	"openai.model":         {"OPENAI_MODEL"},
	"openai.base_url":      {"OPENAI_BASE_URL"},
	"openai.temperature":   {"OPENAI_TEMPERATURE"},
	"tracing.enabled":      {"TRACING_ENABLED", "LANGCHAIN_TRACING_V2"},
	"tracing.endpoint":     {"TRACING_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"},
	"tracing.api_key":      {"TRACING_API_KEY", "LANGCHAIN_API_KEY"},
	"tracing.project":      {"TRACING_PROJECT", "LANGCHAIN_PROJECT"},
	"tracing.buffer_size":  {"TRACING_BUFFER_SIZE"},
	"prompts.file":         {"PROMPTS_FILE"},
	"prompts.watch":        {"PROMPTS_WATCH"},
	"auth.issuer":          {"OIDC_ISSUER"},
	"auth.client_id":       {"OIDC_CLIENT_ID"},
	"auth.scope":           {"OIDC_REQUIRED_SCOPE"},
	"tls.enable":           {"TLS_ENABLE"},
	"tls.cert_file":        {"TLS_CERT_FILE"},
	"tls.key_file":         {"TLS_KEY_FILE"},
	"tls.hostnames":        {"TLS_HOSTNAMES"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "azure-search-mcp")
	v.SetDefault("server.version", "0.1.0")
	v.SetDefault("server.log_level", "INFO")
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("search.api_version", "2023-11-01")
	v.SetDefault("search.key_field", "id")
	v.SetDefault("search.content_field", "content")
	v.SetDefault("search.timeout", 25*time.Second)
	v.SetDefault("search.max_top_k", 50)
	v.SetDefault("search.max_retries", 0)
	v.SetDefault("search.rate_limit", 0)
	v.SetDefault("search.rate_burst", 1)
	v.SetDefault("context.max_chars", 12000)
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.timeout", 20*time.Second)
	v.SetDefault("gemini.model", "gemini-1.5-flash")
	v.SetDefault("gemini.temperature", 0.1)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.project", "azure-search-mcp")
	v.SetDefault("tracing.buffer_size", 256)
	v.SetDefault("prompts.watch", false)
}

// LoadConfig loads the configuration from an optional .env file, an optional
// config.yaml and the environment, then validates it.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("%w: loading env file %s: %v", ErrConfiguration, envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	setDefaults(v)

	for key, names := range envBindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("%w: binding %s: %v", ErrConfiguration, key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: reading config file: %v", ErrConfiguration, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("%w: decoding config: %v", ErrConfiguration, err)
	}
	config.ConfigFile = v.ConfigFileUsed()

	config.Search.Endpoint = normalizeEndpoint(config.Search.Endpoint)
	config.LLM.Provider = strings.ToLower(strings.TrimSpace(config.LLM.Provider))
	config.Server.Transport = strings.ToLower(strings.TrimSpace(config.Server.Transport))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks every setting once. All problems are reported together.
func (c *Config) Validate() error {
	var problems []string

	var missing []string
	if c.Search.Endpoint == "" {
		missing = append(missing, "AZURE_SEARCH_ENDPOINT")
	}
	if c.Search.APIKey == "" {
		missing = append(missing, "AZURE_SEARCH_API_KEY")
	}
	if c.Search.IndexName == "" {
		missing = append(missing, "AZURE_SEARCH_INDEX_NAME")
	}
	if len(missing) > 0 {
		problems = append(problems, "missing required settings: "+strings.Join(missing, ", "))
	}

	if c.Search.Endpoint != "" {
		u, err := url.Parse(c.Search.Endpoint)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			problems = append(problems, "AZURE_SEARCH_ENDPOINT must be an http(s) URL")
		}
	}
	if c.Search.Timeout <= 0 {
		problems = append(problems, "SEARCH_TIMEOUT must be positive")
	}
	if c.Search.MaxTopK < 1 {
		problems = append(problems, "SEARCH_MAX_TOP_K must be at least 1")
	}
	if c.Search.MaxRetries < 0 {
		problems = append(problems, "SEARCH_MAX_RETRIES must not be negative")
	}
	if c.Search.RateLimit < 0 {
		problems = append(problems, "SEARCH_RATE_LIMIT must not be negative")
	}
	if c.Context.MaxChars < 1 {
		problems = append(problems, "CONTEXT_MAX_CHARS must be at least 1")
	}
	if c.LLM.Timeout <= 0 {
		problems = append(problems, "LLM_TIMEOUT must be positive")
	}

	switch c.LLM.Provider {
	case "gemini":
		if c.Gemini.Temperature < 0 || c.Gemini.Temperature > 2 {
			problems = append(problems, "GEMINI_TEMPERATURE must be between 0 and 2")
		}
	case "openai":
		if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
			problems = append(problems, "OPENAI_TEMPERATURE must be between 0 and 2")
		}
	case "none":
	default:
		problems = append(problems, fmt.Sprintf("LLM_PROVIDER %q is not one of gemini, openai, none", c.LLM.Provider))
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		problems = append(problems, "TRACING_ENDPOINT is required when tracing is enabled")
	}

	switch c.Server.Transport {
	case "stdio", "http":
	default:
		problems = append(problems, fmt.Sprintf("MCP_TRANSPORT %q is not one of stdio, http", c.Server.Transport))
	}

	if c.TLS.Enable && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		problems = append(problems, "TLS_CERT_FILE and TLS_KEY_FILE are required when TLS is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// LLMEnabled reports whether an LLM provider has credentials configured.
func (c *Config) LLMEnabled() bool {
	switch c.LLM.Provider {
	case "gemini":
		return c.Gemini.APIKey != ""
	case "openai":
		return c.OpenAI.APIKey != ""
	}
	return false
}

// normalizeEndpoint trims whitespace and any trailing slash so paths can be
// appended directly.
func normalizeEndpoint(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
