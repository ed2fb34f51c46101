// Package config loads interviewer runtime configuration from a TOML file and environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const defaultLLMProfile = "default"

const (
	// TimeoutPolicyFail fails the session when an answer deadline passes.
	TimeoutPolicyFail = "fail"
	// TimeoutPolicyReprompt emits an error and asks the question again.
	TimeoutPolicyReprompt = "reprompt"

	// QuestionSourceBank serves pre-authored question text.
	QuestionSourceBank = "bank"
	// QuestionSourceGenerated phrases each question through an LLM profile.
	QuestionSourceGenerated = "generated"
)

// Config is the runtime configuration loaded from defaults, config.toml, and env vars.
type Config struct {
	// HomeDir is runtime-resolved from INTERVIEWER_HOME and not read from config.
	HomeDir       string                       `mapstructure:"-"`
	LLM           map[string]LLMProviderConfig `mapstructure:"llm"`
	Transcription TranscriptionConfig          `mapstructure:"transcription"`
	Interview     InterviewConfig              `mapstructure:"interview"`
	Metrics       MetricsConfig                `mapstructure:"metrics"`
	Telegram      TelegramConfig               `mapstructure:"telegram"`
}

// LLMProviderConfig configures one LLM provider profile.
type LLMProviderConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	Provider       string        `mapstructure:"provider"`
	Model          string        `mapstructure:"model"`
	BaseURL        string        `mapstructure:"base_url"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Temperature    float64       `mapstructure:"temperature"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TranscriptionConfig configures the speech-to-text backend and local audio validation.
type TranscriptionConfig struct {
	Provider          string        `mapstructure:"provider"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	ModelID           string        `mapstructure:"model_id"`
	LanguageCode      string        `mapstructure:"language_code"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxFileSize       int64         `mapstructure:"max_file_size"`
	AllowedExtensions []string      `mapstructure:"allowed_extensions"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	PricePerHour      float64       `mapstructure:"price_per_hour"`
}

// InterviewConfig controls the voice session engine.
type InterviewConfig struct {
	LLMProfile          string        `mapstructure:"llm_profile"`
	QuestionSource      string        `mapstructure:"question_source"`
	ResponseTimeout     time.Duration `mapstructure:"response_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	TimeoutPolicy       string        `mapstructure:"timeout_policy"`
	QuestionMaxTokens   int           `mapstructure:"question_max_tokens"`
	QuestionTemperature float64       `mapstructure:"question_temperature"`
}

// TelegramConfig configures the Telegram voice channel.
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	APIURL string `mapstructure:"api_url"`
	// AllowedUsers lists numeric Telegram user IDs permitted to start interviews.
	AllowedUsers []string `mapstructure:"allowed_users"`
}

// MetricsConfig configures the prometheus listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

var defaultConfig = Config{
	LLM: map[string]LLMProviderConfig{
		defaultLLMProfile: {
			APIKey:         "",
			Provider:       "anthropic",
			Model:          "claude-sonnet-4-6",
			MaxTokens:      1024,
			Temperature:    0.7,
			RequestTimeout: 30 * time.Second,
		},
	},
	Transcription: TranscriptionConfig{
		Provider:          "elevenlabs",
		APIKey:            "",
		BaseURL:           "https://api.elevenlabs.io/v1",
		ModelID:           "scribe_v1",
		LanguageCode:      "en",
		Temperature:       0,
		MaxFileSize:       25 << 20,
		AllowedExtensions: []string{"mp3", "wav", "m4a", "webm", "ogg", "flac", "mp4"},
		RequestTimeout:    60 * time.Second,
		PricePerHour:      0.40,
	},
	Interview: InterviewConfig{
		LLMProfile:          defaultLLMProfile,
		QuestionSource:      QuestionSourceBank,
		ResponseTimeout:     2 * time.Minute,
		MaxRetries:          2,
		TimeoutPolicy:       TimeoutPolicyReprompt,
		QuestionMaxTokens:   300,
		QuestionTemperature: 0.7,
	},
	Metrics: MetricsConfig{
		Addr: "",
	},
	Telegram: TelegramConfig{
		APIURL: "https://api.telegram.org",
	},
}

// defaultUserConfig is the minimal bootstrap config written for first-time users.
var defaultUserConfig = Config{
	LLM: map[string]LLMProviderConfig{
		defaultLLMProfile: {
			APIKey:         "$ANTHROPIC_API_KEY",
			Provider:       "anthropic",
			Model:          "claude-sonnet-4-6",
			RequestTimeout: 30 * time.Second,
		},
	},
	Transcription: TranscriptionConfig{
		APIKey:       "$ELEVENLABS_API_KEY",
		ModelID:      "scribe_v1",
		LanguageCode: "en",
	},
	Interview: InterviewConfig{
		ResponseTimeout: 2 * time.Minute,
		TimeoutPolicy:   TimeoutPolicyReprompt,
	},
}

// homeDir returns the interviewer home directory.
// Uses INTERVIEWER_HOME env var if set, otherwise defaults to ~/.interviewer.
func homeDir() (string, error) {
	if dir := os.Getenv("INTERVIEWER_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return defaultHomePath(home), nil
}

// Load merges hardcoded defaults and config file values in that order.
// Config is always at $INTERVIEWER_HOME/config.toml.
func Load() (*Config, error) {
	homeDir, err := homeDir()
	if err != nil {
		return nil, err
	}

	v, err := readViper(homeDir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		expandEnvStringHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := v.Unmarshal(&cfg, func(c *mapstructure.DecoderConfig) {
		c.DecodeHook = decodeHook
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.HomeDir = homeDir
	cfg.Transcription.AllowedExtensions = normalizeExtensions(cfg.Transcription.AllowedExtensions)

	return &cfg, nil
}

// Write writes the merged configuration (defaults overlaid by user
// config) to w in TOML format.
func Write(w io.Writer) error {
	if w == nil {
		return errors.New("writer is required")
	}

	homeDir, err := homeDir()
	if err != nil {
		return err
	}
	v, err := readViper(homeDir)
	if err != nil {
		return err
	}

	// Keep duration fields human-readable in generated TOML.
	for _, key := range v.AllKeys() {
		if strings.HasSuffix(key, "_timeout") {
			v.Set(key, v.GetDuration(key).String())
		}
	}

	if err := v.WriteConfigTo(w); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// DefaultUserConfigTOML renders the minimal bootstrap user config as TOML.
func DefaultUserConfigTOML() (string, error) {
	v := viper.New()
	v.SetConfigType("toml")

	for profile, llm := range defaultUserConfig.LLM {
		v.Set("llm."+profile+".api_key", llm.APIKey)
		v.Set("llm."+profile+".provider", llm.Provider)
		v.Set("llm."+profile+".model", llm.Model)
		v.Set("llm."+profile+".request_timeout", llm.RequestTimeout.String())
	}
	v.Set("transcription.api_key", defaultUserConfig.Transcription.APIKey)
	v.Set("transcription.model_id", defaultUserConfig.Transcription.ModelID)
	v.Set("transcription.language_code", defaultUserConfig.Transcription.LanguageCode)
	v.Set("interview.response_timeout", defaultUserConfig.Interview.ResponseTimeout.String())
	v.Set("interview.timeout_policy", defaultUserConfig.Interview.TimeoutPolicy)

	var out bytes.Buffer
	if err := v.WriteConfigTo(&out); err != nil {
		return "", fmt.Errorf("write default user config: %w", err)
	}
	return out.String(), nil
}

func readViper(homeDir string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(homeConfigPath(homeDir))
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	llm := defaultConfig.LLM[defaultLLMProfile]
	v.SetDefault("llm.default.api_key", llm.APIKey)
	v.SetDefault("llm.default.provider", llm.Provider)
	v.SetDefault("llm.default.model", llm.Model)
	v.SetDefault("llm.default.max_tokens", llm.MaxTokens)
	v.SetDefault("llm.default.temperature", llm.Temperature)
	v.SetDefault("llm.default.request_timeout", llm.RequestTimeout)

	tr := defaultConfig.Transcription
	v.SetDefault("transcription.provider", tr.Provider)
	v.SetDefault("transcription.api_key", tr.APIKey)
	v.SetDefault("transcription.base_url", tr.BaseURL)
	v.SetDefault("transcription.model_id", tr.ModelID)
	v.SetDefault("transcription.language_code", tr.LanguageCode)
	v.SetDefault("transcription.temperature", tr.Temperature)
	v.SetDefault("transcription.max_file_size", tr.MaxFileSize)
	v.SetDefault("transcription.allowed_extensions", tr.AllowedExtensions)
	v.SetDefault("transcription.request_timeout", tr.RequestTimeout)
	v.SetDefault("transcription.price_per_hour", tr.PricePerHour)

	iv := defaultConfig.Interview
	v.SetDefault("interview.llm_profile", iv.LLMProfile)
	v.SetDefault("interview.question_source", iv.QuestionSource)
	v.SetDefault("interview.response_timeout", iv.ResponseTimeout)
	v.SetDefault("interview.max_retries", iv.MaxRetries)
	v.SetDefault("interview.timeout_policy", iv.TimeoutPolicy)
	v.SetDefault("interview.question_max_tokens", iv.QuestionMaxTokens)
	v.SetDefault("interview.question_temperature", iv.QuestionTemperature)

	v.SetDefault("metrics.addr", defaultConfig.Metrics.Addr)

	v.SetDefault("telegram.token", defaultConfig.Telegram.Token)
	v.SetDefault("telegram.api_url", defaultConfig.Telegram.APIURL)
	v.SetDefault("telegram.allowed_users", []string{})
}

// DefaultLLM returns the default LLM profile with fallback defaults.
func (c *Config) DefaultLLM() LLMProviderConfig {
	return c.LLMProfile(defaultLLMProfile)
}

// LLMProfile returns the named LLM profile, falling back to the default profile.
func (c *Config) LLMProfile(name string) LLMProviderConfig {
	if llm, ok := c.LLM[name]; ok {
		return llm
	}
	if llm, ok := c.LLM[defaultLLMProfile]; ok {
		return llm
	}
	return defaultConfig.LLM[defaultLLMProfile]
}

// LLMProfileNames returns configured LLM profile names in sorted order.
func (c *Config) LLMProfileNames() []string {
	names := make([]string, 0, len(c.LLM))
	for name := range c.LLM {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validatable is implemented by config sections that can self-validate.
type Validatable interface {
	Validate() error
}

// Validate checks required LLM provider fields and provider-specific rules.
// A missing api_key is not fatal here: providers report it as API_KEY_MISSING.
func (c LLMProviderConfig) Validate() error {
	if c.Provider == "" {
		return errors.New("provider is required")
	}
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be > 0")
	}
	if c.MaxTokens <= 0 {
		return errors.New("max_tokens must be > 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.New("temperature must be within [0, 2]")
	}

	switch c.Provider {
	case "anthropic", "openrouter":
	default:
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	return nil
}

// Validate checks transcription backend and audio validation settings.
func (c TranscriptionConfig) Validate() error {
	if c.Provider != "elevenlabs" {
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if c.ModelID == "" {
		return errors.New("model_id is required")
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return errors.New("temperature must be within [0, 1]")
	}
	if c.MaxFileSize <= 0 {
		return errors.New("max_file_size must be > 0")
	}
	if len(c.AllowedExtensions) == 0 {
		return errors.New("allowed_extensions must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be > 0")
	}
	return nil
}

// Validate checks session engine settings.
func (c InterviewConfig) Validate() error {
	if c.ResponseTimeout <= 0 {
		return errors.New("response_timeout must be > 0")
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries must be >= 0")
	}
	switch c.TimeoutPolicy {
	case TimeoutPolicyFail, TimeoutPolicyReprompt:
	default:
		return fmt.Errorf("invalid timeout_policy %q (allowed: %q, %q)", c.TimeoutPolicy, TimeoutPolicyFail, TimeoutPolicyReprompt)
	}
	switch c.QuestionSource {
	case QuestionSourceBank, QuestionSourceGenerated:
	default:
		return fmt.Errorf("invalid question_source %q (allowed: %q, %q)", c.QuestionSource, QuestionSourceBank, QuestionSourceGenerated)
	}
	if c.QuestionSource == QuestionSourceGenerated && c.QuestionMaxTokens <= 0 {
		return errors.New("question_max_tokens must be > 0 when question_source is generated")
	}
	return nil
}

// Validate checks settings needed by `interviewer telegram`.
func (c TelegramConfig) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("token is required")
	}
	if strings.TrimSpace(c.APIURL) == "" {
		return errors.New("api_url is required")
	}
	for _, id := range c.AllowedUsers {
		if _, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err != nil {
			return fmt.Errorf("allowed_users entry %q is not a numeric user id", id)
		}
	}
	return nil
}

// Validate validates metrics settings.
func (c MetricsConfig) Validate() error {
	return nil
}

// Validate validates startup configuration and returns the first fatal error.
func (cfg *Config) Validate() error {
	var errs []error

	if len(cfg.LLM) == 0 {
		errs = append(errs, errors.New("at least one llm.* profile is required"))
	}
	for _, name := range cfg.LLMProfileNames() {
		if err := cfg.LLM[name].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("llm.%s: %w", name, err))
		}
	}
	if err := cfg.Transcription.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("transcription: %w", err))
	}
	if err := cfg.Interview.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("interview: %w", err))
	}
	if _, ok := cfg.LLM[cfg.Interview.LLMProfile]; !ok && cfg.Interview.QuestionSource == QuestionSourceGenerated {
		errs = append(errs, fmt.Errorf("interview: llm_profile %q is not configured", cfg.Interview.LLMProfile))
	}
	if err := cfg.Metrics.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("metrics: %w", err))
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			out = append(out, ext)
		}
	}
	return out
}

func expandEnvStringHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.String {
			return data, nil
		}
		value, ok := data.(string)
		if !ok {
			return data, nil
		}
		return os.ExpandEnv(value), nil
	}
}
