package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Capability names accepted in the host's configuration bag.
const (
	CapAPIKey           = "OPENAI_API_KEY"
	CapModel            = "OPENAI_MODEL"
	CapSystemPrompt     = "OPENAI_SYSTEM_PROMPT"
	CapTemperature      = "OPENAI_TEMPERATURE"
	CapMaxTokens        = "OPENAI_MAX_TOKENS"
	CapReasoningEffort  = "OPENAI_REASONING_EFFORT"
	CapTools            = "OPENAI_TOOLS"
	CapInclude          = "OPENAI_INCLUDE"
	CapAttachmentMode   = "OPENAI_ATTACHMENT_MODE"
	CapStructuredOutput = "OPENAI_STRUCTURED_OUTPUT"
	CapBaseURL          = "OPENAI_BASE_URL"
	CapTimeoutSeconds   = "OPENAI_TIMEOUT_SECONDS"
	CapRequestsPerMin   = "OPENAI_REQUESTS_PER_MINUTE"
)

// CapNames lists every capability the bridge understands.
var CapNames = []string{
	CapAPIKey, CapModel, CapSystemPrompt, CapTemperature, CapMaxTokens,
	CapReasoningEffort, CapTools, CapInclude, CapAttachmentMode,
	CapStructuredOutput, CapBaseURL, CapTimeoutSeconds, CapRequestsPerMin,
}

// ErrConfig is wrapped by every validation failure.
var ErrConfig = errors.New("config validation errors")

type AttachmentMode string

const (
	ModeInline AttachmentMode = "inline"
	ModeUpload AttachmentMode = "upload"
)

// Config is resolved once at build time and never mutated afterwards.
// Optional numeric settings are nil when not configured.
type Config struct {
	APIKey           string
	Model            string
	SystemPrompt     string
	Temperature      *float64
	MaxOutputTokens  *int
	ReasoningEffort  string
	Tools            []string // extra provider tool types, in configured order
	Include          []string
	AttachmentMode   AttachmentMode
	StructuredOutput bool
	BaseURL          string
	Timeout          time.Duration
	RequestsPerMin   float64 // client-side throttle; 0 disables
}

// Caps is the untyped option bag handed over by the host.
type Caps map[string]any

// FromCaps parses and validates a capability bag.
func FromCaps(caps Caps) (*Config, error) {
	cfg, errs := parse(caps)
	errs = append(errs, validate(cfg)...)
	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	return cfg, nil
}

// Validate checks that cfg carries the required options and valid enum values.
func Validate(cfg *Config) error {
	if errs := validate(cfg); len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

func validate(cfg *Config) []string {
	var errs []string
	if strings.TrimSpace(cfg.APIKey) == "" {
		errs = append(errs, CapAPIKey+" is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		errs = append(errs, CapModel+" is required")
	}
	switch cfg.AttachmentMode {
	case ModeInline, ModeUpload:
		// valid
	default:
		errs = append(errs, fmt.Sprintf("%s must be one of: inline, upload (got %q)", CapAttachmentMode, cfg.AttachmentMode))
	}
	if cfg.Temperature != nil && (*cfg.Temperature < 0 || *cfg.Temperature > 2) {
		errs = append(errs, CapTemperature+" must be between 0 and 2")
	}
	if cfg.MaxOutputTokens != nil && *cfg.MaxOutputTokens < 1 {
		errs = append(errs, CapMaxTokens+" must be >= 1")
	}
	if cfg.RequestsPerMin < 0 {
		errs = append(errs, CapRequestsPerMin+" must be >= 0")
	}
	return errs
}

func joinErrors(errs []string) error {
	return fmt.Errorf("%w:\n  - %s", ErrConfig, strings.Join(errs, "\n  - "))
}

func parse(caps Caps) (*Config, []string) {
	cfg := Defaults()
	var errs []string

	cfg.APIKey, _ = capString(caps, CapAPIKey)
	cfg.Model, _ = capString(caps, CapModel)
	cfg.SystemPrompt, _ = capString(caps, CapSystemPrompt)
	cfg.ReasoningEffort, _ = capString(caps, CapReasoningEffort)
	cfg.Tools = capList(caps, CapTools)
	cfg.Include = capList(caps, CapInclude)

	if s, ok := capString(caps, CapAttachmentMode); ok && s != "" {
		cfg.AttachmentMode = AttachmentMode(strings.ToLower(s))
	}
	if s, ok := capString(caps, CapBaseURL); ok && s != "" {
		cfg.BaseURL = strings.TrimRight(s, "/")
	}

	if f, ok, err := capFloat(caps, CapTemperature); err != nil {
		errs = append(errs, err.Error())
	} else if ok {
		cfg.Temperature = &f
	}
	if f, ok, err := capFloat(caps, CapMaxTokens); err != nil {
		errs = append(errs, err.Error())
	} else if ok {
		if f != math.Trunc(f) {
			errs = append(errs, CapMaxTokens+" must be an integer")
		} else {
			n := int(f)
			cfg.MaxOutputTokens = &n
		}
	}
	if f, ok, err := capFloat(caps, CapTimeoutSeconds); err != nil {
		errs = append(errs, err.Error())
	} else if ok && f > 0 {
		cfg.Timeout = time.Duration(f * float64(time.Second))
	}
	if f, ok, err := capFloat(caps, CapRequestsPerMin); err != nil {
		errs = append(errs, err.Error())
	} else if ok {
		cfg.RequestsPerMin = f
	}
	if b, ok, err := capBool(caps, CapStructuredOutput); err != nil {
		errs = append(errs, err.Error())
	} else if ok {
		cfg.StructuredOutput = b
	}
	return cfg, errs
}

func capString(caps Caps, key string) (string, bool) {
	v, ok := caps[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	default:
		return strings.TrimSpace(fmt.Sprint(t)), true
	}
}

// capFloat reports ok=false when the option is absent or blank.
func capFloat(caps Caps, key string) (float64, bool, error) {
	v, ok := caps[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case float64:
		return t, true, nil
	case float32:
		return float64(t), true, nil
	case int:
		return float64(t), true, nil
	case int64:
		return float64(t), true, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%s must be a number (got %q)", key, s)
		}
		return f, true, nil
	default:
		return 0, false, fmt.Errorf("%s must be a number (got %T)", key, v)
	}
}

func capBool(caps Caps, key string) (bool, bool, error) {
	v, ok := caps[key]
	if !ok || v == nil {
		return false, false, nil
	}
	switch t := v.(type) {
	case bool:
		return t, true, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return false, false, nil
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return false, false, fmt.Errorf("%s must be a boolean (got %q)", key, s)
		}
		return b, true, nil
	case int:
		return t != 0, true, nil
	default:
		return false, false, fmt.Errorf("%s must be a boolean (got %T)", key, v)
	}
}

// capList accepts a comma-separated string or a list; blanks are dropped.
func capList(caps Caps, key string) []string {
	v, ok := caps[key]
	if !ok || v == nil {
		return nil
	}
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []string:
		raw = t
	case []any:
		for _, item := range t {
			raw = append(raw, fmt.Sprint(item))
		}
	default:
		raw = strings.Split(fmt.Sprint(t), ",")
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Load reads a YAML file whose top-level keys are capability names. Values
// may reference the environment with ${VAR} or ${VAR:-default}.
func Load(path string) (*Config, error) {
	caps, err := LoadCaps(path)
	if err != nil {
		return nil, err
	}
	return FromCaps(caps)
}

// LoadCaps reads the raw capability bag from a YAML file without validating it.
func LoadCaps(path string) (Caps, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	caps := Caps{}
	if err := yaml.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return caps, nil
}

// EnvCaps collects the capabilities set in the process environment.
func EnvCaps() Caps {
	caps := Caps{}
	for _, name := range CapNames {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			caps[name] = v
		}
	}
	return caps
}

// Merge returns base overlaid with every key of over.
func Merge(base, over Caps) Caps {
	out := make(Caps, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as is.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if val, ok := os.LookupEnv(groups[1]); ok && val != "" {
			return val
		}
		if hasDefault {
			return groups[2]
		}
		return match
	})
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Sanitize returns a copy of the config with the API key masked.
func Sanitize(cfg *Config) *Config {
	cp := *cfg
	cp.APIKey = maskString(cfg.APIKey)
	cp.Tools = append([]string(nil), cfg.Tools...)
	cp.Include = append([]string(nil), cfg.Include...)
	return &cp
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
