// Package config loads the engine configuration from YAML
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/livefir/livepredict/internal/extract"
	"github.com/livefir/livepredict/internal/memory"
	"github.com/livefir/livepredict/internal/store"
	"github.com/livefir/livepredict/internal/template"
	"github.com/livefir/livepredict/internal/tree"
)

// ConfigFileName is the default config file name
const ConfigFileName = "livepredict.yaml"

// Config represents the engine configuration
type Config struct {
	Prediction Prediction   `yaml:"prediction"`
	Extraction Extraction   `yaml:"extraction"`
	Store      StoreSection `yaml:"store"`
	Limits     tree.Limits  `yaml:"limits"`
	Server     Server       `yaml:"server"`
}

// Prediction gates when a stored template may be used
type Prediction struct {
	// MinConfidence is the lowest template confidence used for a prediction
	MinConfidence float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`
	// MinObservations is the number of observations a loop template
	// derived from a diff needs before it is trusted
	MinObservations int `yaml:"min_observations" validate:"min=1"`
}

// Extraction tunes template extraction
type Extraction struct {
	MaxEnumLength    int      `yaml:"max_enum_length" validate:"min=1"`
	MaxFlattenValues int      `yaml:"max_flatten_values" validate:"min=1"`
	Transforms       []string `yaml:"transforms" validate:"dive,transform"`
}

// StoreSection bounds the template store
type StoreSection struct {
	MaxSubjects            int           `yaml:"max_subjects" validate:"min=1"`
	MaxTemplatesPerSubject int           `yaml:"max_templates_per_subject" validate:"min=1"`
	MaxMemoryMB            int           `yaml:"max_memory_mb" validate:"min=1"`
	WarningPct             int           `yaml:"warning_pct" validate:"min=1,max=100"`
	CriticalPct            int           `yaml:"critical_pct" validate:"min=1,max=100,gtefield=WarningPct"`
	IdleTTL                time.Duration `yaml:"idle_ttl"`
	CleanupInterval        time.Duration `yaml:"cleanup_interval"`
}

// Server configures the websocket transport
type Server struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
	// ReadLimit caps the size of one inbound message in bytes
	ReadLimit int64 `yaml:"read_limit" validate:"min=1024"`
}

// DefaultConfig returns a new Config with default values
func DefaultConfig() *Config {
	sc := store.DefaultConfig()
	mc := memory.DefaultConfig()
	return &Config{
		Prediction: Prediction{
			MinConfidence:   0.7,
			MinObservations: 2,
		},
		Extraction: Extraction{
			MaxEnumLength:    32,
			MaxFlattenValues: 512,
			Transforms:       template.Transforms(),
		},
		Store: StoreSection{
			MaxSubjects:            sc.MaxSubjects,
			MaxTemplatesPerSubject: sc.MaxTemplatesPerSubject,
			MaxMemoryMB:            mc.MaxMemoryMB,
			WarningPct:             mc.WarningThresholdPct,
			CriticalPct:            mc.CriticalThresholdPct,
			IdleTTL:                sc.IdleTTL,
			CleanupInterval:        sc.CleanupInterval,
		},
		Limits: tree.DefaultLimits(),
		Server: Server{
			Addr:      "localhost:8080",
			ReadLimit: 1 << 20,
		},
	}
}

// LoadConfig loads the configuration from path.
// If the file doesn't exist, returns a default config
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	config := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig writes the configuration to path
func SaveConfig(path string, config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ExtractConfig returns the extractor settings
func (c *Config) ExtractConfig() extract.Config {
	ec := extract.DefaultConfig()
	ec.MaxEnumLength = c.Extraction.MaxEnumLength
	ec.MaxFlattenValues = c.Extraction.MaxFlattenValues
	if len(c.Extraction.Transforms) > 0 {
		ec.Transforms = c.Extraction.Transforms
	}
	return ec
}

// StoreConfig returns the arena settings
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		MaxSubjects:            c.Store.MaxSubjects,
		MaxTemplatesPerSubject: c.Store.MaxTemplatesPerSubject,
		IdleTTL:                c.Store.IdleTTL,
		CleanupInterval:        c.Store.CleanupInterval,
	}
}

// MemoryConfig returns the template memory budget settings
func (c *Config) MemoryConfig() *memory.Config {
	return &memory.Config{
		MaxMemoryMB:          c.Store.MaxMemoryMB,
		WarningThresholdPct:  c.Store.WarningPct,
		CriticalThresholdPct: c.Store.CriticalPct,
		CleanupInterval:      c.Store.CleanupInterval,
	}
}

// FieldError is one invalid config field
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every invalid field
type ValidationError []FieldError

func (v ValidationError) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Field + ": " + e.Message
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("transform", func(fl validator.FieldLevel) bool {
		return template.IsTransform(fl.Field().String())
	})
	return v
}

// Validate checks every section
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	out := make(ValidationError, 0, len(verrs))
	for _, e := range verrs {
		field := strings.TrimPrefix(e.Namespace(), "Config.")

		var message string
		switch e.Tag() {
		case "required":
			message = "is required"
		case "min", "gte":
			message = fmt.Sprintf("must be at least %s", e.Param())
		case "max", "lte":
			message = fmt.Sprintf("must be at most %s", e.Param())
		case "gtefield":
			message = fmt.Sprintf("must not be below %s", e.Param())
		case "hostname_port":
			message = "must be host:port"
		case "transform":
			message = fmt.Sprintf("unknown transform %q", e.Value())
		default:
			message = "is invalid"
		}
		out = append(out, FieldError{Field: field, Message: message})
	}
	return out
}
