package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EnvPrefix prefixes every environment override
const EnvPrefix = "IMAGE_DETECTOR_"

// Config holds the application configuration
type Config struct {
	Pipeline PipelineConfig `json:"pipeline"`
	Overlay  OverlayConfig  `json:"overlay"`
	Backend  BackendConfig  `json:"backend"`
	Output   OutputConfig   `json:"output"`
	Server   ServerConfig   `json:"server"`
	Log      LogConfig      `json:"log"`
}

// PipelineConfig holds scaling and post-processing parameters
type PipelineConfig struct {
	MaxDimension         int     `json:"max_dimension" validate:"min=64,max=8192"`
	InferenceQuality     int     `json:"inference_quality" validate:"min=1,max=100"`
	Convention           string  `json:"convention" validate:"oneof=auto normalized pixel"`
	ScoreThreshold       float64 `json:"score_threshold" validate:"min=0,max=1"`
	IoUThreshold         float64 `json:"iou_threshold" validate:"min=0,max=1"`
	MaxObjects           int     `json:"max_objects" validate:"min=0"`
	FullResolutionCutout bool    `json:"full_resolution_cutout"`
	MaxUploadBytes       int64   `json:"max_upload_bytes" validate:"min=1"`
}

// OverlayConfig holds box and label drawing parameters
type OverlayConfig struct {
	FontSize    float64 `json:"font_size" validate:"min=16,max=18"`
	StrokeWidth float64 `json:"stroke_width" validate:"min=2,max=3"`
	Padding     float64 `json:"padding" validate:"min=0,max=16"`
}

// BackendConfig selects and configures the detection backend
type BackendConfig struct {
	Kind       string        `json:"kind" validate:"oneof=http ollama llamacpp saliency"`
	URL        string        `json:"url" validate:"omitempty,url"`
	Model      string        `json:"model" validate:"required_if=Kind ollama"`
	Timeout    time.Duration `json:"timeout" validate:"min=0"`
	SegmentURL string        `json:"segment_url" validate:"omitempty,url"`
	Prompt     string        `json:"prompt,omitempty"`
}

// OutputConfig holds configuration for exported files
type OutputConfig struct {
	Format    string `json:"format" validate:"oneof=png webp"`
	OutputDir string `json:"output_dir" validate:"required"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Port        int     `json:"port" validate:"min=1,max=65535"`
	BodyLimit   int     `json:"body_limit" validate:"min=1"`
	RateLimit   float64 `json:"rate_limit" validate:"min=0"`
	RateBurst   int     `json:"rate_burst" validate:"min=0"`
	PrintRoutes bool    `json:"print_routes"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level string `json:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Dir   string `json:"dir"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			MaxDimension:     1024,
			InferenceQuality: 80,
			Convention:       "auto",
			ScoreThreshold:   0.4,
			IoUThreshold:     0.5,
			MaxUploadBytes:   50 * 1024 * 1024,
		},
		Overlay: OverlayConfig{
			FontSize:    16,
			StrokeWidth: 3,
			Padding:     4,
		},
		Backend: BackendConfig{
			Kind:    "http",
			URL:     "http://localhost:8000",
			Timeout: 60 * time.Second,
		},
		Output: OutputConfig{
			Format:    "png",
			OutputDir: "./output",
		},
		Server: ServerConfig{
			Port:      3000,
			BodyLimit: 50 * 1024 * 1024,
			RateLimit: 5,
			RateBurst: 10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Missing keys keep
// their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load reads filename when it exists, then .env files, then environment
// overrides, and validates the result. An empty filename uses defaults.
func Load(filename string, envFiles ...string) (*Config, error) {
	config := Default()
	if filename != "" {
		if _, err := os.Stat(filename); err == nil {
			loaded, err := LoadFromFile(filename)
			if err != nil {
				return nil, err
			}
			config = loaded
		}
	}

	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// loadEnvFiles loads .env files without overriding variables already set.
// A missing default .env is not an error.
func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from IMAGE_DETECTOR_* variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	setString := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float64) {
		if v, ok := get(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	setInt("MAX_DIMENSION", &c.Pipeline.MaxDimension)
	setInt("INFERENCE_QUALITY", &c.Pipeline.InferenceQuality)
	setString("CONVENTION", &c.Pipeline.Convention)
	setFloat("SCORE_THRESHOLD", &c.Pipeline.ScoreThreshold)
	setFloat("IOU_THRESHOLD", &c.Pipeline.IoUThreshold)
	setInt("MAX_OBJECTS", &c.Pipeline.MaxObjects)
	setBool("FULL_RESOLUTION_CUTOUT", &c.Pipeline.FullResolutionCutout)
	setFloat("FONT_SIZE", &c.Overlay.FontSize)
	setFloat("STROKE_WIDTH", &c.Overlay.StrokeWidth)
	setString("BACKEND", &c.Backend.Kind)
	setString("BACKEND_URL", &c.Backend.URL)
	setString("SEGMENT_URL", &c.Backend.SegmentURL)
	setString("MODEL", &c.Backend.Model)
	setString("OUTPUT_FORMAT", &c.Output.Format)
	setString("OUTPUT_DIR", &c.Output.OutputDir)
	setInt("PORT", &c.Server.Port)
	setFloat("RATE_LIMIT", &c.Server.RateLimit)
	setInt("RATE_BURST", &c.Server.RateBurst)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_DIR", &c.Log.Dir)

	if v, ok := get("BACKEND_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sBACKEND_TIMEOUT: %w", EnvPrefix, err))
		} else {
			c.Backend.Timeout = d
		}
	}

	return errors.Join(errs...)
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewValidator returns the validator shared by config and request checks.
// Field errors are reported by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := NewValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, FieldError(fe))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Backend.Kind != "saliency" && c.Backend.URL == "" {
		return fmt.Errorf("invalid config: backend.url is required for backend %q", c.Backend.Kind)
	}
	return nil
}

// FieldError formats a validation failure as "path: tag param"
func FieldError(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.Index(path, "."); i >= 0 {
		path = path[i+1:]
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s: %s %s", path, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s: %s", path, fe.Tag())
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "image-detector", "config.json")
}
