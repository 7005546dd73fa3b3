// Package config loads the service configuration from YAML and the
// environment and validates it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"slice_tracer/pkg/constraint"
	"slice_tracer/pkg/geo"
	"slice_tracer/pkg/graph"
	"slice_tracer/pkg/region"
	"slice_tracer/pkg/solver"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

// Config is the full service configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Region RegionConfig `yaml:"region"`
	Solver SolverConfig `yaml:"solver"`
	Trace  TraceConfig  `yaml:"trace"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr" validate:"required"`
	ReadTimeout    time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration `yaml:"write_timeout" validate:"gt=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	MaxConcurrent  int           `yaml:"max_concurrent" validate:"gte=1"`
	CORSOrigin     string        `yaml:"cors_origin"`
}

// StoreConfig selects and locates the spatial store.
type StoreConfig struct {
	Driver      string `yaml:"driver" validate:"oneof=memory badger postgres"`
	Dataset     string `yaml:"dataset" validate:"required_if=Driver memory"`
	BadgerDir   string `yaml:"badger_dir" validate:"required_if=Driver badger"`
	PostgresDSN string `yaml:"postgres_dsn" validate:"required_if=Driver postgres"`
	Project     int64  `yaml:"project"`
}

// ExtentConfig is the stack extent; all zero means unbounded.
type ExtentConfig struct {
	MinX       float64 `yaml:"min_x"`
	MinY       float64 `yaml:"min_y"`
	MinSection uint32  `yaml:"min_section"`
	MaxX       float64 `yaml:"max_x" validate:"gtefield=MinX"`
	MaxY       float64 `yaml:"max_y" validate:"gtefield=MinY"`
	MaxSection uint32  `yaml:"max_section" validate:"gtefield=MinSection"`
}

// Volume converts the extent to a geo.Volume.
func (e ExtentConfig) Volume() geo.Volume {
	return geo.Volume{X1: e.MinX, Y1: e.MinY, Z1: e.MinSection, X2: e.MaxX, Y2: e.MaxY, Z2: e.MaxSection}
}

// RegionConfig describes the served stack and the seed margins.
type RegionConfig struct {
	Stack           int64          `yaml:"stack"`
	Extent          ExtentConfig   `yaml:"extent"`
	Margins         region.Margins `yaml:"margins"`
	MaxSnapDistance float64        `yaml:"max_snap_distance" validate:"gte=0"`
}

// Context returns the region.Context for the configured stack.
func (r RegionConfig) Context() region.Context {
	return region.Context{
		Stack:           r.Stack,
		Extent:          r.Extent.Volume(),
		Margins:         r.Margins,
		MaxSnapDistance: r.MaxSnapDistance,
	}
}

// SolverConfig locates the solver binary.
type SolverConfig struct {
	Path       string        `yaml:"path" validate:"required"`
	Args       []string      `yaml:"args"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
	ScratchDir string        `yaml:"scratch_dir"`
}

// Invoker returns the solver.Config.
func (s SolverConfig) Invoker() solver.Config {
	return solver.Config{Path: s.Path, Args: s.Args, Timeout: s.Timeout, ScratchDir: s.ScratchDir}
}

// TraceConfig holds request defaults. The exclusivity sense has no default
// and must come with every request.
type TraceConfig struct {
	Priors           constraint.Priors `yaml:"priors"`
	MinComponentSize int               `yaml:"min_component_size" validate:"gte=0"`
	IncludeTermini   bool              `yaml:"include_termini"`
	Images           graph.SliceImages `yaml:"images"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// SlogLevel maps Level to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a slog.Logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   2 * time.Minute,
			RequestTimeout: 90 * time.Second,
			MaxConcurrent:  runtime.NumCPU(),
		},
		Store: StoreConfig{
			Driver:  DriverMemory,
			Dataset: "dataset.json",
		},
		Region: RegionConfig{
			Stack:           1,
			Margins:         region.Margins{Spatial: 200, Backward: 1, Forward: 1},
			MaxSnapDistance: 50,
		},
		Solver: SolverConfig{
			Path:    "slice_solver",
			Timeout: time.Minute,
		},
		Trace: TraceConfig{
			MinComponentSize: 1,
			Images:           graph.SliceImages{Extension: "png"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load starts from Default, applies the YAML file at path (if non-empty),
// then environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := Decode(data, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Decode applies YAML data over cfg. Unknown keys are rejected.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c Config) Validate() error {
	return validate.Struct(c)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SLICE_TRACER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SLICE_TRACER_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("SLICE_TRACER_POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv("SLICE_TRACER_BADGER_DIR"); v != "" {
		cfg.Store.BadgerDir = v
	}
	if v := os.Getenv("SLICE_TRACER_SOLVER_PATH"); v != "" {
		cfg.Solver.Path = v
	}
	if v := os.Getenv("SLICE_TRACER_SOLVER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Solver.Timeout = d
		}
	}
	if v := os.Getenv("SLICE_TRACER_STACK"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Region.Stack = i
		}
	}
	if v := os.Getenv("SLICE_TRACER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
