package config

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// AllocatorKind selects an allocation strategy
type AllocatorKind string

const (
	// KindHeap allocates from the Go heap
	KindHeap AllocatorKind = "heap"

	// KindPool recycles regions through size buckets
	KindPool AllocatorKind = "pool"

	// KindQuota caps the bytes outstanding from a parent allocator
	KindQuota AllocatorKind = "quota"

	// DefaultAllocator is the name of the heap allocator that is always present
	DefaultAllocator = "heap"
)

// Config represents growbuf configuration
type Config struct {
	// Log level (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// Named allocators buffers can be constructed with
	Allocators []AllocatorConfig `yaml:"allocators"`

	// Workload run by the CLI
	Workload WorkloadConfig `yaml:"workload"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configuration
	Tracing TracingConfig `yaml:"tracing"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AllocatorConfig represents one named allocator
type AllocatorConfig struct {
	Name string        `yaml:"name"`
	Kind AllocatorKind `yaml:"kind"`

	// Pool bucket bounds and growth factor (kind: pool)
	MinSize datasize.ByteSize `yaml:"min_size"`
	MaxSize datasize.ByteSize `yaml:"max_size"`
	Factor  float64           `yaml:"factor"`

	// Byte budget and wrapped allocator (kind: quota)
	Limit  datasize.ByteSize `yaml:"limit"`
	Parent string            `yaml:"parent"`

	// Export prometheus metrics for this allocator
	Instrument bool `yaml:"instrument"`
}

// WorkloadConfig represents the scripted buffer exercise
type WorkloadConfig struct {
	// Buffer name used in logs and metrics
	Name string `yaml:"name"`

	// Bytes per element
	ElementSize int `yaml:"element_size"`

	// Capacity reserved at construction (0 is rounded up to 1)
	InitialCapacity int `yaml:"initial_capacity"`

	// Number of elements pushed
	Pushes int `yaml:"pushes"`

	// Number of auto-extending sets applied after the pushes
	Sets int `yaml:"sets"`

	// Allocator name
	Allocator string `yaml:"allocator"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	// Address to serve /metrics on while the CLI runs (empty disables)
	ListenAddr string `yaml:"listen_addr"`

	// Print metrics in text exposition format after the workload
	Print bool `yaml:"print"`
}

// TracingConfig represents tracing configuration
type TracingConfig struct {
	// OTel Collector gRPC endpoint (empty disables tracing)
	Endpoint string `yaml:"endpoint"`

	// Service name reported with spans
	ServiceName string `yaml:"service_name"`
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses, defaults and validates YAML configuration
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set default values
	setDefaults(&cfg)

	// Validate configuration
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration holding only default values
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

// ValidateConfig validates the configuration (exported for callers building Config in code)
func ValidateConfig(cfg *Config) error {
	return validateConfig(cfg)
}

// Allocator returns the allocator config with the given name
func (c *Config) Allocator(name string) (AllocatorConfig, bool) {
	for _, a := range c.Allocators {
		if a.Name == name {
			return a, true
		}
	}
	return AllocatorConfig{}, false
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	byName := make(map[string]AllocatorConfig, len(cfg.Allocators))
	for i, a := range cfg.Allocators {
		if a.Name == "" {
			return fmt.Errorf("allocators[%d].name is required", i)
		}
		if _, dup := byName[a.Name]; dup {
			return fmt.Errorf("allocators[%d].name %q is duplicated", i, a.Name)
		}
		byName[a.Name] = a

		switch a.Kind {
		case KindHeap:
		case KindPool:
			if a.MinSize == 0 {
				return fmt.Errorf("allocators[%d].min_size must be greater than 0", i)
			}
			if a.MaxSize < a.MinSize {
				return fmt.Errorf("allocators[%d].max_size must not be smaller than min_size", i)
			}
			if a.Factor <= 1 {
				return fmt.Errorf("allocators[%d].factor must be greater than 1", i)
			}
		case KindQuota:
			if a.Limit == 0 {
				return fmt.Errorf("allocators[%d].limit must be greater than 0", i)
			}
			if a.Parent == "" {
				return fmt.Errorf("allocators[%d].parent is required for quota allocators", i)
			}
		default:
			return fmt.Errorf("allocators[%d].kind %q must be one of heap, pool, quota", i, a.Kind)
		}
	}

	// Quota parents must exist and must not form a cycle
	for _, a := range cfg.Allocators {
		seen := map[string]bool{a.Name: true}
		for cur := a; cur.Kind == KindQuota; {
			parent, ok := byName[cur.Parent]
			if !ok {
				return fmt.Errorf("allocator %q: parent %q is not defined", cur.Name, cur.Parent)
			}
			if seen[parent.Name] {
				return fmt.Errorf("allocator %q: parent chain forms a cycle", a.Name)
			}
			seen[parent.Name] = true
			cur = parent
		}
	}

	// Validate workload configuration
	w := cfg.Workload
	if w.ElementSize <= 0 {
		return fmt.Errorf("workload.element_size must be greater than 0")
	}
	if w.InitialCapacity < 0 {
		return fmt.Errorf("workload.initial_capacity must not be negative")
	}
	if w.Pushes < 0 {
		return fmt.Errorf("workload.pushes must not be negative")
	}
	if w.Sets < 0 {
		return fmt.Errorf("workload.sets must not be negative")
	}
	if _, ok := byName[w.Allocator]; !ok {
		return fmt.Errorf("workload.allocator %q is not defined", w.Allocator)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be greater than 0")
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if _, ok := cfg.Allocator(DefaultAllocator); !ok {
		cfg.Allocators = append(cfg.Allocators, AllocatorConfig{
			Name: DefaultAllocator,
			Kind: KindHeap,
		})
	}

	for i := range cfg.Allocators {
		a := &cfg.Allocators[i]
		if a.Kind == "" {
			a.Kind = KindHeap
		}
		if a.Kind != KindPool {
			continue
		}
		if a.MinSize == 0 {
			a.MinSize = 1 * datasize.KB
		}
		if a.MaxSize == 0 {
			a.MaxSize = 8 * datasize.MB
		}
		if a.Factor == 0 {
			a.Factor = 2
		}
	}

	if cfg.Workload.Name == "" {
		cfg.Workload.Name = "workload"
	}
	if cfg.Workload.ElementSize == 0 {
		cfg.Workload.ElementSize = 4
	}
	if cfg.Workload.Pushes == 0 {
		cfg.Workload.Pushes = 10
	}
	if cfg.Workload.Allocator == "" {
		cfg.Workload.Allocator = DefaultAllocator
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "growbuf"
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
}
