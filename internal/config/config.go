// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf"
	yamlparser "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/providers/structs"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"imaginator/pkg/configutil"
)

var (
	errEmptyConfigPath      = errors.New("config path is empty")
	errInvalidGeometryLimit = errors.New("image max dimensions must be positive when set")
	envPathLookup           = buildEnvPathLookup()
	envShortcutLookup       = map[string]string{
		"HOST":                  "server.host",
		"PORT":                  "server.port",
		"SECRET":                "secret",
		"ALLOW_BUILTIN_FILTERS": "allow_builtin_filters",
		"LOG_FILTERS_HEADER":    "log_filters_header",
		"MAX_WIDTH":             "image.max_width",
		"MAX_HEIGHT":            "image.max_height",
		"GOMAXPROCS":            "runtime.gomaxprocs",
		"VIPS_CONCURRENCY":      "runtime.vips_concurrency",
	}
)

// Config represents the full service configuration loaded from YAML.
type Config struct {
	Server              ServerConfig         `yaml:"server"`
	Secret              string               `yaml:"secret"`
	Aliases             map[string]string    `yaml:"aliases"`
	AllowBuiltinFilters bool                 `yaml:"allow_builtin_filters"`
	LogFiltersHeader    string               `yaml:"log_filters_header"`
	Image               ImageConfig          `yaml:"image"`
	Domains             map[string]string    `yaml:"domains"`
	Caches              map[string]CacheSpec `yaml:"caches"`
	Rewrites            []RewriteRule        `yaml:"rewrites"`
	Runtime             RuntimeConfig        `yaml:"runtime"`
}

// ServerConfig describes HTTP server binding and shutdown parameters.
type ServerConfig struct {
	Host                string   `yaml:"host"`
	Port                int      `yaml:"port"`
	ShutdownGracePeriod Duration `yaml:"shutdown_grace_period"`
}

// Address returns the server listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ImageConfig bounds the dimensions the resize/fit-in/resample filters
// are allowed to produce, and the formats the download filter accepts.
type ImageConfig struct {
	MaxWidth         int64    `yaml:"max_width"`
	MaxHeight        int64    `yaml:"max_height"`
	SupportedFormats []string `yaml:"supported_formats"`
}

// CacheSpec names one configured named cache's root directory and
// byte capacity, the shape of the original's `caches: {name: {dir, size}}`.
type CacheSpec struct {
	Dir  string   `yaml:"dir"`
	Size ByteSize `yaml:"size"`
}

// RuntimeConfig controls Go scheduler and libvips concurrency.
type RuntimeConfig struct {
	GOMAXPROCS      int `yaml:"gomaxprocs"`
	VIPSConcurrency int `yaml:"vips_concurrency"`
}

// Duration wraps time.Duration to support YAML strings like "30d".
type Duration struct {
	time.Duration
}

// ByteSize represents a capacity parsed from human readable strings (e.g. 300mb).
type ByteSize struct {
	Bytes int64
}

// defaultConfig returns sane defaults when no YAML is provided.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                3000,
			ShutdownGracePeriod: Duration{10 * time.Second},
		},
		AllowBuiltinFilters: true,
		Image: ImageConfig{
			MaxWidth:  4000,
			MaxHeight: 4000,
		},
		Runtime: RuntimeConfig{},
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a string, got kind %d", value.Kind)
	}
	return d.parseFromString(value.Value)
}

// UnmarshalText allows decoding durations from koanf/env providers.
func (d *Duration) UnmarshalText(text []byte) error {
	return d.parseFromString(string(text))
}

func (d *Duration) parseFromString(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "null") {
		d.Duration = 0
		return nil
	}
	dur, err := configutil.ParseFlexibleDuration(trimmed)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler for byte sizes.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("byte size must be a scalar, got kind %d", value.Kind)
	}
	return b.parseFromString(value.Value)
}

// UnmarshalText allows decoding byte sizes from koanf/env providers.
func (b *ByteSize) UnmarshalText(text []byte) error {
	return b.parseFromString(string(text))
}

func (b *ByteSize) parseFromString(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "null") {
		b.Bytes = 0
		return nil
	}
	size, err := configutil.ParseByteSize(trimmed)
	if err != nil {
		return err
	}
	b.Bytes = size
	return nil
}

// RewriteRule mirrors nginx-style regex rewrite, applied to the pipeline
// path before it reaches the parser.
type RewriteRule struct {
	Pattern     string         `yaml:"pattern"`
	Replacement string         `yaml:"replacement"`
	re          *regexp.Regexp `yaml:"-"`
}

// Apply returns true when the rule matched and updates the target string.
func (r *RewriteRule) Apply(input string) (string, bool) {
	if r.re == nil {
		return input, false
	}
	if !r.re.MatchString(input) {
		return input, false
	}
	return r.re.ReplaceAllString(input, r.Replacement), true
}

// Load reads and validates configuration from the provided file path.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errEmptyConfigPath
	}
	return loadConfig(path, nil, false)
}

// LoadReader decodes configuration from an arbitrary reader.
func LoadReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return loadConfig("", data, false)
}

// LoadFromEnvOrFile loads configuration from YAML if path is provided;
// otherwise starts from defaultConfig(). Env vars (if present) override both.
func LoadFromEnvOrFile(path string) (*Config, error) {
	return loadConfig(path, nil, true)
}

func loadConfig(path string, raw []byte, allowMissing bool) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(*defaultConfig(), "yaml"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	sourcePath := strings.TrimSpace(path)
	switch {
	case len(raw) > 0:
		if err := k.Load(rawbytes.Provider(raw), yamlparser.Parser()); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case sourcePath != "":
		if err := k.Load(file.Provider(sourcePath), yamlparser.Parser()); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	case !allowMissing:
		return nil, errEmptyConfigPath
	}
	if err := loadEnvVars(k); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "yaml",
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "yaml",
			WeaklyTypedInput: true,
			Result:           &cfg,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.compile(); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

func loadEnvVars(k *koanf.Koanf) error {
	for _, prefix := range []string{"IMAGINATOR_", ""} {
		if err := k.Load(env.Provider(prefix, ".", canonicalEnvKey), nil); err != nil {
			return fmt.Errorf("load env: %w", err)
		}
	}
	return nil
}

func canonicalEnvKey(key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "IMAGINATOR_") {
		trimmed = strings.TrimPrefix(trimmed, "IMAGINATOR_")
	}
	if strings.Contains(trimmed, "__") {
		lower := strings.ToLower(trimmed)
		return strings.ReplaceAll(lower, "__", ".")
	}
	upper := strings.ToUpper(trimmed)
	if mapped, ok := envShortcutLookup[upper]; ok {
		return mapped
	}
	if mapped, ok := envPathLookup[upper]; ok {
		return mapped
	}
	return ""
}

func buildEnvPathLookup() map[string]string {
	result := make(map[string]string)
	var walk func(reflect.Type, []string)
	walk = func(t reflect.Type, path []string) {
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" {
				continue
			}
			name := field.Tag.Get("yaml")
			if name == "" || name == "-" {
				name = strings.ToLower(field.Name)
			} else {
				name = strings.Split(name, ",")[0]
			}
			if name == "" || name == "-" {
				continue
			}
			current := append(append([]string{}, path...), name)
			typ := field.Type
			base := typ
			for base.Kind() == reflect.Pointer {
				base = base.Elem()
			}
			switch base.Kind() {
			case reflect.Struct:
				if base != reflect.TypeOf(Duration{}) && base != reflect.TypeOf(ByteSize{}) && base != reflect.TypeOf(time.Time{}) {
					walk(base, current)
					continue
				}
			case reflect.Slice, reflect.Map, reflect.Array:
				continue
			}
			key := strings.ToUpper(strings.Join(current, "_"))
			result[key] = strings.Join(current, ".")
		}
	}
	walk(reflect.TypeOf(Config{}), nil)
	return result
}

// Validate returns an error if required configuration values are missing or invalid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Host) == "" {
		return errors.New("server.host must be set")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Image.MaxWidth < 0 || c.Image.MaxHeight < 0 {
		return errInvalidGeometryLimit
	}
	for name, spec := range c.Caches {
		if strings.TrimSpace(spec.Dir) == "" {
			return fmt.Errorf("caches.%s.dir must be set", name)
		}
		if spec.Size.Bytes <= 0 {
			return fmt.Errorf("caches.%s.size must be a positive byte size", name)
		}
	}
	if c.Runtime.GOMAXPROCS < 0 {
		return fmt.Errorf("runtime.gomaxprocs must be >= 0, got %d", c.Runtime.GOMAXPROCS)
	}
	if c.Runtime.VIPSConcurrency < 0 {
		return fmt.Errorf("runtime.vips_concurrency must be >= 0, got %d", c.Runtime.VIPSConcurrency)
	}
	return nil
}

// ApplyRewrites passes the input through rewrite rules until a match occurs.
func (c *Config) ApplyRewrites(input string) string {
	target := input
	for _, rule := range c.Rewrites {
		if output, ok := rule.Apply(target); ok {
			return output
		}
	}
	return target
}

func (c *Config) compile() error {
	for i := range c.Rewrites {
		if strings.TrimSpace(c.Rewrites[i].Pattern) == "" {
			continue
		}
		re, err := regexp.Compile(c.Rewrites[i].Pattern)
		if err != nil {
			return fmt.Errorf("compile rewrite rule %d: %w", i, err)
		}
		c.Rewrites[i].re = re
	}
	return nil
}
