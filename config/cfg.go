// Package config loads the bookstream configuration and builds its logger.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rupor-github/gencfg"
	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v3"

	"github.com/simp-lee/bookstream"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

type (
	ReaderConfig struct {
		PageWords    int    `yaml:"page_words" validate:"min=1"`
		ChapterOrder string `yaml:"chapter_order" validate:"oneof=archive natural"`
		Workers      int    `yaml:"workers" validate:"gte=0"`
		MaxEntrySize int64  `yaml:"max_entry_size" validate:"gte=0"`
	}

	ProgressConfig struct {
		CoalesceWindow time.Duration `yaml:"coalesce_window" validate:"gte=0"`
		StoreTimeout   time.Duration `yaml:"store_timeout" validate:"gte=0"`
	}

	StorageConfig struct {
		Path           string `yaml:"path" validate:"required"`
		CompressMarkup bool   `yaml:"compress_markup"`
	}

	Config struct {
		Version  int            `yaml:"version" validate:"eq=1"`
		Reader   ReaderConfig   `yaml:"reader"`
		Progress ProgressConfig `yaml:"progress"`
		Storage  StorageConfig  `yaml:"storage"`
		Logging  LoggingConfig  `yaml:"logging"`
	}
)

// MemoryDatabase as storage path keeps documents in process memory.
const MemoryDatabase = ":memory:"

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// Only fields we defined are accepted, so yaml.Unmarshal cannot be used.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, err
		}
		if err := gencfg.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadConfiguration expands the embedded template to get the defaults, then
// overlays the file at path (if any) and validates the result.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	if !haveFile {
		return cfg, nil
	}

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	return cfg, nil
}

// LoadEnv loads variables from the given dotenv files (".env" when none are
// named). Missing files are skipped and variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load environment from %s: %w", f, err)
		}
	}
	return nil
}

// Prepare generates the default configuration from the template.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl)
}

func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %v", err)
	}
	return data, nil
}

// Options translates the reader section into ingestion options.
func (c *ReaderConfig) Options(log *zap.Logger) ([]bookstream.Option, error) {
	order, err := bookstream.ParseChapterOrder(c.ChapterOrder)
	if err != nil {
		return nil, err
	}
	opts := []bookstream.Option{
		bookstream.WithLogger(log),
		bookstream.WithChapterOrder(order),
		bookstream.WithMaxEntrySize(c.MaxEntrySize),
	}
	if c.Workers > 0 {
		opts = append(opts, bookstream.WithWorkers(c.Workers))
	}
	return opts, nil
}

// TrackerOptions translates the progress section into tracker options.
func (c *ProgressConfig) TrackerOptions(log *zap.Logger) []bookstream.TrackerOption {
	return []bookstream.TrackerOption{
		bookstream.WithTrackerLogger(log),
		bookstream.WithCoalesceWindow(c.CoalesceWindow),
		bookstream.WithStoreTimeout(c.StoreTimeout),
	}
}
