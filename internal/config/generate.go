package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/pointgen/internal/pointcloud"
)

// DefaultConfigPath is the path to the canonical generation defaults file.
const DefaultConfigPath = "config/pointgen.defaults.json"

// GenerateConfig holds the generation options that can be pinned in a JSON
// file. Every field is optional; the Get* methods supply defaults and
// command-line flags override whatever is set here.
type GenerateConfig struct {
	Checkpoint      *string  `json:"ckpt,omitempty"`
	Categories      []string `json:"categories,omitempty"`
	SaveDir         *string  `json:"save_dir,omitempty"`
	Device          *string  `json:"device,omitempty"`
	BatchSize       *int     `json:"batch_size,omitempty"`
	SampleNumPoints *int     `json:"sample_num_points,omitempty"`
	Rounds          *int     `json:"rounds,omitempty"`
	Normalize       *string  `json:"normalize,omitempty"`
	Seed            *uint64  `json:"seed,omitempty"`
	Workers         *int     `json:"workers,omitempty"`
	OutputName      *string  `json:"output_name,omitempty"`

	// Backend selection
	ModelAddr   *string `json:"model_addr,omitempty"`
	Dev         *bool   `json:"dev,omitempty"`
	LoadTimeout *string `json:"load_timeout,omitempty"` // duration string like "2m"

	// Side outputs
	CatalogDB     *string `json:"db,omitempty"`
	Preview       *bool   `json:"preview,omitempty"`
	PreviewClouds *int    `json:"preview_clouds,omitempty"`
}

// EmptyGenerateConfig returns a GenerateConfig with every field unset.
func EmptyGenerateConfig() *GenerateConfig {
	return &GenerateConfig{}
}

// LoadGenerateConfig loads a GenerateConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadGenerateConfig(path string) (*GenerateConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyGenerateConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *GenerateConfig) Validate() error {
	positive := []struct {
		name string
		v    *int
	}{
		{"batch_size", c.BatchSize},
		{"sample_num_points", c.SampleNumPoints},
		{"rounds", c.Rounds},
		{"workers", c.Workers},
	}
	for _, p := range positive {
		if p.v != nil && *p.v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", p.name, *p.v)
		}
	}
	if c.PreviewClouds != nil && *c.PreviewClouds < 0 {
		return fmt.Errorf("preview_clouds must be non-negative, got %d", *c.PreviewClouds)
	}

	if c.Normalize != nil {
		if _, err := pointcloud.ParseMode(*c.Normalize); err != nil {
			return err
		}
	}

	for _, cat := range c.Categories {
		if strings.TrimSpace(cat) == "" {
			return fmt.Errorf("categories must not contain empty names")
		}
	}

	if c.OutputName != nil && *c.OutputName == "" {
		return fmt.Errorf("output_name must not be empty")
	}

	if c.LoadTimeout != nil && *c.LoadTimeout != "" {
		if _, err := time.ParseDuration(*c.LoadTimeout); err != nil {
			return fmt.Errorf("invalid load_timeout '%s': %w", *c.LoadTimeout, err)
		}
	}
	return nil
}

func (c *GenerateConfig) GetCheckpoint() string {
	if c.Checkpoint == nil {
		return ""
	}
	return *c.Checkpoint
}

// GetCategories returns the category list, defaulting to airplane.
func (c *GenerateConfig) GetCategories() []string {
	if len(c.Categories) == 0 {
		return []string{"airplane"}
	}
	return append([]string(nil), c.Categories...)
}

func (c *GenerateConfig) GetSaveDir() string {
	if c.SaveDir == nil || *c.SaveDir == "" {
		return "./results"
	}
	return *c.SaveDir
}

func (c *GenerateConfig) GetDevice() string {
	if c.Device == nil || *c.Device == "" {
		return "cuda"
	}
	return *c.Device
}

func (c *GenerateConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return 128
	}
	return *c.BatchSize
}

func (c *GenerateConfig) GetSampleNumPoints() int {
	if c.SampleNumPoints == nil {
		return 1024
	}
	return *c.SampleNumPoints
}

// GetRounds returns the number of sampling rounds; the default is 5.
func (c *GenerateConfig) GetRounds() int {
	if c.Rounds == nil {
		return 5
	}
	return *c.Rounds
}

func (c *GenerateConfig) GetNormalize() string {
	if c.Normalize == nil {
		return string(pointcloud.ModeShapeBBox)
	}
	return *c.Normalize
}

func (c *GenerateConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 9
	}
	return *c.Seed
}

func (c *GenerateConfig) GetWorkers() int {
	if c.Workers == nil {
		return 1
	}
	return *c.Workers
}

func (c *GenerateConfig) GetOutputName() string {
	if c.OutputName == nil {
		return "inferencia.npy"
	}
	return *c.OutputName
}

func (c *GenerateConfig) GetModelAddr() string {
	if c.ModelAddr == nil {
		return ""
	}
	return *c.ModelAddr
}

func (c *GenerateConfig) GetDev() bool {
	if c.Dev == nil {
		return false
	}
	return *c.Dev
}

// GetLoadTimeout parses LoadTimeout, falling back to two minutes.
func (c *GenerateConfig) GetLoadTimeout() time.Duration {
	if c.LoadTimeout == nil || *c.LoadTimeout == "" {
		return 2 * time.Minute
	}
	d, err := time.ParseDuration(*c.LoadTimeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

func (c *GenerateConfig) GetCatalogDB() string {
	if c.CatalogDB == nil {
		return ""
	}
	return *c.CatalogDB
}

func (c *GenerateConfig) GetPreview() bool {
	if c.Preview == nil {
		return false
	}
	return *c.Preview
}

func (c *GenerateConfig) GetPreviewClouds() int {
	if c.PreviewClouds == nil {
		return 16
	}
	return *c.PreviewClouds
}
