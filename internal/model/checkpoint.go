package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// maxManifestSize caps the checkpoint manifest read from disk.
const maxManifestSize = 1 * 1024 * 1024

// Args are the training arguments stored alongside the weights. Only Model,
// LatentDim and Flexibility are read by the generator; the rest are passed
// through to the backend when it loads the weights.
type Args struct {
	Model        string  `json:"model"`
	LatentDim    int     `json:"latent_dim"`
	Flexibility  float64 `json:"flexibility"`
	NumSteps     int     `json:"num_steps,omitempty"`
	Beta1        float64 `json:"beta_1,omitempty"`
	BetaT        float64 `json:"beta_T,omitempty"`
	SchedMode    string  `json:"sched_mode,omitempty"`
	Residual     bool    `json:"residual,omitempty"`
	SpectralNorm bool    `json:"spectral_norm,omitempty"`
}

// Checkpoint is the manifest exported next to a trained model.
type Checkpoint struct {
	Args       Args     `json:"args"`
	Weights    string   `json:"weights,omitempty"` // weights file, resolved by the backend
	Categories []string `json:"categories,omitempty"`

	// Path is where the manifest was loaded from.
	Path string `json:"-"`
}

// Config is the read-only model configuration the generator needs.
type Config struct {
	Kind        Kind
	LatentDim   int
	Flexibility float64
}

// Validate checks type and range constraints.
func (c Config) Validate() error {
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return err
	}
	if c.LatentDim <= 0 {
		return configErrorf("latent_dim", "must be positive, got %d", c.LatentDim)
	}
	if math.IsNaN(c.Flexibility) || c.Flexibility < 0 || c.Flexibility > 1 {
		return configErrorf("flexibility", "must be between 0 and 1, got %v", c.Flexibility)
	}
	return nil
}

// Config extracts and validates the generator configuration.
func (c *Checkpoint) Config() (Config, error) {
	kind, err := ParseKind(c.Args.Model)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Kind: kind, LatentDim: c.Args.LatentDim, Flexibility: c.Args.Flexibility}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadCheckpoint reads a checkpoint manifest. The file must have a .json
// extension and be under 1MB. Relative weight paths are resolved against the
// manifest's directory.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	if path == "" {
		return nil, &ConfigurationError{Field: "ckpt", Reason: "checkpoint path is required"}
	}
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, configErrorf("ckpt", "checkpoint manifest must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat checkpoint: %w", err)
	}
	if fileInfo.Size() > maxManifestSize {
		return nil, configErrorf("ckpt", "manifest too large: %d bytes (max %d)", fileInfo.Size(), maxManifestSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	ckpt := &Checkpoint{}
	if err := json.Unmarshal(data, ckpt); err != nil {
		return nil, configErrorf("ckpt", "failed to parse manifest JSON: %v", err)
	}
	ckpt.Path = cleanPath
	if ckpt.Weights != "" && !filepath.IsAbs(ckpt.Weights) {
		ckpt.Weights = filepath.Join(filepath.Dir(cleanPath), ckpt.Weights)
	}

	if _, err := ckpt.Config(); err != nil {
		return nil, err
	}
	return ckpt, nil
}
