// Package pipeline runs one generation job end to end: it lays out the run
// directory, samples the model, normalizes the batch and writes the array.
package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/pointgen/internal/config"
	"github.com/banshee-data/pointgen/internal/model"
	"github.com/banshee-data/pointgen/internal/pointcloud"
	"github.com/banshee-data/pointgen/internal/sampler"
	"github.com/banshee-data/pointgen/internal/security"
)

// Options are the inputs of a generation job.
type Options struct {
	Checkpoint  string
	Categories  []string
	SaveDir     string
	Device      string
	BatchSize   int
	NumPoints   int
	Rounds      int
	Normalize   string
	Seed        uint64
	Workers     int
	OutputName  string
	ModelAddr   string
	Dev         bool
	LoadTimeout time.Duration

	CatalogDB     string
	Preview       bool
	PreviewClouds int
}

// OptionsFromConfig fills Options from a config file's values and defaults.
func OptionsFromConfig(cfg *config.GenerateConfig) Options {
	return Options{
		Checkpoint:    cfg.GetCheckpoint(),
		Categories:    cfg.GetCategories(),
		SaveDir:       cfg.GetSaveDir(),
		Device:        cfg.GetDevice(),
		BatchSize:     cfg.GetBatchSize(),
		NumPoints:     cfg.GetSampleNumPoints(),
		Rounds:        cfg.GetRounds(),
		Normalize:     cfg.GetNormalize(),
		Seed:          cfg.GetSeed(),
		Workers:       cfg.GetWorkers(),
		OutputName:    cfg.GetOutputName(),
		ModelAddr:     cfg.GetModelAddr(),
		Dev:           cfg.GetDev(),
		LoadTimeout:   cfg.GetLoadTimeout(),
		CatalogDB:     cfg.GetCatalogDB(),
		Preview:       cfg.GetPreview(),
		PreviewClouds: cfg.GetPreviewClouds(),
	}
}

// validated holds the parsed forms of Options.
type validated struct {
	mode   pointcloud.Mode
	device model.Device
	sizes  sampler.Options
}

// validate rejects bad options before anything touches the disk.
func (o Options) validate() (validated, error) {
	mode, err := pointcloud.ParseMode(o.Normalize)
	if err != nil {
		return validated{}, err
	}
	device, err := model.ParseDevice(o.Device)
	if err != nil {
		return validated{}, err
	}
	sizes := sampler.Options{
		BatchSize: o.BatchSize,
		NumPoints: o.NumPoints,
		Rounds:    o.Rounds,
		Workers:   o.Workers,
	}
	if err := sizes.Validate(); err != nil {
		return validated{}, &model.ConfigurationError{Field: "sizes", Reason: err.Error()}
	}
	if len(o.Categories) == 0 {
		return validated{}, &model.ConfigurationError{Field: "categories", Reason: "at least one category is required"}
	}
	if o.SaveDir == "" {
		return validated{}, &model.ConfigurationError{Field: "save_dir", Reason: "must not be empty"}
	}
	if _, err := security.ResolveWithin(o.SaveDir, o.OutputName); err != nil {
		return validated{}, &model.ConfigurationError{Field: "output_name", Reason: err.Error()}
	}
	if o.Checkpoint == "" {
		return validated{}, &model.ConfigurationError{Field: "ckpt", Reason: "checkpoint path is required"}
	}
	if !o.Dev && o.ModelAddr == "" {
		return validated{}, &model.ConfigurationError{Field: "model_addr", Reason: "a model server address is required unless dev mode is on"}
	}
	return validated{mode: mode, device: device, sizes: sizes}, nil
}

// args lists the options in the order they are written to log.txt.
func (o Options) args() [][2]string {
	return [][2]string{
		{"ckpt", o.Checkpoint},
		{"categories", strings.Join(o.Categories, ",")},
		{"save_dir", o.SaveDir},
		{"device", o.Device},
		{"batch_size", fmt.Sprint(o.BatchSize)},
		{"sample_num_points", fmt.Sprint(o.NumPoints)},
		{"rounds", fmt.Sprint(o.Rounds)},
		{"normalize", o.Normalize},
		{"seed", fmt.Sprint(o.Seed)},
		{"workers", fmt.Sprint(o.Workers)},
		{"output_name", o.OutputName},
		{"model_addr", o.ModelAddr},
		{"dev", fmt.Sprint(o.Dev)},
		{"db", o.CatalogDB},
		{"preview", fmt.Sprint(o.Preview)},
	}
}
