package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/banshee-data/pointgen/internal/db"
	"github.com/banshee-data/pointgen/internal/fsutil"
	"github.com/banshee-data/pointgen/internal/model"
	"github.com/banshee-data/pointgen/internal/model/remote"
	"github.com/banshee-data/pointgen/internal/monitoring"
	"github.com/banshee-data/pointgen/internal/npy"
	"github.com/banshee-data/pointgen/internal/pointcloud"
	"github.com/banshee-data/pointgen/internal/preview"
	"github.com/banshee-data/pointgen/internal/sampler"
	"github.com/banshee-data/pointgen/internal/security"
	"github.com/banshee-data/pointgen/internal/timeutil"
)

const (
	logFileName = "log.txt"
	previewDir  = "preview"
	// pngClouds caps the clouds that get static projections.
	pngClouds = 4
)

// Result describes a finished run.
type Result struct {
	RunID      string
	SaveDir    string
	OutputPath string
	Shape      [3]int
	Previews   []string
	Duration   time.Duration
}

// Runner executes generation jobs against a filesystem and clock.
type Runner struct {
	FS    fsutil.FileSystem
	Clock timeutil.Clock
	// Console receives the ops and diag streams alongside log.txt.
	Console io.Writer
	// NewBackend picks the model backend. Nil uses the procedural backend
	// in dev mode and a model-server client otherwise.
	NewBackend func(Options) (model.Backend, error)
}

// NewRunner returns a Runner on the real filesystem and clock.
func NewRunner() *Runner {
	return &Runner{FS: fsutil.OSFileSystem{}, Clock: timeutil.RealClock{}, Console: os.Stderr}
}

// Run executes one job with NewRunner.
func Run(ctx context.Context, opts Options) (*Result, error) {
	return NewRunner().Run(ctx, opts)
}

// Run executes one generation job. Any error aborts the job; nothing is
// retried and no partial array is written.
func (r *Runner) Run(ctx context.Context, opts Options) (_ *Result, err error) {
	v, err := opts.validate()
	if err != nil {
		return nil, err
	}
	start := r.Clock.Now()

	runDir, err := r.makeRunDir(opts.SaveDir, opts.Categories, start)
	if err != nil {
		return nil, err
	}

	logFile, err := r.FS.Create(filepath.Join(runDir, logFileName))
	if err != nil {
		return nil, fmt.Errorf("create run log: %w", err)
	}
	defer logFile.Close()
	r.routeLogs(logFile)
	defer monitoring.SetLogWriters(monitoring.LogWriters{Ops: r.console()})

	for _, kv := range opts.args() {
		monitoring.Diagf("[ARGS::%s] %s", kv[0], kv[1])
	}
	monitoring.Opsf("Run directory: %s", runDir)

	ckpt, err := model.LoadCheckpoint(opts.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	cfg, err := ckpt.Config()
	if err != nil {
		return nil, err
	}
	monitoring.Opsf("Loaded %s model from %s (latent_dim=%d, flexibility=%g)", cfg.Kind, ckpt.Path, cfg.LatentDim, cfg.Flexibility)
	warnUnknownCategories(ckpt, opts.Categories)

	backend, err := r.backend(opts)
	if err != nil {
		return nil, err
	}
	m, err := model.New(ckpt, backend)
	if err != nil {
		return nil, err
	}

	outputPath, err := security.ResolveWithin(runDir, opts.OutputName)
	if err != nil {
		return nil, &model.ConfigurationError{Field: "output_name", Reason: err.Error()}
	}

	res := &Result{SaveDir: runDir, OutputPath: outputPath}
	if opts.CatalogDB != "" {
		var catalog *db.DB
		catalog, res.RunID, err = startCatalogRun(opts, cfg, runDir, start)
		if err != nil {
			return nil, err
		}
		defer catalog.Close()
		defer func() {
			at := r.Clock.Now()
			var ferr error
			if err != nil {
				ferr = catalog.FailRun(res.RunID, err, at)
			} else {
				ferr = catalog.CompleteRun(res.RunID, res.Shape[0], res.OutputPath, at)
			}
			if ferr != nil {
				monitoring.Opsf("catalogue update for run %s failed: %v", res.RunID, ferr)
			}
		}()
	}

	gc := sampler.NewGenerationContext(opts.Seed, v.device, m)
	batch, err := sampler.Generate(ctx, gc, cfg, v.sizes)
	if err != nil {
		return nil, err
	}

	normalizer := pointcloud.Normalizer{Workers: opts.Workers}
	if _, err := normalizer.Normalize(ctx, batch, v.mode); err != nil {
		return nil, err
	}

	if err := r.writeArray(outputPath, batch); err != nil {
		return nil, err
	}
	res.Shape = batch.Shape()
	monitoring.Opsf("Saved %d clouds of %d points to %s", res.Shape[0], res.Shape[1], outputPath)

	if opts.Preview {
		res.Previews, err = r.writePreviews(runDir, batch, opts)
		if err != nil {
			return nil, err
		}
	}

	res.Duration = r.Clock.Since(start)
	monitoring.Opsf("Run finished in %s", res.Duration)
	return res, nil
}

// makeRunDir creates <saveDir>/GEN_Ours_<categories>_<unix>. A numeric
// suffix is added when a run in the same second already took the name.
func (r *Runner) makeRunDir(saveDir string, categories []string, at time.Time) (string, error) {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = security.SanitizeFilename(c)
	}
	base := filepath.Join(saveDir, fmt.Sprintf("GEN_Ours_%s_%d", strings.Join(names, "_"), at.Unix()))

	dir := base
	for i := 1; fsutil.Exists(r.FS, dir); i++ {
		dir = fmt.Sprintf("%s_%d", base, i)
	}
	if err := r.FS.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}
	return dir, nil
}

func (r *Runner) console() io.Writer {
	if r.Console == nil {
		return os.Stderr
	}
	return r.Console
}

func (r *Runner) routeLogs(logFile io.Writer) {
	both := io.MultiWriter(r.console(), logFile)
	monitoring.SetLogWriters(monitoring.LogWriters{Ops: both, Diag: both, Trace: logFile})
}

func (r *Runner) backend(opts Options) (model.Backend, error) {
	if r.NewBackend != nil {
		return r.NewBackend(opts)
	}
	if opts.Dev {
		monitoring.Opsf("Dev mode: using the procedural backend")
		return model.NewProceduralBackend(), nil
	}
	var ropts []remote.Option
	if opts.LoadTimeout > 0 {
		ropts = append(ropts, remote.WithLoadTimeout(opts.LoadTimeout))
	}
	return remote.NewClient(opts.ModelAddr, ropts...), nil
}

func warnUnknownCategories(ckpt *model.Checkpoint, categories []string) {
	if len(ckpt.Categories) == 0 {
		return
	}
	for _, c := range categories {
		if !slices.Contains(ckpt.Categories, c) {
			monitoring.Opsf("warning: category %q is not listed in checkpoint %s", c, ckpt.Path)
		}
	}
}

func startCatalogRun(opts Options, cfg model.Config, runDir string, at time.Time) (*db.DB, string, error) {
	catalog, err := db.NewDB(opts.CatalogDB)
	if err != nil {
		return nil, "", fmt.Errorf("open run catalogue: %w", err)
	}
	run := &db.Run{
		CreatedAt:  at,
		Checkpoint: opts.Checkpoint,
		ModelKind:  string(cfg.Kind),
		LatentDim:  cfg.LatentDim,
		Categories: opts.Categories,
		Mode:       opts.Normalize,
		BatchSize:  opts.BatchSize,
		NumPoints:  opts.NumPoints,
		Rounds:     opts.Rounds,
		Seed:       opts.Seed,
		Device:     opts.Device,
		SaveDir:    runDir,
	}
	if err := catalog.StartRun(run); err != nil {
		catalog.Close()
		return nil, "", err
	}
	monitoring.Diagf("Catalogue run id: %s", run.RunID)
	return catalog, run.RunID, nil
}

func (r *Runner) writeArray(path string, batch pointcloud.Batch) (err error) {
	f, err := r.FS.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	shape := batch.Shape()
	if err := npy.Write(f, shape[:], batch.Float32s()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (r *Runner) writePreviews(runDir string, batch pointcloud.Batch, opts Options) ([]string, error) {
	dir := filepath.Join(runDir, previewDir)
	if err := r.FS.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create preview directory: %w", err)
	}

	var written []string
	write := func(name string, render func(io.Writer) error) error {
		path := filepath.Join(dir, name)
		f, err := r.FS.Create(path)
		if err != nil {
			return err
		}
		if err := render(f); err != nil {
			f.Close()
			return fmt.Errorf("render %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	title := strings.Join(opts.Categories, ", ")
	if err := write("index.html", func(w io.Writer) error {
		return preview.WriteHTML(w, batch, opts.PreviewClouds, title)
	}); err != nil {
		return nil, err
	}

	n := min(len(batch), pngClouds)
	if opts.PreviewClouds > 0 {
		n = min(n, opts.PreviewClouds)
	}
	for i := 0; i < n; i++ {
		for _, proj := range []preview.Projection{preview.ProjectXY, preview.ProjectXZ} {
			name := fmt.Sprintf("cloud_%03d_%s.png", i, proj)
			err := write(name, func(w io.Writer) error {
				return preview.WritePNG(w, batch[i], proj, fmt.Sprintf("%s cloud %d (%s)", title, i, proj))
			})
			if err != nil {
				return nil, err
			}
		}
	}
	monitoring.Diagf("Wrote %d preview files to %s", len(written), dir)
	return written, nil
}

// IsConfigurationError reports whether err should be reported as a usage
// problem rather than a runtime failure.
func IsConfigurationError(err error) bool {
	var cfgErr *model.ConfigurationError
	var modeErr *pointcloud.UnsupportedModeError
	return errors.As(err, &cfgErr) || errors.As(err, &modeErr)
}
