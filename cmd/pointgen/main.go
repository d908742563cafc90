package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/pointgen/internal/api"
	"github.com/banshee-data/pointgen/internal/config"
	"github.com/banshee-data/pointgen/internal/db"
	"github.com/banshee-data/pointgen/internal/monitoring"
	"github.com/banshee-data/pointgen/internal/npy"
	"github.com/banshee-data/pointgen/internal/pipeline"
	"github.com/banshee-data/pointgen/internal/pointcloud"
	"github.com/banshee-data/pointgen/internal/version"
)

var (
	ckptPath        = flag.String("ckpt", "", "Checkpoint manifest (.json)")
	categories      = flag.String("categories", "airplane", "Comma separated shape categories")
	saveDir         = flag.String("save-dir", "./results", "Directory that receives run directories")
	device          = flag.String("device", "cuda", "Device: cpu, cuda or cuda:<n>")
	batchSize       = flag.Int("batch-size", 128, "Latents decoded per round")
	sampleNumPoints = flag.Int("sample-num-points", 1024, "Points per generated cloud")
	rounds          = flag.Int("rounds", 5, "Sampling rounds")
	normalize       = flag.String("normalize", "shape_bbox", "Normalization mode: none, shape_unit or shape_bbox")
	seed            = flag.Uint64("seed", 9, "Random seed")
	workers         = flag.Int("workers", 1, "Rounds decoded and clouds normalized concurrently")
	modelAddr       = flag.String("model-addr", "", "Model server gRPC address")
	devMode         = flag.Bool("dev", false, "Use the in-process procedural backend")
	configPath      = flag.String("config", "", "JSON file with generation defaults")
	dbPath          = flag.String("db", "", "Run catalogue SQLite file (empty disables)")
	outputName      = flag.String("output-name", "inferencia.npy", "Output file name inside the run directory")
	previewFlag     = flag.Bool("preview", false, "Write HTML and PNG previews")
	showVersion     = flag.Bool("version", false, "Print version and exit")
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage:\n")
	fmt.Fprintf(out, "  pointgen [flags]                 generate point clouds\n")
	fmt.Fprintf(out, "  pointgen runs [-db file] [-n N]  list catalogued runs\n")
	fmt.Fprintf(out, "  pointgen catalog [-db file] [-listen addr]\n")
	fmt.Fprintf(out, "                                   serve catalogue debug pages\n")
	fmt.Fprintf(out, "  pointgen inspect <file.npy>      summarise a generated array\n\n")
	fmt.Fprintf(out, "Flags:\n")
	flag.PrintDefaults()
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "runs":
			if err := runRuns(os.Args[2:], os.Stdout); err != nil {
				log.Fatalf("runs: %v", err)
			}
			return
		case "catalog":
			if err := runCatalog(os.Args[2:]); err != nil {
				log.Fatalf("catalog: %v", err)
			}
			return
		case "inspect":
			if len(os.Args) != 3 {
				log.Fatal("Usage: pointgen inspect <file.npy>")
			}
			if err := inspect(os.Stdout, os.Args[2]); err != nil {
				log.Fatalf("inspect: %v", err)
			}
			return
		}
	}

	flag.Usage = usage
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("pointgen"))
		return
	}
	monitoring.SetLogWriters(monitoring.LogWriters{Ops: os.Stderr})

	opts, err := buildOptions()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.Run(ctx, opts)
	if err != nil {
		if pipeline.IsConfigurationError(err) {
			stop()
			log.Printf("configuration: %v", err)
			os.Exit(2)
		}
		stop()
		log.Fatalf("generation failed: %v", err)
	}
	fmt.Println(res.OutputPath)
}

// buildOptions layers explicitly set flags over the config file.
func buildOptions() (pipeline.Options, error) {
	cfg := config.EmptyGenerateConfig()
	if *configPath != "" {
		loaded, err := config.LoadGenerateConfig(*configPath)
		if err != nil {
			return pipeline.Options{}, err
		}
		cfg = loaded
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	applyFlags(cfg, set)
	return pipeline.OptionsFromConfig(cfg), nil
}

func applyFlags(cfg *config.GenerateConfig, set map[string]bool) {
	if set["ckpt"] {
		cfg.Checkpoint = ckptPath
	}
	if set["categories"] {
		cfg.Categories = splitList(*categories)
	}
	if set["save-dir"] {
		cfg.SaveDir = saveDir
	}
	if set["device"] {
		cfg.Device = device
	}
	if set["batch-size"] {
		cfg.BatchSize = batchSize
	}
	if set["sample-num-points"] {
		cfg.SampleNumPoints = sampleNumPoints
	}
	if set["rounds"] {
		cfg.Rounds = rounds
	}
	if set["normalize"] {
		cfg.Normalize = normalize
	}
	if set["seed"] {
		cfg.Seed = seed
	}
	if set["workers"] {
		cfg.Workers = workers
	}
	if set["model-addr"] {
		cfg.ModelAddr = modelAddr
	}
	if set["dev"] {
		cfg.Dev = devMode
	}
	if set["db"] {
		cfg.CatalogDB = dbPath
	}
	if set["output-name"] {
		cfg.OutputName = outputName
	}
	if set["preview"] {
		cfg.Preview = previewFlag
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func runRuns(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	path := fs.String("db", "pointgen.db", "Run catalogue SQLite file")
	limit := fs.Int("n", 20, "Maximum runs to list (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	catalog, err := db.NewDB(*path)
	if err != nil {
		return err
	}
	defer catalog.Close()

	runs, err := catalog.ListRuns(*limit)
	if err != nil {
		return err
	}
	return printRuns(w, runs)
}

func printRuns(w io.Writer, runs []db.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tCREATED\tSTATUS\tMODEL\tCATEGORIES\tMODE\tCLOUDS\tOUTPUT")
	for _, r := range runs {
		out := r.OutputPath
		if r.Status == db.RunFailed {
			out = r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.RunID, r.CreatedAt.UTC().Format(time.RFC3339), r.Status, r.ModelKind,
			strings.Join(r.Categories, ","), r.Mode, r.Clouds, out)
	}
	return tw.Flush()
}

func runCatalog(args []string) error {
	fs := flag.NewFlagSet("catalog", flag.ExitOnError)
	path := fs.String("db", "pointgen.db", "Run catalogue SQLite file")
	listen := fs.String("listen", "localhost:8080", "Listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	catalog, err := db.NewDB(*path)
	if err != nil {
		return err
	}
	defer catalog.Close()

	mux := http.NewServeMux()
	if err := catalog.AttachDebugHandlers(mux); err != nil {
		return err
	}
	api.NewServer(catalog).Register(mux)
	server := &http.Server{Addr: *listen, Handler: api.LoggingMiddleware(mux)}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("catalog server shutdown: %v", err)
		}
	}()

	log.Printf("serving catalogue on http://%s/api/runs and http://%s/debug/", *listen, *listen)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// inspect prints the array shape and per-cloud bounding boxes.
func inspect(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	shape, data, err := npy.Read(f)
	if err != nil {
		return err
	}
	batch, err := pointcloud.FromFloat32s(shape, data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s: shape %v\n", path, shape)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "cloud\tcentre x\tcentre y\tcentre z\tmax extent\t")
	for i, c := range batch {
		lo, hi := bounds(c)
		fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%.4f\t%.4f\t\n", i,
			(lo.X+hi.X)/2, (lo.Y+hi.Y)/2, (lo.Z+hi.Z)/2,
			max(hi.X-lo.X, hi.Y-lo.Y, hi.Z-lo.Z))
	}
	return tw.Flush()
}

func bounds(c pointcloud.Cloud) (lo, hi pointcloud.Point) {
	if len(c) == 0 {
		return
	}
	lo, hi = c[0], c[0]
	for _, p := range c[1:] {
		lo.X, hi.X = min(lo.X, p.X), max(hi.X, p.X)
		lo.Y, hi.Y = min(lo.Y, p.Y), max(hi.Y, p.Y)
		lo.Z, hi.Z = min(lo.Z, p.Z), max(hi.Z, p.Z)
	}
	return lo, hi
}
