// Package api serves the run catalogue as JSON.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/pointgen/internal/db"
)

// ANSI escape codes for the request log.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// RunStore is the catalogue subset the API reads.
type RunStore interface {
	ListRuns(limit int) ([]db.Run, error)
	GetRun(runID string) (*db.Run, error)
}

type Server struct {
	runs RunStore
}

func NewServer(runs RunStore) *Server {
	return &Server{runs: runs}
}

// RunAPI is the wire form of a catalogued run.
type RunAPI struct {
	RunID      string     `json:"run_id"`
	CreatedAt  time.Time  `json:"created_at"`
	Checkpoint string     `json:"checkpoint"`
	ModelKind  string     `json:"model_kind"`
	LatentDim  int        `json:"latent_dim"`
	Categories []string   `json:"categories"`
	Mode       string     `json:"mode"`
	BatchSize  int        `json:"batch_size"`
	NumPoints  int        `json:"num_points"`
	Rounds     int        `json:"rounds"`
	Seed       uint64     `json:"seed"`
	Device     string     `json:"device"`
	SaveDir    string     `json:"save_dir"`
	Status     string     `json:"status"`
	Clouds     int        `json:"clouds"`
	OutputPath string     `json:"output_path,omitempty"`
	Error      string     `json:"error,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func runToAPI(r db.Run) RunAPI {
	return RunAPI{
		RunID:      r.RunID,
		CreatedAt:  r.CreatedAt.UTC(),
		Checkpoint: r.Checkpoint,
		ModelKind:  r.ModelKind,
		LatentDim:  r.LatentDim,
		Categories: r.Categories,
		Mode:       r.Mode,
		BatchSize:  r.BatchSize,
		NumPoints:  r.NumPoints,
		Rounds:     r.Rounds,
		Seed:       r.Seed,
		Device:     r.Device,
		SaveDir:    r.SaveDir,
		Status:     string(r.Status),
		Clouds:     r.Clouds,
		OutputPath: r.OutputPath,
		Error:      r.Error,
		FinishedAt: r.FinishedAt,
	}
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.showRun)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 0 {
			writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.runs.ListRuns(limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to list runs: "+err.Error())
		return
	}
	out := make([]RunAPI, len(runs))
	for i, run := range runs {
		out[i] = runToAPI(run)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.PathValue("id"))
	if errors.Is(err, db.ErrRunNotFound) {
		writeJSONError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to load run: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runToAPI(*run))
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
