// Package server exposes the inference HTTP API: health, run listing from
// the registry, and single-image segmentation against a loaded checkpoint.
package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/inference"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/registry"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/run"
)

// Config holds server-specific configuration.
type Config struct {
	Addr            string
	MaxUploadBytes  int64
	DefaultPageSize int
}

// Handler serves the API. The pipeline owns the loaded checkpoint; the
// registry is optional and /api/v1/runs 404s without it.
type Handler struct {
	pipe     *inference.Pipeline
	registry *registry.Registry
	cfg      Config
	log      *slog.Logger
}

func NewHTTPServer(cfg Config, pipe *inference.Pipeline, reg *registry.Registry, log *slog.Logger) *http.Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	h := &Handler{pipe: pipe, registry: reg, cfg: cfg, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", h.handleHealth)
		r.Get("/runs", h.handleRuns)
		r.Post("/infer", h.handleInfer)
	})

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"checkpoint": h.pipe.Checkpoint().ID(),
	})
}

func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		writeError(w, http.StatusNotFound, "run registry not configured")
		return
	}
	opts := registry.ListOptions{
		Dataset: r.URL.Query().Get("dataset"),
		State:   run.State(r.URL.Query().Get("state")),
		Limit:   h.cfg.DefaultPageSize,
	}
	entries, err := h.registry.List(r.Context(), opts)
	if err != nil {
		h.log.Error("listing runs", "error", err)
		writeError(w, http.StatusInternalServerError, "listing runs failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// inferRequest is the JSON request body: either a batch of server-local
// input paths or a single base64-encoded PNG.
type inferRequest struct {
	Inputs   []inferInput `json:"inputs,omitempty"`
	ImageB64 string       `json:"image_b64,omitempty"`
}

type inferInput struct {
	ID    string `json:"id"`
	Image string `json:"image"`
	Label string `json:"label,omitempty"`
}

type inferResult struct {
	InputID string             `json:"input_id"`
	Mask    string             `json:"mask,omitempty"`
	MaskB64 string             `json:"mask_b64,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// handleInfer segments uploaded images. A multipart upload with an "image"
// part returns the mask as PNG; a JSON body returns per-item JSON results.
func (h *Handler) handleInfer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		h.handleInferJSON(w, r)
		return
	}

	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parse upload: %v", err))
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, `missing "image" part`)
		return
	}
	defer file.Close()

	// The pipeline reads from paths; spool the upload to a temp file.
	tmpDir, err := os.MkdirTemp("", "seglab-infer-*")
	if err != nil {
		h.log.Error("creating upload dir", "error", err)
		writeError(w, http.StatusInternalServerError, "inference failed")
		return
	}
	defer os.RemoveAll(tmpDir)

	imgPath := filepath.Join(tmpDir, filepath.Base(header.Filename))
	out, err := os.Create(imgPath)
	if err == nil {
		_, err = out.ReadFrom(file)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		h.log.Error("spooling upload", "error", err)
		writeError(w, http.StatusInternalServerError, "inference failed")
		return
	}

	results, err := h.pipe.Run(r.Context(), []inference.Input{{
		ID:    uuid.NewString()[:8],
		Image: imgPath,
	}})
	if err != nil {
		h.log.Error("inference", "error", err)
		writeError(w, http.StatusInternalServerError, "inference failed")
		return
	}
	res := results[0]
	if res.Err != nil {
		writeError(w, http.StatusUnprocessableEntity, res.Err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if err := png.Encode(w, res.Mask.Image()); err != nil {
		h.log.Error("encoding mask response", "error", err)
	}
}

func (h *Handler) handleInferJSON(w http.ResponseWriter, r *http.Request) {
	var req inferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parse request: %v", err))
		return
	}

	var inputs []inference.Input
	var b64Response bool
	switch {
	case req.ImageB64 != "":
		data, err := base64.StdEncoding.DecodeString(req.ImageB64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "image_b64 is not valid base64")
			return
		}
		tmpDir, err := os.MkdirTemp("", "seglab-infer-*")
		if err != nil {
			h.log.Error("creating upload dir", "error", err)
			writeError(w, http.StatusInternalServerError, "inference failed")
			return
		}
		defer os.RemoveAll(tmpDir)

		imgPath := filepath.Join(tmpDir, "image.png")
		if err := os.WriteFile(imgPath, data, 0o644); err != nil {
			h.log.Error("spooling upload", "error", err)
			writeError(w, http.StatusInternalServerError, "inference failed")
			return
		}
		inputs = []inference.Input{{ID: uuid.NewString()[:8], Image: imgPath}}
		b64Response = true
	case len(req.Inputs) > 0:
		for _, in := range req.Inputs {
			inputs = append(inputs, inference.Input{ID: in.ID, Image: in.Image, Label: in.Label})
		}
	default:
		writeError(w, http.StatusBadRequest, `request needs "inputs" or "image_b64"`)
		return
	}

	results, err := h.pipe.Run(r.Context(), inputs)
	if err != nil {
		h.log.Error("inference", "error", err)
		writeError(w, http.StatusInternalServerError, "inference failed")
		return
	}

	out := make([]inferResult, len(results))
	for i, res := range results {
		out[i].InputID = res.InputID
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			continue
		}
		out[i].Metrics = res.Metrics
		if b64Response {
			var buf bytes.Buffer
			if err := png.Encode(&buf, res.Mask.Image()); err != nil {
				out[i].Error = fmt.Sprintf("encode mask: %v", err)
				continue
			}
			out[i].MaskB64 = base64.StdEncoding.EncodeToString(buf.Bytes())
		} else {
			out[i].Mask = res.MaskPath
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
