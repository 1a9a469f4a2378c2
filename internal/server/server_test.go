package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/checkpoint"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/config"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/dataset"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/inference"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/toolkit"
)

func writeScan(t *testing.T, path string, bright bool) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			v := uint8(30)
			if bright && x >= 4 && x < 12 && y >= 4 && y < 12 {
				v = 220
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// testServer trains a tiny builtin checkpoint and wires it into a handler.
func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	imgPath := filepath.Join(dir, "case_0.png")
	lblPath := filepath.Join(dir, "case_0_label.png")
	writeScan(t, imgPath, true)
	// Label marks the bright square.
	lbl := image.NewGray(image.Rect(0, 0, 16, 16))
	for y := 4; y < 12; y++ {
		for x := 4; x < 12; x++ {
			lbl.SetGray(x, y, color.Gray{Y: 1})
		}
	}
	f, err := os.Create(lblPath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, lbl))
	require.NoError(t, f.Close())

	cfg := &config.ExperimentConfig{
		Dataset: "Task001",
		Eval:    config.EvalOptions{Threshold: 0.5},
		Model:   map[string]any{"channels": 1},
		Toolkit: config.ToolkitOptions{Kind: config.ToolkitBuiltin},
	}
	tk := toolkit.NewBuiltin()

	weights := filepath.Join(dir, "weights.bin")
	require.NoError(t, tk.Train(ctx, toolkit.TrainSpec{
		RunDir:      dir,
		WeightsPath: weights,
		TrainCases:  []dataset.Case{{ID: "case_0", Image: imgPath, Label: lblPath}},
	}))
	require.NoError(t, checkpoint.Write(&checkpoint.Handle{
		Weights:        weights,
		Format:         tk.Name(),
		ToolkitVersion: tk.Version(),
		RunID:          "test-run",
		CreatedAt:      time.Now(),
		Config:         cfg,
	}))
	ckpt, err := checkpoint.Load(weights)
	require.NoError(t, err)

	pipe, err := inference.New(ctx, tk, ckpt, inference.WithOutputDir(filepath.Join(dir, "out")))
	require.NoError(t, err)
	t.Cleanup(func() { pipe.Close() })

	srv := NewHTTPServer(Config{Addr: ":0"}, pipe, nil, slog.Default())
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthz(t *testing.T) {
	ts := testServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["checkpoint"])
}

func TestInferReturnsMask(t *testing.T) {
	ts := testServer(t)

	scan := filepath.Join(t.TempDir(), "scan.png")
	writeScan(t, scan, true)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "scan.png")
	require.NoError(t, err)
	data, err := os.ReadFile(scan)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/api/v1/infer", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	mask, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 16), mask.Bounds())

	// The bright square should be segmented.
	gray, ok := mask.(*image.Gray)
	require.True(t, ok)
	assert.NotZero(t, gray.GrayAt(8, 8).Y)
	assert.Zero(t, gray.GrayAt(0, 0).Y)
}

func TestInferJSONReturnsPerItemErrors(t *testing.T) {
	ts := testServer(t)

	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	writeScan(t, good, true)

	body, err := json.Marshal(map[string]any{
		"inputs": []map[string]string{
			{"id": "good", "image": good},
			{"id": "missing", "image": filepath.Join(dir, "missing.png")},
		},
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/v1/infer", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Results []struct {
			InputID string             `json:"input_id"`
			Mask    string             `json:"mask"`
			Metrics map[string]float64 `json:"metrics"`
			Error   string             `json:"error"`
		} `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Results, 2)

	assert.Equal(t, "good", out.Results[0].InputID)
	assert.Empty(t, out.Results[0].Error)
	assert.NotEmpty(t, out.Results[0].Mask)

	assert.Equal(t, "missing", out.Results[1].InputID)
	assert.NotEmpty(t, out.Results[1].Error)
}

func TestInferRejectsMissingImagePart(t *testing.T) {
	ts := testServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/api/v1/infer", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunsWithoutRegistry(t *testing.T) {
	ts := testServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/runs")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "registry")
}
