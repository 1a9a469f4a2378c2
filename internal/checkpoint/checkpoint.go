// Package checkpoint defines the handle for trained weights: an opaque
// weights file plus a sidecar metadata document carrying the config
// snapshot the weights were produced with. The inference pipeline reads its
// normalization and geometry parameters from this snapshot, never from the
// caller's live config.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/config"
)

// SidecarFile is the metadata document written next to the weights.
const SidecarFile = "checkpoint.json"

// Handle references trained weights. The weights themselves are opaque
// bytes owned by the toolkit; the sidecar is owned by this system.
type Handle struct {
	Weights        string                   `json:"weights"`
	Format         string                   `json:"format"`
	ToolkitVersion string                   `json:"toolkit_version"`
	RunID          string                   `json:"run_id"`
	CreatedAt      time.Time                `json:"created_at"`
	Config         *config.ExperimentConfig `json:"config"`
}

// ID identifies the checkpoint in metric records and logs.
func (h *Handle) ID() string {
	if h.RunID != "" {
		return h.RunID
	}
	return filepath.Base(filepath.Dir(h.Weights))
}

// Write persists the sidecar next to the weights. The weights file must
// already exist and be readable; a handle is never written for a missing or
// unreadable artifact.
func Write(h *Handle) error {
	f, err := os.Open(h.Weights)
	if err != nil {
		return fmt.Errorf("checkpoint weights not readable: %w", err)
	}
	f.Close()

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint sidecar: %w", err)
	}
	path := filepath.Join(filepath.Dir(h.Weights), SidecarFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint sidecar: %w", err)
	}
	return nil
}

// Load resolves a user-supplied path (weights file, sidecar file, or
// checkpoint directory) to a handle and verifies the weights exist.
func Load(path string) (*Handle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}

	sidecar := path
	switch {
	case info.IsDir():
		sidecar = filepath.Join(path, SidecarFile)
	case filepath.Base(path) != SidecarFile:
		sidecar = filepath.Join(filepath.Dir(path), SidecarFile)
	}

	data, err := os.ReadFile(sidecar)
	if err != nil {
		return nil, fmt.Errorf("checkpoint sidecar: %w", err)
	}
	var h Handle
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse checkpoint sidecar %s: %w", sidecar, err)
	}
	if h.Config == nil {
		return nil, fmt.Errorf("checkpoint sidecar %s: missing config snapshot", sidecar)
	}

	if !filepath.IsAbs(h.Weights) {
		h.Weights = filepath.Join(filepath.Dir(sidecar), h.Weights)
	}
	if _, err := os.Stat(h.Weights); err != nil {
		return nil, fmt.Errorf("checkpoint weights: %w", err)
	}
	return &h, nil
}
