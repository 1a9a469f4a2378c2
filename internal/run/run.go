// Package run owns run metadata: the durable record of what was attempted,
// with which config, and how it ended. run.json in the run directory is the
// source of truth for which checkpoint came from which config.
package run

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/config"
)

// MetadataFile is the metadata document name inside a run directory.
const MetadataFile = "run.json"

// Event is one appended progress note.
type Event struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Metadata is the per-run record. It is created once at run start, appended
// to while the run progresses, and finalized exactly once. Every mutation is
// persisted immediately so the record survives a crash mid-run.
type Metadata struct {
	ID             string                   `json:"id"`
	Mode           Mode                     `json:"mode"`
	Fold           int                      `json:"fold"`
	State          State                    `json:"state"`
	StartedAt      time.Time                `json:"started_at"`
	EndedAt        *time.Time               `json:"ended_at,omitempty"`
	ToolkitVersion string                   `json:"toolkit_version"`
	Checkpoint     string                   `json:"checkpoint,omitempty"`
	FailureReason  string                   `json:"failure_reason,omitempty"`
	Config         *config.ExperimentConfig `json:"config"`
	Events         []Event                  `json:"events,omitempty"`

	dir string
}

// NewID builds a run identifier unique across concurrent orchestrators
// targeting the same output root: UTC timestamp + fold + random suffix.
func NewID(mode Mode, fold int, now time.Time) string {
	return fmt.Sprintf("%s-%s-fold%d-%s",
		now.UTC().Format("20060102T150405Z"), mode, fold, uuid.NewString()[:8])
}

// Create allocates a run-specific directory under the output root and
// persists the initial metadata in state Configured. The config is
// snapshotted so later config changes cannot redefine a past run.
func Create(cfg *config.ExperimentConfig, mode Mode, fold int, toolkitVersion string) (*Metadata, error) {
	now := time.Now()
	m := &Metadata{
		ID:             NewID(mode, fold, now),
		Mode:           mode,
		Fold:           fold,
		State:          StateConfigured,
		StartedAt:      now.UTC(),
		ToolkitVersion: toolkitVersion,
		Config:         cfg.Snapshot(),
	}
	m.dir = filepath.Join(cfg.OutputRoot, m.ID)

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	if err := m.save(); err != nil {
		return nil, err
	}
	return m, nil
}

// Dir returns the run-specific directory.
func (m *Metadata) Dir() string { return m.dir }

// Start moves the run to Running.
func (m *Metadata) Start() error {
	if err := m.transition(StateRunning); err != nil {
		return err
	}
	return m.save()
}

// AppendEvent records a progress note. Event persistence is best-effort on
// top of the already-written record.
func (m *Metadata) AppendEvent(msg string) error {
	m.Events = append(m.Events, Event{Time: time.Now().UTC(), Message: msg})
	return m.save()
}

// Complete finalizes the run with the verified checkpoint path.
func (m *Metadata) Complete(checkpoint string) error {
	if err := m.transition(StateCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	m.EndedAt = &now
	m.Checkpoint = checkpoint
	return m.save()
}

// Fail finalizes the run with a failure reason. No checkpoint path is
// recorded, so a partial artifact is never referenced as valid.
func (m *Metadata) Fail(reason string) error {
	if err := m.transition(StateFailed); err != nil {
		return err
	}
	now := time.Now().UTC()
	m.EndedAt = &now
	m.FailureReason = reason
	m.Checkpoint = ""
	return m.save()
}

// save writes run.json atomically (write-then-rename) so readers never see
// a torn document.
func (m *Metadata) save() error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run metadata: %w", err)
	}
	tmp := filepath.Join(m.dir, MetadataFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write run metadata: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(m.dir, MetadataFile)); err != nil {
		return fmt.Errorf("replace run metadata: %w", err)
	}
	return nil
}

// Load reads the metadata document from a run directory.
func Load(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("read run metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse run metadata in %s: %w", dir, err)
	}
	m.dir = dir
	return &m, nil
}

// List loads every run under the output root, newest first. Directories
// without a readable run.json are skipped.
func List(outputRoot string) ([]*Metadata, error) {
	entries, err := os.ReadDir(outputRoot)
	if err != nil {
		return nil, fmt.Errorf("read output root: %w", err)
	}
	var runs []*Metadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := Load(filepath.Join(outputRoot, e.Name()))
		if err != nil {
			continue
		}
		runs = append(runs, m)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return runs, nil
}
