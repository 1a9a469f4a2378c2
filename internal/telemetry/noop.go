package telemetry

import (
	"context"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/run"
)

// Noop is a metrics exporter that does nothing.
type Noop struct{}

// NewNoop creates a no-op exporter for graceful degradation.
func NewNoop() *Noop { return &Noop{} }

func (*Noop) ExportRun(context.Context, *run.Metadata) error { return nil }

func (*Noop) ExportEvaluation(context.Context, string, string, map[string]float64) error {
	return nil
}

func (*Noop) Close(context.Context) error { return nil }
