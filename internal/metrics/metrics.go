// Package metrics scores predicted segmentation masks against ground truth
// and serializes the per-input metric records.
package metrics

import (
	"fmt"
	"math"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/tensor"
)

// Known metric names, selectable through the experiment config.
const (
	Dice     = "dice"
	IoU      = "iou"
	Accuracy = "accuracy"
	Boundary = "boundary"
)

// Compute evaluates the named metrics for a prediction/ground-truth pair.
// Masks are compared as binary foreground (any non-zero label).
func Compute(pred, truth *tensor.Mask, names []string) (map[string]float64, error) {
	if pred.W != truth.W || pred.H != truth.H {
		return nil, fmt.Errorf("metrics: geometry mismatch: prediction %dx%d vs truth %dx%d",
			pred.W, pred.H, truth.W, truth.H)
	}

	out := make(map[string]float64, len(names))
	for _, name := range names {
		switch name {
		case Dice:
			out[name] = dice(pred, truth)
		case IoU:
			out[name] = iou(pred, truth)
		case Accuracy:
			out[name] = accuracy(pred, truth)
		case Boundary:
			out[name] = boundaryDistance(pred, truth)
		default:
			return nil, fmt.Errorf("metrics: unknown metric %q", name)
		}
	}
	return out, nil
}

func overlapCounts(pred, truth *tensor.Mask) (inter, predN, truthN int) {
	for i := range pred.Data {
		p := pred.Data[i] != 0
		g := truth.Data[i] != 0
		if p {
			predN++
		}
		if g {
			truthN++
		}
		if p && g {
			inter++
		}
	}
	return
}

// dice returns 2|P∩G| / (|P|+|G|). Two empty masks agree perfectly.
func dice(pred, truth *tensor.Mask) float64 {
	inter, p, g := overlapCounts(pred, truth)
	if p+g == 0 {
		return 1
	}
	return 2 * float64(inter) / float64(p+g)
}

func iou(pred, truth *tensor.Mask) float64 {
	inter, p, g := overlapCounts(pred, truth)
	union := p + g - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}

func accuracy(pred, truth *tensor.Mask) float64 {
	if len(pred.Data) == 0 {
		return 1
	}
	agree := 0
	for i := range pred.Data {
		if (pred.Data[i] != 0) == (truth.Data[i] != 0) {
			agree++
		}
	}
	return float64(agree) / float64(len(pred.Data))
}

// boundaryDistance is a symmetric Hausdorff distance over foreground
// boundary pixels, in pixel units. Zero when both boundaries coincide or
// both masks are empty; +Inf when exactly one mask is empty.
func boundaryDistance(pred, truth *tensor.Mask) float64 {
	pb := boundaryPoints(pred)
	gb := boundaryPoints(truth)
	if len(pb) == 0 && len(gb) == 0 {
		return 0
	}
	if len(pb) == 0 || len(gb) == 0 {
		return math.Inf(1)
	}
	return math.Max(directedHausdorff(pb, gb), directedHausdorff(gb, pb))
}

type point struct{ x, y int }

func boundaryPoints(m *tensor.Mask) []point {
	var pts []point
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			if m.At(x, y) == 0 {
				continue
			}
			if x == 0 || y == 0 || x == m.W-1 || y == m.H-1 ||
				m.At(x-1, y) == 0 || m.At(x+1, y) == 0 ||
				m.At(x, y-1) == 0 || m.At(x, y+1) == 0 {
				pts = append(pts, point{x, y})
			}
		}
	}
	return pts
}

func directedHausdorff(from, to []point) float64 {
	worst := 0.0
	for _, p := range from {
		best := math.Inf(1)
		for _, q := range to {
			dx, dy := float64(p.x-q.x), float64(p.y-q.y)
			if d := dx*dx + dy*dy; d < best {
				best = d
			}
		}
		if best > worst {
			worst = best
		}
	}
	return math.Sqrt(worst)
}
