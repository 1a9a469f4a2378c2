package metrics

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/tensor"
)

func square(w, h, x0, y0, x1, y1 int) *tensor.Mask {
	m := tensor.NewMask(w, h)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			m.Set(x, y, 1)
		}
	}
	return m
}

func TestComputePerfectOverlap(t *testing.T) {
	a := square(8, 8, 2, 2, 6, 6)
	got, err := Compute(a, a, []string{Dice, IoU, Accuracy, Boundary})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got[Dice])
	assert.Equal(t, 1.0, got[IoU])
	assert.Equal(t, 1.0, got[Accuracy])
	assert.Equal(t, 0.0, got[Boundary])
}

func TestComputeDisjointMasks(t *testing.T) {
	a := square(8, 8, 0, 0, 2, 2)
	b := square(8, 8, 6, 6, 8, 8)
	got, err := Compute(a, b, []string{Dice, IoU})
	require.NoError(t, err)
	assert.Equal(t, 0.0, got[Dice])
	assert.Equal(t, 0.0, got[IoU])
}

func TestComputePartialOverlap(t *testing.T) {
	// 2x2 prediction against a 2x4 truth sharing a 2x2 corner:
	// dice = 2*4/(4+8) = 2/3, iou = 4/8.
	pred := square(8, 8, 0, 0, 2, 2)
	truth := square(8, 8, 0, 0, 2, 4)
	got, err := Compute(pred, truth, []string{Dice, IoU})
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, got[Dice], 1e-9)
	assert.InDelta(t, 0.5, got[IoU], 1e-9)
}

func TestComputeEmptyMasks(t *testing.T) {
	empty := tensor.NewMask(4, 4)
	got, err := Compute(empty, empty, []string{Dice, IoU, Boundary})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got[Dice], "two empty masks agree")
	assert.Equal(t, 0.0, got[Boundary])

	some := square(4, 4, 0, 0, 2, 2)
	got, err = Compute(empty, some, []string{Dice, Boundary})
	require.NoError(t, err)
	assert.Equal(t, 0.0, got[Dice])
	assert.True(t, math.IsInf(got[Boundary], 1))
}

func TestBoundaryDistanceShiftedSquare(t *testing.T) {
	a := square(16, 16, 2, 2, 6, 6)
	b := square(16, 16, 5, 2, 9, 6) // shifted 3 pixels right
	got, err := Compute(a, b, []string{Boundary})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, got[Boundary], 1e-9)
}

func TestComputeRejectsGeometryMismatchAndUnknownMetric(t *testing.T) {
	a := square(4, 4, 0, 0, 1, 1)
	b := square(5, 4, 0, 0, 1, 1)
	_, err := Compute(a, b, []string{Dice})
	assert.Error(t, err)

	_, err = Compute(a, a, []string{"volume"})
	assert.Error(t, err)
}

func TestWriteRecordsAndAggregate(t *testing.T) {
	records := []Record{
		{InputID: "a", Checkpoint: "ckpt", Values: map[string]float64{Dice: 0.8, IoU: 0.7}},
		{InputID: "b", Checkpoint: "ckpt", Values: map[string]float64{Dice: 0.6}},
	}

	path := filepath.Join(t.TempDir(), "out", "metrics.json")
	require.NoError(t, WriteRecords(path, records))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []Record
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, records, got)

	agg := Aggregate(records)
	assert.InDelta(t, 0.7, agg[Dice], 1e-9)
	assert.InDelta(t, 0.7, agg[IoU], 1e-9, "missing metrics must not drag the mean down")
}
