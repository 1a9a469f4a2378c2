package split

import (
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/dataset"
)

func manifestOf(n int) *dataset.Manifest {
	m := &dataset.Manifest{Name: "D"}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("case_%04d", i)
		m.Cases = append(m.Cases, dataset.Case{ID: id, Image: id + ".png"})
	}
	return m
}

func TestAssignIsDeterministic(t *testing.T) {
	m := manifestOf(23)

	a, err := Assign(m, 5, 42)
	require.NoError(t, err)
	b, err := Assign(m, 5, 42)
	require.NoError(t, err)
	assert.Equal(t, a, b, "identical inputs must reproduce the identical assignment")

	c, err := Assign(m, 5, 43)
	require.NoError(t, err)
	assert.NotEqual(t, a.Folds, c.Folds, "a different seed should shuffle differently")
}

func TestAssignPartitionCoverage(t *testing.T) {
	for _, folds := range []int{2, 3, 5, 8} {
		m := manifestOf(29)
		a, err := Assign(m, folds, 7)
		require.NoError(t, err)
		require.Len(t, a.Folds, folds)

		seen := map[string]int{}
		for i, f := range a.Folds {
			for _, id := range f.Validation {
				seen[id]++
			}
			// Within a fold, train and validation are disjoint and
			// together cover the manifest.
			assert.Len(t, append(append([]string{}, f.Train...), f.Validation...), 29)
			inTrain := map[string]bool{}
			for _, id := range f.Train {
				inTrain[id] = true
			}
			for _, id := range f.Validation {
				assert.False(t, inTrain[id], "fold %d: case %s in both groups", i, id)
			}
		}

		assert.Len(t, seen, 29, "every case must appear in a validation set")
		for id, count := range seen {
			assert.Equal(t, 1, count, "case %s validates in %d folds", id, count)
		}
	}
}

func TestAssign23CasesInto5Folds(t *testing.T) {
	a, err := Assign(manifestOf(23), 5, 42)
	require.NoError(t, err)

	var sizes []int
	for _, f := range a.Folds {
		sizes = append(sizes, len(f.Validation))
	}
	sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
	assert.Equal(t, []int{5, 5, 5, 4, 4}, sizes)
}

func TestAssignHeldOutSingleFold(t *testing.T) {
	a, err := Assign(manifestOf(10), 1, 1)
	require.NoError(t, err)
	require.Len(t, a.Folds, 1)
	assert.Len(t, a.Folds[0].Validation, 2)
	assert.Len(t, a.Folds[0].Train, 8)

	// Tiny manifests still get a non-empty validation group.
	a, err = Assign(manifestOf(3), 1, 1)
	require.NoError(t, err)
	assert.Len(t, a.Folds[0].Validation, 1)
	assert.Len(t, a.Folds[0].Train, 2)
}

func TestAssignErrors(t *testing.T) {
	_, err := Assign(manifestOf(3), 5, 1)
	var se *SplitError
	require.ErrorAs(t, err, &se)

	_, err = Assign(manifestOf(3), 0, 1)
	require.ErrorAs(t, err, &se)

	_, err = Assign(manifestOf(1), 1, 1)
	require.ErrorAs(t, err, &se)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	a, err := Assign(manifestOf(12), 3, 99)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "splits", "split.yaml")
	require.NoError(t, a.Save(path))

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestLoadFileRejectsEmptyGroups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "split.yaml")
	bad := &Assignment{Dataset: "D", Folds: []Fold{{Train: []string{"a"}}}}
	require.NoError(t, bad.Save(path))

	_, err := LoadFile(path)
	var se *SplitError
	require.ErrorAs(t, err, &se)
}
