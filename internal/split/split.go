// Package split deterministically partitions a dataset manifest into
// train/validation folds.
//
// With fold count >= 2 the validation groups form a true partition of the
// manifest: every case validates in exactly one fold. With fold count == 1
// there is no cross-validation; the assignment is a single held-out split
// (20% validation, at least one case) rather than a partition.
package split

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/dataset"
)

// ErrInvalidSplit is the sentinel kind for fold assignment failures.
var ErrInvalidSplit = errors.New("invalid split")

// SplitError reports a manifest/fold-count mismatch.
type SplitError struct {
	Msg string
}

func (e *SplitError) Error() string { return fmt.Sprintf("%s: %s", ErrInvalidSplit, e.Msg) }
func (e *SplitError) Unwrap() error { return ErrInvalidSplit }

// Fold is one train/validation division of the manifest.
type Fold struct {
	Train      []string `yaml:"train" json:"train"`
	Validation []string `yaml:"validation" json:"validation"`
}

// Assignment maps fold index to its train and validation case IDs.
// Immutable after creation; deterministic for identical
// (manifest order, folds, seed) inputs.
type Assignment struct {
	Dataset string `yaml:"dataset" json:"dataset"`
	Seed    int64  `yaml:"seed" json:"seed"`
	Folds   []Fold `yaml:"folds" json:"folds"`
}

// Assign shuffles the manifest's case IDs with a generator seeded by seed,
// slices the shuffled order into folds contiguous groups whose sizes differ
// by at most one, and assigns group i as fold i's validation set with all
// remaining cases as its train set.
func Assign(m *dataset.Manifest, folds int, seed int64) (*Assignment, error) {
	if folds < 1 {
		return nil, &SplitError{Msg: fmt.Sprintf("fold count must be >= 1, got %d", folds)}
	}
	n := len(m.Cases)
	if n < folds {
		return nil, &SplitError{Msg: fmt.Sprintf("manifest has %d cases, fewer than %d folds", n, folds)}
	}

	ids := m.IDs()
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	if folds == 1 {
		if n < 2 {
			return nil, &SplitError{Msg: "held-out split needs at least 2 cases"}
		}
		return heldOut(m.Name, seed, ids), nil
	}

	groups := make([][]string, folds)
	base, extra := n/folds, n%folds
	at := 0
	for i := range groups {
		size := base
		if i < extra {
			size++
		}
		groups[i] = ids[at : at+size]
		at += size
	}

	out := &Assignment{Dataset: m.Name, Seed: seed, Folds: make([]Fold, folds)}
	for i := range groups {
		f := Fold{
			Train:      make([]string, 0, n-len(groups[i])),
			Validation: append([]string(nil), groups[i]...),
		}
		for j, g := range groups {
			if j != i {
				f.Train = append(f.Train, g...)
			}
		}
		out.Folds[i] = f
	}
	return out, nil
}

// heldOut builds the single-fold assignment: one 80/20 split of the shuffled
// order with at least one validation case.
func heldOut(name string, seed int64, ids []string) *Assignment {
	val := len(ids) / 5
	if val == 0 {
		val = 1
	}
	return &Assignment{
		Dataset: name,
		Seed:    seed,
		Folds: []Fold{{
			Train:      append([]string(nil), ids[val:]...),
			Validation: append([]string(nil), ids[:val]...),
		}},
	}
}

// Fold returns the assignment for fold index i.
func (a *Assignment) Fold(i int) (Fold, error) {
	if i < 0 || i >= len(a.Folds) {
		return Fold{}, &SplitError{Msg: fmt.Sprintf("fold %d out of range [0, %d)", i, len(a.Folds))}
	}
	return a.Folds[i], nil
}
