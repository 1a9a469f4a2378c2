package cli

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFixture lays out a dataset, manifest, and config file for commands
// that only read.
func writeFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dsDir := filepath.Join(root, "data", "Task001")
	require.NoError(t, os.MkdirAll(dsDir, 0o755))

	manifest := "dataset: Task001\ncases:\n"
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("case_%d.png", i)
		img := image.NewGray(image.Rect(0, 0, 8, 8))
		img.SetGray(4, 4, color.Gray{Y: 200})
		f, err := os.Create(filepath.Join(dsDir, name))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
		manifest += fmt.Sprintf("  - id: case_%d\n    image: %s\n", i, name)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dsDir, "manifest.yaml"), []byte(manifest), 0o644))

	cfg := fmt.Sprintf(`dataset: Task001
data_root: %s
output_root: %s
folds: 2
seed: 7
epochs: 1
toolkit:
  kind: builtin
`, filepath.Join(root, "data"), filepath.Join(root, "runs"))
	cfgPath := filepath.Join(root, "experiment.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath
}

func execute(args ...string) error {
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestValidateCommand(t *testing.T) {
	cfgPath := writeFixture(t)
	assert.NoError(t, execute("validate", "--config", cfgPath))
}

func TestValidateCommandRejectsMissingConfig(t *testing.T) {
	err := execute("validate", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSplitCommandWritesAssignment(t *testing.T) {
	cfgPath := writeFixture(t)
	out := filepath.Join(t.TempDir(), "splits.yaml")

	require.NoError(t, execute("split", "--config", cfgPath, "--out", out))
	assert.FileExists(t, out)
}
