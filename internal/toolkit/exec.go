package toolkit

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/dataset"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/tensor"
)

// Exec shells out to an external training toolkit (nnU-Net style CLIs).
// Commands are templates; the following placeholders are expanded:
//
//	{run_dir} {weights} {epochs} {seed} {train_list} {val_list}   (train)
//	{weights} {input} {output}                                    (predict)
//
// Train case lists are written as one "id<TAB>image<TAB>label" line per
// case. Predict exchanges tensors as float32 .npy files.
type Exec struct {
	trainCmd   []string
	predictCmd []string
}

// NewExec builds an exec toolkit from command templates.
func NewExec(trainCmd, predictCmd []string) *Exec {
	return &Exec{
		trainCmd:   append([]string(nil), trainCmd...),
		predictCmd: append([]string(nil), predictCmd...),
	}
}

func (e *Exec) Name() string { return "exec" }

func (e *Exec) Version() string {
	if len(e.trainCmd) == 0 {
		return "exec"
	}
	return "exec:" + filepath.Base(e.trainCmd[0])
}

func (e *Exec) Train(ctx context.Context, spec TrainSpec) error {
	trainList, err := writeCaseList(filepath.Join(spec.RunDir, "train_cases.tsv"), spec.TrainCases)
	if err != nil {
		return err
	}
	valList, err := writeCaseList(filepath.Join(spec.RunDir, "validation_cases.tsv"), spec.ValidationCases)
	if err != nil {
		return err
	}

	vars := map[string]string{
		"{run_dir}":    spec.RunDir,
		"{weights}":    spec.WeightsPath,
		"{epochs}":     strconv.Itoa(spec.Epochs),
		"{seed}":       strconv.FormatInt(spec.Seed, 10),
		"{train_list}": trainList,
		"{val_list}":   valList,
	}
	return runCommand(ctx, expand(e.trainCmd, vars))
}

// Open validates that the weights exist and returns a model whose Predict
// invokes the predict command once per input.
func (e *Exec) Open(_ context.Context, weightsPath string) (Model, error) {
	if _, err := os.Stat(weightsPath); err != nil {
		return nil, fmt.Errorf("toolkit weights: %w", err)
	}
	return &execModel{predictCmd: e.predictCmd, weights: weightsPath}, nil
}

type execModel struct {
	predictCmd []string
	weights    string
}

func (m *execModel) Predict(ctx context.Context, in *tensor.Tensor) (*tensor.Tensor, error) {
	dir, err := os.MkdirTemp("", "seglab-predict-*")
	if err != nil {
		return nil, fmt.Errorf("predict workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "input.npy")
	outPath := filepath.Join(dir, "output.npy")
	if err := in.WriteNPY(inPath); err != nil {
		return nil, err
	}

	vars := map[string]string{
		"{weights}": m.weights,
		"{input}":   inPath,
		"{output}":  outPath,
	}
	if err := runCommand(ctx, expand(m.predictCmd, vars)); err != nil {
		return nil, err
	}

	out, err := tensor.ReadNPY(outPath)
	if err != nil {
		return nil, fmt.Errorf("predict output: %w", err)
	}
	if out.W != in.W || out.H != in.H {
		return nil, fmt.Errorf("predict output geometry %dx%d does not match input %dx%d",
			out.W, out.H, in.W, in.H)
	}
	return out, nil
}

func (m *execModel) Close() error { return nil }

func expand(tmpl []string, vars map[string]string) []string {
	out := make([]string, len(tmpl))
	for i, arg := range tmpl {
		for k, v := range vars {
			arg = strings.ReplaceAll(arg, k, v)
		}
		out[i] = arg
	}
	return out
}

func runCommand(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("toolkit command is empty")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("toolkit command %q: %w: %s", argv[0], err, tail(out, 512))
	}
	return nil
}

func writeCaseList(path string, cases []dataset.Case) (string, error) {
	var sb strings.Builder
	for _, c := range cases {
		sb.WriteString(c.ID)
		sb.WriteByte('\t')
		sb.WriteString(c.Image)
		sb.WriteByte('\t')
		sb.WriteString(c.Label)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return "", fmt.Errorf("write case list: %w", err)
	}
	return path, nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
