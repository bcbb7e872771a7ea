package onnx

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// The onnxruntime environment is per process.
var envMu sync.Mutex

func initEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		if _, err := os.Stat(libraryPath); err != nil {
			return fmt.Errorf("onnxruntime library: %w", err)
		}
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

// ORTRunner is a Runner backed by an onnxruntime session.
type ORTRunner struct {
	session *ort.DynamicAdvancedSession
	classes int
}

// OpenRunner initialises the runtime and opens the model. Failures here
// leave the predictor unavailable.
func OpenRunner(libraryPath, modelPath string, cfg ModelConfig) (*ORTRunner, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	if err := initEnvironment(libraryPath); err != nil {
		return nil, err
	}

	s, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputNames[0], cfg.OutputNames[1]},
		nil)
	if err != nil {
		return nil, fmt.Errorf("open onnx session %s: %w", modelPath, err)
	}
	return &ORTRunner{session: s, classes: cfg.NClasses}, nil
}

// Loader adapts OpenRunner to a session holder.
func Loader(libraryPath, modelPath string, cfg ModelConfig) func(context.Context) (Runner, error) {
	return func(context.Context) (Runner, error) {
		r, err := OpenRunner(libraryPath, modelPath, cfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

func (r *ORTRunner) Run(input []float32, rows, cols int) ([]float32, error) {
	in, err := ort.NewTensor(ort.NewShape(int64(rows), int64(cols)), input)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	defer in.Destroy()

	labels, err := ort.NewEmptyTensor[int64](ort.NewShape(int64(rows)))
	if err != nil {
		return nil, fmt.Errorf("label tensor: %w", err)
	}
	defer labels.Destroy()

	probs, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(rows), int64(r.classes)))
	if err != nil {
		return nil, fmt.Errorf("probability tensor: %w", err)
	}
	defer probs.Destroy()

	if err := r.session.Run([]ort.Value{in}, []ort.Value{labels, probs}); err != nil {
		return nil, err
	}

	out := make([]float32, rows*r.classes)
	copy(out, probs.GetData())
	return out, nil
}

func (r *ORTRunner) Close() error {
	return r.session.Destroy()
}
