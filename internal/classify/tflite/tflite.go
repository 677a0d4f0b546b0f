// Package tflite is the TensorFlow Lite inference backend for classify.
// It links libtensorflowlite_c, so it is only imported by the CLI.
package tflite

import (
	"fmt"
	"runtime"

	"github.com/mattn/go-tflite"

	"github.com/roach88/yamnet/internal/classify"
)

var _ classify.Model = (*Model)(nil)

// Backend loads .tflite models.
type Backend struct {
	// Threads is the interpreter thread count. Zero uses GOMAXPROCS.
	Threads int
}

// Model is a loaded interpreter. Not safe for concurrent use; classify
// serializes calls.
type Model struct {
	model    *tflite.Model
	options  *tflite.InterpreterOptions
	interp   *tflite.Interpreter
	inputLen int
	width    int
}

// Load opens the model at path and allocates its tensors for the
// manifest's input length (or one second at the manifest's sample rate if
// the input is variable-length).
func (b Backend) Load(path string, m classify.Manifest) (classify.Model, error) {
	model := tflite.NewModelFromFile(path)
	if model == nil {
		return nil, fmt.Errorf("cannot load model %s", path)
	}

	options := tflite.NewInterpreterOptions()
	threads := b.Threads
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	options.SetNumThread(threads)

	interp := tflite.NewInterpreter(model, options)
	if interp == nil {
		options.Delete()
		model.Delete()
		return nil, fmt.Errorf("cannot create interpreter for %s", path)
	}

	tm := &Model{model: model, options: options, interp: interp}

	inputLen := m.InputSamples
	if inputLen <= 0 {
		inputLen = m.SampleRate
	}
	if err := tm.resize(inputLen); err != nil {
		tm.Close()
		return nil, err
	}

	out := interp.GetOutputTensor(0)
	if out == nil || out.NumDims() == 0 {
		tm.Close()
		return nil, fmt.Errorf("model %s has no scores output", path)
	}
	tm.width = out.Dim(out.NumDims() - 1)
	return tm, nil
}

// OutputWidth is the size of the last dimension of the scores output.
func (m *Model) OutputWidth() int {
	return m.width
}

// Infer runs the waveform through the model. Models that emit one score
// row per frame have their rows averaged into a single row.
func (m *Model) Infer(input []float32) ([]float32, error) {
	if len(input) != m.inputLen {
		if err := m.resize(len(input)); err != nil {
			return nil, err
		}
	}

	in := m.interp.GetInputTensor(0)
	if status := in.CopyFromBuffer(input); status != tflite.OK {
		return nil, fmt.Errorf("copy input: status %d", status)
	}
	if status := m.interp.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("invoke: status %d", status)
	}

	raw := m.interp.GetOutputTensor(0).Float32s()
	return meanFrames(raw, m.width)
}

// Close releases the interpreter, its options and the model.
func (m *Model) Close() error {
	if m.interp != nil {
		m.interp.Delete()
		m.interp = nil
	}
	if m.options != nil {
		m.options.Delete()
		m.options = nil
	}
	if m.model != nil {
		m.model.Delete()
		m.model = nil
	}
	return nil
}

func (m *Model) resize(n int) error {
	if status := m.interp.ResizeInputTensor(0, []int32{int32(n)}); status != tflite.OK {
		return fmt.Errorf("resize input to %d samples: status %d", n, status)
	}
	if status := m.interp.AllocateTensors(); status != tflite.OK {
		return fmt.Errorf("allocate tensors: status %d", status)
	}
	m.inputLen = n
	return nil
}

// meanFrames averages consecutive rows of width scores.
func meanFrames(raw []float32, width int) ([]float32, error) {
	if width <= 0 || len(raw) < width || len(raw)%width != 0 {
		return nil, fmt.Errorf("unexpected output size %d for width %d", len(raw), width)
	}
	frames := len(raw) / width
	if frames == 1 {
		return append([]float32(nil), raw...), nil
	}

	out := make([]float32, width)
	for f := 0; f < frames; f++ {
		row := raw[f*width : (f+1)*width]
		for i, v := range row {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float32(frames)
	}
	return out, nil
}
