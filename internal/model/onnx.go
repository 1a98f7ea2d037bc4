package model

import (
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// OnnxOptions tunes the ONNX Runtime session.
type OnnxOptions struct {
	// LibraryPath points at libonnxruntime; empty uses the runtime default.
	LibraryPath    string
	IntraOpThreads int
}

// OnnxBackbone runs an exported trunk whose single output is the
// observation point activation.
type OnnxBackbone struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	outputShape  []int
}

func NewOnnxBackbone(modelPath string, metadata Metadata, opts OnnxOptions) (*OnnxBackbone, error) {
	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inputShape := ort.NewShape(metadata.InputShape...)
	outputShape := ort.NewShape(metadata.OutputShape...)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()
	if opts.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		options)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	shape := make([]int, 0, 3)
	for _, dim := range metadata.OutputShape[1:] {
		shape = append(shape, int(dim))
	}

	return &OnnxBackbone{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		outputShape:  shape,
	}, nil
}

// Features copies input into the session, runs it and returns a private
// copy of the observation point.
func (b *OnnxBackbone) Features(input *Tensor) (*Tensor, error) {
	data := b.inputTensor.GetData()
	if input == nil || len(input.Data) != len(data) {
		return nil, fmt.Errorf("%w: backbone expects %d input values", ErrShapeMismatch, len(data))
	}
	copy(data, input.Data)

	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := NewTensor(b.outputShape...)
	if n := copy(out.Data, b.outputTensor.GetData()); n != len(out.Data) {
		return nil, fmt.Errorf("%w: session produced %d values, want %d", ErrShapeMismatch, n, len(out.Data))
	}
	return out, nil
}

// Close releases this backbone's session and tensors. The process-wide
// runtime stays up for other networks; see ShutdownRuntime.
func (b *OnnxBackbone) Close() error {
	var errs []error
	if b.session != nil {
		errs = append(errs, b.session.Destroy())
		b.session = nil
	}
	if b.inputTensor != nil {
		errs = append(errs, b.inputTensor.Destroy())
		b.inputTensor = nil
	}
	if b.outputTensor != nil {
		errs = append(errs, b.outputTensor.Destroy())
		b.outputTensor = nil
	}
	return errors.Join(errs...)
}

// ShutdownRuntime tears down the ONNX Runtime environment. Call it once,
// after every backbone in the process is closed.
func ShutdownRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}
