// Package gradcam explains a network decision with gradient-weighted class
// activation maps rendered over the input radiograph.
package gradcam

import (
	"fmt"
	"image"

	"github.com/Brownie44l1/cxr-explain/internal/model"
)

// Result is one explained image.
type Result struct {
	// Overlay is the resized input blended with the heatmap.
	Overlay *image.RGBA
	Heatmap *image.RGBA
	// Saliency is the normalized map, row-major, Size×Size.
	Saliency   []float32
	Size       int
	ClassIndex int
}

// Mapper computes Grad-CAM overlays against a shared network.
type Mapper struct {
	net *model.Network
}

func New(net *model.Network) *Mapper {
	return &Mapper{net: net}
}

// ExplainFor explains the logit at classIndex.
func (m *Mapper) ExplainFor(img image.Image, classIndex int) (*Result, error) {
	if classIndex < 0 || classIndex >= len(m.net.Labels()) {
		return nil, fmt.Errorf("%w: %d", model.ErrClassIndex, classIndex)
	}
	return m.explain(img, model.FixedClass(classIndex))
}

// ExplainTop explains whichever label the network itself rates most
// probable for img.
func (m *Mapper) ExplainTop(img image.Image) (*Result, error) {
	return m.explain(img, model.ArgmaxClass)
}

func (m *Mapper) explain(img image.Image, sel model.Selector) (*Result, error) {
	size := m.net.InputSize()
	input, resized, err := model.Preprocess(img, size)
	if err != nil {
		return nil, err
	}

	trace, err := m.net.Trace(input, sel)
	if err != nil {
		return nil, fmt.Errorf("grad-cam trace: %w", err)
	}

	saliency, err := Saliency(trace.Activation, trace.Gradient, size)
	if err != nil {
		return nil, fmt.Errorf("grad-cam saliency: %w", err)
	}

	heatmap, err := Heatmap(saliency, size, size)
	if err != nil {
		return nil, err
	}
	overlay, err := Blend(resized, heatmap, OriginalWeight, HeatmapWeight)
	if err != nil {
		return nil, err
	}

	return &Result{
		Overlay:    overlay,
		Heatmap:    heatmap,
		Saliency:   saliency,
		Size:       size,
		ClassIndex: trace.ClassIndex,
	}, nil
}
