package gradcam_test

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/cxr-explain/internal/gradcam"
	"github.com/Brownie44l1/cxr-explain/internal/model"
	"github.com/Brownie44l1/cxr-explain/internal/model/modeltest"
)

const cardiomegaly = 2

func newMapper(t *testing.T, act *model.Tensor, probs map[int]float64) (*gradcam.Mapper, *modeltest.Backbone) {
	t.Helper()
	backbone := &modeltest.Backbone{Activation: act}
	head := modeltest.HeadFor(act, len(model.Labels), probs, 0.1)
	return gradcam.New(modeltest.Network(backbone, head)), backbone
}

func assertNormalized(t *testing.T, saliency []float32) {
	t.Helper()
	var hi float32
	for _, v := range saliency {
		require.GreaterOrEqual(t, v, float32(0))
		require.LessOrEqual(t, v, float32(1))
		if v > hi {
			hi = v
		}
	}
	assert.InDelta(t, 1.0, hi, 1e-6)
}

func TestExplainForProducesNormalizedMap(t *testing.T) {
	mapper, _ := newMapper(t, modeltest.Bump(3, 7, 7, 2, 5), map[int]float64{cardiomegaly: 0.82})

	res, err := mapper.ExplainFor(modeltest.Gradient(300, 260), cardiomegaly)
	require.NoError(t, err)

	assert.Equal(t, cardiomegaly, res.ClassIndex)
	assert.Equal(t, model.InputSize, res.Size)
	assert.Len(t, res.Saliency, model.InputSize*model.InputSize)
	assert.Equal(t, image.Rect(0, 0, model.InputSize, model.InputSize), res.Overlay.Bounds())
	assertNormalized(t, res.Saliency)

	// the bump peaks at row 2, column 5 of the 7×7 grid
	peak := 0
	for i, v := range res.Saliency {
		if v > res.Saliency[peak] {
			peak = i
		}
	}
	py, px := peak/model.InputSize, peak%model.InputSize
	assert.InDelta(t, (2.5/7)*model.InputSize, py, 16)
	assert.InDelta(t, (5.5/7)*model.InputSize, px, 16)
}

func TestExplainOverlayIsBlendOfResizedAndHeatmap(t *testing.T) {
	mapper, _ := newMapper(t, modeltest.Bump(2, 7, 7, 3, 3), map[int]float64{cardiomegaly: 0.82})
	img := modeltest.Gradient(120, 90)

	res, err := mapper.ExplainFor(img, cardiomegaly)
	require.NoError(t, err)

	_, resized, err := model.Preprocess(img, model.InputSize)
	require.NoError(t, err)

	assert.NotEqual(t, resized.Pix, res.Overlay.Pix)
	for i := 0; i < len(resized.Pix); i += 4 {
		for ch := 0; ch < 3; ch++ {
			want := 0.6*float64(resized.Pix[i+ch]) + 0.4*float64(res.Heatmap.Pix[i+ch])
			require.InDelta(t, want, float64(res.Overlay.Pix[i+ch]), 0.5+1e-9)
		}
	}
}

func TestExplainIsDeterministic(t *testing.T) {
	mapper, _ := newMapper(t, modeltest.Bump(4, 7, 7, 1, 1), map[int]float64{cardiomegaly: 0.7})
	img := modeltest.Gradient(64, 64)

	a, err := mapper.ExplainFor(img, cardiomegaly)
	require.NoError(t, err)
	b, err := mapper.ExplainFor(img, cardiomegaly)
	require.NoError(t, err)

	assert.Equal(t, a.Saliency, b.Saliency)
	assert.Equal(t, a.Overlay.Pix, b.Overlay.Pix)
}

func TestExplainTopPicksArgmax(t *testing.T) {
	mapper, backbone := newMapper(t, modeltest.Bump(2, 7, 7, 3, 3), map[int]float64{cardiomegaly: 0.82, 7: 0.91})

	res, err := mapper.ExplainTop(modeltest.Gradient(50, 50))
	require.NoError(t, err)

	assert.Equal(t, 7, res.ClassIndex)
	assert.Equal(t, 1, backbone.Calls())
}

func TestExplainDegenerateMapIsUniform(t *testing.T) {
	// class 0 has a zero weight row, so every gradient is zero
	mapper, _ := newMapper(t, modeltest.Bump(2, 7, 7, 3, 3), map[int]float64{cardiomegaly: 0.82})

	res, err := mapper.ExplainFor(modeltest.Gradient(50, 50), 0)
	require.NoError(t, err)

	for _, v := range res.Saliency {
		require.Equal(t, float32(0), v)
	}
	floor := gradcam.Jet(0)
	for i := 0; i < len(res.Heatmap.Pix); i += 4 {
		require.Equal(t, []uint8{floor.R, floor.G, floor.B}, res.Heatmap.Pix[i:i+3])
	}
}

func TestExplainForRejectsBadIndex(t *testing.T) {
	mapper, backbone := newMapper(t, modeltest.Bump(2, 7, 7, 3, 3), nil)

	_, err := mapper.ExplainFor(modeltest.Gradient(10, 10), -1)
	assert.ErrorIs(t, err, model.ErrClassIndex)
	_, err = mapper.ExplainFor(modeltest.Gradient(10, 10), len(model.Labels))
	assert.ErrorIs(t, err, model.ErrClassIndex)
	assert.Equal(t, 0, backbone.Calls())
}

func TestExplainMissingCaptureIsFatal(t *testing.T) {
	act := modeltest.Bump(2, 7, 7, 3, 3)
	head := modeltest.HeadFor(act, len(model.Labels), nil, 0.1)
	mapper := gradcam.New(modeltest.Network(&modeltest.Backbone{}, head))

	res, err := mapper.ExplainFor(modeltest.Gradient(10, 10), cardiomegaly)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, model.ErrCaptureMissing)
}

func TestSaliencyKeepsOnlyPositiveEvidence(t *testing.T) {
	act := &model.Tensor{Shape: []int{2, 1, 2}, Data: []float32{1, 0, 0, 1}}
	grad := &model.Tensor{Shape: []int{2, 1, 2}, Data: []float32{1, 1, -1, -1}}

	saliency, err := gradcam.Saliency(act, grad, 4)
	require.NoError(t, err)

	// raw map is [1, -1]; after rectification only the left half carries weight
	assert.InDelta(t, 1.0, saliency[0], 1e-6)
	assert.Equal(t, float32(0), saliency[3])
	assertNormalized(t, saliency)
}

func TestSaliencyShapeMismatch(t *testing.T) {
	act := model.NewTensor(2, 3, 3)
	grad := model.NewTensor(2, 3, 4)
	_, err := gradcam.Saliency(act, grad, 8)
	assert.ErrorIs(t, err, model.ErrShapeMismatch)

	_, err = gradcam.Saliency(nil, grad, 8)
	assert.ErrorIs(t, err, model.ErrCaptureMissing)
}

func TestNormalize(t *testing.T) {
	m := []float32{2, 4, 6}
	gradcam.Normalize(m)
	assert.InDeltaSlice(t, []float32{0, 0.5, 1}, m, 1e-6)

	flat := []float32{3, 3, 3}
	gradcam.Normalize(flat)
	assert.Equal(t, []float32{0, 0, 0}, flat)
}

func TestUpsample(t *testing.T) {
	// constant maps stay constant
	out := gradcam.Upsample([]float32{5, 5, 5, 5}, 2, 2, 7, 7)
	for _, v := range out {
		assert.InDelta(t, 5, v, 1e-6)
	}

	// 1×2 → 1×4 on pixel centres: [a, .75a+.25b, .25a+.75b, b]
	out = gradcam.Upsample([]float32{0, 4}, 1, 2, 1, 4)
	assert.InDeltaSlice(t, []float32{0, 1, 3, 4}, out, 1e-6)
}

func TestWeightedSum(t *testing.T) {
	act := &model.Tensor{Shape: []int{2, 1, 3}, Data: []float32{1, 2, 3, 10, 20, 30}}
	out, err := gradcam.WeightedSum(act, []float64{2, -0.5})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{-3, -6, -9}, out, 1e-6)

	_, err = gradcam.WeightedSum(act, []float64{1})
	assert.ErrorIs(t, err, model.ErrShapeMismatch)
}

func TestJetRamp(t *testing.T) {
	assert.Equal(t, uint8(128), gradcam.Jet(0).B)
	assert.Equal(t, uint8(0), gradcam.Jet(0).R)
	assert.Equal(t, uint8(128), gradcam.Jet(255).R)
	assert.Equal(t, uint8(0), gradcam.Jet(255).B)

	mid := gradcam.Jet(128)
	assert.Greater(t, mid.G, uint8(200))
}

func TestBlendWeights(t *testing.T) {
	a := image.NewRGBA(image.Rect(0, 0, 3, 1))
	b := image.NewRGBA(image.Rect(0, 0, 3, 1))
	copy(a.Pix, []uint8{255, 0, 100, 255, 10, 20, 30, 255, 1, 2, 3, 255})
	copy(b.Pix, []uint8{0, 255, 200, 255, 250, 240, 230, 255, 9, 8, 7, 255})

	out, err := gradcam.Blend(a, b, gradcam.OriginalWeight, gradcam.HeatmapWeight)
	require.NoError(t, err)

	for i := 0; i < len(a.Pix); i += 4 {
		for ch := 0; ch < 3; ch++ {
			want := 0.6*float64(a.Pix[i+ch]) + 0.4*float64(b.Pix[i+ch])
			assert.LessOrEqual(t, math.Abs(want-float64(out.Pix[i+ch])), 0.5+1e-9)
		}
		assert.Equal(t, uint8(255), out.Pix[i+3])
	}

	_, err = gradcam.Blend(a, image.NewRGBA(image.Rect(0, 0, 2, 2)), 0.6, 0.4)
	assert.Error(t, err)
}
