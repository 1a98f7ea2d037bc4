// Package pipeline runs the full analysis of one radiograph: classify,
// explain the most confident finding, and describe the result.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/cxr-explain/internal/gradcam"
	"github.com/Brownie44l1/cxr-explain/internal/model"
	"github.com/Brownie44l1/cxr-explain/internal/summary"
)

// Report is everything a caller shows for one image.
type Report struct {
	// Overlay is the Grad-CAM overlay, or the caller's image untouched
	// when nothing was flagged.
	Overlay     image.Image
	ClassIndex  int
	ClassLabel  string
	Predictions []model.Prediction
	Listing     string
	Summary     string
}

// Analyzer ties the classifier, the saliency mapper and the summarizer to
// one network.
type Analyzer struct {
	net        *model.Network
	classifier *model.Classifier
	mapper     *gradcam.Mapper
	summarizer *summary.Summarizer
	logger     *zap.Logger
}

func New(net *model.Network, summarizer *summary.Summarizer, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		net:        net,
		classifier: model.NewClassifier(net),
		mapper:     gradcam.New(net),
		summarizer: summarizer,
		logger:     logger,
	}
}

func (a *Analyzer) Classifier() *model.Classifier { return a.classifier }

func (a *Analyzer) Mapper() *gradcam.Mapper { return a.mapper }

func (a *Analyzer) Labels() []string { return a.net.Labels() }

// Analyze classifies img and, when anything is flagged, explains the most
// confident finding. ctx is only consulted between stages.
func (a *Analyzer) Analyze(ctx context.Context, img image.Image) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	preds, err := a.classifier.Predict(img)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	a.logger.Debug("classified",
		zap.Int("findings", len(preds)),
		zap.Duration("elapsed", time.Since(start)))

	if len(preds) == 0 {
		return &Report{
			Overlay:     img,
			ClassIndex:  -1,
			Predictions: preds,
			Listing:     summary.Listing(preds),
			Summary:     a.summarizer.Summarize(preds),
		}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	top := model.Rank(preds)[0]
	classIndex := model.LabelIndex(a.net.Labels(), top.Label)

	start = time.Now()
	res, err := a.mapper.ExplainFor(img, classIndex)
	if err != nil {
		return nil, fmt.Errorf("explain %q: %w", top.Label, err)
	}
	a.logger.Debug("explained",
		zap.String("label", top.Label),
		zap.Int("class_index", res.ClassIndex),
		zap.Duration("elapsed", time.Since(start)))

	return &Report{
		Overlay:     res.Overlay,
		ClassIndex:  res.ClassIndex,
		ClassLabel:  top.Label,
		Predictions: preds,
		Listing:     summary.Listing(preds),
		Summary:     a.summarizer.Summarize(preds),
	}, nil
}
