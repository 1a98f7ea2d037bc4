package model

import (
	"image"
	"math"
)

// Threshold is the probability a label must strictly exceed to be reported.
const Threshold = 0.5

// Classifier turns a network's logits into multi-label predictions.
type Classifier struct {
	net       *Network
	threshold float64
}

func NewClassifier(net *Network) *Classifier {
	return &Classifier{net: net, threshold: Threshold}
}

// Network returns the network the classifier evaluates.
func (c *Classifier) Network() *Network { return c.net }

// Probabilities runs one untracked forward pass and returns an independent
// sigmoid probability per label.
func (c *Classifier) Probabilities(img image.Image) ([]float64, error) {
	input, _, err := Preprocess(img, c.net.InputSize())
	if err != nil {
		return nil, err
	}
	logits, err := c.net.Logits(input)
	if err != nil {
		return nil, err
	}

	probs := make([]float64, len(logits))
	for i, logit := range logits {
		probs[i] = Sigmoid(logit)
	}
	return probs, nil
}

// Predict reports every label whose probability exceeds the threshold, in
// label order. An empty result means nothing was flagged.
func (c *Classifier) Predict(img image.Image) ([]Prediction, error) {
	probs, err := c.Probabilities(img)
	if err != nil {
		return nil, err
	}
	return SelectAbove(c.net.Labels(), probs, c.threshold), nil
}

// SelectAbove keeps labels with probs[i] > threshold.
func SelectAbove(labels []string, probs []float64, threshold float64) []Prediction {
	preds := []Prediction{}
	for i, p := range probs {
		if i >= len(labels) {
			break
		}
		if p > threshold {
			preds = append(preds, Prediction{Label: labels[i], Confidence: p})
		}
	}
	return preds
}

func Sigmoid(x float32) float64 {
	return 1 / (1 + math.Exp(-float64(x)))
}
