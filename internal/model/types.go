package model

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Labels is the CheXpert finding set. The index of a label is its position
// in the network's logit vector.
var Labels = []string{
	"No Finding", "Enlarged Cardiomediastinum", "Cardiomegaly", "Lung Opacity",
	"Lung Lesion", "Edema", "Consolidation", "Pneumonia", "Atelectasis",
	"Pneumothorax", "Pleural Effusion", "Pleural Other", "Fracture", "Support Devices",
}

// NoFinding is the label that stands for a normal study.
const NoFinding = "No Finding"

// Metadata describes the exported backbone and the label contract.
type Metadata struct {
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// LoadMetadata reads a metadata file and fills in defaults for the fields
// the exporter may omit.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if metadata.InputName == "" {
		metadata.InputName = "input"
	}
	if metadata.OutputName == "" {
		metadata.OutputName = "features"
	}
	if metadata.ImageSize == 0 {
		metadata.ImageSize = InputSize
	}
	if len(metadata.Classes) == 0 {
		metadata.Classes = append([]string(nil), Labels...)
	}
	if len(metadata.InputShape) == 0 {
		metadata.InputShape = []int64{1, 3, int64(metadata.ImageSize), int64(metadata.ImageSize)}
	}

	return metadata, metadata.Validate()
}

// Validate checks that the shapes describe a single-image NCHW backbone.
func (m Metadata) Validate() error {
	if len(m.InputShape) != 4 || m.InputShape[0] != 1 || m.InputShape[1] != 3 {
		return fmt.Errorf("%w: input shape %v, want [1 3 H W]", ErrShapeMismatch, m.InputShape)
	}
	if m.InputShape[2] != int64(m.ImageSize) || m.InputShape[3] != int64(m.ImageSize) {
		return fmt.Errorf("%w: input shape %v does not match image size %d", ErrShapeMismatch, m.InputShape, m.ImageSize)
	}
	if len(m.OutputShape) != 4 || m.OutputShape[0] != 1 {
		return fmt.Errorf("%w: observation point shape %v, want [1 C h w]", ErrShapeMismatch, m.OutputShape)
	}
	for _, dim := range m.OutputShape {
		if dim <= 0 {
			return fmt.Errorf("%w: observation point shape %v", ErrShapeMismatch, m.OutputShape)
		}
	}
	return nil
}

// Prediction is one label reported above the decision threshold.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// PredictionResponse is the JSON body returned for a classification request.
type PredictionResponse struct {
	Predictions []Prediction `json:"predictions"`
	Top         *Prediction  `json:"top,omitempty"`
}

// Rank returns a copy of preds ordered by confidence, highest first.
// Ties keep their emission order.
func Rank(preds []Prediction) []Prediction {
	ranked := append([]Prediction(nil), preds...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	return ranked
}

// LabelIndex returns the position of label in labels, or -1.
func LabelIndex(labels []string, label string) int {
	for i, l := range labels {
		if l == label {
			return i
		}
	}
	return -1
}
