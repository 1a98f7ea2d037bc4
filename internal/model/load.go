package model

import (
	"fmt"

	"go.uber.org/zap"
)

// Paths locates the exported model files.
type Paths struct {
	Metadata    string
	Backbone    string
	HeadWeights string
}

// Load builds a Network from an ONNX backbone and safetensors head.
func Load(paths Paths, opts OnnxOptions, logger *zap.Logger) (*Network, error) {
	logger.Info("loading model",
		zap.String("metadata", paths.Metadata),
		zap.String("backbone", paths.Backbone),
		zap.String("head", paths.HeadWeights),
		zap.Int("intra_op_threads", opts.IntraOpThreads))

	metadata, err := LoadMetadata(paths.Metadata)
	if err != nil {
		return nil, err
	}

	head, err := LoadHead(paths.HeadWeights)
	if err != nil {
		return nil, err
	}
	if int64(head.Channels()) != metadata.OutputShape[1] {
		return nil, fmt.Errorf("%w: head expects %d channels, observation point has %d",
			ErrShapeMismatch, head.Channels(), metadata.OutputShape[1])
	}

	backbone, err := NewOnnxBackbone(paths.Backbone, metadata, opts)
	if err != nil {
		return nil, err
	}

	net, err := NewNetwork(backbone, head, metadata.Classes, metadata.ImageSize)
	if err != nil {
		backbone.Close()
		return nil, err
	}

	logger.Info("model loaded",
		zap.Int("classes", len(metadata.Classes)),
		zap.Int64s("observation_point", metadata.OutputShape),
		zap.Int("image_size", metadata.ImageSize))
	return net, nil
}
