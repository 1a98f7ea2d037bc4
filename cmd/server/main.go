package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/cxr-explain/internal/config"
	"github.com/Brownie44l1/cxr-explain/internal/logging"
	"github.com/Brownie44l1/cxr-explain/internal/model"
	"github.com/Brownie44l1/cxr-explain/internal/pipeline"
	"github.com/Brownie44l1/cxr-explain/internal/summary"
)

var (
	cfg    *config.Cfg
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "cxr",
	Short:         "Explainable chest X-ray classification",
	Long:          "Classifies chest radiographs against 14 CheXpert findings and explains the top finding with a Grad-CAM overlay.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Debug)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := model.ShutdownRuntime(); err != nil && logger != nil {
			logger.Warn("failed to shut down ONNX runtime", zap.Error(err))
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, analyzeCmd, labelsCmd)
}

// loadAnalyzer loads the model named by cfg and wires the pipeline.
func loadAnalyzer() (*pipeline.Analyzer, *model.Network, error) {
	net, err := model.Load(model.Paths{
		Metadata:    cfg.Metadata,
		Backbone:    cfg.Backbone,
		HeadWeights: cfg.HeadWeights,
	}, model.OnnxOptions{
		LibraryPath:    cfg.OrtLibrary,
		IntraOpThreads: cfg.Threads,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load model: %w", err)
	}
	return pipeline.New(net, summary.New(summary.DefaultKnowledgeBase()), logger), net, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
