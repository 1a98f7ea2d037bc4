package main

import (
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/cxr-explain/internal/model"
)

var overlayOut string

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image>",
	Short: "Analyze one radiograph and print the findings",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "List the finding labels of the configured model in logit order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		metadata, err := model.LoadMetadata(cfg.Metadata)
		if err != nil {
			return err
		}
		for i, label := range metadata.Classes {
			fmt.Fprintf(cmd.OutOrStdout(), "%2d  %s\n", i, label)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&overlayOut, "out", "o", "", "write the overlay PNG to this path")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("invalid image %s: %w", args[0], err)
	}

	analyzer, net, err := loadAnalyzer()
	if err != nil {
		return err
	}
	defer net.Close()

	report, err := analyzer.Analyze(cmd.Context(), img)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, report.Listing)
	fmt.Fprintln(out)
	fmt.Fprintln(out, report.Summary)

	if overlayOut != "" {
		dst, err := os.Create(overlayOut)
		if err != nil {
			return err
		}
		defer dst.Close()
		if err := png.Encode(dst, report.Overlay); err != nil {
			return err
		}
		logger.Info("overlay written", zap.String("path", overlayOut), zap.String("class", report.ClassLabel))
	}
	return nil
}
