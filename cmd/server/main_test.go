package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMetadata(t *testing.T, body string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model_metadata.json"), []byte(body), 0o644))
	t.Setenv("CXR_MODEL_DIR", dir)
	t.Setenv("CXR_METADATA", "model_metadata.json")
}

func runLabels(t *testing.T) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"labels"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	err := rootCmd.Execute()
	return out.String(), err
}

func TestLabelsCommand(t *testing.T) {
	writeMetadata(t, `{"output_shape": [1, 2048, 7, 7]}`)

	out, err := runLabels(t)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 14)
	assert.Equal(t, " 0  No Finding", lines[0])
	assert.Equal(t, " 2  Cardiomegaly", lines[2])
}

func TestLabelsCommandReadsMetadata(t *testing.T) {
	writeMetadata(t, `{"output_shape": [1, 512, 7, 7], "classes": ["Normal", "Effusion"]}`)

	out, err := runLabels(t)
	require.NoError(t, err)
	assert.Equal(t, " 0  Normal\n 1  Effusion\n", out)
}

func TestLabelsCommandMissingMetadata(t *testing.T) {
	t.Setenv("CXR_MODEL_DIR", t.TempDir())
	t.Setenv("CXR_METADATA", "model_metadata.json")

	_, err := runLabels(t)
	assert.ErrorContains(t, err, "failed to read metadata")
}

func TestAnalyzeRequiresImage(t *testing.T) {
	rootCmd.SetArgs([]string{"analyze"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	assert.Error(t, rootCmd.Execute())
}
