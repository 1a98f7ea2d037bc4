package summary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/cxr-explain/internal/model"
)

func TestSummarizeEmpty(t *testing.T) {
	s := New(DefaultKnowledgeBase())
	assert.Equal(t, NoConditionsSummary, s.Summarize(nil))
	assert.Equal(t, NoConditionsSummary, s.Summarize([]model.Prediction{}))
}

func TestSummarizeDropsNoFindingWhenOthersPresent(t *testing.T) {
	s := New(DefaultKnowledgeBase())
	out := s.Summarize([]model.Prediction{
		{Label: "No Finding", Confidence: 0.9},
		{Label: "Cardiomegaly", Confidence: 0.82},
	})

	assert.Contains(t, out, "**Cardiomegaly** (82.0% confidence)")
	assert.NotContains(t, out, "No Finding")
	assert.NotContains(t, out, "No abnormalities were detected")
}

func TestSummarizeKeepsLoneNoFinding(t *testing.T) {
	s := New(DefaultKnowledgeBase())
	out := s.Summarize([]model.Prediction{{Label: "No Finding", Confidence: 0.7}})

	assert.Contains(t, out, "**No Finding** (70.0% confidence)")
	assert.Contains(t, out, "No abnormalities were detected")
}

func TestSummarizeSkipsUndocumented(t *testing.T) {
	s := New(DefaultKnowledgeBase())

	_, ok := s.kb.Lookup("Fracture")
	require.False(t, ok)

	out := s.Summarize([]model.Prediction{
		{Label: "Fracture", Confidence: 0.99},
		{Label: "Edema", Confidence: 0.6},
	})
	assert.NotContains(t, out, "Fracture")
	assert.Contains(t, out, "**Edema**")
	assert.NotContains(t, out, "---")

	assert.Equal(t, UndocumentedSummary, s.Summarize([]model.Prediction{{Label: "Fracture", Confidence: 0.99}}))
	assert.Equal(t, UndocumentedSummary, s.Summarize([]model.Prediction{
		{Label: "Fracture", Confidence: 0.99},
		{Label: "Support Devices", Confidence: 0.7},
	}))
}

func TestSummarizeOrdersByConfidence(t *testing.T) {
	s := New(DefaultKnowledgeBase())
	out := s.Summarize([]model.Prediction{
		{Label: "Cardiomegaly", Confidence: 0.6},
		{Label: "Edema", Confidence: 0.75},
		{Label: "Pneumonia", Confidence: 0.9},
	})

	blocks := strings.Split(out, blockSeparator)
	require.Len(t, blocks, 3)
	assert.True(t, strings.HasPrefix(blocks[0], "🔍 **Pneumonia** (90.0% confidence)"))
	assert.True(t, strings.HasPrefix(blocks[1], "🔍 **Edema**"))
	assert.True(t, strings.HasPrefix(blocks[2], "🔍 **Cardiomegaly**"))
}

func TestListing(t *testing.T) {
	assert.Equal(t, NoAbnormalitiesListing, Listing(nil))

	out := Listing([]model.Prediction{
		{Label: "No Finding", Confidence: 0.55},
		{Label: "Cardiomegaly", Confidence: 0.82},
	})
	assert.Equal(t, "🔹 No Finding: 55.0%\n🔹 Cardiomegaly: 82.0%", out)
}

func TestParseKnowledgeBase(t *testing.T) {
	kb, err := ParseKnowledgeBase([]byte("Fracture:\n  overview: Broken rib.\n  next_steps: Rest.\n  insight: Heals.\n"))
	require.NoError(t, err)

	e, ok := kb.Lookup("Fracture")
	require.True(t, ok)
	assert.Equal(t, "Broken rib.", e.Overview)
	assert.Equal(t, "Rest.", e.NextSteps)

	_, err = ParseKnowledgeBase([]byte("Fracture:\n  insight: nothing else\n"))
	assert.Error(t, err)

	_, err = ParseKnowledgeBase([]byte("- just\n- a list\n"))
	assert.Error(t, err)
}

func TestDefaultKnowledgeBaseCoversLabels(t *testing.T) {
	kb := DefaultKnowledgeBase()
	for _, label := range []string{"Cardiomegaly", "Pneumonia", "Pleural Effusion", "No Finding", "Atelectasis", "Edema"} {
		_, ok := kb.Lookup(label)
		assert.True(t, ok, label)
		assert.Contains(t, model.Labels, label)
	}
}
