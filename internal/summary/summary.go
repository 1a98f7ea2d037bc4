// Package summary renders classifier output as text: a plain listing of the
// reported findings and a narrative summary backed by a static knowledge
// base.
package summary

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/cxr-explain/internal/model"
)

const (
	// NoConditionsSummary is the summary for an empty prediction list.
	NoConditionsSummary = "✅ No conditions detected. The chest X-ray appears normal."

	// NoAbnormalitiesListing is the listing for an empty prediction list.
	NoAbnormalitiesListing = "Model did not detect any abnormalities."

	// UndocumentedSummary is the summary when findings were reported but
	// none of them has a knowledge base entry.
	UndocumentedSummary = "ℹ️ No documented explanation is available for the detected findings."

	blockSeparator = "\n\n---\n\n"
)

//go:embed knowledge.yaml
var defaultKnowledge []byte

// Explanation is what the knowledge base knows about one finding.
type Explanation struct {
	Overview  string `yaml:"overview"`
	NextSteps string `yaml:"next_steps"`
	Insight   string `yaml:"insight"`
}

// KnowledgeBase maps labels to explanations. Coverage is partial.
type KnowledgeBase struct {
	entries map[string]Explanation
}

// ParseKnowledgeBase reads a YAML document keyed by label.
func ParseKnowledgeBase(doc []byte) (*KnowledgeBase, error) {
	entries := map[string]Explanation{}
	if err := yaml.Unmarshal(doc, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge base: %w", err)
	}
	for label, e := range entries {
		if e.Overview == "" {
			return nil, fmt.Errorf("knowledge base entry %q has no overview", label)
		}
	}
	return &KnowledgeBase{entries: entries}, nil
}

// DefaultKnowledgeBase is the built-in knowledge base.
func DefaultKnowledgeBase() *KnowledgeBase {
	kb, err := ParseKnowledgeBase(defaultKnowledge)
	if err != nil {
		panic(err)
	}
	return kb
}

// Lookup reports the explanation for label and whether one is documented.
func (kb *KnowledgeBase) Lookup(label string) (Explanation, bool) {
	e, ok := kb.entries[label]
	return e, ok
}

// Summarizer writes narrative summaries.
type Summarizer struct {
	kb *KnowledgeBase
}

func New(kb *KnowledgeBase) *Summarizer {
	return &Summarizer{kb: kb}
}

// Summarize describes each documented finding, most confident first.
// "No Finding" is dropped whenever any other finding clears the threshold,
// and undocumented findings are skipped rather than described generically.
// If every finding is undocumented the result is UndocumentedSummary.
func (s *Summarizer) Summarize(preds []model.Prediction) string {
	if len(preds) == 0 {
		return NoConditionsSummary
	}

	significant := false
	for _, p := range preds {
		if p.Label != model.NoFinding && p.Confidence > model.Threshold {
			significant = true
			break
		}
	}

	var blocks []string
	for _, p := range model.Rank(preds) {
		if p.Label == model.NoFinding && significant {
			continue
		}
		info, ok := s.kb.Lookup(p.Label)
		if !ok {
			continue
		}
		blocks = append(blocks, fmt.Sprintf(
			"🔍 **%s** (%s%% confidence)\n\n"+
				"Condition Overview:\n%s\n\n"+
				"What to Do Next:\n%s\n\n"+
				"Health Insight:\n%s",
			p.Label, percent(p.Confidence), info.Overview, info.NextSteps, info.Insight))
	}
	if len(blocks) == 0 {
		return UndocumentedSummary
	}
	return strings.Join(blocks, blockSeparator)
}

// Listing writes one line per reported finding in the order the classifier
// emitted them.
func Listing(preds []model.Prediction) string {
	if len(preds) == 0 {
		return NoAbnormalitiesListing
	}
	lines := make([]string, 0, len(preds))
	for _, p := range preds {
		lines = append(lines, fmt.Sprintf("🔹 %s: %s%%", p.Label, percent(p.Confidence)))
	}
	return strings.Join(lines, "\n")
}

func percent(confidence float64) string {
	return fmt.Sprintf("%.1f", confidence*100)
}
