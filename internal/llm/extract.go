package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldPath names one location in an upstream JSON payload. Path segments
// are separated by dots; numeric segments index into arrays. Lower priority
// values are tried first.
type FieldPath struct {
	Path     string `yaml:"path"`
	Priority int    `yaml:"priority"`
}

// ExtractionTable lists the candidate locations for answer text and for
// reasoning text. The first non-empty string found wins.
type ExtractionTable struct {
	Content   []FieldPath `yaml:"content"`
	Reasoning []FieldPath `yaml:"reasoning"`
}

// DefaultExtractionTable covers streamed deltas and blocking responses from
// OpenAI-compatible providers, including the reasoning fields used by LM Studio
// and vLLM.
func DefaultExtractionTable() ExtractionTable {
	return ExtractionTable{
		Content: []FieldPath{
			{Path: "choices.0.delta.content", Priority: 0},
			{Path: "choices.0.message.content", Priority: 10},
			{Path: "choices.0.text", Priority: 20},
		},
		Reasoning: []FieldPath{
			{Path: "choices.0.delta.reasoning", Priority: 0},
			{Path: "choices.0.delta.reasoning_content", Priority: 5},
			{Path: "choices.0.message.reasoning", Priority: 10},
			{Path: "choices.0.message.reasoning_content", Priority: 15},
		},
	}
}

// LoadExtractionTable reads a YAML table from disk. Missing sections fall
// back to the defaults.
func LoadExtractionTable(path string) (ExtractionTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ExtractionTable{}, fmt.Errorf("reading extraction table: %w", err)
	}
	var t ExtractionTable
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return ExtractionTable{}, fmt.Errorf("parsing extraction table %s: %w", path, err)
	}
	def := DefaultExtractionTable()
	if len(t.Content) == 0 {
		t.Content = def.Content
	}
	if len(t.Reasoning) == 0 {
		t.Reasoning = def.Reasoning
	}
	return t, nil
}

// Delta is the text pulled out of one upstream payload.
type Delta struct {
	Content   string
	Reasoning string
}

// Extractor resolves an ExtractionTable against decoded payloads.
type Extractor struct {
	content   [][]string
	reasoning [][]string
}

// NewExtractor orders each list by priority. Entries with equal priority keep
// their table order.
func NewExtractor(t ExtractionTable) *Extractor {
	return &Extractor{
		content:   compilePaths(t.Content),
		reasoning: compilePaths(t.Reasoning),
	}
}

func compilePaths(paths []FieldPath) [][]string {
	sorted := append([]FieldPath(nil), paths...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	out := make([][]string, 0, len(sorted))
	for _, p := range sorted {
		if p.Path == "" {
			continue
		}
		out = append(out, strings.Split(p.Path, "."))
	}
	return out
}

// Extract decodes payload and returns the first non-empty content and
// reasoning strings. Either may be empty.
func (e *Extractor) Extract(payload []byte) (Delta, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Delta{}, err
	}
	if _, ok := doc.(map[string]any); !ok {
		return Delta{}, fmt.Errorf("payload is %T, want object", doc)
	}
	return Delta{
		Content:   firstString(doc, e.content),
		Reasoning: firstString(doc, e.reasoning),
	}, nil
}

func firstString(doc any, paths [][]string) string {
	for _, p := range paths {
		if s := textOf(lookup(doc, p)); s != "" {
			return s
		}
	}
	return ""
}

func lookup(v any, path []string) any {
	for _, seg := range path {
		switch node := v.(type) {
		case map[string]any:
			v = node[seg]
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			v = node[i]
		default:
			return nil
		}
	}
	return v
}

// textOf accepts a plain string or an array of content parts
// ({"type":"text","text":"..."}), which some providers return for message content.
func textOf(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		var b strings.Builder
		for _, part := range val {
			switch p := part.(type) {
			case string:
				b.WriteString(p)
			case map[string]any:
				if s, ok := p["text"].(string); ok {
					b.WriteString(s)
				}
			}
		}
		return b.String()
	}
	return ""
}
