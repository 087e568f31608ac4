package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/zeroclaw-labs/zeroclaw/pkg/memory"
)

// MemoryObserveTool stores observational memory entries in a dedicated
// "observation" category, separate from durable core facts, giving agents
// an explicit path for long-horizon context continuity.
type MemoryObserveTool struct {
	store *memory.VectorStore
}

// NewMemoryObserveTool creates a new memory-observe tool over store.
func NewMemoryObserveTool(store *memory.VectorStore) *MemoryObserveTool {
	return &MemoryObserveTool{store: store}
}

func (t *MemoryObserveTool) Name() string { return "memory_observe" }

func (t *MemoryObserveTool) Description() string {
	return "Store an observation entry in observation memory for long-horizon context continuity."
}

func (t *MemoryObserveTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"observation": map[string]interface{}{
				"type":        "string",
				"description": "Observation to capture (fact, pattern, or running context signal)",
			},
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Optional custom key. Auto-generated when omitted.",
			},
			"source": map[string]interface{}{
				"type":        "string",
				"description": "Optional source label for traceability (e.g. 'chat', 'tool_result').",
			},
			"confidence": map[string]interface{}{
				"type":        "number",
				"description": "Optional confidence score in [0.0, 1.0].",
			},
			"category": map[string]interface{}{
				"type":        "string",
				"description": "Optional category override. Defaults to 'observation'.",
			},
		},
		"required": []string{"observation"},
	}
}

func generateObservationKey() string {
	return "observation_" + uuid.NewString()
}

func (t *MemoryObserveTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	observation := strings.TrimSpace(stringArg(args, "observation"))
	if observation == "" {
		return ErrorResult("Missing 'observation' parameter")
	}

	var confidence float64
	hasConfidence := false
	if v, ok := args["confidence"].(float64); ok {
		confidence = v
		hasConfidence = true
		if confidence < 0.0 || confidence > 1.0 {
			return ErrorResult("'confidence' must be within [0.0, 1.0]")
		}
	}

	key := strings.TrimSpace(stringArg(args, "key"))
	if key == "" {
		key = generateObservationKey()
	}

	source := strings.TrimSpace(stringArg(args, "source"))
	category := normalizeObservationCategory(stringArg(args, "category"))

	content := observation
	if source != "" || hasConfidence {
		var metadata []string
		if source != "" {
			metadata = append(metadata, "source="+source)
		}
		if hasConfidence {
			metadata = append(metadata, fmt.Sprintf("confidence=%.3f", confidence))
		}
		content += "\n\n[metadata] " + strings.Join(metadata, ", ")
	}

	if err := t.store.IndexKnowledge(ctx, key, content, category); err != nil {
		return ErrorResult(fmt.Sprintf("Failed to store observation memory: %v", err))
	}
	return SilentResult(fmt.Sprintf("Stored observation memory: %s", key))
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

// normalizeObservationCategory maps a raw category override onto the
// storage categories, defaulting to "observation" when unset.
func normalizeObservationCategory(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "observation":
		return "observation"
	default:
		return strings.ToLower(strings.TrimSpace(raw))
	}
}
