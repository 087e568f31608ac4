package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/zeroclaw-labs/zeroclaw/pkg/memory"
)

func fakeEmbeddingFn(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newTestMemoryObserveTool(t *testing.T) *MemoryObserveTool {
	t.Helper()
	store, err := memory.NewVectorStore(t.TempDir(), fakeEmbeddingFn)
	if err != nil {
		t.Fatalf("building vector store: %v", err)
	}
	return NewMemoryObserveTool(store)
}

func TestMemoryObserveNameAndSchema(t *testing.T) {
	tool := newTestMemoryObserveTool(t)
	if tool.Name() != "memory_observe" {
		t.Fatalf("unexpected name: %s", tool.Name())
	}
	params := tool.Parameters()
	required, ok := params["required"].([]string)
	if !ok || len(required) != 1 || required[0] != "observation" {
		t.Fatalf("expected observation to be required, got %+v", params["required"])
	}
}

func TestMemoryObserveRejectsBlankObservation(t *testing.T) {
	tool := newTestMemoryObserveTool(t)
	result := tool.Execute(context.Background(), map[string]interface{}{"observation": "   "})
	if !result.IsError {
		t.Fatal("expected blank observation to be rejected")
	}
}

func TestMemoryObserveRejectsConfidenceOutOfRange(t *testing.T) {
	tool := newTestMemoryObserveTool(t)
	result := tool.Execute(context.Background(), map[string]interface{}{
		"observation": "user prefers dark mode",
		"confidence":  1.5,
	})
	if !result.IsError {
		t.Fatal("expected out-of-range confidence to be rejected")
	}
}

func TestMemoryObserveStoresDefaultObservationCategory(t *testing.T) {
	tool := newTestMemoryObserveTool(t)
	result := tool.Execute(context.Background(), map[string]interface{}{
		"observation": "user prefers dark mode",
	})
	if result.IsError {
		t.Fatalf("unexpected error result: %v", result.Err)
	}
	if !strings.HasPrefix(result.ForLLM, "Stored observation memory: observation_") {
		t.Fatalf("unexpected result message: %q", result.ForLLM)
	}
}

func TestMemoryObserveStoresMetadataWhenProvided(t *testing.T) {
	tool := newTestMemoryObserveTool(t)
	result := tool.Execute(context.Background(), map[string]interface{}{
		"observation": "build takes 4 minutes",
		"key":         "observation_build_time",
		"source":      "ci",
		"confidence":  0.8,
	})
	if result.IsError {
		t.Fatalf("unexpected error result: %v", result.Err)
	}
	if !strings.Contains(result.ForLLM, "observation_build_time") {
		t.Fatalf("expected custom key to be used, got %q", result.ForLLM)
	}
}

func TestMemoryObserveNormalizesCustomCategory(t *testing.T) {
	if got := normalizeObservationCategory(""); got != "observation" {
		t.Errorf("expected empty category to default to observation, got %q", got)
	}
	if got := normalizeObservationCategory("Core"); got != "core" {
		t.Errorf("expected custom category to be lowercased, got %q", got)
	}
}
