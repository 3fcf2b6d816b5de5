package rag

import (
	"fmt"
	"testing"
)

func mmrCandidates() []Chunk {
	return []Chunk{
		{ID: "a", Embedding: []float64{1, 0, 0, 0}},
		{ID: "a-dup", Embedding: []float64{0.995, -0.0999, 0, 0}}, // 与 a 近重复
		{ID: "b", Embedding: []float64{0, 1, 0, 0}},
		{ID: "c", Embedding: []float64{0, 0, 1, 0}},
	}
}

func TestApplyMMR_SelectsExactlyK(t *testing.T) {
	query := []float64{1, 0.1, 0.1, 0}

	selected := applyMMR(mmrCandidates(), query, 3, 0.7)

	if len(selected) != 3 {
		t.Fatalf("expected 3 results, got %d", len(selected))
	}

	seen := make(map[string]bool)
	for _, c := range selected {
		if seen[c.ID] {
			t.Errorf("duplicate selection: %s", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestApplyMMR_FirstPickIsMostRelevant(t *testing.T) {
	query := []float64{1, 0, 0, 0}

	selected := applyMMR(mmrCandidates(), query, 2, 0.7)

	if selected[0].ID != "a" {
		t.Errorf("first pick must be the most relevant candidate, got %s", selected[0].ID)
	}
}

func TestApplyMMR_PenalizesNearDuplicates(t *testing.T) {
	// a-dup 与 a 高度相似, 第二个名额应该让给方向不同的 b,
	// 哪怕 a-dup 的纯相关度更高
	query := []float64{0.8, 0.6, 0, 0}

	selected := applyMMR(mmrCandidates(), query, 2, 0.7)

	if selected[0].ID != "a" {
		t.Fatalf("expected first pick a, got %s", selected[0].ID)
	}
	if selected[1].ID == "a-dup" {
		t.Error("second pick should avoid the near-duplicate of the first")
	}
}

func TestApplyMMR_DegenerateCases(t *testing.T) {
	query := []float64{1, 0, 0, 0}
	candidates := mmrCandidates()

	t.Run("n <= k returns all unchanged", func(t *testing.T) {
		selected := applyMMR(candidates, query, 10, 0.7)
		if len(selected) != len(candidates) {
			t.Fatalf("expected all %d candidates, got %d", len(candidates), len(selected))
		}
		for i := range candidates {
			if selected[i].ID != candidates[i].ID {
				t.Errorf("order changed at %d: %s != %s", i, selected[i].ID, candidates[i].ID)
			}
		}
	})

	t.Run("k = 0 returns empty", func(t *testing.T) {
		if got := applyMMR(candidates, query, 0, 0.7); len(got) != 0 {
			t.Errorf("expected empty, got %d", len(got))
		}
	})

	t.Run("empty candidates", func(t *testing.T) {
		if got := applyMMR(nil, query, 3, 0.7); len(got) != 0 {
			t.Errorf("expected empty, got %d", len(got))
		}
	})

	t.Run("missing embeddings treated as zero relevance", func(t *testing.T) {
		mixed := []Chunk{
			{ID: "with", Embedding: []float64{1, 0, 0, 0}},
			{ID: "without-1"},
			{ID: "without-2"},
		}
		selected := applyMMR(mixed, query, 2, 0.7)
		if len(selected) != 2 {
			t.Fatalf("expected 2 results, got %d", len(selected))
		}
		if selected[0].ID != "with" {
			t.Errorf("embedded candidate should rank first, got %s", selected[0].ID)
		}
	})
}

func TestApplyMMR_DoesNotMutateInput(t *testing.T) {
	candidates := mmrCandidates()
	original := fmt.Sprintf("%v", candidates)

	applyMMR(candidates, []float64{1, 0, 0, 0}, 2, 0.7)

	if fmt.Sprintf("%v", candidates) != original {
		t.Error("applyMMR mutated its input slice")
	}
}
