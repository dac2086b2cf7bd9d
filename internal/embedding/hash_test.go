package embedding

import (
	"context"
	"math"
	"testing"
)

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestHashEmbedder_NormIsZeroOrOne(t *testing.T) {
	e := NewHashEmbedder(0)
	if e.Dimensions() != Dimensions {
		t.Fatalf("Dimensions = %d, want %d", e.Dimensions(), Dimensions)
	}
	ctx := context.Background()
	for _, text := range []string{"", "   ", "buy milk", "The quick brown fox jumps over the lazy dog", "!!!", "a a a a"} {
		v, err := e.Embed(ctx, text)
		if err != nil {
			t.Fatal(err)
		}
		if len(v) != Dimensions {
			t.Fatalf("len = %d", len(v))
		}
		n := norm(v)
		if math.Abs(n) > 1e-6 && math.Abs(n-1) > 1e-5 {
			t.Errorf("norm(%q) = %f, want 0 or 1", text, n)
		}
	}
}

func TestHashEmbedder_EmptyIsZeroVector(t *testing.T) {
	v, _ := NewHashEmbedder(8).Embed(context.Background(), "?!")
	for i, x := range v {
		if x != 0 {
			t.Fatalf("v[%d] = %f, want 0", i, x)
		}
	}
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	ctx := context.Background()
	a, _ := NewHashEmbedder(Dimensions).Embed(ctx, "Remember the dentist on Tuesday")
	b, _ := NewHashEmbedder(Dimensions).Embed(ctx, "remember THE dentist, on tuesday")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding differs at %d: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestHashEmbedder_TokenOverlapRanksHigher(t *testing.T) {
	e := NewHashEmbedder(Dimensions)
	ctx := context.Background()
	embs, err := e.EmbedBatch(ctx, []string{"buy", "buy milk", "pay rent", "buy bread"})
	if err != nil {
		t.Fatal(err)
	}
	q := embs[0]
	milk, rent, bread := dot(q, embs[1]), dot(q, embs[2]), dot(q, embs[3])
	if milk <= rent || bread <= rent {
		t.Errorf("scores milk=%f bread=%f rent=%f; buy entries should outrank pay rent", milk, bread, rent)
	}
}

func TestHashEmbedder_EmbedBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHashEmbedder(8).EmbedBatch(ctx, []string{"a"}); err == nil {
		t.Error("expected context error")
	}
}
