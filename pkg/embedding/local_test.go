package embedding

import (
	"context"
	"math"
	"reflect"
	"testing"
)

func TestLocalIsDeterministic(t *testing.T) {
	l := NewLocal(64)
	ctx := context.Background()

	first, err := l.Embed(ctx, "patient reports headache this morning")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	second, err := l.Embed(ctx, "patient reports headache this morning")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("same text must embed to the same vector")
	}
}

func TestLocalVectorsAreUnitLength(t *testing.T) {
	l := NewLocal(64)

	vec, err := l.Embed(context.Background(), "temperature 38.5 recorded at noon")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(vec) != 64 {
		t.Fatalf("expected dimension 64, got %d", len(vec))
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1) > 1e-4 {
		t.Errorf("expected unit length, got squared norm %v", sum)
	}
}

func TestLocalSimilarTextsScoreHigherThanUnrelated(t *testing.T) {
	l := NewLocal(256)
	ctx := context.Background()

	query, _ := l.Embed(ctx, "patient reports headache")
	near, _ := l.Embed(ctx, "patient reports headache again")
	far, _ := l.Embed(ctx, "blood pressure reading within range")

	if cosine(query, near) <= cosine(query, far) {
		t.Errorf("expected overlapping text to score higher: near=%v far=%v",
			cosine(query, near), cosine(query, far))
	}
}

func TestLocalHonorsContextCancellation(t *testing.T) {
	l := NewLocal(64)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.Embed(ctx, "anything"); err == nil {
		t.Error("expected an error for a canceled context")
	}
}

func TestLocalDefaultsDimension(t *testing.T) {
	if got := NewLocal(0).Dimension(); got != 256 {
		t.Errorf("expected default dimension 256, got %d", got)
	}
}

func cosine(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
