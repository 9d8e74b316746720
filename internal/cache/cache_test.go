package cache

import (
	"context"
	"testing"
	"time"
)

func TestEmbeddingKeyDependsOnModel(t *testing.T) {
	if EmbeddingKey("m1", "text") == EmbeddingKey("m2", "text") {
		t.Fatal("model must be part of the key")
	}
	if EmbeddingKey("m1", "text") != EmbeddingKey("m1", "text") {
		t.Fatal("key must be deterministic")
	}
}

func TestMemoryEmbeddingCache(t *testing.T) {
	c := NewMemoryEmbeddingCache()
	ctx := context.Background()
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("unexpected hit")
	}
	if err := c.Set(ctx, "k", []float32{1, 2}); err != nil {
		t.Fatal(err)
	}
	v, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || len(v) != 2 {
		t.Fatalf("Get = %v, %v, %v", v, ok, err)
	}
}

func TestOpportunityRecordSame(t *testing.T) {
	base := OpportunityRecord{BestLeg: "pm_yes_ks_no", Profit: 0.04, UpdatedAt: time.Now()}
	tests := []struct {
		name  string
		other OpportunityRecord
		want  bool
	}{
		{"identical", base, true},
		{"newer timestamp only", OpportunityRecord{BestLeg: base.BestLeg, Profit: base.Profit}, true},
		{"profit moved", OpportunityRecord{BestLeg: base.BestLeg, Profit: 0.05}, false},
		{"leg flipped", OpportunityRecord{BestLeg: "ks_yes_pm_no", Profit: base.Profit}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.Same(tt.other); got != tt.want {
				t.Errorf("Same = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRedisConstructorsRequireAddr(t *testing.T) {
	if _, err := NewRedisEmbeddingCache("", "", 0, 0, ""); err == nil {
		t.Error("embedding cache without addr should fail")
	}
	if _, err := NewRedisOpportunityCache("", "", 0, 0, ""); err == nil {
		t.Error("opportunity cache without addr should fail")
	}
}
