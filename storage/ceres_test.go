package storage

import (
	"context"
	"testing"
)

func newTestCeres(t *testing.T, opts map[string]string) *CeresPlugin {
	t.Helper()
	merged := map[string]string{"LocalDataDir": t.TempDir()}
	for k, v := range opts {
		merged[k] = v
	}
	db, err := newCeresPlugin(merged)
	if err != nil {
		t.Fatalf("newCeresPlugin: %v", err)
	}
	return db.(*CeresPlugin)
}

func TestCeresCreateWriteMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := newTestCeres(t, nil)
	metric := "apps.checkout.latency"

	if ok, _ := p.Exists(ctx, metric); ok {
		t.Fatalf("Exists before Create = true, want false")
	}
	retentions := []Retention{{SecondsPerPoint: 60, Points: 1440}}
	if err := p.Create(ctx, metric, retentions, 0.3, "max"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ok, err := p.Exists(ctx, metric); err != nil || !ok {
		t.Fatalf("Exists after Create = %v, %v", ok, err)
	}

	if err := p.Write(ctx, metric, []Datapoint{{Timestamp: 1, Value: 2}, {Timestamp: 2, Value: 3}}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := p.GetMetadata(ctx, metric, "aggregationMethod")
	if err != nil || got != "max" {
		t.Fatalf("GetMetadata(aggregationMethod) = %q, %v, want %q, nil", got, err, "max")
	}

	if err := p.SetMetadata(ctx, metric, "owner", "team-checkout"); err != nil {
		t.Fatalf("SetMetadata(extra key): %v", err)
	}
	got, err = p.GetMetadata(ctx, metric, "owner")
	if err != nil || got != "team-checkout" {
		t.Fatalf("GetMetadata(owner) = %q, %v, want %q, nil", got, err, "team-checkout")
	}
}

func TestCeresGetMetadataUnknownKey(t *testing.T) {
	ctx := context.Background()
	p := newTestCeres(t, nil)
	if err := p.Create(ctx, "m", []Retention{{SecondsPerPoint: 1, Points: 1}}, 0.5, "average"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := p.GetMetadata(ctx, "m", "nope"); err == nil {
		t.Fatalf("GetMetadata(unknown key): want error, got nil")
	}
}

func TestCeresCachingOptionsAreRead(t *testing.T) {
	p := newTestCeres(t, map[string]string{
		"CeresNodeCachingBehavior":  "none",
		"CeresSliceCachingBehavior": "all",
		"CeresMaxSliceGap":          "40",
	})
	if p.nodeCaching != "none" {
		t.Errorf("nodeCaching = %q, want %q", p.nodeCaching, "none")
	}
	if p.sliceCaching != "all" {
		t.Errorf("sliceCaching = %q, want %q", p.sliceCaching, "all")
	}
	if p.maxSliceGap != 40 {
		t.Errorf("maxSliceGap = %d, want 40", p.maxSliceGap)
	}
}

func TestCeresDefaultsWhenUnset(t *testing.T) {
	p := newTestCeres(t, nil)
	if p.nodeCaching != "all" || p.sliceCaching != "latest" || p.maxSliceGap != 80 {
		t.Errorf("defaults = %q/%q/%d, want all/latest/80", p.nodeCaching, p.sliceCaching, p.maxSliceGap)
	}
}
