package storage

import (
	"context"
	"testing"
)

func newTestWhisper(t *testing.T, opts map[string]string) *WhisperPlugin {
	t.Helper()
	merged := map[string]string{"LocalDataDir": t.TempDir()}
	for k, v := range opts {
		merged[k] = v
	}
	db, err := newWhisperPlugin(merged)
	if err != nil {
		t.Fatalf("newWhisperPlugin: %v", err)
	}
	return db.(*WhisperPlugin)
}

func TestWhisperCreateExistsWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := newTestWhisper(t, nil)
	metric := "servers.web1.cpu"

	if ok, _ := p.Exists(ctx, metric); ok {
		t.Fatalf("Exists before Create = true, want false")
	}

	retentions := []Retention{{SecondsPerPoint: 10, Points: 100}}
	if err := p.Create(ctx, metric, retentions, 0.5, "average"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ok, err := p.Exists(ctx, metric); err != nil || !ok {
		t.Fatalf("Exists after Create = %v, %v, want true, nil", ok, err)
	}

	points := []Datapoint{{Timestamp: 100, Value: 1.5}, {Timestamp: 110, Value: 2.5}}
	if err := p.Write(ctx, metric, points); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := p.GetMetadata(ctx, metric, "aggregationMethod")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if got != "average" {
		t.Errorf("aggregationMethod = %q, want %q", got, "average")
	}
}

func TestWhisperSetMetadataUnsupportedKey(t *testing.T) {
	ctx := context.Background()
	p := newTestWhisper(t, nil)
	metric := "m"
	if err := p.Create(ctx, metric, []Retention{{SecondsPerPoint: 1, Points: 10}}, 0.5, "average"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := p.SetMetadata(ctx, metric, "notAThing", "x"); err == nil {
		t.Fatalf("SetMetadata(unsupported key): want error, got nil")
	}
}

func TestWhisperValidateArchiveListRejectsEmptyAndUnordered(t *testing.T) {
	p := newTestWhisper(t, nil)
	if err := p.ValidateArchiveList(nil); err == nil {
		t.Errorf("ValidateArchiveList(nil): want error, got nil")
	}
	bad := []Retention{{SecondsPerPoint: 60, Points: 10}, {SecondsPerPoint: 10, Points: 10}}
	if err := p.ValidateArchiveList(bad); err == nil {
		t.Errorf("ValidateArchiveList(coarse-then-fine): want error, got nil")
	}
}

func TestWhisperCreateRejectsUnknownAggregation(t *testing.T) {
	ctx := context.Background()
	p := newTestWhisper(t, nil)
	err := p.Create(ctx, "m", []Retention{{SecondsPerPoint: 1, Points: 1}}, 0.5, "bogus")
	if err == nil {
		t.Fatalf("Create with unknown aggregation method: want error, got nil")
	}
}

func TestWhisperMissingDataDirIsInvalidConfiguration(t *testing.T) {
	if _, err := newWhisperPlugin(nil); err == nil {
		t.Fatalf("newWhisperPlugin with no LocalDataDir: want error, got nil")
	}
}

func TestTagEncodeEscapesTagSeparator(t *testing.T) {
	got := tagEncode("servers.web1;tag=value", "/")
	if got == "servers.web1;tag=value" {
		t.Errorf("tagEncode did not transform the input")
	}
}
