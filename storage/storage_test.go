package storage

import "testing"

func TestNewUnknownPlugin(t *testing.T) {
	if _, err := New("does-not-exist", nil); err != ErrUnknownPlugin {
		t.Fatalf("New(unknown) error = %v, want ErrUnknownPlugin", err)
	}
}

func TestNamesIncludesBuiltinPlugins(t *testing.T) {
	names := Names()
	want := map[string]bool{"whisper": false, "ceres": false, "azurearchive": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("Names() missing registered plugin %q (got %v)", name, names)
		}
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Register with a duplicate name: want panic, got none")
		}
	}()
	Register("whisper", func(map[string]string) (TimeSeriesDatabase, error) { return nil, nil })
}
