package wizard

import (
	"testing"
)

func TestNew(t *testing.T) {
	w := New()
	if w == nil {
		t.Fatal("New() returned nil")
	}
	if w.existingCfg != nil {
		t.Error("New() returned wizard with non-nil existingCfg")
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		name     string
		slice    []string
		item     string
		expected bool
	}{
		{
			name:     "item exists",
			slice:    []string{"a", "b", "c"},
			item:     "b",
			expected: true,
		},
		{
			name:     "item does not exist",
			slice:    []string{"a", "b", "c"},
			item:     "z",
			expected: false,
		},
		{
			name:     "empty slice",
			slice:    []string{},
			item:     "a",
			expected: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := contains(tc.slice, tc.item)
			if got != tc.expected {
				t.Errorf("contains(%v, %q) = %v, want %v", tc.slice, tc.item, got, tc.expected)
			}
		})
	}
}

func TestRandomPasswordIsNonEmptyAndVaries(t *testing.T) {
	a, err := randomPassword()
	if err != nil {
		t.Fatalf("randomPassword() error = %v", err)
	}
	b, err := randomPassword()
	if err != nil {
		t.Fatalf("randomPassword() error = %v", err)
	}
	if a == "" || b == "" {
		t.Fatal("randomPassword() returned empty string")
	}
	if a == b {
		t.Error("randomPassword() returned the same value twice")
	}
}

func TestValidateDuration(t *testing.T) {
	if err := validateDuration("10s"); err != nil {
		t.Errorf("validateDuration(10s) error = %v", err)
	}
	if err := validateDuration("not-a-duration"); err == nil {
		t.Error("validateDuration(not-a-duration) error = nil, want error")
	}
}

func TestLoadExistingMissingFileIsNotAnError(t *testing.T) {
	w := New()
	if err := w.LoadExisting("/nonexistent/path/config.yaml"); err != nil {
		t.Errorf("LoadExisting() error = %v, want nil for missing file", err)
	}
	if w.existingCfg != nil {
		t.Error("existingCfg should remain nil when file does not exist")
	}
}
