package sanitize

import (
	"strings"
	"testing"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple lowercase",
			input:    "watersheds",
			expected: "watersheds",
		},
		{
			name:     "uppercase conversion",
			input:    "Watersheds",
			expected: "watersheds",
		},
		{
			name:     "dots to underscores",
			input:    "fraser.river",
			expected: "fraser_river",
		},
		{
			name:     "slashes to underscores",
			input:    "site/03",
			expected: "site_03",
		},
		{
			name:     "station id",
			input:    "stn-08MF005",
			expected: "stn_08mf005",
		},
		{
			name:     "special characters",
			input:    "my-site!@#$%",
			expected: "my_site",
		},
		{
			name:     "multiple underscores collapsed",
			input:    "foo___bar",
			expected: "foo_bar",
		},
		{
			name:     "leading/trailing underscores trimmed",
			input:    "_foo_bar_",
			expected: "foo_bar",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "default",
		},
		{
			name:     "only invalid chars",
			input:    "!!!",
			expected: "default",
		},
		{
			name:     "numbers preserved",
			input:    "site123",
			expected: "site123",
		},
		{
			name:     "underscores preserved",
			input:    "my_site",
			expected: "my_site",
		},
		{
			name:     "spaces to underscores",
			input:    "my site",
			expected: "my_site",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Identifier(tt.input)
			if result != tt.expected {
				t.Errorf("Identifier(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestIdentifier_LengthLimit(t *testing.T) {
	// Test that long identifiers are truncated with hash
	longInput := strings.Repeat("a", 100)
	result := Identifier(longInput)

	if len(result) > MaxIdentifierLength {
		t.Errorf("Identifier should be <= %d chars, got %d", MaxIdentifierLength, len(result))
	}

	// Should end with hash suffix pattern _XXXXXXXX
	if !strings.Contains(result, "_") {
		t.Error("Truncated identifier should contain hash suffix")
	}
}

func TestIdentifier_LengthLimit_Uniqueness(t *testing.T) {
	// Different long inputs should produce different outputs
	input1 := strings.Repeat("a", 100)
	input2 := strings.Repeat("a", 99) + "b"

	result1 := Identifier(input1)
	result2 := Identifier(input2)

	if result1 == result2 {
		t.Error("Different inputs should produce different hashed outputs")
	}
}

func TestIdentifier_ExactlyMaxLength(t *testing.T) {
	// Input exactly at max length should not be truncated
	input := strings.Repeat("a", MaxIdentifierLength)
	result := Identifier(input)

	if result != input {
		t.Errorf("Input at max length should not be modified, got %q", result)
	}
}

func TestPointKey(t *testing.T) {
	if got := PointKey("p1"); got != "p1" {
		t.Errorf("PointKey(%q) = %q, want unchanged", "p1", got)
	}

	upper := PointKey("P1")
	if !strings.HasPrefix(upper, "p1_") || len(upper) != len("p1")+HashSuffixLength {
		t.Errorf("PointKey(%q) = %q, want p1_<hash>", "P1", upper)
	}
	if upper == PointKey("p1") {
		t.Error("ids differing only by case must map to distinct keys")
	}
	if PointKey("site/03") == PointKey("site 03") {
		t.Error("lossy ids must map to distinct keys")
	}

	long := PointKey(strings.Repeat("X", 200))
	if len(long) > MaxIdentifierLength {
		t.Errorf("PointKey should be <= %d chars, got %d", MaxIdentifierLength, len(long))
	}
}

func TestTableName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"watersheds", "watersheds"},
		{"Batch Results", "batch_results"},
		{"2024_results", "t_2024_results"},
		{"", "default"},
	}
	for _, tt := range tests {
		got := TableName(tt.input)
		if got != tt.expected {
			t.Errorf("TableName(%q) = %q, want %q", tt.input, got, tt.expected)
		}
		if err := ValidateIdentifier(got); err != nil {
			t.Errorf("TableName(%q) produced invalid identifier: %v", tt.input, err)
		}
	}
}
