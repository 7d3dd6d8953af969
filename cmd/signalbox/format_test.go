package main

import "testing"

func TestFormatTokenCount(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0"},
		{1, "1"},
		{100, "100"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
		{999, "999"},
		{-4500, "-4,500"},
	}

	for _, tt := range tests {
		got := formatTokenCount(tt.input)
		if got != tt.want {
			t.Errorf("formatTokenCount(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatCost(t *testing.T) {
	tests := []struct {
		input float64
		want  string
	}{
		{0, "$0.00"},
		{0.00046, "$0.0005"},
		{0.00044, "$0.0004"},
		{0.012, "$0.01"},
		{22.5, "$22.50"},
	}
	for _, tt := range tests {
		if got := formatCost(tt.input); got != tt.want {
			t.Errorf("formatCost(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatRate(t *testing.T) {
	if got := formatRate(0.15, 1_000_000); got != "$0.15" {
		t.Errorf("formatRate = %q, want $0.15", got)
	}
	if got := formatRate(1, 0); got != "-" {
		t.Errorf("formatRate with zero divisor = %q, want -", got)
	}
}
