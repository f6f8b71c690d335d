package timeutil

import (
	"errors"
	"testing"

	"github.com/hitoshi/timevault/internal/model"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2016-07-27 12:34:56", "2016-07-27 12:34:56"},
		{"2016-07-27T12:34:56", "2016-07-27 12:34:56"},
		{"20160727-123456", "2016-07-27 12:34:56"},
		{"2016-01-04", "2016-01-04 00:00:00"},
		{"  2016-01-04  ", "2016-01-04 00:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_Invalid(t *testing.T) {
	for _, in := range []string{"yesterday", "2016/07/27", "20160727", "2016-07-27 12:34"} {
		_, err := Normalize(in)
		if !errors.Is(err, model.ErrInvalidArgument) {
			t.Errorf("Normalize(%q) error = %v, want ErrInvalidArgument", in, err)
		}
	}
}

func TestNormalizeCutoff_EmptyMeansEndOfTime(t *testing.T) {
	got, err := NormalizeCutoff("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != EndOfTime {
		t.Errorf("NormalizeCutoff(\"\") = %q, want %q", got, EndOfTime)
	}
}

func TestToCompact_RoundTrip(t *testing.T) {
	compact, err := ToCompact("2016-07-27 12:34:56")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if compact != "20160727-123456" {
		t.Errorf("ToCompact = %q, want %q", compact, "20160727-123456")
	}
	if !IsCompact(compact) {
		t.Error("IsCompact should accept ToCompact output")
	}

	back, err := Normalize(compact)
	if err != nil || back != "2016-07-27 12:34:56" {
		t.Errorf("Normalize(%q) = (%q, %v)", compact, back, err)
	}
}
