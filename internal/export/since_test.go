package export

import (
	"testing"
	"time"
)

// TestParseSince tests natural-language cutoff resolution
func TestParseSince(t *testing.T) {
	now := time.Date(2024, 7, 15, 10, 0, 0, 0, time.UTC)

	got, err := ParseSince("yesterday", now)
	if err != nil {
		t.Fatalf("ParseSince(yesterday) failed: %v", err)
	}
	wantDay := now.AddDate(0, 0, -1)
	if got.Year() != wantDay.Year() || got.Month() != wantDay.Month() || got.Day() != wantDay.Day() {
		t.Errorf("ParseSince(yesterday) = %v, want the day before %v", got, now)
	}

	got, err = ParseSince("5 days ago", now)
	if err != nil {
		t.Fatalf("ParseSince(5 days ago) failed: %v", err)
	}
	if want := now.Add(-5 * 24 * time.Hour); !got.Equal(want) {
		t.Errorf("ParseSince(5 days ago) = %v, want %v", got, want)
	}
}

// TestParseSince_Unrecognized tests the error path
func TestParseSince_Unrecognized(t *testing.T) {
	if _, err := ParseSince("qqqqq", time.Now()); err == nil {
		t.Error("ParseSince accepted gibberish")
	}
}
