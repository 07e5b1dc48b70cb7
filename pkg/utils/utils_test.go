package utils

import (
	"strings"
	"testing"
	"time"
)

func TestIDGeneratorUnique(t *testing.T) {
	g := MustIDGenerator(1)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.Next("TXN")
		if !strings.HasPrefix(id, "TXN") {
			t.Fatalf("id %q lacks prefix", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestNewIDGeneratorRejectsBadNode(t *testing.T) {
	if _, err := NewIDGenerator(4096); err == nil {
		t.Fatal("expected error for node id out of range")
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-03-15")
	if err != nil || !d.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ParseDate date-only = %v, %v", d, err)
	}
	d, err = ParseDate("2024-03-15T23:30:00+02:00")
	if err != nil || !StartOfDay(d).Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ParseDate RFC3339 = %v, %v", d, err)
	}
	if _, err := ParseDate("15/03/2024"); err == nil {
		t.Error("expected error")
	}
}
