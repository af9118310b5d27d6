package id

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestToBaseUnits(t *testing.T) {
	got, err := ToBaseUnits(1.5, 18)
	if err != nil {
		t.Fatalf("ToBaseUnits failed: %v", err)
	}
	if got != "1500000000000000000" {
		t.Fatalf("unexpected base units: %s", got)
	}

	got, err = ToBaseUnits(2.345, 2)
	if err != nil {
		t.Fatalf("ToBaseUnits failed: %v", err)
	}
	if got != "234" {
		t.Fatalf("expected truncation to 234, got %s", got)
	}

	if _, err := ToBaseUnits(-1, 2); err == nil {
		t.Fatal("expected negative amount to fail")
	}
}

func TestFormatBaseUnits(t *testing.T) {
	v := decimal.RequireFromString("1234500000000000000000")
	if got := FormatBaseUnits(v, 18, 2); got != "1234.50" {
		t.Fatalf("unexpected format: %s", got)
	}
	if got := FromBaseUnits(decimal.NewFromInt(500), 2); !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected 5, got %s", got)
	}
}

func TestFloorCents(t *testing.T) {
	if got := FloorCents(decimal.RequireFromString("10.999")); got.StringFixed(2) != "10.99" {
		t.Fatalf("expected floor to 10.99, got %s", got)
	}
	if got := FloorCents(decimal.NewFromInt(10)); got.StringFixed(2) != "10.00" {
		t.Fatalf("expected 10.00, got %s", got)
	}
}
