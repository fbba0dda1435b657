package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFieldValues_RoundTripThroughApply(t *testing.T) {
	src := Product{
		Name:         "USB-C Cable 1m",
		Price:        decimal.RequireFromString("7.90"),
		StockCount:   40,
		Availability: AvailabilityAvailable,
		CategoryId:   3,
	}

	var dst Product
	if err := dst.ApplyFieldValues(src.FieldValues()); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if dst.Name != src.Name || dst.StockCount != src.StockCount ||
		dst.Availability != src.Availability || dst.CategoryId != src.CategoryId {
		t.Fatalf("round trip lost fields: %+v", dst)
	}
	if !dst.Price.Equal(src.Price) {
		t.Fatalf("price changed: %s != %s", dst.Price, src.Price)
	}
}

func TestApplyFieldValues_RejectsUnparseableValues(t *testing.T) {
	var p Product
	for field, bad := range map[string]string{
		FieldPrice:        "not a number",
		FieldStockCount:   "many",
		FieldAvailability: "Sometimes",
		FieldCategoryId:   "x",
	} {
		if err := p.ApplyFieldValues(map[string]string{field: bad}); err == nil {
			t.Fatalf("field %s should reject %q", field, bad)
		}
	}
}

func TestApplyFieldValues_IgnoresUnknownFields(t *testing.T) {
	p := Product{Name: "Gel Pen (black)"}
	if err := p.ApplyFieldValues(map[string]string{"color": "blue"}); err != nil {
		t.Fatalf("unknown fields must be ignored, got %v", err)
	}
	if p.Name != "Gel Pen (black)" {
		t.Fatalf("unrelated field changed: %q", p.Name)
	}
}

func TestPurchaseStatus_TerminalStates(t *testing.T) {
	if PurchaseStatusPending.IsTerminal() {
		t.Fatal("Pending is not terminal")
	}
	for _, s := range []PurchaseStatus{PurchaseStatusCompleted, PurchaseStatusRejected, PurchaseStatusCancelled} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}

func TestParseAvailability(t *testing.T) {
	if _, err := ParseAvailability("Available"); err != nil {
		t.Fatalf("expected Available to parse: %v", err)
	}
	if _, err := ParseAvailability("Backordered"); err == nil {
		t.Fatal("unknown availability must be rejected")
	}
}

func TestParseEntityType(t *testing.T) {
	for _, s := range []string{EntityTypeProduct, EntityTypeCategory, EntityTypePurchase} {
		if _, err := ParseEntityType(s); err != nil {
			t.Fatalf("expected %q to parse: %v", s, err)
		}
	}
	if _, err := ParseEntityType("warehouse"); err == nil {
		t.Fatal("unknown entity type must be rejected")
	}
}

func TestPurchaseStatus_IsValid(t *testing.T) {
	for _, s := range []PurchaseStatus{PurchaseStatusPending, PurchaseStatusCompleted, PurchaseStatusRejected, PurchaseStatusCancelled} {
		if !s.IsValid() {
			t.Fatalf("%s should be valid", s)
		}
	}
	if PurchaseStatus("Archived").IsValid() {
		t.Fatal("unknown status must not validate")
	}
}

func TestPurchaseTotal_SumsSnapshottedLines(t *testing.T) {
	p := Purchase{Lines: []PurchaseLine{
		{Quantity: 3, UnitPrice: decimal.RequireFromString("3.20")},
		{Quantity: 1, UnitPrice: decimal.RequireFromString("89.00")},
	}}
	if want := decimal.RequireFromString("98.60"); !p.Total().Equal(want) {
		t.Fatalf("total = %s, want %s", p.Total(), want)
	}
}
