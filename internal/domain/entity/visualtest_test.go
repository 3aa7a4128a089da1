package entity

import (
	"strings"
	"testing"

	"github.com/dreschagin/visual-regression/internal/domain/valueobject"
)

func TestNewVisualTest(t *testing.T) {
	vt, err := NewVisualTest(" shop ", "  Home page ", " https://example.com ")
	if err != nil {
		t.Fatalf("NewVisualTest() error = %v", err)
	}

	if vt.ID() == "" {
		t.Fatalf("expected generated id")
	}
	if vt.Name() != "Home page" || vt.TargetReference() != "https://example.com" || vt.ProjectID() != "shop" {
		t.Fatalf("expected trimmed fields, got %q %q %q", vt.Name(), vt.TargetReference(), vt.ProjectID())
	}
	if vt.Status() != valueobject.StatusNew {
		t.Fatalf("expected NEW status, got %s", vt.Status())
	}
	if _, ok := vt.MatchPercentage(); ok {
		t.Fatalf("expected no match percentage on a fresh test")
	}

	other, _ := NewVisualTest("", "Other", "")
	if other.ID() == vt.ID() {
		t.Fatalf("expected unique ids")
	}
}

func TestNewVisualTest_Validation(t *testing.T) {
	tests := []struct {
		name   string
		vtName string
		target string
	}{
		{"empty name", "   ", ""},
		{"long name", strings.Repeat("a", maxNameLength+1), ""},
		{"long target", "ok", strings.Repeat("u", maxTargetRefLength+1)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewVisualTest("", tc.vtName, tc.target); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestVisualTest_RecordComparison(t *testing.T) {
	vt, _ := NewVisualTest("", "Checkout", "")
	before := vt.UpdatedAt()

	if err := vt.RecordComparison(valueobject.StatusFail, 6.25); err != nil {
		t.Fatalf("RecordComparison() error = %v", err)
	}
	pct, ok := vt.MatchPercentage()
	if !ok || pct != 6.25 || vt.Status() != valueobject.StatusFail {
		t.Fatalf("unexpected state: %s %v %v", vt.Status(), pct, ok)
	}
	if !vt.UpdatedAt().After(before) {
		t.Fatalf("expected updatedAt to advance")
	}

	if err := vt.RecordComparison(valueobject.StatusNew, 0); err == nil {
		t.Fatalf("expected NEW to be rejected as comparison status")
	}
	if err := vt.RecordComparison(valueobject.StatusPass, 101); err == nil {
		t.Fatalf("expected out of range percentage to be rejected")
	}
}

func TestVisualTest_RecordPromotion(t *testing.T) {
	vt, _ := NewVisualTest("", "Checkout", "")
	vt.RecordPromotion()

	pct, ok := vt.MatchPercentage()
	if !ok || pct != PromotedMatchPercentage || vt.Status() != valueobject.StatusPass {
		t.Fatalf("unexpected state after promotion: %s %v", vt.Status(), pct)
	}
}

func TestVisualTest_CloneIsIndependent(t *testing.T) {
	vt, _ := NewVisualTest("", "Checkout", "")
	_ = vt.RecordComparison(valueobject.StatusPass, 0)

	clone := vt.Clone()
	vt.RecordPromotion()

	pct, _ := clone.MatchPercentage()
	if pct != 0 || clone.Status() != valueobject.StatusPass {
		t.Fatalf("clone was mutated: %s %v", clone.Status(), pct)
	}
}
