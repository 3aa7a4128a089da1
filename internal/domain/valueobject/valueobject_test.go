package valueobject

import "testing"

func TestParseTestStatus(t *testing.T) {
	tests := []struct {
		raw     string
		want    TestStatus
		wantErr bool
	}{
		{"NEW", StatusNew, false},
		{"pass", StatusPass, false},
		{" Fail ", StatusFail, false},
		{"unknown", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseTestStatus(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseTestStatus(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseTestStatus(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestParseArtifactSlot(t *testing.T) {
	for _, slot := range AllArtifactSlots() {
		got, err := ParseArtifactSlot(string(slot))
		if err != nil || got != slot {
			t.Fatalf("ParseArtifactSlot(%q) = %q, %v", slot, got, err)
		}
	}

	if _, err := ParseArtifactSlot("../etc/passwd"); err == nil {
		t.Fatalf("expected error for unknown slot")
	}
}

func TestTestStatus_IsCompared(t *testing.T) {
	if StatusNew.IsCompared() {
		t.Fatalf("NEW must not count as compared")
	}
	if !StatusPass.IsCompared() || !StatusFail.IsCompared() {
		t.Fatalf("PASS and FAIL must count as compared")
	}
}
