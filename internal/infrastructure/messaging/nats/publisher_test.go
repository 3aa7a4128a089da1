package nats

import (
	"testing"

	"github.com/dreschagin/visual-regression/internal/application/dto"
)

func TestSubject(t *testing.T) {
	event := &dto.VisualTestEvent{Type: dto.EventCompared, TestID: "t-1"}

	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{"default prefix", "", "visual-regression.visual_test.compared.t-1"},
		{"custom prefix", "ci", "ci.visual_test.compared.t-1"},
		{"trims dots", " .ci. ", "ci.visual_test.compared.t-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Subject(tt.prefix, event); got != tt.want {
				t.Fatalf("Subject(%q) = %q, want %q", tt.prefix, got, tt.want)
			}
		})
	}
}
