package mentions

import (
	"strings"
	"testing"

	"ex-hermes/pkg/hermes"
)

func TestStripCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		text        string
		entities    []hermes.TextEntity
		wantKept    []string
		wantRemoved []string
	}{
		{
			name:        "code span",
			text:        "see `#42` and #43",
			wantKept:    []string{"#43"},
			wantRemoved: []string{"#42"},
		},
		{
			name:        "fenced block",
			text:        "before #10\n```\nfoo#11\n```\nafter #12",
			wantKept:    []string{"#10", "#12"},
			wantRemoved: []string{"foo#11"},
		},
		{
			name:        "indented block",
			text:        "intro #20\n\n    bar#21\n\noutro",
			wantKept:    []string{"#20"},
			wantRemoved: []string{"bar#21"},
		},
		{
			name: "platform code entity",
			text: "héllo #30 and #31",
			entities: []hermes.TextEntity{
				{Type: hermes.TextEntityTypeCode, Offset: 6, Length: 3},
				{Type: hermes.TextEntityTypeBold, Offset: 14, Length: 3},
			},
			wantKept:    []string{"héllo", "#31"},
			wantRemoved: []string{"#30"},
		},
		{
			name:     "out of range entity is ignored",
			text:     "#40",
			entities: []hermes.TextEntity{{Type: hermes.TextEntityTypePre, Offset: 2, Length: 9}},
			wantKept: []string{"#40"},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := stripCode(testCase.text, testCase.entities)
			if len(got) != len(testCase.text) {
				t.Fatalf("len(stripped) = %d, want %d", len(got), len(testCase.text))
			}
			if strings.Count(got, "\n") != strings.Count(testCase.text, "\n") {
				t.Fatalf("stripped %q changed line count of %q", got, testCase.text)
			}
			for _, kept := range testCase.wantKept {
				if !strings.Contains(got, kept) {
					t.Fatalf("stripped %q lost %q", got, kept)
				}
			}
			for _, removed := range testCase.wantRemoved {
				if strings.Contains(got, removed) {
					t.Fatalf("stripped %q still contains %q", got, removed)
				}
			}
		})
	}
}
