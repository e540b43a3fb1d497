package hermes

import (
	"reflect"
	"testing"
)

func TestTextBuilder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		build        func(*TextBuilder)
		wantText     string
		wantEntities []TextEntity
	}{
		{
			name:     "plain",
			build:    func(b *TextBuilder) { b.WriteString("hello") },
			wantText: "hello",
		},
		{
			name: "entity offsets count code points",
			build: func(b *TextBuilder) {
				b.WriteString("🟢 ")
				b.WriteEntity(TextEntityTypeBold, "Issue #1", "")
			},
			wantText:     "🟢 Issue #1",
			wantEntities: []TextEntity{{Type: TextEntityTypeBold, Offset: 2, Length: 8}},
		},
		{
			name: "nested wrap keeps opening order",
			build: func(b *TextBuilder) {
				b.Wrap(TextEntity{Type: TextEntityTypeItalic}, func() {
					b.WriteString("by ")
					b.WriteEntity(TextEntityTypeTextURL, "alice", "https://example.com/alice")
				})
			},
			wantText: "by alice",
			wantEntities: []TextEntity{
				{Type: TextEntityTypeItalic, Offset: 0, Length: 8},
				{Type: TextEntityTypeTextURL, Offset: 3, Length: 5, URL: "https://example.com/alice"},
			},
		},
		{
			name: "empty entity dropped",
			build: func(b *TextBuilder) {
				b.WriteEntity(TextEntityTypeBold, "", "")
				b.WriteString("x")
			},
			wantText: "x",
		},
		{
			name: "append shifts entities",
			build: func(b *TextBuilder) {
				b.WriteString("ab\n")
				var other TextBuilder
				other.WriteEntity(TextEntityTypeCode, "cd", "")
				b.Append(&other)
				b.Append(nil)
			},
			wantText:     "ab\ncd",
			wantEntities: []TextEntity{{Type: TextEntityTypeCode, Offset: 3, Length: 2}},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var builder TextBuilder
			testCase.build(&builder)

			if got := builder.String(); got != testCase.wantText {
				t.Fatalf("String() = %q, want %q", got, testCase.wantText)
			}
			got := builder.Entities()
			if len(got) == 0 && len(testCase.wantEntities) == 0 {
				return
			}
			if !reflect.DeepEqual(got, testCase.wantEntities) {
				t.Fatalf("Entities() = %+v, want %+v", got, testCase.wantEntities)
			}
			if err := ValidateTextEntities(builder.String(), got); err != nil {
				t.Fatalf("ValidateTextEntities() error = %v", err)
			}
		})
	}
}

func TestTextBuilderEntitiesReturnsCopy(t *testing.T) {
	t.Parallel()

	var builder TextBuilder
	builder.WriteEntity(TextEntityTypeBold, "bold", "")

	entities := builder.Entities()
	entities[0].Length = 99
	if got := builder.Entities()[0].Length; got != 4 {
		t.Fatalf("Length = %d, want 4", got)
	}
}
