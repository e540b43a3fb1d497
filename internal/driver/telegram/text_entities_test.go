package telegram

import (
	"errors"
	"testing"

	"ex-hermes/pkg/hermes"

	"github.com/gotd/td/tg"
)

func TestMapInboundTextEntitiesConvertsUTF16Offsets(t *testing.T) {
	t.Parallel()

	// "😀" is two UTF-16 code units and one rune.
	text := "😀 bold link"
	entities := []tg.MessageEntityClass{
		&tg.MessageEntityBold{Offset: 3, Length: 4},
		&tg.MessageEntityTextURL{Offset: 8, Length: 4, URL: "https://example.com"},
		&tg.MessageEntityBotCommand{Offset: 0, Length: 2},
		&tg.MessageEntityCode{Offset: 10, Length: 40},
	}

	got := mapInboundTextEntities(text, entities)
	want := []hermes.TextEntity{
		{Type: hermes.TextEntityTypeBold, Offset: 2, Length: 4},
		{Type: hermes.TextEntityTypeTextURL, Offset: 7, Length: 4, URL: "https://example.com"},
	}
	if len(got) != len(want) {
		t.Fatalf("entities = %+v, want %+v", got, want)
	}
	for index := range want {
		if got[index] != want[index] {
			t.Fatalf("entity[%d] = %+v, want %+v", index, got[index], want[index])
		}
	}
	if err := hermes.ValidateTextEntities(text, got); err != nil {
		t.Fatalf("mapped entities invalid: %v", err)
	}
}

func TestMapInboundTextEntitiesPre(t *testing.T) {
	t.Parallel()

	got := mapInboundTextEntities("fmt.Println()", []tg.MessageEntityClass{
		&tg.MessageEntityPre{Offset: 0, Length: 13, Language: "go"},
	})
	if len(got) != 1 || got[0].Type != hermes.TextEntityTypePre || got[0].Language != "go" {
		t.Fatalf("entities = %+v, want one go pre block", got)
	}
	if mapInboundTextEntities("x", nil) != nil {
		t.Fatal("nil entities should map to nil")
	}
}

func TestMapOutboundTextEntities(t *testing.T) {
	t.Parallel()

	text := "😀 Issue #12"
	got, err := mapOutboundTextEntities(text, []hermes.TextEntity{
		{Type: hermes.TextEntityTypeBold, Offset: 2, Length: 9},
		{Type: hermes.TextEntityTypeTextURL, Offset: 8, Length: 3, URL: "https://github.com/o/r/issues/12"},
	})
	if err != nil {
		t.Fatalf("mapOutboundTextEntities failed: %v", err)
	}
	bold, ok := got[0].(*tg.MessageEntityBold)
	if !ok || bold.Offset != 3 || bold.Length != 9 {
		t.Fatalf("bold = %#v, want offset 3 length 9", got[0])
	}
	link, ok := got[1].(*tg.MessageEntityTextURL)
	if !ok || link.Offset != 9 || link.Length != 3 || link.URL == "" {
		t.Fatalf("link = %#v, want offset 9 length 3", got[1])
	}

	roundTrip := mapInboundTextEntities(text, got)
	if len(roundTrip) != 2 || roundTrip[0].Offset != 2 || roundTrip[1].Offset != 8 {
		t.Fatalf("round trip = %+v, want original rune offsets", roundTrip)
	}
}

func TestMapOutboundTextEntitiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entity  hermes.TextEntity
		wantErr error
	}{
		{
			name:    "range past text",
			entity:  hermes.TextEntity{Type: hermes.TextEntityTypeBold, Offset: 1, Length: 10},
			wantErr: hermes.ErrInvalidOutboundRequest,
		},
		{
			name:    "unknown type",
			entity:  hermes.TextEntity{Type: hermes.TextEntityType("marquee"), Offset: 0, Length: 1},
			wantErr: hermes.ErrOutboundUnsupported,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := mapOutboundTextEntities("abc", []hermes.TextEntity{testCase.entity})
			if !errors.Is(err, testCase.wantErr) {
				t.Fatalf("error = %v, want %v", err, testCase.wantErr)
			}
		})
	}
}
