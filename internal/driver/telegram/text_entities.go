package telegram

import (
	"fmt"
	"unicode/utf16"

	"ex-hermes/pkg/hermes"

	"github.com/gotd/td/tg"
)

// Telegram measures entities in UTF-16 code units; hermes uses code points.

// mapInboundTextEntities converts Telegram entities, dropping kinds hermes
// has no name for and ranges that do not fit text.
func mapInboundTextEntities(text string, entities []tg.MessageEntityClass) []hermes.TextEntity {
	if len(entities) == 0 {
		return nil
	}

	runeIndex := utf16ToRuneIndex(text)
	out := make([]hermes.TextEntity, 0, len(entities))
	for _, entity := range entities {
		start, end := entity.GetOffset(), entity.GetOffset()+entity.GetLength()
		if start < 0 || end > len(runeIndex)-1 || end <= start {
			continue
		}
		mapped := hermes.TextEntity{
			Offset: runeIndex[start],
			Length: runeIndex[end] - runeIndex[start],
		}

		switch typed := entity.(type) {
		case *tg.MessageEntityBold:
			mapped.Type = hermes.TextEntityTypeBold
		case *tg.MessageEntityItalic:
			mapped.Type = hermes.TextEntityTypeItalic
		case *tg.MessageEntityUnderline:
			mapped.Type = hermes.TextEntityTypeUnderline
		case *tg.MessageEntityStrike:
			mapped.Type = hermes.TextEntityTypeStrike
		case *tg.MessageEntityCode:
			mapped.Type = hermes.TextEntityTypeCode
		case *tg.MessageEntityPre:
			mapped.Type = hermes.TextEntityTypePre
			mapped.Language = typed.Language
		case *tg.MessageEntityTextURL:
			mapped.Type = hermes.TextEntityTypeTextURL
			mapped.URL = typed.URL
		case *tg.MessageEntityURL:
			mapped.Type = hermes.TextEntityTypeURL
		case *tg.MessageEntityMention:
			mapped.Type = hermes.TextEntityTypeMention
		case *tg.MessageEntityHashtag:
			mapped.Type = hermes.TextEntityTypeHashtag
		case *tg.MessageEntitySpoiler:
			mapped.Type = hermes.TextEntityTypeSpoiler
		case *tg.MessageEntityBlockquote:
			mapped.Type = hermes.TextEntityTypeBlockquote
		default:
			continue
		}
		if mapped.Length > 0 {
			out = append(out, mapped)
		}
	}
	if len(out) == 0 {
		return nil
	}

	return out
}

// mapOutboundTextEntities converts hermes entities into Telegram entities.
func mapOutboundTextEntities(text string, entities []hermes.TextEntity) ([]tg.MessageEntityClass, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	offsets := runeToUTF16Offsets(text)
	out := make([]tg.MessageEntityClass, 0, len(entities))
	for index, entity := range entities {
		start, end := entity.Offset, entity.Offset+entity.Length
		if start < 0 || end <= start || end >= len(offsets) {
			return nil, fmt.Errorf("%w: entity[%d] range [%d,%d) outside text of %d runes",
				hermes.ErrInvalidOutboundRequest, index, start, end, len(offsets)-1)
		}
		offset, length := offsets[start], offsets[end]-offsets[start]

		var converted tg.MessageEntityClass
		switch entity.Type {
		case hermes.TextEntityTypeBold:
			converted = &tg.MessageEntityBold{Offset: offset, Length: length}
		case hermes.TextEntityTypeItalic:
			converted = &tg.MessageEntityItalic{Offset: offset, Length: length}
		case hermes.TextEntityTypeUnderline:
			converted = &tg.MessageEntityUnderline{Offset: offset, Length: length}
		case hermes.TextEntityTypeStrike:
			converted = &tg.MessageEntityStrike{Offset: offset, Length: length}
		case hermes.TextEntityTypeCode:
			converted = &tg.MessageEntityCode{Offset: offset, Length: length}
		case hermes.TextEntityTypePre:
			converted = &tg.MessageEntityPre{Offset: offset, Length: length, Language: entity.Language}
		case hermes.TextEntityTypeTextURL:
			converted = &tg.MessageEntityTextURL{Offset: offset, Length: length, URL: entity.URL}
		case hermes.TextEntityTypeURL:
			converted = &tg.MessageEntityURL{Offset: offset, Length: length}
		case hermes.TextEntityTypeMention:
			converted = &tg.MessageEntityMention{Offset: offset, Length: length}
		case hermes.TextEntityTypeHashtag:
			converted = &tg.MessageEntityHashtag{Offset: offset, Length: length}
		case hermes.TextEntityTypeSpoiler:
			converted = &tg.MessageEntitySpoiler{Offset: offset, Length: length}
		case hermes.TextEntityTypeBlockquote:
			converted = &tg.MessageEntityBlockquote{Offset: offset, Length: length}
		default:
			return nil, fmt.Errorf("%w: entity[%d] type %q", hermes.ErrOutboundUnsupported, index, entity.Type)
		}
		out = append(out, converted)
	}

	return out, nil
}

// runeToUTF16Offsets maps every rune boundary to its UTF-16 offset.
func runeToUTF16Offsets(text string) []int {
	offsets := make([]int, 1, len(text)+1)
	current := 0
	for _, value := range text {
		current += utf16.RuneLen(value)
		offsets = append(offsets, current)
	}

	return offsets
}

// utf16ToRuneIndex maps every UTF-16 offset to the rune index it falls in.
// Offsets inside a surrogate pair resolve to the pair's rune.
func utf16ToRuneIndex(text string) []int {
	index := make([]int, 0, len(text)+1)
	runes := 0
	for _, value := range text {
		for range utf16.RuneLen(value) {
			index = append(index, runes)
		}
		runes++
	}

	return append(index, runes)
}
