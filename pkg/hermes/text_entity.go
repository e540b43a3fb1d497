package hermes

import (
	"fmt"
	"unicode/utf8"
)

// TextEntityType identifies one rich-text formatting class.
type TextEntityType string

const (
	// TextEntityTypeBold renders the range in bold.
	TextEntityTypeBold TextEntityType = "bold"
	// TextEntityTypeItalic renders the range in italics.
	TextEntityTypeItalic TextEntityType = "italic"
	// TextEntityTypeUnderline underlines the range.
	TextEntityTypeUnderline TextEntityType = "underline"
	// TextEntityTypeStrike strikes through the range.
	TextEntityTypeStrike TextEntityType = "strike"
	// TextEntityTypeCode renders the range as inline code.
	TextEntityTypeCode TextEntityType = "code"
	// TextEntityTypePre renders the range as a preformatted block.
	TextEntityTypePre TextEntityType = "pre"
	// TextEntityTypeTextURL links the range to URL.
	TextEntityTypeTextURL TextEntityType = "text_url"
	// TextEntityTypeURL marks a literal URL.
	TextEntityTypeURL TextEntityType = "url"
	// TextEntityTypeMention marks an @username mention.
	TextEntityTypeMention TextEntityType = "mention"
	// TextEntityTypeHashtag marks a #hashtag.
	TextEntityTypeHashtag TextEntityType = "hashtag"
	// TextEntityTypeSpoiler hides the range behind a spoiler.
	TextEntityTypeSpoiler TextEntityType = "spoiler"
	// TextEntityTypeBlockquote renders the range as a quotation.
	TextEntityTypeBlockquote TextEntityType = "blockquote"
)

// TextEntity marks a rich text fragment.
//
// Offset and Length count Unicode code points of the decorated text.
type TextEntity struct {
	// Type identifies the entity class.
	Type TextEntityType
	// Offset is the zero-based code point offset in the message text.
	Offset int
	// Length is the code point span of the entity.
	Length int
	// URL is the link target for text_url entities.
	URL string
	// Language is the optional syntax hint for pre entities.
	Language string
}

// ValidateTextEntities checks entity ranges and required attributes against text.
func ValidateTextEntities(text string, entities []TextEntity) error {
	if len(entities) == 0 {
		return nil
	}

	runeCount := utf8.RuneCountInString(text)
	for index, entity := range entities {
		if entity.Type == "" {
			return fmt.Errorf("entity[%d]: missing type", index)
		}
		if entity.Offset < 0 || entity.Length <= 0 || entity.Offset+entity.Length > runeCount {
			return fmt.Errorf(
				"entity[%d] %s: invalid range [%d,%d) for text runes %d",
				index,
				entity.Type,
				entity.Offset,
				entity.Offset+entity.Length,
				runeCount,
			)
		}
		if entity.Type == TextEntityTypeTextURL && entity.URL == "" {
			return fmt.Errorf("entity[%d] %s: missing url", index, entity.Type)
		}
	}

	return nil
}

func cloneTextEntities(entities []TextEntity) []TextEntity {
	if len(entities) == 0 {
		return nil
	}

	return append([]TextEntity(nil), entities...)
}
