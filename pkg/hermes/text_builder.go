package hermes

import (
	"strings"
	"unicode/utf8"
)

// TextBuilder assembles text together with entities measured in code points.
//
// The zero value is ready to use.
type TextBuilder struct {
	text     strings.Builder
	runes    int
	entities []TextEntity
}

// WriteString appends plain text.
func (b *TextBuilder) WriteString(value string) {
	b.text.WriteString(value)
	b.runes += utf8.RuneCountInString(value)
}

// WriteEntity appends value decorated as entityType.
//
// url is used only by text_url entities. Empty values add nothing.
func (b *TextBuilder) WriteEntity(entityType TextEntityType, value string, url string) {
	b.Wrap(TextEntity{Type: entityType, URL: url}, func() {
		b.WriteString(value)
	})
}

// Wrap decorates everything write appends with entity.
//
// Offset and Length of entity are computed; nested calls produce nested entities.
func (b *TextBuilder) Wrap(entity TextEntity, write func()) {
	start := b.runes
	index := len(b.entities)
	b.entities = append(b.entities, TextEntity{})
	write()

	entity.Offset = start
	entity.Length = b.runes - start
	if entity.Length == 0 {
		b.entities = append(b.entities[:index], b.entities[index+1:]...)
		return
	}
	b.entities[index] = entity
}

// Append copies other onto the end of b, shifting its entities.
func (b *TextBuilder) Append(other *TextBuilder) {
	if other == nil {
		return
	}
	shift := b.runes
	for _, entity := range other.entities {
		entity.Offset += shift
		b.entities = append(b.entities, entity)
	}
	b.WriteString(other.String())
}

// Len returns the built text length in code points.
func (b *TextBuilder) Len() int {
	return b.runes
}

// String returns the built text.
func (b *TextBuilder) String() string {
	return b.text.String()
}

// Entities returns a copy of the built entities in opening order.
func (b *TextBuilder) Entities() []TextEntity {
	return cloneTextEntities(b.entities)
}
