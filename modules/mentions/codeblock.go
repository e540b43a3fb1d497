package mentions

import (
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"ex-hermes/pkg/hermes"
)

// stripCode blanks code so references inside it are not resolved.
//
// Code comes either as platform code entities or as markdown that the
// platform left in the text. Blanked bytes become spaces and line breaks are
// kept, so surrounding word boundaries do not change.
func stripCode(body string, entities []hermes.TextEntity) string {
	source := []byte(body)
	maskEntities(source, body, entities)

	document := goldmark.DefaultParser().Parse(text.NewReader(source))
	_ = ast.Walk(document, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch typed := node.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := typed.Lines()
			for index := range lines.Len() {
				segment := lines.At(index)
				maskRange(source, segment.Start, segment.Stop)
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeSpan:
			for child := typed.FirstChild(); child != nil; child = child.NextSibling() {
				if leaf, ok := child.(*ast.Text); ok {
					maskRange(source, leaf.Segment.Start, leaf.Segment.Stop)
				}
			}
			return ast.WalkSkipChildren, nil
		}

		return ast.WalkContinue, nil
	})

	return string(source)
}

// maskEntities blanks code and pre entity ranges, which count code points.
func maskEntities(source []byte, body string, entities []hermes.TextEntity) {
	if len(entities) == 0 {
		return
	}

	runeStarts := make([]int, 0, len(body)+1)
	for offset := range body {
		runeStarts = append(runeStarts, offset)
	}
	runeStarts = append(runeStarts, len(body))

	for _, entity := range entities {
		if entity.Type != hermes.TextEntityTypeCode && entity.Type != hermes.TextEntityTypePre {
			continue
		}
		end := entity.Offset + entity.Length
		if entity.Offset < 0 || entity.Length <= 0 || end >= len(runeStarts) {
			continue
		}
		maskRange(source, runeStarts[entity.Offset], runeStarts[end])
	}
}

func maskRange(source []byte, start, stop int) {
	start = max(start, 0)
	stop = min(stop, len(source))
	for index := start; index < stop; index++ {
		if source[index] != '\n' {
			source[index] = ' '
		}
	}
}
