package xkcd

import (
	"regexp"
	"slices"
	"strconv"

	"ex-hermes/pkg/hermes"
)

const (
	maxComics    = 10
	omissionNote = "Some XKCD comics were omitted."
	blockSep     = "\n\n"
	dateLayout   = "January 2, 2006"
)

var comicPattern = regexp.MustCompile(`(?i)\bxkcd#([0-9]+)`)

// comicNumbers returns the distinct referenced comic numbers in order.
//
// Past maxComics references only the first maxComics-1 are kept and the second
// result reports that some were dropped.
func comicNumbers(text string) ([]int, bool) {
	var numbers []int
	for _, match := range comicPattern.FindAllStringSubmatch(text, -1) {
		number, err := strconv.Atoi(match[1])
		if err != nil || slices.Contains(numbers, number) {
			continue
		}
		numbers = append(numbers, number)
	}
	if len(numbers) > maxComics {
		return numbers[:maxComics-1], true
	}

	return numbers, false
}

// formatComic renders one comic block:
//
//	<title>
//	<alt> • <date>
//	Image
func formatComic(comic Comic) *hermes.TextBuilder {
	block := &hermes.TextBuilder{}
	if !comic.Available() {
		block.WriteEntity(hermes.TextEntityTypeItalic, comic.Note, "")
		return block
	}

	block.Wrap(hermes.TextEntity{Type: hermes.TextEntityTypeBold}, func() {
		block.WriteEntity(hermes.TextEntityTypeTextURL, comic.Title, comic.URL)
	})
	footer := comic.Alt
	if !comic.Published.IsZero() {
		if footer != "" {
			footer += " • "
		}
		footer += comic.Published.Format(dateLayout)
	}
	if footer != "" {
		block.WriteString("\n")
		block.WriteEntity(hermes.TextEntityTypeItalic, footer, "")
	}
	if comic.ImageURL != "" {
		block.WriteString("\n")
		block.WriteEntity(hermes.TextEntityTypeTextURL, "Image", comic.ImageURL)
	}

	return block
}

func renderComics(comics []Comic, omitted bool) *hermes.TextBuilder {
	rendered := &hermes.TextBuilder{}
	for index, comic := range comics {
		if index > 0 {
			rendered.WriteString(blockSep)
		}
		rendered.Append(formatComic(comic))
	}
	if omitted {
		if rendered.Len() > 0 {
			rendered.WriteString(blockSep)
		}
		rendered.WriteEntity(hermes.TextEntityTypeItalic, omissionNote, "")
	}

	return rendered
}
