package mentions

import (
	"fmt"
	"strconv"
	"strings"

	"ex-hermes/pkg/hermes"
)

const (
	omissionNote  = "Some mentions were omitted"
	blockSep      = "\n\n"
	maxLabelsShow = 3
	dateLayout    = "January 2, 2006"
)

// stateMarker prefixes a headline with a glyph for the entity state.
func stateMarker(entity Entity) string {
	switch entity.Kind {
	case EntityKindPullRequest:
		switch {
		case entity.Draft:
			return "📝"
		case entity.Merged:
			return "🟣"
		case entity.Closed:
			return "🔴"
		default:
			return "🟢"
		}
	case EntityKindIssue:
		switch {
		case !entity.Closed:
			return "🟢"
		case entity.StateReason == "completed":
			return "🟣"
		default:
			return "⚪"
		}
	default:
		return "💬"
	}
}

// formatEntity renders one entity block:
//
//	<marker> <Kind> #<n>: <title>
//	by <author> in <owner>/<repo> on <date>
//	<detail>
func formatEntity(entity Entity) *hermes.TextBuilder {
	block := &hermes.TextBuilder{}
	block.WriteString(stateMarker(entity) + " ")
	block.Wrap(hermes.TextEntity{Type: hermes.TextEntityTypeBold}, func() {
		block.WriteString(string(entity.Kind) + " ")
		block.WriteEntity(hermes.TextEntityTypeTextURL, "#"+strconv.Itoa(entity.Number), entity.URL)
		if !entity.LinkOnly() {
			block.WriteString(":")
		}
	})
	if !entity.LinkOnly() {
		block.WriteString(" " + entity.Title)
	}

	block.WriteString("\n")
	block.Wrap(hermes.TextEntity{Type: hermes.TextEntityTypeItalic}, func() {
		if entity.Author != "" {
			block.WriteString("by ")
			block.WriteEntity(hermes.TextEntityTypeTextURL, entity.Author, entity.AuthorURL)
			block.WriteString(" ")
		}
		block.WriteString("in ")
		block.WriteEntity(hermes.TextEntityTypeTextURL, entity.Owner+"/"+entity.Repo, repoURL(entity))
		if !entity.CreatedAt.IsZero() {
			block.WriteString(" on " + entity.CreatedAt.UTC().Format(dateLayout))
		}
	})

	if detail := entityDetail(entity); detail != "" {
		block.WriteString("\n" + detail)
	}

	return block
}

func entityDetail(entity Entity) string {
	var details []string
	if labels := formatLabels(entity.Labels); labels != "" {
		details = append(details, "Labels: "+labels)
	}
	if entity.Kind == EntityKindPullRequest && entity.ChangedFiles > 0 {
		details = append(details, formatDiffNote(entity.Additions, entity.Deletions, entity.ChangedFiles))
	}

	return strings.Join(details, "\n")
}

func formatLabels(labels []string) string {
	if len(labels) <= maxLabelsShow {
		return strings.Join(labels, ", ")
	}

	return fmt.Sprintf("%s, and %d more", strings.Join(labels[:maxLabelsShow], ", "), len(labels)-maxLabelsShow)
}

func formatDiffNote(additions, deletions, files int) string {
	noun := "files"
	if files == 1 {
		noun = "file"
	}

	return fmt.Sprintf("+%d -%d, %d %s changed", additions, deletions, files, noun)
}

// repoURL derives the repository page from an entity URL ending in
// /<kind>/<number>, falling back to github.com.
func repoURL(entity Entity) string {
	trimmed := entity.URL
	for range 2 {
		index := strings.LastIndex(trimmed, "/")
		if index <= 0 {
			return "https://github.com/" + entity.Owner + "/" + entity.Repo
		}
		trimmed = trimmed[:index]
	}

	return trimmed
}

// renderEntities joins entity blocks, dropping trailing ones and appending an
// omission note when the result would exceed maxLength code points.
//
// The second result lists the rendered entities in order.
func renderEntities(entities []Entity, maxLength int) (*hermes.TextBuilder, []Entity) {
	blocks := make([]*hermes.TextBuilder, 0, len(entities))
	kept := make([]Entity, 0, len(entities))
	seen := make(map[string]struct{}, len(entities))
	for _, entity := range entities {
		block := formatEntity(entity)
		if _, duplicate := seen[block.String()]; duplicate {
			continue
		}
		seen[block.String()] = struct{}{}
		blocks = append(blocks, block)
		kept = append(kept, entity)
	}

	total := joinedLength(blocks)
	omitted := false
	if total > maxLength {
		omitted = true
		budget := maxLength - len(blockSep) - len(omissionNote)
		for len(blocks) > 0 && joinedLength(blocks) > budget {
			blocks = blocks[:len(blocks)-1]
		}
	}

	rendered := &hermes.TextBuilder{}
	for index, block := range blocks {
		if index > 0 {
			rendered.WriteString(blockSep)
		}
		rendered.Append(block)
	}
	if omitted {
		if rendered.Len() > 0 {
			rendered.WriteString(blockSep)
		}
		rendered.WriteEntity(hermes.TextEntityTypeItalic, omissionNote, "")
	}

	return rendered, kept[:len(blocks)]
}

func joinedLength(blocks []*hermes.TextBuilder) int {
	if len(blocks) == 0 {
		return 0
	}
	total := len(blockSep) * (len(blocks) - 1)
	for _, block := range blocks {
		total += block.Len()
	}

	return total
}
