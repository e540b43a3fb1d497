package hermes

import "slices"

// Capability describes what a module can process and what resources it requires.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
}

// InterestSet describes event selection criteria for capability negotiation.
type InterestSet struct {
	Kinds           []EventKind
	Sources         []EventSource
	RequireMessage  bool
	RequireMutation bool
	RequireReaction bool
}

// Matches reports whether an event satisfies the declared interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Kinds) > 0 && !slices.Contains(i.Kinds, event.Kind) {
		return false
	}
	if len(i.Sources) > 0 && !sourceMatches(i.Sources, event.Source) {
		return false
	}
	if i.RequireMessage && event.Message == nil {
		return false
	}
	if i.RequireMutation && event.Mutation == nil {
		return false
	}
	if i.RequireReaction && event.Reaction == nil {
		return false
	}

	return true
}

// Allows reports whether this interest set can safely satisfy another filter.
func (i InterestSet) Allows(filter InterestSet) bool {
	if len(i.Kinds) > 0 {
		if len(filter.Kinds) == 0 {
			return false
		}
		for _, kind := range filter.Kinds {
			if !slices.Contains(i.Kinds, kind) {
				return false
			}
		}
	}
	if i.RequireMessage && !filter.RequireMessage {
		return false
	}
	if i.RequireMutation && !filter.RequireMutation {
		return false
	}
	if i.RequireReaction && !filter.RequireReaction {
		return false
	}

	return true
}

// sourceMatches treats empty fields of a declared source as wildcards.
func sourceMatches(sources []EventSource, actual EventSource) bool {
	for _, source := range sources {
		if source.Platform != "" && source.Platform != actual.Platform {
			continue
		}
		if source.ID != "" && source.ID != actual.ID {
			continue
		}

		return true
	}

	return false
}
