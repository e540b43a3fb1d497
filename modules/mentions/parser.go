package mentions

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
)

// maxSignatures caps how many references one message may resolve.
const maxSignatures = 10

// minBareNumber is the smallest number accepted in a bare "#n" reference.
const minBareNumber = 10

// entityPattern needs a negative lookahead, which the standard library lacks.
var entityPattern = regexp2.MustCompile(
	`(?<site>\bhttps?://(?:www\.)?github\.com/)?`+
		`(?<owner>\b[a-z0-9\-]+/)?`+
		`(?<repo>\b[a-z0-9\-\._]+)?`+
		`(?<sep>/(?:issues|pull|discussions)/|#)`+
		`(?<number>[0-9]{1,6})(?!\.[0-9]|/?#)\b`,
	regexp2.IgnoreCase,
)

// Signature identifies one repository entity referenced in text.
type Signature struct {
	Owner  string
	Repo   string
	Number int
	// Discussion is set when the reference used a discussions path.
	Discussion bool
}

// String renders the signature as owner/repo#number.
func (s Signature) String() string {
	return s.Owner + "/" + s.Repo + "#" + strconv.Itoa(s.Number)
}

// cacheKey distinguishes discussion references from plain ones, since they
// resolve a missing issue differently.
func (s Signature) cacheKey() string {
	if s.Discussion {
		return s.String() + "/d"
	}

	return s.String()
}

// OwnerLookup resolves a bare repository name to its owner login.
type OwnerLookup interface {
	Resolve(ctx context.Context, repo string) (string, error)
}

type candidate struct {
	site       bool
	owner      string
	repo       string
	number     int
	discussion bool
}

type resolution int

const (
	// resolutionDiscard drops a candidate without counting it toward the cap.
	resolutionDiscard resolution = iota
	// resolutionSkip counts a candidate toward the cap without yielding it.
	resolutionSkip
	resolutionYield
)

// Parser turns message text into entity signatures.
type Parser struct {
	cfg    Config
	owners OwnerLookup
	logger *slog.Logger
}

// NewParser creates a parser resolving bare names through cfg and owners.
func NewParser(cfg Config, owners OwnerLookup, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}

	return &Parser{cfg: cfg, owners: owners, logger: logger}
}

// Scan is one lazy pass over a message text.
//
// Signatures can be ranged over once; later calls yield nothing.
type Scan struct {
	parser     *Parser
	ctx        context.Context
	text       string
	consumed   bool
	siteLinked bool
}

// Parse prepares a scan of text. No work happens until the scan is ranged over.
func (p *Parser) Parse(ctx context.Context, text string) *Scan {
	return &Scan{parser: p, ctx: ctx, text: text}
}

// SiteLinked reports whether a full GitHub link was seen so far.
func (s *Scan) SiteLinked() bool {
	return s.siteLinked
}

// Signatures yields resolved signatures left to right, at most maxSignatures.
func (s *Scan) Signatures() iter.Seq[Signature] {
	return func(yield func(Signature) bool) {
		if s.consumed {
			return
		}
		s.consumed = true

		counted := 0
		match, err := entityPattern.FindStringMatch(s.text)
		for ; match != nil && err == nil; match, err = entityPattern.FindNextMatch(match) {
			found, ok := candidateFromMatch(match)
			if !ok {
				continue
			}
			if found.site {
				s.siteLinked = true
			}

			signature, outcome := s.parser.resolve(s.ctx, found)
			if outcome == resolutionDiscard {
				continue
			}
			if outcome == resolutionYield && !yield(signature) {
				return
			}
			counted++
			if counted == maxSignatures {
				return
			}
		}
		if err != nil {
			s.parser.logger.WarnContext(s.ctx, "entity pattern match failed", "error", err)
		}
	}
}

// candidateFromMatch extracts groups, rejecting links with "#" and bare
// references with path separators.
func candidateFromMatch(match *regexp2.Match) (candidate, bool) {
	site := groupValue(match, "site")
	sep := groupValue(match, "sep")
	if (site != "") == (sep == "#") {
		return candidate{}, false
	}

	number, err := strconv.Atoi(groupValue(match, "number"))
	if err != nil {
		return candidate{}, false
	}

	return candidate{
		site:       site != "",
		owner:      groupValue(match, "owner"),
		repo:       groupValue(match, "repo"),
		number:     number,
		discussion: strings.EqualFold(sep, "/discussions/"),
	}, true
}

func groupValue(match *regexp2.Match, name string) string {
	group := match.GroupByName(name)
	if group == nil || len(group.Captures) == 0 {
		return ""
	}

	return group.String()
}

func (p *Parser) resolve(ctx context.Context, found candidate) (Signature, resolution) {
	signature := Signature{Number: found.number, Discussion: found.discussion}

	switch {
	case found.owner == "" && found.repo == "":
		if found.number < minBareNumber && !found.site {
			return Signature{}, resolutionDiscard
		}
		signature.Owner = p.cfg.Org
		signature.Repo = p.cfg.Repos[mainRepoKey]
	case found.owner == "":
		if strings.EqualFold(found.repo, "xkcd") {
			return Signature{}, resolutionDiscard
		}
		if repo, ok := p.cfg.lookupRepo(found.repo); ok {
			signature.Owner = p.cfg.Org
			signature.Repo = repo
			break
		}
		if p.owners == nil {
			return Signature{}, resolutionSkip
		}
		owner, err := p.owners.Resolve(ctx, found.repo)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				p.logger.DebugContext(ctx, "owner lookup failed", "repo", found.repo, "error", err)
			}
			return Signature{}, resolutionSkip
		}
		signature.Owner = owner
		signature.Repo = found.repo
	case found.repo == "":
		return Signature{}, resolutionDiscard
	default:
		signature.Owner = strings.TrimSuffix(found.owner, "/")
		signature.Repo = found.repo
	}

	signature.Owner = strings.ToLower(signature.Owner)
	signature.Repo = strings.ToLower(signature.Repo)

	return signature, resolutionYield
}
