package planner

import (
	"log/slog"
	"regexp"
	"strings"

	"palicanon/internal/adapter/analyzer"
	"palicanon/internal/domain"
	"palicanon/internal/port"
)

// Planner turns a free-text question into a QueryPlan: canonical targets from
// explicit citations and aliases, basket and nikaya hints, and search terms.
type Planner struct {
	aliases    *AliasTable
	aliasLimit int
	logger     *slog.Logger
}

var _ port.Planner = (*Planner)(nil)

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		p.logger = logger
	}
}

// WithAliasLimit caps the number of alias-derived targets.
func WithAliasLimit(n int) Option {
	return func(p *Planner) {
		p.aliasLimit = n
	}
}

// New creates a planner. aliases may be nil.
func New(aliases *AliasTable, opts ...Option) *Planner {
	p := &Planner{
		aliases:    aliases,
		aliasLimit: 3,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var (
	vinayaHint     = regexp.MustCompile(`\b(vinaya|patimokkha|suttavibhanga|khandhaka)\b`)
	abhidhammaHint = regexp.MustCompile(`\babhidhamm`)
	suttaHint      = regexp.MustCompile(`\b(suttas?|nikaya|khp|dhp|thag|thig|snp)\b`)

	nikayaNames = []struct {
		re     *regexp.Regexp
		nikaya domain.Nikaya
	}{
		{regexp.MustCompile(`\b(digha|long discourses)\b`), domain.NikayaDN},
		{regexp.MustCompile(`\b(majjhima|middle length)\b`), domain.NikayaMN},
		{regexp.MustCompile(`\b(samyutta|connected discourses)\b`), domain.NikayaSN},
		{regexp.MustCompile(`\b(anguttara|numerical discourses)\b`), domain.NikayaAN},
		{regexp.MustCompile(`\bkhuddaka\b`), domain.NikayaKN},
	}

	khuddakaRefs = map[string]bool{"Dhp": true, "Ud": true, "It": true, "Snp": true, "Thag": true, "Thig": true}
)

func (p *Planner) Plan(query string) domain.QueryPlan {
	query = strings.TrimSpace(query)

	targets := analyzer.ExtractCitations(query)
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		seen[t] = struct{}{}
	}
	for _, t := range p.aliases.Match(query, p.aliasLimit) {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			targets = append(targets, t)
		}
	}

	plan := domain.QueryPlan{
		Query:            query,
		CanonicalTargets: targets,
		Constraints:      hints(query, targets),
	}
	if query != "" {
		plan.SearchTerms = []string{query}
	}
	for _, t := range targets {
		if t != query {
			plan.SearchTerms = append(plan.SearchTerms, t)
		}
	}

	p.logger.Debug("planned query",
		"targets", targets,
		"basket", plan.Constraints.Basket,
		"nikaya", plan.Constraints.Nikaya)
	return plan
}

// hints derives basket and nikaya constraints. A named nikaya in the question
// wins over the nikaya of the first canonical target. Any nikaya implies the
// sutta basket.
func hints(query string, targets []string) domain.Constraints {
	q := strings.ToLower(analyzer.Fold(query))
	var c domain.Constraints

	switch {
	case vinayaHint.MatchString(q):
		c.Basket = domain.BasketVinaya
	case abhidhammaHint.MatchString(q):
		c.Basket = domain.BasketAbhidhamma
	case suttaHint.MatchString(q):
		c.Basket = domain.BasketSutta
	}
	if c.Basket != domain.BasketNone && c.Basket != domain.BasketSutta {
		return c
	}

	for _, n := range nikayaNames {
		if n.re.MatchString(q) {
			c.Nikaya = n.nikaya
			break
		}
	}
	if c.Nikaya == domain.NikayaNone && len(targets) > 0 {
		c.Nikaya = nikayaOfRef(targets[0])
	}
	if c.Nikaya != domain.NikayaNone {
		c.Basket = domain.BasketSutta
	}
	return c
}

func nikayaOfRef(ref string) domain.Nikaya {
	prefix, _, _ := strings.Cut(ref, " ")
	if khuddakaRefs[prefix] {
		return domain.NikayaKN
	}
	n, err := domain.ParseNikaya(prefix)
	if err != nil {
		return domain.NikayaNone
	}
	return n
}
