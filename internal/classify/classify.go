// Package classify implements the lexical Classifier (spec §4.F): turns
// a raw prompt into a Signal of matched projects, people, paths,
// keywords, and intent. Strictly lexical — no model call, no
// suspension — and bound to a <500ms budget for corpora up to 10^4
// known entities.
package classify

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/nathanasimon/memoryd/internal/store"
)

// entityTTL is how long the compiled project/person pattern list is
// reused before a fresh prefetch, per §4.F.
const entityTTL = 60 * time.Second

// Intent is a coarse classification of the prompt's leading tokens.
type Intent string

const (
	IntentQuestion     Intent = "question"
	IntentCommand      Intent = "command"
	IntentContinuation Intent = "continuation"
	IntentUnknown      Intent = "unknown"
)

// Match pairs a matched entity's id with a confidence in [0,1].
type Match struct {
	ID         string
	Name       string
	Confidence float64
}

// Signal is the Classifier's output, consumed by the Retriever.
type Signal struct {
	Projects     []Match
	People       []Match
	Paths        []string
	Keywords     []string
	HasCodeFence bool
	Intent       Intent
}

type compiledEntity struct {
	id      string
	name    string
	pattern *regexp.Regexp
}

type compiled struct {
	projects []compiledEntity
	people   []compiledEntity
}

// projectLexemeSource and personLexemeSource narrow internal/store's
// ProjectStore/PersonStore down to the one prefetch method the
// Classifier needs.
type projectLexemeSource interface {
	AllForClassifier(ctx context.Context) ([]store.ProjectLexeme, error)
}

type personLexemeSource interface {
	AllForClassifier(ctx context.Context) ([]store.PersonLexeme, error)
}

// Classifier holds the process-wide compiled-pattern cache. One
// instance is shared across hot-path requests.
type Classifier struct {
	projects projectLexemeSource
	people   personLexemeSource
	cache    *ttlBox[compiled]
}

func New(projects projectLexemeSource, people personLexemeSource) *Classifier {
	return &Classifier{
		projects: projects,
		people:   people,
		cache:    newTTLBox[compiled](entityTTL),
	}
}

var (
	pathPattern = regexp.MustCompile(`(?:^|[\s"'` + "`" + `(])((?:~|\.{1,2})?/(?:[\w.\-]+/)*[\w.\-]+\.[A-Za-z0-9]{1,8}|(?:[\w.\-]+/)+[\w.\-]+\.[A-Za-z0-9]{1,8})`)
	tokenPattern = regexp.MustCompile(`[A-Za-z0-9_\-]+`)
	codeFencePattern = regexp.MustCompile("```")

	imperativeVerbs = map[string]bool{
		"fix": true, "add": true, "create": true, "implement": true,
		"refactor": true, "write": true, "remove": true, "update": true,
		"debug": true, "run": true, "build": true, "delete": true,
		"rename": true, "move": true, "install": true, "revert": true,
	}
	continuationWords = map[string]bool{"continue": true, "keep": true, "again": true, "resume": true}

	stopwords = map[string]bool{
		"the": true, "a": true, "an": true, "to": true, "of": true, "in": true,
		"on": true, "for": true, "and": true, "or": true, "is": true, "it": true,
		"this": true, "that": true, "with": true, "be": true, "are": true,
		"was": true, "were": true, "at": true, "as": true, "by": true, "from": true,
	}
)

// Classify tokenizes prompt and matches it against cached project/person
// patterns, extracts paths, and applies the intent heuristic.
func (c *Classifier) Classify(ctx context.Context, prompt string) (Signal, error) {
	patterns, err := c.cache.Get(func() (compiled, error) {
		return c.compileEntities(ctx)
	})
	if err != nil {
		return Signal{}, err
	}

	lower := strings.ToLower(prompt)
	tokens := tokenPattern.FindAllString(lower, -1)

	signal := Signal{
		Paths:        extractPaths(prompt),
		Keywords:     extractKeywords(tokens),
		HasCodeFence: codeFencePattern.MatchString(prompt),
		Intent:       classifyIntent(tokens, prompt),
	}

	for _, e := range patterns.projects {
		if n := e.pattern.FindAllStringIndex(lower, -1); len(n) > 0 {
			signal.Projects = append(signal.Projects, Match{ID: e.id, Name: e.name, Confidence: min(1.0, float64(len(n))*0.5)})
		}
	}
	for _, e := range patterns.people {
		if n := e.pattern.FindAllStringIndex(lower, -1); len(n) > 0 {
			signal.People = append(signal.People, Match{ID: e.id, Name: e.name, Confidence: min(1.0, float64(len(n))*0.5)})
		}
	}

	return signal, nil
}

func (c *Classifier) compileEntities(ctx context.Context) (compiled, error) {
	projects, err := c.projects.AllForClassifier(ctx)
	if err != nil {
		return compiled{}, err
	}
	people, err := c.people.AllForClassifier(ctx)
	if err != nil {
		return compiled{}, err
	}

	out := compiled{}
	for _, p := range projects {
		out.projects = append(out.projects, compiledEntity{id: p.ID, name: p.Name, pattern: wordBoundary(p.Name)})
		if p.Slug != "" && p.Slug != strings.ToLower(p.Name) {
			out.projects = append(out.projects, compiledEntity{id: p.ID, name: p.Name, pattern: wordBoundary(p.Slug)})
		}
	}
	for _, person := range people {
		if person.FullName != "" {
			out.people = append(out.people, compiledEntity{id: person.ID, name: person.FullName, pattern: wordBoundary(person.FullName)})
		}
		if len(person.FirstName) >= 3 {
			out.people = append(out.people, compiledEntity{id: person.ID, name: person.FullName, pattern: wordBoundary(person.FirstName)})
		}
	}
	return out, nil
}

func wordBoundary(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(strings.ToLower(term)) + `\b`)
}

func extractPaths(prompt string) []string {
	matches := pathPattern.FindAllStringSubmatch(prompt, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		p := m[1]
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func extractKeywords(tokens []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range tokens {
		if len(tok) < 4 || stopwords[tok] {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

func classifyIntent(tokens []string, raw string) Intent {
	if strings.Contains(raw, "?") {
		return IntentQuestion
	}
	if len(tokens) == 0 {
		return IntentUnknown
	}
	if continuationWords[tokens[0]] {
		return IntentContinuation
	}
	if imperativeVerbs[tokens[0]] {
		return IntentCommand
	}
	return IntentUnknown
}
