package search

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Query shape heuristics. These tune fusion weights only; they never
// change which chunks are considered.
var (
	// Error codes and exception-style identifiers.
	errorCodeRe = regexp.MustCompile(`(?i)^(ERR_\w+|E\d{4,5}|[A-Z]{2,}\d{3,}|\w+Exception)$`)

	// Quoted exact phrases.
	quotedRe = regexp.MustCompile(`^["'].*["']$`)

	// File paths with a recognizable source extension.
	filePathRe = regexp.MustCompile(`(?i)^[\w\-./\\]+\.(go|ts|tsx|js|jsx|py|md|json|yaml|yml|toml|css|html|rs|java|kt|c|cpp|h|hpp|rb|php|swift|sh)$`)

	// Code identifiers, single token.
	camelCaseRe      = regexp.MustCompile(`^[a-z]+([A-Z][a-z0-9]*)+$`)
	pascalCaseRe     = regexp.MustCompile(`^([A-Z][a-z0-9]*){2,}$`)
	snakeCaseRe      = regexp.MustCompile(`^[a-z]+(_[a-z0-9]+)+$`)
	screamingSnakeRe = regexp.MustCompile(`^[A-Z]+(_[A-Z0-9]+)+$`)

	// Natural-language openers.
	naturalRe = regexp.MustCompile(`(?i)^(how|what|where|why|when|which|can|does|is|are|should|explain|describe|show|find|list)\s`)
)

const classifierCacheSize = 512

// Classifier maps a query to a shape, memoized since interactive
// sessions repeat and refine queries.
type Classifier struct {
	cache *lru.Cache[string, QueryShape]
}

// NewClassifier creates a Classifier.
func NewClassifier() (*Classifier, error) {
	cache, err := lru.New[string, QueryShape](classifierCacheSize)
	if err != nil {
		return nil, err
	}
	return &Classifier{cache: cache}, nil
}

// Classify determines the query shape.
func (c *Classifier) Classify(query string) QueryShape {
	query = strings.TrimSpace(query)
	if query == "" {
		return ShapeMixed
	}
	if shape, ok := c.cache.Get(query); ok {
		return shape
	}
	shape := classify(query)
	c.cache.Add(query, shape)
	return shape
}

func classify(query string) QueryShape {
	if isLexical(query) {
		return ShapeLexical
	}
	if naturalRe.MatchString(query) {
		return ShapeSemantic
	}
	// Multi-word queries without identifier shape read as prose.
	if len(strings.Fields(query)) >= 3 {
		return ShapeSemantic
	}
	return ShapeMixed
}

func isLexical(query string) bool {
	if errorCodeRe.MatchString(query) ||
		quotedRe.MatchString(query) ||
		filePathRe.MatchString(query) {
		return true
	}
	if strings.Contains(query, " ") {
		return false
	}
	return camelCaseRe.MatchString(query) ||
		pascalCaseRe.MatchString(query) ||
		snakeCaseRe.MatchString(query) ||
		screamingSnakeRe.MatchString(query)
}
