// Package router implements the path policy resolver of spec §4.G:
// glob/regex pattern compilation, most-specific-wins matching, and a
// bounded LRU cache over resolved (method, path) lookups.
package router

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Features is the subset-with-parameters shape of spec §3 PathPolicy's
// FeatureSet. The parameter structs below are router-side copies of the
// internal/config feature blocks, carried through to the pipeline.
type Features struct {
	Cache          *CacheFeature
	RateLimit      *RateLimitFeature
	Timeout        *TimeoutFeature
	Retry          *RetryFeature
	CircuitBreaker *CircuitBreakerFeature
	Auth           *AuthFeature
	Monitoring     *MonitoringFeature
}

type CacheFeature struct {
	ExpireSeconds int
	CacheKey      string
}

type RateLimitFeature struct {
	Quota        int
	Duration     int
	Algorithm    string
	BucketSize   int
	ErrorStatus  int
	ErrorMessage string
}

type TimeoutFeature struct {
	Seconds      float64
	ErrorStatus  int
	ErrorMessage string
}

type RetryFeature struct {
	MaxAttempts int
	Wait        any // float64 | int | []any of numbers | "expo", as decoded from YAML
	Exceptions  []string
}

type CircuitBreakerFeature struct {
	FailureThreshold  int
	RecoveryTimeout   float64
	ExpectedException string
}

type AuthFeature struct {
	Type string
	RBAC *RBACFeature
}

type RBACFeature struct {
	Roles              map[string][]string // role -> permissions
	UserRoles          map[string]string   // user -> role
	RoutePermissions   map[string][]string // route -> required permissions
	DefaultRole        string
	AllowAnyPermission bool
}

type MonitoringFeature struct {
	LogThreshold float64
}

// Pattern is one compiled path pattern (spec §4.G).
type Pattern struct {
	Source      string
	re          *regexp.Regexp
	specificity specificity
	Features    Features
}

// specificity orders overlapping patterns per SPEC_FULL.md open-question
// decision 3: (literal-prefix length desc, wildcard count asc, source
// order asc), each field compared in turn rather than packed into one
// integer so the rule reads directly off the type.
type specificity struct {
	literalPrefixLen int
	wildcardCount    int
	order            int
}

// moreSpecific reports whether a is strictly more specific than b.
func (a specificity) moreSpecific(b specificity) bool {
	if a.literalPrefixLen != b.literalPrefixLen {
		return a.literalPrefixLen > b.literalPrefixLen
	}
	if a.wildcardCount != b.wildcardCount {
		return a.wildcardCount < b.wildcardCount
	}
	return a.order < b.order
}

// Router holds the compiled pattern set, the fallback default policy,
// and a bounded LRU of resolved (method, path) -> *Pattern lookups.
type Router struct {
	patterns []*Pattern
	fallback Features
	cache    *lru.Cache[string, *Pattern]
}

// New compiles patterns (in declaration order) and builds a router with
// an LRU of the given size (spec §4.G: "bounded, e.g. 4096 entries").
func New(patterns []PatternSpec, fallback Features, cacheSize int) (*Router, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[string, *Pattern](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("router: build lru: %w", err)
	}

	compiled := make([]*Pattern, 0, len(patterns))
	for i, p := range patterns {
		re, litLen, wildcards, err := compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("router: compile pattern %q: %w", p.Pattern, err)
		}
		compiled = append(compiled, &Pattern{
			Source: p.Pattern,
			re:     re,
			specificity: specificity{
				literalPrefixLen: litLen,
				wildcardCount:    wildcards,
				order:            i,
			},
			Features: p.Features,
		})
	}

	return &Router{patterns: compiled, fallback: fallback, cache: cache}, nil
}

// PatternSpec is the input shape New takes, mirroring config's `paths`
// list entries before compilation.
type PatternSpec struct {
	Pattern  string
	Features Features
}

// Resolve returns the matched pattern's features, or the default
// features when nothing matches (spec §4.G). Results are cached per
// (method, path).
func (r *Router) Resolve(method, path string) Features {
	features, _ := r.ResolveWithPattern(method, path)
	return features
}

// ResolveWithPattern is Resolve plus the source text of the pattern that
// matched, for event-sink attribution (empty string on fallback).
func (r *Router) ResolveWithPattern(method, path string) (Features, string) {
	cacheKey := method + " " + path
	if p, ok := r.cache.Get(cacheKey); ok {
		if p == nil {
			return r.fallback, ""
		}
		return p.Features, p.Source
	}

	best := r.match(path)
	r.cache.Add(cacheKey, best)
	if best == nil {
		return r.fallback, ""
	}
	return best.Features, best.Source
}

func (r *Router) match(path string) *Pattern {
	var best *Pattern
	for _, p := range r.patterns {
		if !p.re.MatchString(path) {
			continue
		}
		if best == nil || p.specificity.moreSpecific(best.specificity) {
			best = p
		}
	}
	return best
}

// compile translates a glob-style pattern into a regexp per spec §4.G:
// "*" -> "[^/]*", "**" -> ".*"; patterns already anchored with "^" or
// containing regex metacharacters beyond the glob subset are used as-is.
// It also returns the pattern's literal-prefix length and wildcard count
// for specificity ordering.
func compile(pattern string) (*regexp.Regexp, int, int, error) {
	if strings.HasPrefix(pattern, "^") || looksLikeRegex(pattern) {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, 0, 0, err
		}
		return re, literalPrefixLen(pattern), strings.Count(pattern, "*")+strings.Count(pattern, ".*"), nil
	}

	litLen := literalPrefixLen(pattern)
	wildcards := 0
	var b strings.Builder
	b.WriteByte('^')
	i := 0
	for i < len(pattern) {
		if strings.HasPrefix(pattern[i:], "**") {
			b.WriteString(".*")
			wildcards++
			i += 2
			continue
		}
		c := pattern[i]
		if c == '*' {
			b.WriteString("[^/]*")
			wildcards++
			i++
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(c)))
		i++
	}
	b.WriteByte('$')

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, 0, 0, err
	}
	return re, litLen, wildcards, nil
}

// looksLikeRegex reports whether pattern contains characters outside the
// plain-literal/glob subset, signalling it should be used as-is.
func looksLikeRegex(pattern string) bool {
	return strings.ContainsAny(pattern, "()[]|+?$")
}

// literalPrefixLen returns the length of the pattern's prefix before the
// first wildcard/meta character.
func literalPrefixLen(pattern string) int {
	for i, c := range pattern {
		if c == '*' || strings.ContainsRune("()[]|+?^$.", c) {
			return i
		}
	}
	return len(pattern)
}
