// Package message turns a campaign template into the final text for one
// recipient: spin-text resolution, variable substitution and an optional
// invisible uniqueness marker.
package message

import (
	"math/rand"
	"regexp"
	"strings"
	"time"
)

// innermost bracketed spin group: [opt1|opt2|...] with no nested brackets
var spinPattern = regexp.MustCompile(`\[([^\[\]]*)\]`)

// substitution token: {name}, {company}, {city}, ...
var varPattern = regexp.MustCompile(`\{([a-zA-Z][a-zA-Z0-9_]*)\}`)

// maxSpinIterations bounds resolution of malformed or unbalanced templates;
// when reached the partially resolved string is returned as-is.
const maxSpinIterations = 100

// zero-width characters used for the uniqueness marker
var markerRunes = []rune{'​', '‌', '‍', '⁠'}

const markerLength = 8

// Resolver resolves message templates. The random source drives spin
// choices and the clock derives the uniqueness marker, so both can be
// pinned in tests.
type Resolver struct {
	rng *rand.Rand
	now func() time.Time
}

func NewResolver() *Resolver {
	return &Resolver{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
}

// NewResolverWith builds a resolver with an explicit random source and
// clock, used by tests.
func NewResolverWith(rng *rand.Rand, now func() time.Time) *Resolver {
	return &Resolver{rng: rng, now: now}
}

// Resolve composes spin resolution, variable substitution and the
// uniqueness marker into the final message text.
func (r *Resolver) Resolve(template string, attrs map[string]string, markerEnabled bool) string {
	text := r.ResolveSpinText(template)
	text = SubstituteVariables(text, attrs)
	if markerEnabled {
		text = r.AppendUniquenessMarker(text)
	}
	return text
}

// ResolveSpinText repeatedly replaces the innermost bracketed group with one
// option chosen uniformly at random, working outward so nested groups
// resolve inner-first.
func (r *Resolver) ResolveSpinText(template string) string {
	text := template
	for i := 0; i < maxSpinIterations; i++ {
		loc := spinPattern.FindStringSubmatchIndex(text)
		if loc == nil {
			return text
		}
		options := strings.Split(text[loc[2]:loc[3]], "|")
		choice := options[r.rng.Intn(len(options))]
		text = text[:loc[0]] + choice + text[loc[1]:]
	}
	return text
}

// SubstituteVariables replaces {token} occurrences with the matching
// attribute value, case-insensitively. Unknown tokens resolve to an empty
// string, never an error. The result is trimmed.
func SubstituteVariables(text string, attrs map[string]string) string {
	lowered := make(map[string]string, len(attrs))
	for k, v := range attrs {
		lowered[strings.ToLower(k)] = v
	}

	out := varPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.ToLower(match[1 : len(match)-1])
		return lowered[name]
	})
	return strings.TrimSpace(out)
}

// AppendUniquenessMarker appends a short sequence of zero-width characters
// derived deterministically from the current time, so otherwise-identical
// messages are not byte-identical. The visible rendering is unchanged.
func (r *Resolver) AppendUniquenessMarker(text string) string {
	seed := r.now().UnixNano()
	var sb strings.Builder
	for i := 0; i < markerLength; i++ {
		sb.WriteRune(markerRunes[seed&3])
		seed >>= 2
	}
	return text + sb.String()
}
