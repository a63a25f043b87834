// Package promptmatch classifies request text against configured templates
// containing {placeholder} tokens, returning a key, captured placeholder
// values, and the language variant that matched.
package promptmatch

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Language identifies which template variant matched.
type Language string

const (
	LangChinese Language = "chinese"
	LangEnglish Language = "english"
	LangDefault Language = "default"
)

var placeholderToken = regexp.MustCompile(`\{(\w+)\}`)

// Template is one named entry: either a single default template or a set of
// language variants, matching the bilingual/legacy YAML shapes the config
// loader accepts.
type Template struct {
	Key      string
	Variants map[Language]string
	// VariantOrder declares the order variants were written in source (the
	// config loader populates this from YAML key order). A variant in
	// Variants but missing from VariantOrder is tried last, in a
	// deterministic (sorted) order, rather than left to Go's unspecified
	// map iteration order.
	VariantOrder []Language
}

// orderedVariants returns t's declared languages in VariantOrder, followed
// by any remaining keys of Variants not named there, sorted for determinism.
func (t Template) orderedVariants() []Language {
	seen := make(map[Language]bool, len(t.Variants))
	order := make([]Language, 0, len(t.Variants))
	for _, lang := range t.VariantOrder {
		if _, ok := t.Variants[lang]; !ok || seen[lang] {
			continue
		}
		seen[lang] = true
		order = append(order, lang)
	}
	if len(seen) == len(t.Variants) {
		return order
	}
	var rest []string
	for lang := range t.Variants {
		if !seen[lang] {
			rest = append(rest, string(lang))
		}
	}
	sort.Strings(rest)
	for _, lang := range rest {
		order = append(order, Language(lang))
	}
	return order
}

type compiledVariant struct {
	lang    Language
	pattern *regexp.Regexp
	names   []string
}

type compiledTemplate struct {
	key      string
	variants []compiledVariant
}

// Matcher holds compiled templates ready for classification.
type Matcher struct {
	templates []compiledTemplate
}

// MatchResult is the outcome of classifying one piece of text.
type MatchResult struct {
	Matched bool
	Key     string
	// Placeholders maps each {name} token to its trimmed captured value.
	Placeholders map[string]string
	// PlaceholderOrder preserves the template's declared {name} order, so
	// callers can ask for "the first placeholder" deterministically.
	PlaceholderOrder []string
	Language         Language
}

// FirstPlaceholder returns the value of the template's first declared
// placeholder, or ("", false) if the template declared none.
func (r MatchResult) FirstPlaceholder() (string, bool) {
	if len(r.PlaceholderOrder) == 0 {
		return "", false
	}
	v, ok := r.Placeholders[r.PlaceholderOrder[0]]
	return v, ok
}

// New compiles the given templates in the order provided. Insertion order
// is preserved and drives match priority when multiple templates could
// apply to the same text.
func New(templates []Template) (*Matcher, error) {
	m := &Matcher{}
	for _, t := range templates {
		ct := compiledTemplate{key: t.Key}
		for _, lang := range t.orderedVariants() {
			tmpl := t.Variants[lang]
			pattern, names, err := compile(tmpl)
			if err != nil {
				return nil, fmt.Errorf("promptmatch: compiling template %q (%s): %w", t.Key, lang, err)
			}
			ct.variants = append(ct.variants, compiledVariant{lang: lang, pattern: pattern, names: names})
		}
		m.templates = append(m.templates, ct)
	}
	return m, nil
}

// compile escapes literal template characters and replaces each {x} token
// with a named, non-greedy, dot-all capture group.
func compile(tmpl string) (*regexp.Regexp, []string, error) {
	var names []string
	var b strings.Builder
	last := 0
	for _, loc := range placeholderToken.FindAllStringSubmatchIndex(tmpl, -1) {
		literal := tmpl[last:loc[0]]
		b.WriteString(regexp.QuoteMeta(literal))
		name := tmpl[loc[2]:loc[3]]
		names = append(names, name)
		fmt.Fprintf(&b, "(?P<%s>.*?)", name)
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(tmpl[last:]))
	// (?s) gives '.' dot-all semantics, matching the Python compile's re.DOTALL.
	re, err := regexp.Compile("(?s)" + b.String())
	if err != nil {
		return nil, nil, err
	}
	return re, names, nil
}

// Match classifies text against the compiled templates, in insertion order,
// returning the first template/variant whose pattern is found anywhere in
// the (whitespace-trimmed) text.
func (m *Matcher) Match(text string) MatchResult {
	text = strings.TrimSpace(text)
	for _, ct := range m.templates {
		for _, v := range ct.variants {
			loc := v.pattern.FindStringSubmatchIndex(text)
			if loc == nil {
				continue
			}
			placeholders := map[string]string{}
			for i, name := range v.names {
				start, end := loc[2+2*i], loc[3+2*i]
				if start < 0 {
					continue
				}
				placeholders[name] = strings.TrimSpace(text[start:end])
			}
			return MatchResult{
				Matched:          true,
				Key:              ct.key,
				Placeholders:     placeholders,
				PlaceholderOrder: v.names,
				Language:         v.lang,
			}
		}
	}
	return MatchResult{Matched: false}
}
