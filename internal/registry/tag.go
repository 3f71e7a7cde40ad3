package registry

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// genericTags are suite markers shared across features; they never identify
// a module on their own unless nothing else is present.
var genericTags = []string{"@Regression", "@Sanity", "@Smoke"}

// IsSuiteTag reports whether tag is one of the cross-module suite tags.
func IsSuiteTag(tag string) bool {
	for _, g := range genericTags {
		if strings.EqualFold(tag, g) {
			return true
		}
	}
	return false
}

// ModuleTag derives the tag that identifies a feature as a module: the first
// feature-level tag that is not a suite tag, else the first tag, else a tag
// synthesized from the feature name. Both discovery and tag-expression
// building go through this function.
func ModuleTag(featureTags []string, featureName string) string {
	for _, t := range featureTags {
		if !IsSuiteTag(t) {
			return t
		}
	}
	if len(featureTags) > 0 {
		return featureTags[0]
	}
	return "@" + PascalCase(featureName)
}

// ModuleID is the lower-cased tag without its marker.
func ModuleID(tag string) string {
	return strings.ToLower(strings.TrimPrefix(tag, "@"))
}

// FallbackTag synthesizes a tag for a module id that has no discoverable
// feature: "@" followed by the capitalized id.
func FallbackTag(id string) string {
	return "@" + Capitalize(id)
}

type caserWrapper struct {
	caser cases.Caser
}

// cases.Caser keeps state and is not safe for concurrent use.
var titleCaserPool = sync.Pool{
	New: func() interface{} {
		return &caserWrapper{caser: cases.Title(language.Und, cases.NoLower)}
	},
}

// Capitalize upper-cases the first letter of every word and leaves the rest
// untouched ("myAccount" stays "MyAccount").
func Capitalize(s string) string {
	w, ok := titleCaserPool.Get().(*caserWrapper)
	if !ok || w == nil {
		return cases.Title(language.Und, cases.NoLower).String(s)
	}
	defer titleCaserPool.Put(w)
	w.caser.Reset()
	return w.caser.String(s)
}

// PascalCase joins the capitalized words of s, dropping anything that is not
// a letter or digit. An empty result becomes "Unknown".
func PascalCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var b strings.Builder
	for _, w := range words {
		b.WriteString(Capitalize(w))
	}
	if b.Len() == 0 {
		return "Unknown"
	}
	return b.String()
}
