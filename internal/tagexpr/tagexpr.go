// Package tagexpr builds the cucumber --tags expression for a run request.
package tagexpr

import (
	"errors"
	"regexp"
	"strings"

	"github.com/dkoosis/cukedash/internal/registry"
)

// ErrNoModules is returned when a run names no modules.
var ErrNoModules = errors.New("no modules specified")

var (
	tagTokenRe   = regexp.MustCompile(`@[\w-]+`)
	priorityTagR = regexp.MustCompile(`(?i)^@P[123]$`)
)

// Lookup resolves a module id to its tag.
type Lookup func(id string) (tag string, ok bool)

// Build returns the boolean tag expression for modules filtered by custom.
// Rules, first match wins:
//
//  1. custom names a suite tag and no priority tag: custom alone
//  2. custom names a priority tag, one module: "(<module>) and (<custom>)"
//  3. custom names a priority tag, several modules: custom alone
//  4. any other custom filter: "(<m1> or <m2>) and (<custom>)"
//  5. no custom filter: "<m1> or <m2>"
//
// Module ids without a tag in lookup fall back to registry.FallbackTag.
func Build(modules []string, custom string, lookup Lookup) (string, error) {
	tags := moduleTags(modules, lookup)
	if len(tags) == 0 {
		return "", ErrNoModules
	}
	custom = strings.TrimSpace(custom)
	union := strings.Join(tags, " or ")
	if custom == "" {
		return union, nil
	}

	suite, priority := classify(custom)
	switch {
	case suite && !priority:
		return custom, nil
	case priority && len(tags) == 1:
		return "(" + tags[0] + ") and (" + custom + ")", nil
	case priority:
		return custom, nil
	default:
		return "(" + union + ") and (" + custom + ")", nil
	}
}

func moduleTags(modules []string, lookup Lookup) []string {
	seen := make(map[string]bool, len(modules))
	tags := make([]string, 0, len(modules))
	for _, id := range modules {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		tag, ok := "", false
		if lookup != nil {
			tag, ok = lookup(id)
		}
		if !ok || tag == "" {
			tag = registry.FallbackTag(id)
		}
		tags = append(tags, tag)
	}
	return tags
}

// classify reports whether expr mentions a suite tag and a priority tag.
func classify(expr string) (suite, priority bool) {
	for _, tok := range tagTokenRe.FindAllString(expr, -1) {
		if registry.IsSuiteTag(tok) {
			suite = true
		}
		if priorityTagR.MatchString(tok) {
			priority = true
		}
	}
	return suite, priority
}

// NameFilters returns one anchored, regex-quoted --name pattern per selected
// scenario, in module order then selection order. Modules not part of the
// run are ignored; duplicate names are emitted once.
func NameFilters(modules []string, selected map[string][]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, id := range modules {
		for _, name := range selected[id] {
			name = strings.TrimSpace(name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, "^"+regexp.QuoteMeta(name)+"$")
		}
	}
	return out
}
