package gherkin

import (
	"regexp"
	"strings"
)

// descriptionWindow bounds how far below a scenario declaration the first
// Given/When/Then step is searched for.
const descriptionWindow = 20

var (
	scenarioRe = regexp.MustCompile(`^(?:Scenario Outline|Scenario Template|Scenario|Example):\s*(.*)$`)
	stepRe     = regexp.MustCompile(`^(?:Given|When|Then)\s+(.+)$`)
	// Keywords that open a block able to carry its own tags. Tags pending
	// in front of them never belong to the next scenario.
	blockRe = regexp.MustCompile(`^(?:Background|Rule|Examples|Scenarios):`)
)

// scanState is the tag accumulator state.
type scanState int

const (
	// seekingTags: nothing accumulated.
	seekingTags scanState = iota
	// seekingScenario: tags accumulated, waiting for a declaration.
	seekingScenario
	// inScenario: a declaration consumed the accumulator; body lines follow.
	inScenario
)

// ParseFeature scans one feature file. file is recorded as the
// SourceFeature of every scenario. It never fails: malformed input yields
// fewer or untagged scenarios.
func ParseFeature(file string, content []byte) Feature {
	p := &parser{
		feature: Feature{File: file, Tags: []string{}, Scenarios: []Scenario{}},
		lines:   splitLines(content),
	}
	p.run()
	return p.feature
}

// Extract returns only the scenarios of one feature file.
func Extract(file string, content []byte) []Scenario {
	return ParseFeature(file, content).Scenarios
}

type parser struct {
	feature  Feature
	lines    []string
	state    scanState
	pending  []string
	inHeader bool
	descr    []string
}

func (p *parser) run() {
	for i, line := range p.lines {
		switch {
		case line == "":
			p.blank(i)
		case strings.HasPrefix(line, "#"):
			// comments never consume or reset the accumulator
		case strings.HasPrefix(line, "@"):
			p.tags(i, line)
		case strings.HasPrefix(line, "Feature:"):
			p.feature.Name = strings.TrimSpace(strings.TrimPrefix(line, "Feature:"))
			p.feature.Line = i + 1
			p.inHeader = true
		case scenarioRe.MatchString(line):
			p.scenario(i, line)
		case blockRe.MatchString(line):
			p.inHeader = false
			p.reset(seekingTags)
		default:
			if p.inHeader && p.state == seekingTags {
				p.descr = append(p.descr, line)
			}
		}
	}
	p.feature.Description = strings.Join(p.descr, " ")
}

func (p *parser) blank(i int) {
	if p.state != seekingScenario {
		return
	}
	next := p.nextSignificant(i)
	if next >= 0 && (strings.HasPrefix(p.lines[next], "@") || scenarioRe.MatchString(p.lines[next])) {
		return
	}
	p.reset(seekingTags)
}

func (p *parser) tags(i int, line string) {
	tokens := tagTokens(line)
	if p.precedesFeature(i) {
		p.feature.Tags = appendUnique(p.feature.Tags, tokens...)
		return
	}
	p.inHeader = false
	p.pending = appendUnique(p.pending, tokens...)
	p.state = seekingScenario
}

func (p *parser) scenario(i int, line string) {
	p.inHeader = false
	m := scenarioRe.FindStringSubmatch(line)
	tags := append([]string{}, p.pending...)
	s := Scenario{
		Name:          strings.TrimSpace(m[1]),
		Tags:          tags,
		Priority:      DerivePriority(tags),
		IsSanity:      HasTag(tags, TagSanity),
		IsRegression:  HasTag(tags, TagRegression),
		Description:   p.stepDescription(i),
		SourceFeature: p.feature.File,
		SourceLine:    i + 1,
	}
	p.feature.Scenarios = append(p.feature.Scenarios, s)
	p.reset(inScenario)
}

func (p *parser) reset(next scanState) {
	p.pending = nil
	p.state = next
}

func (p *parser) stepDescription(i int) string {
	for j := i + 1; j < len(p.lines) && j <= i+descriptionWindow; j++ {
		if m := stepRe.FindStringSubmatch(p.lines[j]); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// precedesFeature reports whether the run of tag lines containing line i
// ends at the Feature line.
func (p *parser) precedesFeature(i int) bool {
	next := p.nextSignificant(i)
	for next >= 0 && strings.HasPrefix(p.lines[next], "@") {
		next = p.nextSignificant(next)
	}
	return next >= 0 && strings.HasPrefix(p.lines[next], "Feature:")
}

// nextSignificant returns the index of the next non-blank, non-comment line
// after i, or -1.
func (p *parser) nextSignificant(i int) int {
	for j := i + 1; j < len(p.lines); j++ {
		l := p.lines[j]
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		return j
	}
	return -1
}

// tagTokens returns the @-tokens of a tag line, stopping at an inline comment.
func tagTokens(line string) []string {
	var tags []string
	for _, tok := range strings.Fields(line) {
		if strings.HasPrefix(tok, "#") {
			break
		}
		if len(tok) > 1 && strings.HasPrefix(tok, "@") {
			tags = appendUnique(tags, tok)
		}
	}
	return tags
}

func splitLines(content []byte) []string {
	raw := strings.Split(string(content), "\n")
	lines := make([]string, len(raw))
	for i, l := range raw {
		lines[i] = strings.TrimSpace(l)
	}
	return lines
}
