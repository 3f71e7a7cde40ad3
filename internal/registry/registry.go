// Package registry groups the scenarios of every feature file into modules.
//
// The registry keeps no state between calls: every Discover re-reads the
// feature sources so edits on disk show up on the next request.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/dkoosis/cukedash/pkg/gherkin"
)

// ErrModuleNotFound is returned by Find for an unknown module id.
var ErrModuleNotFound = errors.New("module not found")

// StatusReady is the only module status the registry produces.
const StatusReady = "ready"

// PriorityCounts aggregates scenario priorities for one module.
type PriorityCounts struct {
	P1       int `json:"p1"`
	P2       int `json:"p2"`
	P3       int `json:"p3"`
	Untagged int `json:"untagged"`
}

// Module is one feature file seen as a runnable unit.
type Module struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	Status            string             `json:"status"`
	Tag               string             `json:"tag"`
	Tags              []string           `json:"tags"`
	FeatureFile       string             `json:"featureFile"`
	ScenarioCount     int                `json:"scenarioCount"`
	PriorityCounts    PriorityCounts     `json:"priorityCounts"`
	IssueCount        int                `json:"jiraStoryCount"`
	EstimatedTime     string             `json:"estimatedTime"`
	EstimatedDuration time.Duration      `json:"-"`
	Scenarios         []gherkin.Scenario `json:"scenarios"`
}

// Registry discovers modules below a feature directory.
type Registry struct {
	fsys fs.FS
	root string
}

// New returns a registry reading feature files below dir.
func New(dir string) *Registry {
	return NewFS(os.DirFS(dir))
}

// NewFS returns a registry over an arbitrary file system, rooted at ".".
func NewFS(fsys fs.FS) *Registry {
	return &Registry{fsys: fsys, root: "."}
}

// Features parses every *.feature file, sorted by path. Files without a
// Feature declaration are included with an empty name.
func (r *Registry) Features(ctx context.Context) ([]gherkin.Feature, error) {
	var paths []string
	err := fs.WalkDir(r.fsys, r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".feature") {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan feature files: %w", err)
	}
	sort.Strings(paths)

	features := make([]gherkin.Feature, 0, len(paths))
	for _, p := range paths {
		content, err := fs.ReadFile(r.fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		features = append(features, gherkin.ParseFeature(path.Clean(p), content))
	}
	return features, nil
}

// Discover builds one module per feature file that has a Feature line.
func (r *Registry) Discover(ctx context.Context) ([]Module, error) {
	features, err := r.Features(ctx)
	if err != nil {
		return nil, err
	}
	modules := make([]Module, 0, len(features))
	for _, f := range features {
		if f.Line == 0 {
			continue
		}
		modules = append(modules, Build(f))
	}
	return modules, nil
}

// Find returns the module with the given id.
func (r *Registry) Find(ctx context.Context, id string) (Module, error) {
	modules, err := r.Discover(ctx)
	if err != nil {
		return Module{}, err
	}
	for _, m := range modules {
		if m.ID == id {
			return m, nil
		}
	}
	return Module{}, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
}

// Lookup returns an id→tag function over the current modules, suitable for
// the tag-expression builder.
func (r *Registry) Lookup(ctx context.Context) (func(id string) (string, bool), error) {
	modules, err := r.Discover(ctx)
	if err != nil {
		return nil, err
	}
	return LookupFrom(modules), nil
}

// LookupFrom indexes modules by id. The first module wins on id collisions.
func LookupFrom(modules []Module) func(id string) (string, bool) {
	tags := make(map[string]string, len(modules))
	for _, m := range modules {
		if _, seen := tags[m.ID]; !seen {
			tags[m.ID] = m.Tag
		}
	}
	return func(id string) (string, bool) {
		t, ok := tags[id]
		return t, ok
	}
}

// ScenarioNames returns an id→scenario-names function over the current
// modules. Names keep source order.
func (r *Registry) ScenarioNames(ctx context.Context) (func(id string) ([]string, bool), error) {
	modules, err := r.Discover(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string][]string, len(modules))
	for _, m := range modules {
		if _, seen := names[m.ID]; seen {
			continue
		}
		list := make([]string, 0, len(m.Scenarios))
		for _, sc := range m.Scenarios {
			list = append(list, sc.Name)
		}
		names[m.ID] = list
	}
	return func(id string) ([]string, bool) {
		n, ok := names[id]
		return n, ok
	}, nil
}

// Build derives a module from one parsed feature.
func Build(f gherkin.Feature) Module {
	tag := ModuleTag(f.Tags, f.Name)
	m := Module{
		ID:          ModuleID(tag),
		Name:        f.Name,
		Description: f.Description,
		Status:      StatusReady,
		Tag:         tag,
		Tags:        f.Tags,
		FeatureFile: f.File,
		Scenarios:   f.Scenarios,
	}
	if m.Description == "" {
		m.Description = f.Name + " test scenarios"
	}
	m.ScenarioCount = len(f.Scenarios)
	for _, s := range f.Scenarios {
		switch s.Priority {
		case gherkin.P1:
			m.PriorityCounts.P1++
		case gherkin.P2:
			m.PriorityCounts.P2++
		case gherkin.P3:
			m.PriorityCounts.P3++
		default:
			m.PriorityCounts.Untagged++
		}
	}
	m.EstimatedDuration = Estimate(m.ScenarioCount)
	m.EstimatedTime = FormatEstimate(m.EstimatedDuration)
	return m
}
