// Package schema upgrades versioned documents through linear migration
// chains. Each step is a pure function from version n to n+1; documents with
// a version that has no path to the current one are rejected.
package schema

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
)

// ErrNoMigrationPath reports a document whose version cannot be upgraded.
var ErrNoMigrationPath = fmt.Errorf("%w: no migration path", services.ErrCorruptRecord)

// Document is a decoded JSON or YAML object.
type Document = map[string]any

// Step upgrades a document from From to From+1.
type Step struct {
	From     int
	Describe string
	Apply    func(Document) Document
}

// Chain is the ordered set of steps for one document kind.
type Chain struct {
	Kind       string
	VersionKey string
	Current    int
	steps      map[int]Step
}

// Result summarizes a migration.
type Result struct {
	From    int
	To      int
	Applied []string
}

// Migrated reports whether any step ran.
func (r Result) Migrated() bool { return r.From != r.To }

// MustChain builds a chain and panics when the steps do not form a linear
// path ending at current.
func MustChain(kind, versionKey string, current int, steps ...Step) *Chain {
	c := &Chain{Kind: kind, VersionKey: versionKey, Current: current, steps: map[int]Step{}}
	for _, step := range steps {
		if step.From < 0 || step.From >= current {
			panic(fmt.Sprintf("schema %s: step from v%d outside chain ending at v%d", kind, step.From, current))
		}
		if _, dup := c.steps[step.From]; dup {
			panic(fmt.Sprintf("schema %s: duplicate step from v%d", kind, step.From))
		}
		c.steps[step.From] = step
	}
	return c
}

// Version reads the document version. A missing key is version 0.
func (c *Chain) Version(doc Document) (int, error) {
	raw, ok := doc[c.VersionKey]
	if !ok || raw == nil {
		return 0, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || v < 0 {
			return 0, fmt.Errorf("%w: %s %s %v is not a whole number", services.ErrCorruptRecord, c.Kind, c.VersionKey, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("%w: %s %s has type %T", services.ErrCorruptRecord, c.Kind, c.VersionKey, raw)
	}
}

// Migrate upgrades doc to the current version. The input is never modified.
func (c *Chain) Migrate(doc Document) (Document, Result, error) {
	from, err := c.Version(doc)
	if err != nil {
		return nil, Result{}, err
	}
	result := Result{From: from, To: from}
	if from > c.Current {
		return nil, result, fmt.Errorf("%w: %s v%d is newer than supported v%d", ErrNoMigrationPath, c.Kind, from, c.Current)
	}
	out := deepCopy(doc).(Document)
	for version := from; version < c.Current; version++ {
		step, ok := c.steps[version]
		if !ok {
			return nil, result, fmt.Errorf("%w: %s v%d -> v%d", ErrNoMigrationPath, c.Kind, version, version+1)
		}
		out = step.Apply(out)
		out[c.VersionKey] = version + 1
		result.To = version + 1
		result.Applied = append(result.Applied, fmt.Sprintf("v%d -> v%d: %s", version, version+1, step.Describe))
	}
	return out, result, nil
}

// Describe lists the available steps in order.
func (c *Chain) Describe() []string {
	froms := make([]int, 0, len(c.steps))
	for from := range c.steps {
		froms = append(froms, from)
	}
	sort.Ints(froms)
	out := make([]string, 0, len(froms))
	for _, from := range froms {
		out = append(out, fmt.Sprintf("%s v%d -> v%d: %s", c.Kind, from, from+1, c.steps[from].Describe))
	}
	return out
}

// IsNoMigrationPath reports whether err came from a missing step.
func IsNoMigrationPath(err error) bool {
	return errors.Is(err, ErrNoMigrationPath)
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
