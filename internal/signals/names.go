package signals

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
)

// nameMatcher maps spoken names to identity ids. A detected name matches an
// identity when it equals, ignoring case, the id, any display name, or the
// first word of a display name.
type nameMatcher struct {
	fold    cases.Caser
	byName  map[string][]string
	byFirst map[string][]string
	ids     map[string]struct{}
}

func newNameMatcher(profiles []speaker.Profile) *nameMatcher {
	m := &nameMatcher{
		fold:    cases.Fold(),
		byName:  map[string][]string{},
		byFirst: map[string][]string{},
		ids:     map[string]struct{}{},
	}
	for _, p := range profiles {
		m.ids[p.ID] = struct{}{}
		m.add(m.byName, m.key(p.ID), p.ID)
		for _, name := range p.AllNames() {
			m.add(m.byName, m.key(name), p.ID)
			if fields := strings.Fields(name); len(fields) > 1 {
				m.add(m.byFirst, m.key(fields[0]), p.ID)
			}
		}
	}
	return m
}

func (m *nameMatcher) key(name string) string {
	return m.fold.String(strings.Join(strings.Fields(name), " "))
}

func (m *nameMatcher) add(index map[string][]string, key, id string) {
	if key == "" || slices.Contains(index[key], id) {
		return
	}
	index[key] = append(index[key], id)
	slices.Sort(index[key])
}

// match returns identities the spoken name refers to. Full-name matches win
// over first-name matches.
func (m *nameMatcher) match(name string) []string {
	key := m.key(name)
	if key == "" {
		return nil
	}
	if ids := m.byName[key]; len(ids) > 0 {
		return ids
	}
	if fields := strings.Fields(key); len(fields) > 0 {
		return m.byFirst[fields[0]]
	}
	return nil
}

// resolve turns an expected-speaker reference (id or name) into ids.
func (m *nameMatcher) resolve(ref string) []string {
	ref = strings.TrimSpace(ref)
	if _, ok := m.ids[ref]; ok {
		return []string{ref}
	}
	return m.match(ref)
}
