package speaker

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// IdentityVersion is the current identity document version.
const IdentityVersion = 1

// DefaultNameContext is the name context used when no other context applies.
const DefaultNameContext = "default"

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Identity is an enrolled speaker.
type Identity struct {
	SchemaVersion int               `json:"schema_version"`
	ID            string            `json:"id"`
	Names         map[string]string `json:"names"`
	Tags          []string          `json:"tags"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`

	// Revision is the store's compare-and-swap token.
	Revision int64 `json:"-"`
}

// ValidateID checks that id is usable as a key and directory name.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid speaker id %q (use lowercase letters, digits, '-' or '_')", id)
	}
	return nil
}

// NewIdentity builds an identity with a default display name.
func NewIdentity(id, name string, now time.Time) (Identity, error) {
	id = strings.TrimSpace(id)
	if err := ValidateID(id); err != nil {
		return Identity{}, err
	}
	ident := Identity{
		SchemaVersion: IdentityVersion,
		ID:            id,
		Names:         map[string]string{},
		Tags:          []string{},
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
	if name = strings.TrimSpace(name); name != "" {
		ident.Names[DefaultNameContext] = name
	}
	return ident, nil
}

// DisplayName returns the name for context, falling back to the default
// context and then to the title-cased id.
func (i Identity) DisplayName(context string) string {
	if name := strings.TrimSpace(i.Names[context]); name != "" {
		return name
	}
	if name := strings.TrimSpace(i.Names[DefaultNameContext]); name != "" {
		return name
	}
	return cases.Title(language.English).String(strings.NewReplacer("-", " ", "_", " ").Replace(i.ID))
}

// AllNames returns the distinct display names across contexts in sorted order.
func (i Identity) AllNames() []string {
	out := make([]string, 0, len(i.Names)+1)
	for _, name := range i.Names {
		if name = strings.TrimSpace(name); name != "" && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		out = append(out, i.DisplayName(DefaultNameContext))
	}
	slices.Sort(out)
	return out
}

// SetName assigns a context-qualified name. An empty name removes it.
func (i *Identity) SetName(context, name string) {
	context = strings.ToLower(strings.TrimSpace(context))
	if context == "" {
		context = DefaultNameContext
	}
	if i.Names == nil {
		i.Names = map[string]string{}
	}
	if name = strings.TrimSpace(name); name == "" {
		delete(i.Names, context)
		return
	}
	i.Names[context] = name
}

// AddTags merges tags, keeping the list sorted and unique.
func (i *Identity) AddTags(tags ...string) {
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" && !slices.Contains(i.Tags, tag) {
			i.Tags = append(i.Tags, tag)
		}
	}
	slices.Sort(i.Tags)
}

// RemoveTags drops the given tags.
func (i *Identity) RemoveTags(tags ...string) {
	i.Tags = slices.DeleteFunc(i.Tags, func(tag string) bool {
		for _, drop := range tags {
			if strings.EqualFold(tag, strings.TrimSpace(drop)) {
				return true
			}
		}
		return false
	})
}

// HasTag reports whether the identity carries tag.
func (i Identity) HasTag(tag string) bool {
	return slices.ContainsFunc(i.Tags, func(t string) bool { return strings.EqualFold(t, tag) })
}

// Profile is an identity together with its embeddings grouped by backend.
type Profile struct {
	Identity
	Embeddings map[string][]EmbeddingRecord `json:"embeddings"`
}
