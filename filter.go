package contentarea

import "fmt"

// FilterMode selects how BlockFilterConfig restricts insertable variants.
type FilterMode string

const (
	FilterAllow    FilterMode = "allow"
	FilterDisallow FilterMode = "disallow"
)

// BlockFilterConfig determines which variants may be inserted into an
// editable region. It is derived from block attributes on every render.
type BlockFilterConfig struct {
	Mode       FilterMode `yaml:"mode" json:"mode"`
	Allowed    []string   `yaml:"allowed,omitempty" json:"allowed,omitempty"`
	Disallowed []string   `yaml:"disallowed,omitempty" json:"disallowed,omitempty"`
}

// Validate rejects unknown modes. An empty mode means allow.
func (c BlockFilterConfig) Validate() error {
	switch c.Mode {
	case "", FilterAllow, FilterDisallow:
		return nil
	default:
		return fmt.Errorf("unknown filter mode %q", c.Mode)
	}
}

// Unrestricted reports whether every known variant may be inserted.
func (c BlockFilterConfig) Unrestricted() bool {
	if c.Mode == FilterDisallow {
		return len(c.Disallowed) == 0
	}
	return len(c.Allowed) == 0
}

// Resolve returns the effective insertable set. Allow mode keeps the
// configured order; disallow mode keeps the order of known. An allow filter
// without entries does not restrict anything.
func (c BlockFilterConfig) Resolve(known []string) []string {
	if c.Mode == FilterDisallow {
		drop := make(map[string]struct{}, len(c.Disallowed))
		for _, name := range c.Disallowed {
			drop[normalizeName(name)] = struct{}{}
		}
		var out []string
		for _, name := range dedupe(known) {
			if _, ok := drop[name]; !ok {
				out = append(out, name)
			}
		}
		return out
	}
	if len(c.Allowed) == 0 {
		return dedupe(known)
	}
	return dedupe(c.Allowed)
}

// Allows reports whether variant may be inserted.
func (c BlockFilterConfig) Allows(variant string, known []string) bool {
	variant = normalizeName(variant)
	for _, name := range c.Resolve(known) {
		if name == variant {
			return true
		}
	}
	return false
}

// DefaultVariant is DefaultVariantOr with a paragraph fallback.
func (c BlockFilterConfig) DefaultVariant(known []string) string {
	return c.DefaultVariantOr(known, ParagraphVariant)
}

// DefaultVariantOr returns the variant inserted into an empty region: the
// first effective entry. An allow filter without entries, or an empty
// effective set, yields fallback. An empty fallback inserts nothing.
func (c BlockFilterConfig) DefaultVariantOr(known []string, fallback string) string {
	if c.Mode != FilterDisallow && len(c.Allowed) == 0 {
		return fallback
	}
	if set := c.Resolve(known); len(set) > 0 {
		return set[0]
	}
	return fallback
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = normalizeName(name)
		if _, ok := seen[name]; ok || name == "" {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
