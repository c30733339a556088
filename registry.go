package contentarea

import (
	"fmt"
	"sync"
)

// DefaultMetaKey is the field registered for every post type unless
// disabled in the configuration.
const DefaultMetaKey = "extra_content_area"

// User is the viewer asking to see or edit a field.
type User struct {
	ID           int64    `yaml:"id" json:"id"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
}

// Can reports whether the user holds capability.
func (u User) Can(capability string) bool {
	for _, c := range u.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// AuthFunc gates who may see and edit a registered field.
type AuthFunc func(u User, ref EntityRef, key string) bool

// CanEditPosts is the default field authorization.
func CanEditPosts(u User, _ EntityRef, _ string) bool {
	return u.Can("edit_posts")
}

// MetaField declares a meta field visible to the editing UI.
type MetaField struct {
	Key        string
	Subtype    string // post type, "" for all
	Type       string
	Single     bool
	Label      string
	ShowInREST bool
	Context    []string
	Auth       AuthFunc
}

// Registry holds the meta fields exposed to the editor.
type Registry struct {
	mu     sync.RWMutex
	fields map[string]map[string]MetaField
}

func NewRegistry() *Registry {
	return &Registry{fields: make(map[string]map[string]MetaField)}
}

// RegisterMeta adds a field. Only single string fields can hold block markup.
func (r *Registry) RegisterMeta(f MetaField) error {
	if f.Key == "" {
		return fmt.Errorf("register meta: key is required")
	}
	if f.Type != "string" || !f.Single {
		return fmt.Errorf("register meta %s: block markup needs a single string field", f.Key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fields[f.Subtype] == nil {
		r.fields[f.Subtype] = make(map[string]MetaField)
	}
	if _, exists := r.fields[f.Subtype][f.Key]; exists {
		return fmt.Errorf("register meta %s: already registered", f.Key)
	}
	r.fields[f.Subtype][f.Key] = f
	return nil
}

// Lookup finds the field for a post type, falling back to fields registered
// for all post types.
func (r *Registry) Lookup(postType, key string) (MetaField, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.fields[postType][key]; ok {
		return f, true
	}
	f, ok := r.fields[""][key]
	return f, ok
}

// Authorize reports whether u may see and edit key on ref. Unregistered or
// hidden fields are never authorized.
func (r *Registry) Authorize(u User, ref EntityRef, key string) bool {
	f, ok := r.Lookup(ref.Name, key)
	if !ok || !f.ShowInREST {
		return false
	}
	if f.Auth == nil {
		return true
	}
	return f.Auth(u, ref, key)
}

// RegisterDefaults registers DefaultMetaKey unless cfg turns it off.
func RegisterDefaults(r *Registry, cfg *Config) error {
	if cfg != nil && !cfg.RegisterDefaultMeta {
		return nil
	}
	return r.RegisterMeta(MetaField{
		Key:        DefaultMetaKey,
		Type:       "string",
		Single:     true,
		Label:      "Extra Content Area",
		ShowInREST: true,
		Context:    []string{"edit"},
		Auth:       CanEditPosts,
	})
}
