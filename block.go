package contentarea

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

const (
	// FreeformVariant holds HTML that sits outside any block delimiter.
	FreeformVariant = "core/freeform"
	// ParagraphVariant is the fallback insertable variant.
	ParagraphVariant = "core/paragraph"
)

// Block is one editable content unit. InnerContent always holds one more
// chunk than InnerBlocks: chunk i precedes inner block i.
type Block struct {
	ClientID     string         `json:"clientId" yaml:"client_id"`
	Name         string         `json:"name" yaml:"name"`
	Attrs        map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`
	InnerBlocks  []*Block       `json:"innerBlocks,omitempty" yaml:"inner_blocks,omitempty"`
	InnerContent []string       `json:"innerContent" yaml:"inner_content"`
}

// NewBlock creates a block with a fresh client id.
func NewBlock(name string, attrs map[string]any, html string, inner ...*Block) *Block {
	b := &Block{
		ClientID:    uuid.NewString(),
		Name:        normalizeName(name),
		Attrs:       attrs,
		InnerBlocks: inner,
	}
	b.InnerContent = make([]string, len(inner)+1)
	b.InnerContent[0] = html
	return b
}

// DefaultBlocks returns the placeholder shown in an empty region, or nil when
// no default variant is configured.
func DefaultBlocks(variant string) []*Block {
	if variant == "" {
		return nil
	}
	return []*Block{NewBlock(variant, nil, "")}
}

// InnerHTML concatenates the HTML chunks, skipping inner blocks.
func (b *Block) InnerHTML() string {
	return strings.Join(b.InnerContent, "")
}

// Clone deep-copies the block, keeping client ids.
func (b *Block) Clone() *Block {
	if b == nil {
		return nil
	}
	c := &Block{
		ClientID:     b.ClientID,
		Name:         b.Name,
		Attrs:        cloneAttrs(b.Attrs),
		InnerContent: append([]string(nil), b.InnerContent...),
	}
	for _, ib := range b.InnerBlocks {
		c.InnerBlocks = append(c.InnerBlocks, ib.Clone())
	}
	return c
}

// CloneBlocks deep-copies a block list.
func CloneBlocks(blocks []*Block) []*Block {
	if blocks == nil {
		return nil
	}
	out := make([]*Block, len(blocks))
	for i, b := range blocks {
		out[i] = b.Clone()
	}
	return out
}

// normalize restores the chunk invariant after hand-built or decoded blocks.
func (b *Block) normalize() {
	b.Name = normalizeName(b.Name)
	for len(b.InnerContent) < len(b.InnerBlocks)+1 {
		b.InnerContent = append(b.InnerContent, "")
	}
	if extra := len(b.InnerContent) - (len(b.InnerBlocks) + 1); extra > 0 {
		last := len(b.InnerBlocks)
		b.InnerContent[last] = strings.Join(b.InnerContent[last:], "")
		b.InnerContent = b.InnerContent[:last+1]
	}
	for _, ib := range b.InnerBlocks {
		ib.normalize()
	}
}

// Equivalent compares two block lists by variant, attributes, HTML and
// nesting. Client ids are ignored.
func Equivalent(a, b []*Block) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !blockEquivalent(a[i], b[i]) {
			return false
		}
	}
	return true
}

func blockEquivalent(a, b *Block) bool {
	if a.Name != b.Name || a.InnerHTML() != b.InnerHTML() {
		return false
	}
	if attrsJSON(a.Attrs) != attrsJSON(b.Attrs) {
		return false
	}
	return Equivalent(a.InnerBlocks, b.InnerBlocks)
}

// sameSlice reports reference identity of two block lists.
func sameSlice(a, b []*Block) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return (a == nil) == (b == nil)
	}
	return &a[0] == &b[0]
}

// Walk visits every block depth-first with its path.
func Walk(blocks []*Block, fn func(path NodePath, b *Block) bool) {
	walk(blocks, NodePath{}, fn)
}

func walk(blocks []*Block, parent NodePath, fn func(NodePath, *Block) bool) bool {
	for i, b := range blocks {
		p := append(append(NodePath(nil), parent...), i)
		if !fn(p, b) {
			return false
		}
		if !walk(b.InnerBlocks, p, fn) {
			return false
		}
	}
	return true
}

func normalizeName(name string) string {
	if name == "" || strings.Contains(name, "/") {
		return name
	}
	return "core/" + name
}

func cloneAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	// Round-trip through JSON so nested maps and slices are not shared.
	var out map[string]any
	if err := json.Unmarshal([]byte(attrsJSON(attrs)), &out); err != nil {
		out = make(map[string]any, len(attrs))
		for k, v := range attrs {
			out[k] = v
		}
	}
	return out
}
