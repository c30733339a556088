package contentarea

import "encoding/json"

// BlockAttributes are the settings of one content area block instance.
type BlockAttributes struct {
	MetaKey string            `yaml:"meta_key" json:"metaKey"`
	Filter  BlockFilterConfig `yaml:"filter" json:"filter"`
	// PostID pins the area to a post; 0 uses the surrounding post.
	PostID int64 `yaml:"post_id,omitempty" json:"postId,omitempty"`
}

// AttributesFromBlock reads content area settings from a parsed block:
// metaKey, allowedBlocks, disallowedBlocks, filterMode and postId.
func AttributesFromBlock(b *Block) BlockAttributes {
	var attrs BlockAttributes
	if b == nil {
		return attrs
	}
	attrs.MetaKey, _ = b.Attrs["metaKey"].(string)
	if mode, ok := b.Attrs["filterMode"].(string); ok {
		attrs.Filter.Mode = FilterMode(mode)
	}
	attrs.Filter.Allowed = stringList(b.Attrs["allowedBlocks"])
	attrs.Filter.Disallowed = stringList(b.Attrs["disallowedBlocks"])
	attrs.PostID = postID(b.Attrs["postId"])
	return attrs
}

// postID accepts ids decoded from markup (float64) as well as ids set in
// code.
func postID(v any) int64 {
	switch id := v.(type) {
	case float64:
		return int64(id)
	case int64:
		return id
	case int:
		return int64(id)
	case int32:
		return int64(id)
	case json.Number:
		n, err := id.Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// ToBlock builds a content area block carrying the attributes.
func (a BlockAttributes) ToBlock() *Block {
	attrs := map[string]any{}
	if a.MetaKey != "" {
		attrs["metaKey"] = a.MetaKey
	}
	if a.Filter.Mode != "" {
		attrs["filterMode"] = string(a.Filter.Mode)
	}
	if len(a.Filter.Allowed) > 0 {
		attrs["allowedBlocks"] = a.Filter.Allowed
	}
	if len(a.Filter.Disallowed) > 0 {
		attrs["disallowedBlocks"] = a.Filter.Disallowed
	}
	if a.PostID > 0 {
		attrs["postId"] = a.PostID
	}
	return NewBlock(ContentAreaVariant, attrs, "")
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
