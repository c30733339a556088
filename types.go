package contentarea

// NodePath represents the traversal steps from a block list to a target block.
// Example: [0, 1, 3] means blocks[0] -> InnerBlocks[1] -> InnerBlocks[3]
type NodePath []int

type OpType string

const (
	OpInsertBlock  OpType = "INSERT_BLOCK"  // Insert a new block
	OpDeleteBlock  OpType = "DELETE_BLOCK"  // Remove a block
	OpReplaceBlock OpType = "REPLACE_BLOCK" // Variant changed, swap the whole block
	OpUpdateAttr   OpType = "UPDATE_ATTR"   // Change/Add/Remove an attribute
	OpUpdateHTML   OpType = "UPDATE_HTML"   // Replace one inner HTML chunk
)

// Operation represents an atomic change to a block tree.
type Operation struct {
	Type      OpType   `json:"type"`
	Path      NodePath `json:"path"`
	Key       string   `json:"key,omitempty"`        // For attributes (name of the attribute)
	OldValue  string   `json:"old_value,omitempty"`  // Previous value, JSON for attributes
	NewValue  string   `json:"new_value,omitempty"`  // New value, JSON for attributes. Empty removes.
	BlockData string   `json:"block_data,omitempty"` // For Insert/Replace: the block as JSON
	Position  int      `json:"position,omitempty"`   // For InsertBlock: child index. For UpdateHTML: chunk index.
}

// Delta represents a set of changes applied to a base block tree.
type Delta struct {
	BaseHash   string      `json:"base_hash"` // Hash of the serialized base tree
	Operations []Operation `json:"operations"`
	Timestamp  int64       `json:"timestamp"`
	Author     string      `json:"author"`
}

// Empty reports whether applying the delta would change nothing.
func (d *Delta) Empty() bool {
	return d == nil || len(d.Operations) == 0
}

// EntityRef addresses one record in the host entity store,
// e.g. {Kind: "postType", Name: "post", ID: 42}.
type EntityRef struct {
	Kind string `yaml:"kind" json:"kind"`
	Name string `yaml:"name" json:"name"`
	ID   int64  `yaml:"id" json:"id"`
}

// Valid reports whether the reference can resolve to a record.
func (r EntityRef) Valid() bool {
	return r.Kind != "" && r.Name != "" && r.ID > 0
}

// WriteHint tells the host how a staged edit may be treated before flush.
type WriteHint int

const (
	// Coalescable writes may be merged with or dropped in favor of a later
	// write to the same field.
	Coalescable WriteHint = iota
	// MustPersist writes survive to the next flush and supersede queued
	// coalescable writes for the same field.
	MustPersist
)

func (h WriteHint) String() string {
	if h == MustPersist {
		return "must_persist"
	}
	return "coalescable"
}
