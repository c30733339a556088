package contentarea

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Diff calculates the operations needed to transform 'oldBlocks' into 'newBlocks'.
// Paths in the operations refer to the old tree. Deletions are emitted from
// the end of a list so earlier indices stay valid while patching.
func Diff(oldBlocks, newBlocks []*Block, author string) *Delta {
	return &Delta{
		BaseHash:   hashString(Serialize(oldBlocks)),
		Operations: diffChildren(oldBlocks, newBlocks, NodePath{}),
		Timestamp:  time.Now().Unix(),
		Author:     author,
	}
}

func hashString(s string) string {
	h := sha256.New()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

// encodeBlock carries a block as JSON rather than markup: loose HTML does not
// survive a markup round trip byte for byte.
func encodeBlock(b *Block) string {
	data, err := json.Marshal(b)
	if err != nil {
		return ""
	}
	return string(data)
}

// HashBlocks fingerprints a block list by its serialized form.
func HashBlocks(blocks []*Block) string {
	return hashString(Serialize(blocks))
}

// diffBlocks compares two blocks at the same position.
func diffBlocks(oldBlock, newBlock *Block, path NodePath) []Operation {
	// A variant change, or a change in the number of inner blocks, replaces
	// the whole block: chunk positions are not comparable anymore.
	if oldBlock.Name != newBlock.Name || len(oldBlock.InnerBlocks) != len(newBlock.InnerBlocks) {
		return []Operation{{
			Type:      OpReplaceBlock,
			Path:      path,
			OldValue:  oldBlock.Name,
			BlockData: encodeBlock(newBlock),
		}}
	}

	ops := diffAttributes(oldBlock, newBlock, path)

	oldChunks, newChunks := chunks(oldBlock), chunks(newBlock)
	for i := range newChunks {
		if oldChunks[i] != newChunks[i] {
			ops = append(ops, Operation{
				Type:     OpUpdateHTML,
				Path:     path,
				Position: i,
				OldValue: oldChunks[i],
				NewValue: newChunks[i],
			})
		}
	}

	return append(ops, diffChildren(oldBlock.InnerBlocks, newBlock.InnerBlocks, path)...)
}

// chunks returns exactly len(InnerBlocks)+1 chunks.
func chunks(b *Block) []string {
	out := make([]string, len(b.InnerBlocks)+1)
	copy(out, b.InnerContent)
	if extra := len(b.InnerContent) - len(out); extra > 0 {
		for _, c := range b.InnerContent[len(out):] {
			out[len(out)-1] += c
		}
	}
	return out
}

func diffAttributes(oldBlock, newBlock *Block, path NodePath) []Operation {
	var ops []Operation
	oldAttrs := encodeAttrValues(oldBlock.Attrs)
	newAttrs := encodeAttrValues(newBlock.Attrs)

	// Updates and removals. An empty NewValue removes the attribute; an
	// encoded value is never empty.
	for k, vOld := range oldAttrs {
		vNew, exists := newAttrs[k]
		if !exists || vOld != vNew {
			ops = append(ops, Operation{
				Type:     OpUpdateAttr,
				Path:     path,
				Key:      k,
				OldValue: vOld,
				NewValue: vNew,
			})
		}
	}

	// Additions
	for k, vNew := range newAttrs {
		if _, exists := oldAttrs[k]; !exists {
			ops = append(ops, Operation{
				Type:     OpUpdateAttr,
				Path:     path,
				Key:      k,
				NewValue: vNew,
			})
		}
	}

	return ops
}

func encodeAttrValues(attrs map[string]any) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		data, err := json.Marshal(v)
		if err != nil {
			continue
		}
		out[k] = string(data)
	}
	return out
}

// diffChildren compares lists of blocks by index.
// This is NOT robust for reordering or inserting in the middle,
// as it will detect everything after as changed.
func diffChildren(oldChildren, newChildren []*Block, parentPath NodePath) []Operation {
	var ops []Operation

	commonLen := len(oldChildren)
	if len(newChildren) < commonLen {
		commonLen = len(newChildren)
	}

	for i := 0; i < commonLen; i++ {
		childPath := append(NodePath(nil), parentPath...)
		childPath = append(childPath, i)
		ops = append(ops, diffBlocks(oldChildren[i], newChildren[i], childPath)...)
	}

	// Delete from the end so shifting indices do not affect later deletions.
	for i := len(oldChildren) - 1; i >= commonLen; i-- {
		ops = append(ops, Operation{
			Type: OpDeleteBlock,
			Path: append(append(NodePath(nil), parentPath...), i),
		})
	}

	for i := commonLen; i < len(newChildren); i++ {
		ops = append(ops, Operation{
			Type:      OpInsertBlock,
			Path:      parentPath, // Insert into parent
			Position:  i,
			BlockData: encodeBlock(newChildren[i]),
		})
	}

	return ops
}
