package contentarea

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBaseHashMismatch is returned when a delta is applied to a tree it was
// not computed against.
var ErrBaseHashMismatch = errors.New("base hash mismatch")

// Patch applies the changes in 'delta' to a copy of 'blocks'.
func Patch(blocks []*Block, delta *Delta) ([]*Block, error) {
	if currentHash := HashBlocks(blocks); currentHash != delta.BaseHash {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrBaseHashMismatch, delta.BaseHash, currentHash)
	}

	// A synthetic root lets top-level and nested edits share one code path.
	root := &Block{InnerBlocks: CloneBlocks(blocks)}
	root.normalize()

	for i, op := range delta.Operations {
		if err := applyOp(root, op); err != nil {
			return nil, fmt.Errorf("failed to apply op %d (%s): %w", i, op.Type, err)
		}
	}
	return root.InnerBlocks, nil
}

func applyOp(root *Block, op Operation) error {
	switch op.Type {
	case OpUpdateHTML:
		b, err := GetBlock(root.InnerBlocks, op.Path)
		if err != nil {
			return err
		}
		if op.Position < 0 || op.Position >= len(b.InnerContent) {
			return fmt.Errorf("chunk %d out of range for %s", op.Position, b.Name)
		}
		if b.InnerContent[op.Position] != op.OldValue {
			return fmt.Errorf("UPDATE_HTML old value mismatch: want '%s', got '%s'", op.OldValue, b.InnerContent[op.Position])
		}
		b.InnerContent[op.Position] = op.NewValue

	case OpUpdateAttr:
		b, err := GetBlock(root.InnerBlocks, op.Path)
		if err != nil {
			return err
		}
		if op.NewValue == "" {
			delete(b.Attrs, op.Key)
			return nil
		}
		var v any
		if err := json.Unmarshal([]byte(op.NewValue), &v); err != nil {
			return fmt.Errorf("attribute %s: %w", op.Key, err)
		}
		if b.Attrs == nil {
			b.Attrs = make(map[string]any)
		}
		b.Attrs[op.Key] = v

	case OpInsertBlock:
		parent, err := parentAt(root, op.Path)
		if err != nil {
			return err
		}
		nb, err := decodeBlock(op.BlockData)
		if err != nil {
			return err
		}
		insertChildAt(parent, nb, op.Position)

	case OpDeleteBlock:
		if len(op.Path) == 0 {
			return errors.New("cannot delete root")
		}
		parent, err := parentAt(root, op.Path[:len(op.Path)-1])
		if err != nil {
			return err
		}
		removeChildAt(parent, op.Path[len(op.Path)-1])

	case OpReplaceBlock:
		b, err := GetBlock(root.InnerBlocks, op.Path)
		if err != nil {
			return err
		}
		nb, err := decodeBlock(op.BlockData)
		if err != nil {
			return err
		}
		// Keep the identity of the replaced block.
		nb.ClientID = b.ClientID
		*b = *nb

	default:
		return fmt.Errorf("unknown operation type: %s", op.Type)
	}

	return nil
}

func parentAt(root *Block, path NodePath) (*Block, error) {
	if len(path) == 0 {
		return root, nil
	}
	return GetBlock(root.InnerBlocks, path)
}

func decodeBlock(data string) (*Block, error) {
	if data == "" {
		return nil, errors.New("block data is empty")
	}
	var b Block
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, fmt.Errorf("failed to decode block data: %w", err)
	}
	b.normalize()
	return &b, nil
}

// insertChildAt places child at index and opens an empty chunk after it.
func insertChildAt(parent, child *Block, index int) {
	if index < 0 || index > len(parent.InnerBlocks) {
		index = len(parent.InnerBlocks)
	}
	parent.InnerBlocks = append(parent.InnerBlocks, nil)
	copy(parent.InnerBlocks[index+1:], parent.InnerBlocks[index:])
	parent.InnerBlocks[index] = child

	parent.InnerContent = append(parent.InnerContent, "")
	copy(parent.InnerContent[index+2:], parent.InnerContent[index+1:])
	parent.InnerContent[index+1] = ""
}

// removeChildAt drops the child and joins the chunks that surrounded it.
func removeChildAt(parent *Block, index int) {
	if index < 0 || index >= len(parent.InnerBlocks) {
		return
	}
	parent.InnerBlocks = append(parent.InnerBlocks[:index], parent.InnerBlocks[index+1:]...)
	parent.InnerContent[index] += parent.InnerContent[index+1]
	parent.InnerContent = append(parent.InnerContent[:index+1], parent.InnerContent[index+2:]...)
}
