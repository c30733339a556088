package contentarea

// RenderScope records which (variant, identity) pairs were rendered along the
// current ancestor path. Scopes are immutable: Descend links a new node to
// its parent, so siblings share their ancestors but never see each other.
//
// A nil *RenderScope is the empty root scope. Identities are post ids.
type RenderScope struct {
	parent  *RenderScope
	variant string
	id      int64
	depth   int
}

// HasRendered reports whether id was already rendered under variant on the
// path leading to this scope.
func (s *RenderScope) HasRendered(variant string, id int64) bool {
	for n := s; n != nil; n = n.parent {
		if n.variant == variant && n.id == id {
			return true
		}
	}
	return false
}

// Descend returns the scope for the children of the (variant, id) block. The
// receiver is left untouched.
func (s *RenderScope) Descend(variant string, id int64) *RenderScope {
	return &RenderScope{parent: s, variant: variant, id: id, depth: s.Depth() + 1}
}

// Guard checks and descends in one step. ok is false when the pair is
// already on the path, in which case the caller renders a recursion marker
// and the returned scope is the receiver.
func (s *RenderScope) Guard(variant string, id int64) (child *RenderScope, ok bool) {
	if s.HasRendered(variant, id) {
		return s, false
	}
	return s.Descend(variant, id), true
}

// Depth is the number of recursable blocks on the path.
func (s *RenderScope) Depth() int {
	if s == nil {
		return 0
	}
	return s.depth
}

// Rendered flattens the scope into variant -> identities, nearest last.
func (s *RenderScope) Rendered() map[string][]int64 {
	out := make(map[string][]int64)
	var chain []*RenderScope
	for n := s; n != nil; n = n.parent {
		chain = append(chain, n)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		out[chain[i].variant] = append(out[chain[i].variant], chain[i].id)
	}
	return out
}

// IdentityFunc returns the recursion identity of a block, or false when the
// block cannot embed itself.
type IdentityFunc func(b *Block) (int64, bool)

// GuardVisit is called for every block during GuardTree. halted is true when
// the block would re-enter itself; its children are not visited.
type GuardVisit func(path NodePath, b *Block, scope *RenderScope, halted bool)

// GuardTree walks blocks depth-first, threading a scope through every
// recursable block so repeated (variant, identity) pairs on one path are
// halted while sibling paths render normally.
func GuardTree(blocks []*Block, scope *RenderScope, identity IdentityFunc, visit GuardVisit) {
	guardTree(blocks, NodePath{}, scope, identity, visit)
}

func guardTree(blocks []*Block, parent NodePath, scope *RenderScope, identity IdentityFunc, visit GuardVisit) {
	for i, b := range blocks {
		path := append(append(NodePath(nil), parent...), i)
		childScope := scope
		if id, ok := identity(b); ok {
			var fresh bool
			childScope, fresh = scope.Guard(b.Name, id)
			if !fresh {
				visit(path, b, scope, true)
				continue
			}
		}
		visit(path, b, childScope, false)
		guardTree(b.InnerBlocks, path, childScope, identity, visit)
	}
}
