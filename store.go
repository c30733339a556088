package contentarea

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// EntityStore is the host's record cache as seen by the editor.
type EntityStore interface {
	// EditedRecord returns the current edited record, or false when it is
	// not loaded yet.
	EditedRecord(ref EntityRef) (*Record, bool)
	// EditRecord stages a partial update and returns the revision that will
	// identify it once applied.
	EditRecord(ref EntityRef, edits Edits, hint WriteHint) uint64
	// CacheBlocks stores the parse of raw for key if raw is still current.
	CacheBlocks(ref EntityRef, key, raw string, blocks []*Block)
	// Checkpoint closes the current undo step.
	Checkpoint(ref EntityRef)
	// CanEdit reports whether the current viewer may update the record.
	CanEdit(ref EntityRef) bool
	// Subscribe registers fn for changes to ref and returns the cancel func.
	Subscribe(ref EntityRef, fn func(*Record)) func()
}

// Edits is a partial update of a record's meta fields. Blocks carries the
// parsed tree for a field so the store can cache it next to the raw value.
type Edits struct {
	Meta   map[string]string
	Blocks map[string][]*Block
}

// CachedTree is a parsed field value. Revision is the store revision of the
// last local edit applied to the field, 0 when the value only ever came from
// Receive. A parse of a loaded value never claims the revision of an edit
// that is still queued.
type CachedTree struct {
	Raw      string
	Blocks   []*Block
	Revision uint64
}

// Record is a snapshot of an entity's edited state.
type Record struct {
	Ref       EntityRef
	Revision  uint64
	Meta      map[string]string // edited values
	Published map[string]string // last saved values
	Protected bool
	trees     map[string]CachedTree
}

// CachedBlocks returns the cached parse of key when it matches the current
// raw value.
func (r *Record) CachedBlocks(key string) (CachedTree, bool) {
	if r == nil {
		return CachedTree{}, false
	}
	t, ok := r.trees[key]
	if !ok || t.Raw != r.Meta[key] {
		return CachedTree{}, false
	}
	return t, true
}

// RecordData is what the host loads from persistent storage.
type RecordData struct {
	Meta      map[string]string `yaml:"meta" json:"meta"`
	Protected bool              `yaml:"protected" json:"protected"`
	Editable  bool              `yaml:"editable" json:"editable"`
}

// Publisher persists the published state of a record on Save.
type Publisher interface {
	Publish(ref EntityRef, data RecordData) error
}

// ErrRecordNotFound is returned for operations on records never received.
var ErrRecordNotFound = errors.New("record not found")

type stagedEdit struct {
	ref    EntityRef
	key    string
	raw    string
	blocks []*Block
	seq    uint64
	hint   WriteHint
}

type undoLevel struct {
	forward map[string]*Delta
	reverse map[string]*Delta
}

type entity struct {
	record   Record
	loaded   bool
	editable bool
	dirty    map[string]bool
	applied  map[string]uint64 // revision of the last local edit per field
	baseline map[string][]*Block
	undo     []undoLevel
	redo     []undoLevel
}

// MemoryStore is an in-memory EntityStore. Coalescable edits queue until
// Flush; must-persist edits apply immediately and drop queued coalescable
// edits for the same field.
type MemoryStore struct {
	mu          sync.Mutex
	seq         uint64
	entities    map[EntityRef]*entity
	pending     []stagedEdit
	subscribers map[EntityRef]map[int]func(*Record)
	nextSub     int

	publisher Publisher
	logger    logrus.FieldLogger
	metrics   *Metrics
}

type StoreOption func(*MemoryStore)

func WithStoreLogger(l logrus.FieldLogger) StoreOption {
	return func(s *MemoryStore) { s.logger = l }
}

func WithStoreMetrics(m *Metrics) StoreOption {
	return func(s *MemoryStore) { s.metrics = m }
}

// WithPublisher writes every saved record through p.
func WithPublisher(p Publisher) StoreOption {
	return func(s *MemoryStore) { s.publisher = p }
}

func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		entities:    make(map[EntityRef]*entity),
		subscribers: make(map[EntityRef]map[int]func(*Record)),
		logger:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = metricsOrDefault(s.metrics)
	return s
}

// Receive loads or refreshes a record from persistent storage. Fields with
// unsaved local edits keep their edited value.
func (s *MemoryStore) Receive(ref EntityRef, data RecordData) {
	s.mu.Lock()
	e := s.entityLocked(ref)
	e.loaded = true
	e.editable = data.Editable
	e.record.Protected = data.Protected
	e.record.Published = copyMeta(data.Meta)
	for k, v := range data.Meta {
		if e.dirty[k] {
			continue
		}
		e.record.Meta[k] = v
	}
	s.seq++
	e.record.Revision = s.seq
	snap := e.snapshot()
	s.mu.Unlock()

	s.logger.WithField("action", "receive_record").
		WithField("post_id", ref.ID).
		Debug("record received")
	s.notify(ref, snap)
}

func (s *MemoryStore) EditedRecord(ref EntityRef) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[ref]
	if !ok || !e.loaded {
		return nil, false
	}
	return e.snapshot(), true
}

func (s *MemoryStore) EditRecord(ref EntityRef, edits Edits, hint WriteHint) uint64 {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	keys := make([]string, 0, len(edits.Meta))
	for k := range edits.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		s.metrics.StagedWrites.WithLabelValues(hint.String()).Inc()
		inherited := s.dropPendingLocked(ref, key)
		staged := stagedEdit{
			ref:    ref,
			key:    key,
			raw:    edits.Meta[key],
			blocks: edits.Blocks[key],
			seq:    seq,
			hint:   hint,
		}
		if inherited == MustPersist {
			staged.hint = MustPersist
		}
		s.pending = append(s.pending, staged)
	}

	var snap *Record
	if hint == MustPersist {
		if e, ok := s.entities[ref]; ok && e.loaded {
			s.applyPendingLocked(ref)
			s.checkpointLocked(e)
			snap = e.snapshot()
		}
	}
	s.mu.Unlock()

	s.logger.WithField("action", "edit_record").
		WithField("post_id", ref.ID).
		WithField("hint", hint.String()).
		WithField("fields", keys).
		Debug("edit staged")
	if snap != nil {
		s.notify(ref, snap)
	}
	return seq
}

// dropPendingLocked removes queued edits for (ref, key) and returns the
// strongest hint among them, so a later coalescable write replacing a
// must-persist one still closes an undo step on flush.
func (s *MemoryStore) dropPendingLocked(ref EntityRef, key string) WriteHint {
	hint := Coalescable
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.ref == ref && p.key == key {
			if p.hint == MustPersist {
				hint = MustPersist
			}
			s.metrics.DroppedWrites.Inc()
			continue
		}
		kept = append(kept, p)
	}
	s.pending = kept
	return hint
}

// Flush applies queued edits for loaded records in staging order and
// notifies subscribers once per record.
func (s *MemoryStore) Flush() {
	s.mu.Lock()
	refs := make(map[EntityRef]bool)
	for _, p := range s.pending {
		if e, ok := s.entities[p.ref]; ok && e.loaded {
			refs[p.ref] = true
		}
	}
	snaps := make(map[EntityRef]*Record, len(refs))
	for ref := range refs {
		e := s.entities[ref]
		if s.applyPendingLocked(ref) {
			s.checkpointLocked(e)
		}
		snaps[ref] = e.snapshot()
	}
	s.mu.Unlock()

	for ref, snap := range snaps {
		s.notify(ref, snap)
	}
}

// applyPendingLocked applies the queued edits of ref and reports whether any
// of them was must-persist.
func (s *MemoryStore) applyPendingLocked(ref EntityRef) bool {
	e := s.entities[ref]
	mustPersist := false
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.ref != ref {
			kept = append(kept, p)
			continue
		}
		if _, ok := e.baseline[p.key]; !ok {
			e.baseline[p.key] = e.treeLocked(p.key)
		}
		e.record.Meta[p.key] = p.raw
		e.dirty[p.key] = true
		e.applied[p.key] = p.seq
		if p.blocks != nil {
			e.record.trees[p.key] = CachedTree{Raw: p.raw, Blocks: p.blocks, Revision: p.seq}
		} else {
			delete(e.record.trees, p.key)
		}
		if p.seq > e.record.Revision {
			e.record.Revision = p.seq
		}
		if p.hint == MustPersist {
			mustPersist = true
		}
		e.redo = nil
	}
	s.pending = kept
	return mustPersist
}

// Pending returns the number of queued edits for ref.
func (s *MemoryStore) Pending(ref EntityRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.pending {
		if p.ref == ref {
			n++
		}
	}
	return n
}

func (s *MemoryStore) CacheBlocks(ref EntityRef, key, raw string, blocks []*Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[ref]
	if !ok || !e.loaded || e.record.Meta[key] != raw {
		return
	}
	if t, ok := e.record.trees[key]; ok && t.Raw == raw {
		return
	}
	e.record.trees[key] = CachedTree{Raw: raw, Blocks: blocks, Revision: e.applied[key]}
}

func (s *MemoryStore) Checkpoint(ref EntityRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entities[ref]; ok && e.loaded {
		s.checkpointLocked(e)
	}
}

// checkpointLocked turns the changes since the last checkpoint into one
// undo level. Nothing is recorded when the trees did not change.
func (s *MemoryStore) checkpointLocked(e *entity) {
	level := undoLevel{forward: map[string]*Delta{}, reverse: map[string]*Delta{}}
	for key, before := range e.baseline {
		after := e.treeLocked(key)
		forward := Diff(before, after, "checkpoint")
		if forward.Empty() {
			continue
		}
		level.forward[key] = forward
		level.reverse[key] = Diff(after, before, "undo")
	}
	e.baseline = make(map[string][]*Block)
	if len(level.forward) == 0 {
		return
	}
	e.undo = append(e.undo, level)
	s.metrics.Checkpoints.Inc()
}

// Undo reverts the most recent undo level.
func (s *MemoryStore) Undo(ref EntityRef) error {
	return s.step(ref, true)
}

// Redo re-applies the most recently undone level.
func (s *MemoryStore) Redo(ref EntityRef) error {
	return s.step(ref, false)
}

func (s *MemoryStore) step(ref EntityRef, undo bool) error {
	s.mu.Lock()
	e, ok := s.entities[ref]
	if !ok || !e.loaded {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrRecordNotFound, ref)
	}
	// Queued edits belong to the step being undone.
	if s.applyPendingLocked(ref) || len(e.baseline) > 0 {
		s.checkpointLocked(e)
	}
	from, to := &e.undo, &e.redo
	if !undo {
		from, to = &e.redo, &e.undo
	}
	if len(*from) == 0 {
		s.mu.Unlock()
		return nil
	}
	level := (*from)[len(*from)-1]
	*from = (*from)[:len(*from)-1]

	deltas := level.reverse
	if !undo {
		deltas = level.forward
	}
	s.seq++
	for key, delta := range deltas {
		patched, err := Patch(e.treeLocked(key), delta)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("apply undo level for %s: %w", key, err)
		}
		raw := Serialize(patched)
		e.record.Meta[key] = raw
		e.record.trees[key] = CachedTree{Raw: raw, Blocks: patched, Revision: s.seq}
		e.dirty[key] = true
		e.applied[key] = s.seq
	}
	e.record.Revision = s.seq
	*to = append(*to, level)
	snap := e.snapshot()
	s.mu.Unlock()

	s.notify(ref, snap)
	return nil
}

// Save publishes the edited meta values of ref.
func (s *MemoryStore) Save(ref EntityRef) error {
	s.Flush()
	s.mu.Lock()
	e, ok := s.entities[ref]
	if !ok || !e.loaded {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrRecordNotFound, ref)
	}
	for k := range e.dirty {
		e.record.Published[k] = e.record.Meta[k]
	}
	e.dirty = make(map[string]bool)
	s.seq++
	e.record.Revision = s.seq
	snap := e.snapshot()
	published := RecordData{
		Meta:      copyMeta(e.record.Published),
		Protected: e.record.Protected,
		Editable:  e.editable,
	}
	s.mu.Unlock()

	if s.publisher != nil {
		if err := s.publisher.Publish(ref, published); err != nil {
			return fmt.Errorf("publish %v: %w", ref, err)
		}
	}
	s.logger.WithField("action", "save_record").
		WithField("post_id", ref.ID).
		Info("record saved")
	s.notify(ref, snap)
	return nil
}

// PublishedMeta returns the saved value of key for the post with postID.
func (s *MemoryStore) PublishedMeta(_ context.Context, postID int64, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ref, e := range s.entities {
		if ref.ID != postID || !e.loaded {
			continue
		}
		v, ok := e.record.Published[key]
		return v, ok
	}
	return "", false
}

func (s *MemoryStore) CanEdit(ref EntityRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[ref]
	return ok && e.loaded && e.editable
}

func (s *MemoryStore) Subscribe(ref EntityRef, fn func(*Record)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribers[ref] == nil {
		s.subscribers[ref] = make(map[int]func(*Record))
	}
	id := s.nextSub
	s.nextSub++
	s.subscribers[ref][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers[ref], id)
	}
}

func (s *MemoryStore) notify(ref EntityRef, snap *Record) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.subscribers[ref]))
	for id := range s.subscribers[ref] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(*Record), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subscribers[ref][id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (s *MemoryStore) entityLocked(ref EntityRef) *entity {
	e, ok := s.entities[ref]
	if !ok {
		e = &entity{
			record: Record{
				Ref:       ref,
				Meta:      make(map[string]string),
				Published: make(map[string]string),
				trees:     make(map[string]CachedTree),
			},
			dirty:    make(map[string]bool),
			applied:  make(map[string]uint64),
			baseline: make(map[string][]*Block),
		}
		s.entities[ref] = e
	}
	return e
}

// treeLocked returns the current tree of key, parsing when nothing is cached.
// Unparseable markup counts as empty.
func (e *entity) treeLocked(key string) []*Block {
	if t, ok := e.record.CachedBlocks(key); ok {
		return t.Blocks
	}
	blocks, err := Parse(e.record.Meta[key])
	if err != nil {
		return nil
	}
	return blocks
}

func (e *entity) snapshot() *Record {
	r := e.record
	r.Meta = copyMeta(e.record.Meta)
	r.Published = copyMeta(e.record.Published)
	r.trees = make(map[string]CachedTree, len(e.record.trees))
	for k, v := range e.record.trees {
		r.trees[k] = v
	}
	return &r
}

func copyMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
