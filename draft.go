package contentarea

import (
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// draft is an unsaved edit of one field. revision is the store revision of
// the edit that carried it; math.MaxUint64 while the edit is being staged.
type draft struct {
	blocks   []*Block
	revision uint64
}

type placeholder struct {
	raw    string
	blocks []*Block
}

// DraftSync presents one "current blocks" value for a meta field of a
// record and funnels edits through a local draft that is dropped once the
// store reflects it.
type DraftSync struct {
	store          EntityStore
	ref            EntityRef
	defaultVariant string
	logger         logrus.FieldLogger
	metrics        *Metrics

	mu           sync.Mutex
	fieldKey     string
	drafts       map[string]*draft
	placeholders map[string]placeholder
	unsubscribe  func()
}

type DraftOption func(*DraftSync)

// WithDefaultVariant makes an empty field resolve to one placeholder block.
func WithDefaultVariant(variant string) DraftOption {
	return func(d *DraftSync) { d.defaultVariant = variant }
}

func WithDraftLogger(l logrus.FieldLogger) DraftOption {
	return func(d *DraftSync) { d.logger = l }
}

func WithDraftMetrics(m *Metrics) DraftOption {
	return func(d *DraftSync) { d.metrics = m }
}

// NewDraftSync binds to fieldKey of ref and subscribes to record changes.
func NewDraftSync(store EntityStore, ref EntityRef, fieldKey string, opts ...DraftOption) *DraftSync {
	d := &DraftSync{
		store:        store,
		ref:          ref,
		fieldKey:     fieldKey,
		drafts:       make(map[string]*draft),
		placeholders: make(map[string]placeholder),
		logger:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.metrics = metricsOrDefault(d.metrics)
	d.unsubscribe = store.Subscribe(ref, d.reconcile)
	return d
}

// FieldKey returns the bound meta field.
func (d *DraftSync) FieldKey() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fieldKey
}

// SetFieldKey rebinds to another field. Drafts stay keyed by their field, so
// nothing staged for the old key shows up under the new one.
func (d *DraftSync) SetFieldKey(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fieldKey = key
}

// HasLocalDraft reports whether an unreconciled edit exists for the bound
// field.
func (d *DraftSync) HasLocalDraft() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.drafts[d.fieldKey]
	return ok
}

// Blocks resolves the current blocks: the local draft, then the store's
// cached parse, then a fresh parse of the stored string (cached back into
// the store), then the empty sequence.
func (d *DraftSync) Blocks() []*Block {
	d.mu.Lock()
	key := d.fieldKey
	if dr, ok := d.drafts[key]; ok {
		d.mu.Unlock()
		return dr.blocks
	}
	d.mu.Unlock()

	if key == "" {
		return nil
	}
	rec, ok := d.store.EditedRecord(d.ref)
	if !ok {
		return nil
	}
	if t, ok := rec.CachedBlocks(key); ok {
		if len(t.Blocks) > 0 {
			return t.Blocks
		}
		return d.placeholder(key, t.Raw)
	}

	raw := rec.Meta[key]
	blocks, err := Parse(raw)
	if err != nil {
		d.metrics.ParseFailures.Inc()
		d.logger.WithField("action", "parse_meta_blocks").
			WithField("post_id", d.ref.ID).
			WithField("field", key).
			WithError(err).
			Warn("stored block markup is malformed, treating as empty")
		blocks = nil
	}
	if len(blocks) > 0 {
		d.store.CacheBlocks(d.ref, key, raw, blocks)
		return blocks
	}
	return d.placeholder(key, raw)
}

// placeholder keeps the default block stable across calls for the same raw
// value. It is never written to the store.
func (d *DraftSync) placeholder(key, raw string) []*Block {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.placeholders[key]; ok && p.raw == raw {
		return p.blocks
	}
	blocks := DefaultBlocks(d.defaultVariant)
	d.placeholders[key] = placeholder{raw: raw, blocks: blocks}
	return blocks
}

// OnInput records an incremental edit. The draft is visible immediately and
// the serialized value is staged as a coalescable write.
func (d *DraftSync) OnInput(blocks []*Block) {
	d.stage(blocks, Coalescable)
}

// OnChange records a committed edit. Passing the currently resolved slice is
// not a change: it only closes an undo step.
func (d *DraftSync) OnChange(blocks []*Block) {
	if sameSlice(blocks, d.Blocks()) {
		d.store.Checkpoint(d.ref)
		d.logger.WithField("action", "draft_checkpoint").
			WithField("post_id", d.ref.ID).
			WithField("field", d.FieldKey()).
			Debug("unchanged blocks committed, checkpoint only")
		return
	}
	d.stage(blocks, MustPersist)
}

func (d *DraftSync) stage(blocks []*Block, hint WriteHint) {
	d.mu.Lock()
	key := d.fieldKey
	if key == "" {
		d.mu.Unlock()
		d.logger.WithField("action", "draft_stage").
			WithField("post_id", d.ref.ID).
			Debug("no meta key bound, edit ignored")
		return
	}
	dr := &draft{blocks: blocks, revision: math.MaxUint64}
	d.drafts[key] = dr
	d.mu.Unlock()

	// A cleared area still caches an empty tree so the draft can reconcile.
	tree := blocks
	if tree == nil {
		tree = []*Block{}
	}
	rev := d.store.EditRecord(d.ref, Edits{
		Meta:   map[string]string{key: Serialize(blocks)},
		Blocks: map[string][]*Block{key: tree},
	}, hint)

	d.mu.Lock()
	if d.drafts[key] == dr {
		dr.revision = rev
	}
	d.mu.Unlock()

	// The store may already have applied the edit.
	if rec, ok := d.store.EditedRecord(d.ref); ok {
		d.reconcile(rec)
	}
}

// reconcile drops drafts whose field the store has caught up with: the
// cached tree is present, was produced by the draft's edit or a later one,
// and is non-empty unless the draft itself was empty.
func (d *DraftSync) reconcile(rec *Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, dr := range d.drafts {
		t, ok := rec.CachedBlocks(key)
		if !ok || t.Revision < dr.revision {
			continue
		}
		if len(t.Blocks) == 0 && len(dr.blocks) > 0 {
			continue
		}
		delete(d.drafts, key)
		d.metrics.Reconciliations.Inc()
		d.logger.WithField("action", "draft_reconcile").
			WithField("post_id", d.ref.ID).
			WithField("field", key).
			WithField("revision", t.Revision).
			Debug("store caught up, local draft cleared")
	}
}

// Close unsubscribes and drops local drafts. Staged writes are kept.
func (d *DraftSync) Close() {
	d.mu.Lock()
	unsubscribe := d.unsubscribe
	d.unsubscribe = nil
	d.drafts = make(map[string]*draft)
	d.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}
