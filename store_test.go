package contentarea

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func editOf(key string, blocks []*Block) Edits {
	return Edits{
		Meta:   map[string]string{key: Serialize(blocks)},
		Blocks: map[string][]*Block{key: blocks},
	}
}

func TestStoreCoalescesQueuedWrites(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	store := NewMemoryStore(WithStoreLogger(quietLogger()), WithStoreMetrics(metrics))
	store.Receive(testRef, RecordData{Meta: map[string]string{"body": ""}, Editable: true})

	first := store.EditRecord(testRef, editOf("body", paragraphs("a")), Coalescable)
	second := store.EditRecord(testRef, editOf("body", paragraphs("ab")), Coalescable)
	assert.Greater(t, second, first)
	assert.Equal(t, 1, store.Pending(testRef))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DroppedWrites))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.StagedWrites.WithLabelValues("coalescable")))

	rec, _ := store.EditedRecord(testRef)
	assert.Equal(t, "", rec.Meta["body"], "queued writes are not visible before flush")

	store.Flush()
	rec, _ = store.EditedRecord(testRef)
	assert.Equal(t, Serialize(paragraphs("ab")), rec.Meta["body"])
	tree, ok := rec.CachedBlocks("body")
	require.True(t, ok)
	assert.Equal(t, second, tree.Revision)
}

func TestStoreMustPersistSupersedesQueuedWrites(t *testing.T) {
	store := newTestStore(t, map[string]string{"body": "", "title": ""})

	store.EditRecord(testRef, editOf("title", paragraphs("t")), Coalescable)
	store.EditRecord(testRef, editOf("body", paragraphs("typing")), Coalescable)
	store.EditRecord(testRef, editOf("body", paragraphs("committed")), MustPersist)

	// Writes of other fields of the same record are applied along with it.
	assert.Equal(t, 0, store.Pending(testRef))
	rec, _ := store.EditedRecord(testRef)
	assert.Equal(t, Serialize(paragraphs("committed")), rec.Meta["body"])
	assert.Equal(t, Serialize(paragraphs("t")), rec.Meta["title"])
}

func TestStoreQueuedWriteInheritsMustPersist(t *testing.T) {
	store := NewMemoryStore(WithStoreLogger(quietLogger()))
	store.EditRecord(testRef, editOf("body", paragraphs("one")), MustPersist)
	store.EditRecord(testRef, editOf("body", paragraphs("two")), Coalescable)
	assert.Equal(t, 1, store.Pending(testRef))

	store.Receive(testRef, RecordData{Meta: map[string]string{"body": ""}, Editable: true})
	store.Flush()

	// The flushed write closed an undo step.
	require.NoError(t, store.Undo(testRef))
	rec, _ := store.EditedRecord(testRef)
	assert.Equal(t, "", rec.Meta["body"])
}

func TestStoreUndoRedo(t *testing.T) {
	original := Serialize(paragraphs("one"))
	store := newTestStore(t, map[string]string{"body": original})

	store.EditRecord(testRef, editOf("body", paragraphs("two")), MustPersist)
	store.EditRecord(testRef, editOf("body", paragraphs("two", "three")), MustPersist)

	require.NoError(t, store.Undo(testRef))
	rec, _ := store.EditedRecord(testRef)
	assert.Equal(t, Serialize(paragraphs("two")), rec.Meta["body"])

	require.NoError(t, store.Undo(testRef))
	rec, _ = store.EditedRecord(testRef)
	assert.Equal(t, original, rec.Meta["body"])

	// Nothing left to undo.
	require.NoError(t, store.Undo(testRef))

	require.NoError(t, store.Redo(testRef))
	rec, _ = store.EditedRecord(testRef)
	assert.Equal(t, Serialize(paragraphs("two")), rec.Meta["body"])
	tree, ok := rec.CachedBlocks("body")
	require.True(t, ok)
	assert.Equal(t, rec.Revision, tree.Revision)
}

func TestStoreUndoIncludesQueuedWrites(t *testing.T) {
	original := Serialize(paragraphs("one"))
	store := newTestStore(t, map[string]string{"body": original})

	store.EditRecord(testRef, editOf("body", paragraphs("typed")), Coalescable)
	require.NoError(t, store.Undo(testRef))

	rec, _ := store.EditedRecord(testRef)
	assert.Equal(t, original, rec.Meta["body"])
	assert.Equal(t, 0, store.Pending(testRef))
}

func TestStoreNewEditClearsRedo(t *testing.T) {
	store := newTestStore(t, map[string]string{"body": ""})
	store.EditRecord(testRef, editOf("body", paragraphs("one")), MustPersist)
	require.NoError(t, store.Undo(testRef))

	store.EditRecord(testRef, editOf("body", paragraphs("other")), MustPersist)
	require.NoError(t, store.Redo(testRef))
	rec, _ := store.EditedRecord(testRef)
	assert.Equal(t, Serialize(paragraphs("other")), rec.Meta["body"])
}

func TestStoreCheckpointWithoutChangesRecordsNothing(t *testing.T) {
	metrics := NewMetrics(nil)
	store := NewMemoryStore(WithStoreLogger(quietLogger()), WithStoreMetrics(metrics))
	store.Receive(testRef, RecordData{Meta: map[string]string{"body": ""}, Editable: true})

	store.Checkpoint(testRef)
	store.Checkpoint(testRef)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Checkpoints))
}

func TestStoreUnknownRecord(t *testing.T) {
	store := NewMemoryStore(WithStoreLogger(quietLogger()))
	_, ok := store.EditedRecord(testRef)
	assert.False(t, ok)
	assert.False(t, store.CanEdit(testRef))
	assert.ErrorIs(t, store.Undo(testRef), ErrRecordNotFound)
	assert.ErrorIs(t, store.Save(testRef), ErrRecordNotFound)
}

func TestStoreSavePublishes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, map[string]string{"body": "old"})

	store.EditRecord(testRef, editOf("body", paragraphs("new")), Coalescable)
	published, ok := store.PublishedMeta(ctx, testRef.ID, "body")
	require.True(t, ok)
	assert.Equal(t, "old", published)

	require.NoError(t, store.Save(testRef))
	published, _ = store.PublishedMeta(ctx, testRef.ID, "body")
	assert.Equal(t, Serialize(paragraphs("new")), published)

	_, ok = store.PublishedMeta(ctx, testRef.ID, "missing")
	assert.False(t, ok)
	_, ok = store.PublishedMeta(ctx, 999, "body")
	assert.False(t, ok)
}

func TestStoreReceiveKeepsUnsavedEdits(t *testing.T) {
	store := newTestStore(t, map[string]string{"body": "old", "title": "a"})
	store.EditRecord(testRef, editOf("body", paragraphs("edited")), MustPersist)

	store.Receive(testRef, RecordData{Meta: map[string]string{"body": "remote", "title": "b"}, Editable: true})
	rec, _ := store.EditedRecord(testRef)
	assert.Equal(t, Serialize(paragraphs("edited")), rec.Meta["body"])
	assert.Equal(t, "b", rec.Meta["title"])
	assert.Equal(t, "remote", rec.Published["body"])
}

func TestStoreCacheBlocksIgnoresStaleRaw(t *testing.T) {
	store := newTestStore(t, map[string]string{"body": "current"})
	store.CacheBlocks(testRef, "body", "stale", paragraphs("x"))
	rec, _ := store.EditedRecord(testRef)
	_, ok := rec.CachedBlocks("body")
	assert.False(t, ok)

	blocks := paragraphs("current")
	store.CacheBlocks(testRef, "body", "current", blocks)
	rec, _ = store.EditedRecord(testRef)
	tree, ok := rec.CachedBlocks("body")
	require.True(t, ok)
	assert.Same(t, blocks[0], tree.Blocks[0])
	assert.Zero(t, tree.Revision, "no local edit produced this value")
}

func TestStoreCacheBlocksCarriesAppliedEditRevision(t *testing.T) {
	store := newTestStore(t, map[string]string{"body": ""})
	rev := store.EditRecord(testRef, Edits{Meta: map[string]string{"body": helloMarkup}}, MustPersist)

	// A later refresh raises the record revision but not the field's.
	store.Receive(testRef, RecordData{Meta: map[string]string{"title": "x"}, Editable: true})
	store.CacheBlocks(testRef, "body", helloMarkup, mustParse(t, helloMarkup))

	rec, _ := store.EditedRecord(testRef)
	tree, ok := rec.CachedBlocks("body")
	require.True(t, ok)
	assert.Equal(t, rev, tree.Revision)
	assert.Greater(t, rec.Revision, tree.Revision)
}

func TestStoreSubscribe(t *testing.T) {
	store := newTestStore(t, map[string]string{"body": ""})
	var seen []uint64
	cancel := store.Subscribe(testRef, func(rec *Record) {
		seen = append(seen, rec.Revision)
	})

	rev := store.EditRecord(testRef, editOf("body", paragraphs("a")), MustPersist)
	assert.Equal(t, []uint64{rev}, seen)

	// Queued writes notify on flush.
	store.EditRecord(testRef, editOf("body", paragraphs("b")), Coalescable)
	assert.Len(t, seen, 1)
	store.Flush()
	assert.Len(t, seen, 2)

	cancel()
	store.EditRecord(testRef, editOf("body", paragraphs("c")), MustPersist)
	assert.Len(t, seen, 2)
}

func TestStoreSnapshotsAreIsolated(t *testing.T) {
	store := newTestStore(t, map[string]string{"body": "a"})
	rec, _ := store.EditedRecord(testRef)
	rec.Meta["body"] = "mutated"

	again, _ := store.EditedRecord(testRef)
	assert.Equal(t, "a", again.Meta["body"])
}

func TestStoreUndoRedoFreeform(t *testing.T) {
	store := newTestStore(t, map[string]string{"body": ""})
	d := newTestDraft(store, "body")
	defer d.Close()

	p := paragraphs("p")
	d.OnChange(p)
	withSpace := append(append([]*Block(nil), p...), NewBlock(FreeformVariant, nil, "  "))
	d.OnChange(withSpace)

	require.NoError(t, store.Undo(testRef))
	rec, _ := store.EditedRecord(testRef)
	assert.Equal(t, Serialize(p), rec.Meta["body"])

	require.NoError(t, store.Redo(testRef))
	rec, _ = store.EditedRecord(testRef)
	assert.Equal(t, Serialize(withSpace), rec.Meta["body"])
	tree, ok := rec.CachedBlocks("body")
	require.True(t, ok)
	require.Len(t, tree.Blocks, 2)
	assert.Equal(t, FreeformVariant, tree.Blocks[1].Name)
	assert.Equal(t, "  ", tree.Blocks[1].InnerHTML())
}
