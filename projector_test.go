package contentarea

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var editor = User{ID: 1, Capabilities: []string{"edit_posts"}}

func newTestProjector(t *testing.T, data RecordData, opts ...ProjectorOption) (*ContentProjector, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(WithStoreLogger(quietLogger()))
	store.Receive(testRef, data)
	renderer := newTestRenderer(store)
	opts = append([]ProjectorOption{
		WithProjectorLogger(quietLogger()),
		WithKnownVariants([]string{"core/paragraph", "core/heading", "core/image"}),
	}, opts...)
	return NewContentProjector(store, renderer, opts...), store
}

func TestProjectPlaceholders(t *testing.T) {
	p, _ := newTestProjector(t, RecordData{Meta: map[string]string{}, Editable: true})
	ctx := context.Background()

	proj := p.Project(ctx, nil, BlockContext{}, BlockAttributes{MetaKey: "body"})
	assert.Equal(t, ModePlaceholder, proj.Mode)
	assert.Equal(t, "Post Content from meta_key: body", proj.Message)

	proj = p.Project(ctx, nil, BlockContext{Ref: testRef}, BlockAttributes{})
	assert.Equal(t, ModePlaceholder, proj.Mode)
	assert.Equal(t, "Set a meta key to pull blocks from.", proj.Message)
	assert.True(t, proj.Scope.HasRendered(ContentAreaVariant, testRef.ID))
}

func TestProjectUnloadedRecord(t *testing.T) {
	store := NewMemoryStore(WithStoreLogger(quietLogger()))
	p := NewContentProjector(store, newTestRenderer(store), WithProjectorLogger(quietLogger()))

	proj := p.Project(context.Background(), nil, BlockContext{Ref: testRef}, BlockAttributes{MetaKey: "body"})
	assert.Equal(t, ModePlaceholder, proj.Mode)
	assert.Equal(t, "Post Content from meta_key: body", proj.Message)
}

func TestProjectRecursion(t *testing.T) {
	metrics := NewMetrics(nil)
	p, _ := newTestProjector(t, RecordData{Meta: map[string]string{"body": ""}, Editable: true},
		WithProjectorMetrics(metrics))
	scope := (*RenderScope)(nil).Descend(ContentAreaVariant, testRef.ID)

	proj := p.Project(context.Background(), scope, BlockContext{Ref: testRef}, BlockAttributes{MetaKey: "body"})
	assert.Equal(t, ModeRecursion, proj.Mode)
	assert.Equal(t, "Block cannot be rendered inside itself.", proj.Message)
	assert.Nil(t, proj.Draft)
	assert.Same(t, scope, proj.Scope)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RecursionHalts.WithLabelValues("editor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Projections.WithLabelValues("recursion")))
}

func TestProjectEditable(t *testing.T) {
	p, store := newTestProjector(t, RecordData{Meta: map[string]string{"body": ""}, Editable: true})
	attrs := BlockAttributes{
		MetaKey: "body",
		Filter:  BlockFilterConfig{Mode: FilterAllow, Allowed: []string{"heading", "image"}},
	}

	proj := p.Project(context.Background(), nil, BlockContext{Ref: testRef}, attrs)
	require.Equal(t, ModeEditable, proj.Mode)
	require.NotNil(t, proj.Draft)
	defer proj.Draft.Close()

	assert.Equal(t, []string{"core/heading", "core/image"}, proj.Allowed)
	assert.Equal(t, "core/heading", proj.DefaultVariant)
	assert.Equal(t, 1, proj.Scope.Depth())

	blocks := proj.Draft.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, "core/heading", blocks[0].Name)

	proj.Draft.OnChange(paragraphs("typed"))
	rec, _ := store.EditedRecord(testRef)
	assert.Equal(t, Serialize(paragraphs("typed")), rec.Meta["body"])
}

func TestProjectPreviewInQueryLoop(t *testing.T) {
	p, _ := newTestProjector(t, RecordData{Meta: map[string]string{"body": helloMarkup}, Editable: true})

	proj := p.Project(context.Background(), nil, BlockContext{Ref: testRef, InQueryLoop: true}, BlockAttributes{MetaKey: "body"})
	assert.Equal(t, ModePreview, proj.Mode)
	assert.Nil(t, proj.Draft)
	require.Len(t, proj.Blocks, 1)
	assert.Equal(t, ParagraphVariant, proj.Blocks[0].Name)
}

func TestProjectProtected(t *testing.T) {
	p, _ := newTestProjector(t, RecordData{Meta: map[string]string{"body": helloMarkup}, Protected: true})

	proj := p.Project(context.Background(), nil, BlockContext{Ref: testRef}, BlockAttributes{MetaKey: "body"})
	assert.Equal(t, ModeProtected, proj.Mode)
	assert.Equal(t, "This content is password protected.", proj.Message)
	assert.Empty(t, proj.HTML)
}

func TestProjectReadOnlyMatchesServerOutput(t *testing.T) {
	html := `<table><tr><td>x</td></tr></table><script>track()</script>`
	p, store := newTestProjector(t, RecordData{Meta: map[string]string{"body": `<!-- wp:html -->` + html + `<!-- /wp:html -->`}})

	proj := p.Project(context.Background(), nil, BlockContext{Ref: testRef}, BlockAttributes{MetaKey: "body"})
	assert.Equal(t, ModeReadOnly, proj.Mode)
	assert.Equal(t, html, proj.HTML)

	server := newTestRenderer(store).Render(context.Background(), testRef.ID, BlockAttributes{MetaKey: "body"})
	assert.Equal(t, server, proj.HTML)
}

func TestProjectReadOnlySanitizer(t *testing.T) {
	markup := `<!-- wp:html --><p onclick="steal()">ok</p><script>alert(1)</script><!-- /wp:html -->`
	p, _ := newTestProjector(t, RecordData{Meta: map[string]string{"body": markup}}, WithSanitizer(true))

	proj := p.Project(context.Background(), nil, BlockContext{Ref: testRef}, BlockAttributes{MetaKey: "body"})
	assert.Equal(t, ModeReadOnly, proj.Mode)
	assert.Equal(t, "<p>ok</p>", proj.HTML)
}

func TestProjectFallbackVariantFromConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte("default_variant: \"\"\n"))
	require.NoError(t, err)
	p, _ := newTestProjector(t, RecordData{Meta: map[string]string{"body": ""}, Editable: true},
		WithFallbackVariant(cfg.DefaultVariant))

	proj := p.Project(context.Background(), nil, BlockContext{Ref: testRef}, BlockAttributes{MetaKey: "body"})
	require.Equal(t, ModeEditable, proj.Mode)
	defer proj.Draft.Close()
	assert.Equal(t, "", proj.DefaultVariant)
	assert.Empty(t, proj.Draft.Blocks())

	// A filter naming variants still wins over the fallback.
	attrs := BlockAttributes{MetaKey: "body", Filter: BlockFilterConfig{Allowed: []string{"image"}}}
	proj = p.Project(context.Background(), nil, BlockContext{Ref: testRef}, attrs)
	require.Equal(t, ModeEditable, proj.Mode)
	defer proj.Draft.Close()
	assert.Equal(t, "core/image", proj.Draft.Blocks()[0].Name)
}

func TestProjectRegistryGatesEditing(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, RegisterDefaults(registry, nil))
	p, _ := newTestProjector(t,
		RecordData{Meta: map[string]string{DefaultMetaKey: helloMarkup}, Editable: true},
		WithRegistry(registry))
	attrs := BlockAttributes{MetaKey: DefaultMetaKey}

	proj := p.Project(context.Background(), nil, BlockContext{Ref: testRef, Viewer: User{ID: 2}}, attrs)
	assert.Equal(t, ModeReadOnly, proj.Mode)
	assert.Equal(t, "<p>Hello</p>", proj.HTML)

	proj = p.Project(context.Background(), nil, BlockContext{Ref: testRef, Viewer: editor}, attrs)
	require.Equal(t, ModeEditable, proj.Mode)
	proj.Draft.Close()

	// Fields nobody registered are never editable.
	proj = p.Project(context.Background(), nil, BlockContext{Ref: testRef, Viewer: editor}, BlockAttributes{MetaKey: "other"})
	assert.Equal(t, ModeReadOnly, proj.Mode)
	assert.Empty(t, proj.HTML)
}

func TestProjectControls(t *testing.T) {
	p, _ := newTestProjector(t, RecordData{Meta: map[string]string{"body": ""}, Protected: true})
	attrs := BlockAttributes{MetaKey: "body"}

	for _, mode := range []string{"", EditingModeDefault} {
		proj := p.Project(context.Background(), nil, BlockContext{Ref: testRef, EditingMode: mode}, attrs)
		assert.True(t, proj.ShowControls, mode)
		assert.Empty(t, proj.ControlsNotice)
	}

	proj := p.Project(context.Background(), nil, BlockContext{Ref: testRef, EditingMode: "contentOnly"}, attrs)
	assert.False(t, proj.ShowControls)
	assert.Equal(t, "Edit the template to change settings for this block.", proj.ControlsNotice)
}
