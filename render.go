package contentarea

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// ContentAreaVariant is the block that renders a meta field's blocks.
const ContentAreaVariant = "contentarea/area"

// HaltedMarker replaces a re-entrant content area when debug display is on.
const HaltedMarker = "[block rendering halted]"

// MetaReader looks up persisted meta values for the server-side renderer.
type MetaReader interface {
	PublishedMeta(ctx context.Context, postID int64, key string) (string, bool)
}

// RenderFunc renders a dynamic block. inner is the already rendered HTML of
// its inner blocks and chunks.
type RenderFunc func(ctx context.Context, b *Block, inner string) (string, error)

// OutputFilter may rewrite the final HTML of a content area.
type OutputFilter func(output string, postID int64, attrs BlockAttributes, content string) string

type ctxKey int

const (
	scopeKey ctxKey = iota
	postKey
)

// WithScope attaches a render scope to ctx.
func WithScope(ctx context.Context, scope *RenderScope) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

// ScopeFrom returns the render scope of ctx, nil at the root of a request.
func ScopeFrom(ctx context.Context) *RenderScope {
	s, _ := ctx.Value(scopeKey).(*RenderScope)
	return s
}

// WithPost sets the post nested blocks render for when they carry no post id.
func WithPost(ctx context.Context, postID int64) context.Context {
	return context.WithValue(ctx, postKey, postID)
}

// PostFrom returns the current post id of ctx, or 0.
func PostFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(postKey).(int64)
	return id
}

// Renderer expands meta field markup into HTML on the server side.
type Renderer struct {
	meta         MetaReader
	dynamic      map[string]RenderFunc
	filters      []OutputFilter
	debugDisplay bool
	logger       logrus.FieldLogger
	metrics      *Metrics
}

type RendererOption func(*Renderer)

// WithDebugDisplay shows HaltedMarker in place of re-entrant content areas.
func WithDebugDisplay(on bool) RendererOption {
	return func(r *Renderer) { r.debugDisplay = on }
}

func WithRendererLogger(l logrus.FieldLogger) RendererOption {
	return func(r *Renderer) { r.logger = l }
}

func WithRendererMetrics(m *Metrics) RendererOption {
	return func(r *Renderer) { r.metrics = m }
}

// WithOutputFilter appends a filter run on every content area output.
func WithOutputFilter(f OutputFilter) RendererOption {
	return func(r *Renderer) { r.filters = append(r.filters, f) }
}

// NewRenderer builds a renderer with the content area block registered.
func NewRenderer(meta MetaReader, opts ...RendererOption) *Renderer {
	r := &Renderer{
		meta:    meta,
		dynamic: make(map[string]RenderFunc),
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.metrics = metricsOrDefault(r.metrics)
	r.Register(ContentAreaVariant, r.renderContentArea)
	return r
}

// Register installs a dynamic block renderer.
func (r *Renderer) Register(name string, fn RenderFunc) {
	r.dynamic[normalizeName(name)] = fn
}

// Render returns the HTML of the content area bound to attrs.MetaKey of
// postID. postID 0 falls back to the post of ctx. The result is empty when
// the post is unresolvable, the field is empty or the area would render
// inside itself.
func (r *Renderer) Render(ctx context.Context, postID int64, attrs BlockAttributes) string {
	if postID <= 0 {
		postID = PostFrom(ctx)
	}
	if postID <= 0 {
		return ""
	}
	log := r.logger.WithField("post_id", postID).WithField("field", attrs.MetaKey)

	scope, fresh := ScopeFrom(ctx).Guard(ContentAreaVariant, postID)
	if !fresh {
		r.metrics.RecursionHalts.WithLabelValues("server").Inc()
		log.WithField("action", "render_content_area").Debug("re-entrant content area halted")
		if r.debugDisplay {
			return HaltedMarker
		}
		return ""
	}
	ctx = WithPost(WithScope(ctx, scope), postID)

	var content string
	if attrs.MetaKey != "" {
		raw, ok := r.meta.PublishedMeta(ctx, postID, attrs.MetaKey)
		if !ok {
			return ""
		}
		content = raw
	}

	output := r.ExpandMarkup(ctx, strings.ReplaceAll(content, "]]>", "]]&gt;"))
	for _, f := range r.filters {
		output = f(output, postID, attrs, content)
	}
	return output
}

// ExpandMarkup parses markup and renders it. Malformed markup renders as
// nothing.
func (r *Renderer) ExpandMarkup(ctx context.Context, markup string) string {
	if markup == "" {
		return ""
	}
	blocks, err := Parse(markup)
	if err != nil {
		r.metrics.ParseFailures.Inc()
		r.logger.WithField("action", "expand_markup").
			WithField("post_id", PostFrom(ctx)).
			WithError(err).
			Warn("stored block markup is malformed, rendering nothing")
		return ""
	}
	return r.RenderBlocks(ctx, blocks)
}

// RenderBlocks renders a block list to HTML. Static blocks emit their
// chunks; dynamic blocks go through their RenderFunc.
func (r *Renderer) RenderBlocks(ctx context.Context, blocks []*Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(r.renderBlock(ctx, b))
	}
	return sb.String()
}

func (r *Renderer) renderBlock(ctx context.Context, b *Block) string {
	var sb strings.Builder
	for i := 0; i <= len(b.InnerBlocks) || i < len(b.InnerContent); i++ {
		if i < len(b.InnerContent) {
			sb.WriteString(b.InnerContent[i])
		}
		if i < len(b.InnerBlocks) {
			sb.WriteString(r.renderBlock(ctx, b.InnerBlocks[i]))
		}
	}
	inner := sb.String()

	fn, ok := r.dynamic[b.Name]
	if !ok {
		return inner
	}
	out, err := fn(ctx, b, inner)
	if err != nil {
		r.logger.WithField("action", "render_dynamic_block").
			WithField("block", b.Name).
			WithError(err).
			Warn("dynamic block failed, rendering nothing")
		return ""
	}
	return out
}

func (r *Renderer) renderContentArea(ctx context.Context, b *Block, _ string) (string, error) {
	attrs := AttributesFromBlock(b)
	return r.Render(ctx, attrs.PostID, attrs), nil
}
