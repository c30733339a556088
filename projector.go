package contentarea

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ProjectionMode is what a content area shows to the current viewer.
type ProjectionMode string

const (
	ModePlaceholder ProjectionMode = "placeholder"
	ModeRecursion   ProjectionMode = "recursion"
	ModeEditable    ProjectionMode = "editable"
	ModePreview     ProjectionMode = "preview"
	ModeProtected   ProjectionMode = "protected"
	ModeReadOnly    ProjectionMode = "read_only"
)

const (
	msgNoMetaKey   = "Set a meta key to pull blocks from."
	msgMetaKey     = "Post Content from meta_key: %s"
	msgRecursion   = "Block cannot be rendered inside itself."
	msgProtected   = "This content is password protected."
	msgContentOnly = "Edit the template to change settings for this block."
)

// EditingModeDefault is the block editing mode in which settings are shown.
const EditingModeDefault = "default"

// BlockContext is what the surrounding editor tells a content area.
type BlockContext struct {
	Ref EntityRef
	// InQueryLoop is set when the block repeats for every item of a list.
	InQueryLoop bool
	EditingMode string
	Viewer      User
}

// Projection is the result of choosing a presentation.
type Projection struct {
	Mode    ProjectionMode
	Message string
	// HTML is set for read-only projections.
	HTML string
	// Blocks is set for previews.
	Blocks []*Block
	// Draft is set for editable projections; the caller closes it.
	Draft *DraftSync
	// Scope wraps the children of the area.
	Scope          *RenderScope
	Allowed        []string
	DefaultVariant string
	ShowControls   bool
	ControlsNotice string
}

// ContentProjector chooses between editable and read-only content.
type ContentProjector struct {
	store    EntityStore
	renderer *Renderer
	registry *Registry
	known    []string
	fallback string
	sanitize bool
	logger   logrus.FieldLogger
	metrics  *Metrics
}

type ProjectorOption func(*ContentProjector)

// WithRegistry requires fields to be registered and authorized for the
// viewer before they become editable.
func WithRegistry(r *Registry) ProjectorOption {
	return func(p *ContentProjector) { p.registry = r }
}

// WithKnownVariants sets the variants disallow filters start from.
func WithKnownVariants(known []string) ProjectorOption {
	return func(p *ContentProjector) { p.known = known }
}

// WithFallbackVariant sets the variant inserted into an empty area when the
// filter does not name one. An empty variant leaves the area empty.
func WithFallbackVariant(variant string) ProjectorOption {
	return func(p *ContentProjector) { p.fallback = variant }
}

// WithSanitizer strips executable content from read-only projections. Off by
// default: read-only viewers see exactly what the server renders.
func WithSanitizer(on bool) ProjectorOption {
	return func(p *ContentProjector) { p.sanitize = on }
}

func WithProjectorLogger(l logrus.FieldLogger) ProjectorOption {
	return func(p *ContentProjector) { p.logger = l }
}

func WithProjectorMetrics(m *Metrics) ProjectorOption {
	return func(p *ContentProjector) { p.metrics = m }
}

func NewContentProjector(store EntityStore, renderer *Renderer, opts ...ProjectorOption) *ContentProjector {
	p := &ContentProjector{
		store:    store,
		renderer: renderer,
		fallback: ParagraphVariant,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.metrics = metricsOrDefault(p.metrics)
	return p
}

// Project decides how the area bound to attrs renders for bctx. scope is the
// render scope of the area's parent.
func (p *ContentProjector) Project(ctx context.Context, scope *RenderScope, bctx BlockContext, attrs BlockAttributes) Projection {
	proj := p.project(ctx, scope, bctx, attrs)
	proj.ShowControls = bctx.EditingMode == "" || bctx.EditingMode == EditingModeDefault
	if !proj.ShowControls {
		proj.ControlsNotice = msgContentOnly
	}
	p.metrics.Projections.WithLabelValues(string(proj.Mode)).Inc()
	return proj
}

func (p *ContentProjector) project(ctx context.Context, scope *RenderScope, bctx BlockContext, attrs BlockAttributes) Projection {
	ref := bctx.Ref
	if !ref.Valid() {
		return placeholderProjection(scope, attrs.MetaKey)
	}

	child, fresh := scope.Guard(ContentAreaVariant, ref.ID)
	if !fresh {
		p.metrics.RecursionHalts.WithLabelValues("editor").Inc()
		p.logger.WithField("action", "project_content_area").
			WithField("post_id", ref.ID).
			Debug("content area rendered inside itself")
		return Projection{Mode: ModeRecursion, Message: msgRecursion, Scope: scope}
	}
	if attrs.MetaKey == "" {
		return placeholderProjection(child, "")
	}

	userCanEdit := p.store.CanEdit(ref)
	if userCanEdit && p.registry != nil && !p.registry.Authorize(bctx.Viewer, ref, attrs.MetaKey) {
		userCanEdit = false
	}

	if userCanEdit && !bctx.InQueryLoop {
		variant := attrs.Filter.DefaultVariantOr(p.known, p.fallback)
		draft := NewDraftSync(p.store, ref, attrs.MetaKey,
			WithDefaultVariant(variant),
			WithDraftLogger(p.logger),
			WithDraftMetrics(p.metrics),
		)
		return Projection{
			Mode:           ModeEditable,
			Draft:          draft,
			Scope:          child,
			Allowed:        attrs.Filter.Resolve(p.known),
			DefaultVariant: variant,
		}
	}

	rec, ok := p.store.EditedRecord(ref)
	if !ok {
		return placeholderProjection(child, attrs.MetaKey)
	}

	// Editors inside a list see a read-only preview of the edited blocks.
	// Everyone else only sees published output.
	if userCanEdit {
		blocks, err := Parse(rec.Meta[attrs.MetaKey])
		if err != nil {
			blocks = nil
		}
		return Projection{Mode: ModePreview, Blocks: blocks, Scope: child}
	}

	if rec.Protected {
		return Projection{Mode: ModeProtected, Message: msgProtected, Scope: child}
	}

	html := p.renderer.Render(WithScope(ctx, scope), ref.ID, attrs)
	if p.sanitize {
		clean, err := SanitizeFragment(html)
		if err != nil {
			p.logger.WithField("action", "project_content_area").
				WithField("post_id", ref.ID).
				WithError(err).
				Warn("sanitize rendered content")
			clean = ""
		}
		html = clean
	}
	return Projection{Mode: ModeReadOnly, HTML: html, Scope: child}
}

func placeholderProjection(scope *RenderScope, metaKey string) Projection {
	msg := msgNoMetaKey
	if metaKey != "" {
		msg = fmt.Sprintf(msgMetaKey, metaKey)
	}
	return Projection{Mode: ModePlaceholder, Message: msg, Scope: scope}
}
