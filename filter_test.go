package contentarea

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var knownVariants = []string{"core/paragraph", "core/heading", "core/image"}

func TestFilterResolve(t *testing.T) {
	tests := []struct {
		name        string
		filter      BlockFilterConfig
		wantSet     []string
		wantDefault string
	}{
		{
			name:        "Allow list",
			filter:      BlockFilterConfig{Mode: FilterAllow, Allowed: []string{"core/heading", "core/image"}},
			wantSet:     []string{"core/heading", "core/image"},
			wantDefault: "core/heading",
		},
		{
			name:        "Disallow list",
			filter:      BlockFilterConfig{Mode: FilterDisallow, Disallowed: []string{"core/paragraph"}},
			wantSet:     []string{"core/heading", "core/image"},
			wantDefault: "core/heading",
		},
		{
			name:        "Empty allow list is unrestricted",
			filter:      BlockFilterConfig{Mode: FilterAllow},
			wantSet:     knownVariants,
			wantDefault: ParagraphVariant,
		},
		{
			name:        "Empty mode means allow",
			filter:      BlockFilterConfig{Allowed: []string{"image", "core/image"}},
			wantSet:     []string{"core/image"},
			wantDefault: "core/image",
		},
		{
			name:        "Everything disallowed",
			filter:      BlockFilterConfig{Mode: FilterDisallow, Disallowed: knownVariants},
			wantSet:     nil,
			wantDefault: ParagraphVariant,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantSet, tt.filter.Resolve(knownVariants))
			assert.Equal(t, tt.wantDefault, tt.filter.DefaultVariant(knownVariants))
		})
	}
}

func TestFilterDefaultVariantOr(t *testing.T) {
	known := []string{"core/heading", "core/paragraph"}

	// Disallow mode without entries starts from the first known variant.
	assert.Equal(t, "core/heading", BlockFilterConfig{Mode: FilterDisallow}.DefaultVariantOr(known, ParagraphVariant))
	assert.Equal(t, "core/heading", BlockFilterConfig{Mode: FilterDisallow}.DefaultVariant(known))

	assert.Equal(t, "core/list", BlockFilterConfig{}.DefaultVariantOr(known, "core/list"))
	assert.Equal(t, "", BlockFilterConfig{Mode: FilterAllow}.DefaultVariantOr(known, ""))
	assert.Equal(t, "", BlockFilterConfig{Mode: FilterDisallow, Disallowed: known}.DefaultVariantOr(known, ""))
	assert.Equal(t, "core/image", BlockFilterConfig{Allowed: []string{"image"}}.DefaultVariantOr(known, ""))
}

func TestFilterAllows(t *testing.T) {
	f := BlockFilterConfig{Mode: FilterDisallow, Disallowed: []string{"core/image"}}
	assert.True(t, f.Allows("paragraph", knownVariants))
	assert.False(t, f.Allows("core/image", knownVariants))
	assert.False(t, f.Allows("core/video", knownVariants))
}

func TestFilterUnrestricted(t *testing.T) {
	assert.True(t, BlockFilterConfig{}.Unrestricted())
	assert.True(t, BlockFilterConfig{Mode: FilterDisallow}.Unrestricted())
	assert.False(t, BlockFilterConfig{Allowed: []string{"image"}}.Unrestricted())
	assert.False(t, BlockFilterConfig{Mode: FilterDisallow, Disallowed: []string{"image"}}.Unrestricted())
}

func TestFilterValidate(t *testing.T) {
	assert.NoError(t, BlockFilterConfig{}.Validate())
	assert.NoError(t, BlockFilterConfig{Mode: FilterDisallow}.Validate())
	assert.Error(t, BlockFilterConfig{Mode: "deny"}.Validate())
}
