package contentarea

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/html"
)

// ErrMalformedMarkup is returned when stored block markup cannot be parsed.
var ErrMalformedMarkup = errors.New("malformed block markup")

// delimiterRe matches the text between "<!--" and "-->" of a block delimiter:
// " wp:name {attrs} ", " /wp:name " or " wp:name /".
var delimiterRe = regexp.MustCompile(`(?s)^\s+(/)?wp:([a-z][a-z0-9_-]*(?:/[a-z][a-z0-9_-]*)?)\s+(?:(\{.*\})\s+)?(/)?$`)

type delimiter struct {
	name    string
	attrs   string
	closing bool
	void    bool
}

func parseDelimiter(comment string) (delimiter, bool) {
	m := delimiterRe.FindStringSubmatch(comment)
	if m == nil {
		return delimiter{}, false
	}
	return delimiter{
		name:    normalizeName(m[2]),
		attrs:   m[3],
		closing: m[1] == "/",
		void:    m[4] == "/",
	}, true
}

// blockParser accumulates blocks while the tokenizer walks the markup.
type blockParser struct {
	out      []*Block
	stack    []*Block
	freeform strings.Builder
}

// Parse reads serialized block markup into a block list. An empty string
// parses to an empty list.
func Parse(markup string) ([]*Block, error) {
	p := &blockParser{}
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, fmt.Errorf("%w: %v", ErrMalformedMarkup, err)
			}
			break
		}
		// Raw is only valid until the next call to Next.
		raw := string(z.Raw())
		if tt == html.CommentToken && strings.HasPrefix(raw, "<!--") && strings.HasSuffix(raw, "-->") {
			if d, ok := parseDelimiter(raw[4 : len(raw)-3]); ok {
				if err := p.delimiter(d); err != nil {
					return nil, err
				}
				continue
			}
		}
		p.appendHTML(raw)
	}
	// Unclosed blocks are closed at end of input.
	p.stack = nil
	p.flushFreeform()
	return p.out, nil
}

func (p *blockParser) delimiter(d delimiter) error {
	if d.closing {
		if len(p.stack) == 0 {
			return fmt.Errorf("%w: closer for %s without opener", ErrMalformedMarkup, d.name)
		}
		top := p.stack[len(p.stack)-1]
		if top.Name != d.name {
			return fmt.Errorf("%w: closer for %s inside %s", ErrMalformedMarkup, d.name, top.Name)
		}
		p.stack = p.stack[:len(p.stack)-1]
		return nil
	}

	b := &Block{
		ClientID:     uuid.NewString(),
		Name:         d.name,
		InnerContent: []string{""},
	}
	if d.attrs != "" {
		if err := json.Unmarshal([]byte(d.attrs), &b.Attrs); err != nil {
			return fmt.Errorf("%w: attributes of %s: %v", ErrMalformedMarkup, d.name, err)
		}
	}
	p.attach(b)
	if !d.void {
		p.stack = append(p.stack, b)
	}
	return nil
}

func (p *blockParser) attach(b *Block) {
	if len(p.stack) == 0 {
		p.flushFreeform()
		p.out = append(p.out, b)
		return
	}
	parent := p.stack[len(p.stack)-1]
	parent.InnerBlocks = append(parent.InnerBlocks, b)
	parent.InnerContent = append(parent.InnerContent, "")
}

func (p *blockParser) appendHTML(s string) {
	if len(p.stack) == 0 {
		p.freeform.WriteString(s)
		return
	}
	top := p.stack[len(p.stack)-1]
	top.InnerContent[len(top.InnerContent)-1] += s
}

func (p *blockParser) flushFreeform() {
	content := strings.TrimSpace(p.freeform.String())
	p.freeform.Reset()
	if content == "" {
		return
	}
	p.out = append(p.out, &Block{
		ClientID:     uuid.NewString(),
		Name:         FreeformVariant,
		InnerContent: []string{content},
	})
}

// Serialize writes a block list as block markup. Top-level blocks are
// separated by a blank line.
func Serialize(blocks []*Block) string {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		serializeBlock(&sb, b)
	}
	return sb.String()
}

func serializeBlock(sb *strings.Builder, b *Block) {
	if b.Name == FreeformVariant || b.Name == "" {
		sb.WriteString(b.InnerHTML())
		return
	}
	name := strings.TrimPrefix(b.Name, "core/")
	sb.WriteString("<!-- wp:")
	sb.WriteString(name)
	if attrs := attrsJSON(b.Attrs); attrs != "" {
		sb.WriteString(" ")
		sb.WriteString(attrs)
	}
	if len(b.InnerBlocks) == 0 && b.InnerHTML() == "" {
		sb.WriteString(" /-->")
		return
	}
	sb.WriteString(" -->")
	// Tolerate hand-built blocks whose chunk list is short or long.
	for i := 0; i <= len(b.InnerBlocks) || i < len(b.InnerContent); i++ {
		if i < len(b.InnerContent) {
			sb.WriteString(b.InnerContent[i])
		}
		if i < len(b.InnerBlocks) {
			serializeBlock(sb, b.InnerBlocks[i])
		}
	}
	sb.WriteString("<!-- /wp:")
	sb.WriteString(name)
	sb.WriteString(" -->")
}

// attrsJSON encodes attributes so they cannot terminate the surrounding
// comment. Empty or unencodable attributes yield "".
func attrsJSON(attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}
	// json.Marshal already escapes <, > and &.
	data, err := json.Marshal(attrs)
	if err != nil {
		return ""
	}
	return strings.ReplaceAll(string(data), "--", `\u002d\u002d`)
}
