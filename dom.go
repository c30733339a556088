package contentarea

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrPathNotFound is returned when a NodePath does not address a block.
var ErrPathNotFound = errors.New("block not found at path")

// GetBlock traverses the tree using the provided path to find a specific block.
func GetBlock(blocks []*Block, path NodePath) (*Block, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrPathNotFound)
	}
	list := blocks
	var current *Block
	for i, index := range path {
		if index < 0 || index >= len(list) {
			return nil, fmt.Errorf("%w %v (failed at index %d, step %d)", ErrPathNotFound, path, index, i)
		}
		current = list[index]
		list = current.InnerBlocks
	}
	return current, nil
}

// GetPath finds the path from the list to the target block.
func GetPath(blocks []*Block, target *Block) (NodePath, error) {
	var found NodePath
	Walk(blocks, func(p NodePath, b *Block) bool {
		if b == target {
			found = p
			return false
		}
		return true
	})
	if found == nil {
		return nil, errors.New("target block is not a descendant of the list")
	}
	return found, nil
}

// FindByClientID returns the block with the given client id, if any.
func FindByClientID(blocks []*Block, clientID string) (*Block, NodePath) {
	var (
		hit  *Block
		path NodePath
	)
	Walk(blocks, func(p NodePath, b *Block) bool {
		if b.ClientID == clientID {
			hit, path = b, p
			return false
		}
		return true
	})
	return hit, path
}

var bodyContext = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}

// ParseFragment parses an HTML fragment in a <body> context.
func ParseFragment(content string) ([]*html.Node, error) {
	return html.ParseFragment(strings.NewReader(content), bodyContext)
}

// RenderNodes converts a fragment back to a string.
func RenderNodes(nodes []*html.Node) (string, error) {
	var buf bytes.Buffer
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

var strippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Iframe:   true,
	atom.Object:   true,
	atom.Embed:    true,
	atom.Noscript: true,
}

// SanitizeFragment removes executable content from rendered HTML: script-like
// elements, on* handler attributes and javascript: URLs.
func SanitizeFragment(content string) (string, error) {
	nodes, err := ParseFragment(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse fragment: %w", err)
	}
	var kept []*html.Node
	for _, n := range nodes {
		if n.Type == html.ElementNode && strippedElements[n.DataAtom] {
			continue
		}
		sanitizeNode(n)
		kept = append(kept, n)
	}
	return RenderNodes(kept)
}

func sanitizeNode(n *html.Node) {
	if n.Type == html.ElementNode {
		attrs := n.Attr[:0]
		for _, a := range n.Attr {
			key := strings.ToLower(a.Key)
			if strings.HasPrefix(key, "on") {
				continue
			}
			if (key == "href" || key == "src" || key == "action") &&
				strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.Val)), "javascript:") {
				continue
			}
			attrs = append(attrs, a)
		}
		n.Attr = attrs
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && strippedElements[c.DataAtom] {
			n.RemoveChild(c)
		} else {
			sanitizeNode(c)
		}
		c = next
	}
}
